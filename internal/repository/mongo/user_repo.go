package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

type userRepository struct {
	col *mongo.Collection
}

// NewUserRepository creates a MongoDB user repository.
func NewUserRepository(d *DB) repository.UserRepository {
	return &userRepository{col: d.collection(colUsers)}
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	doc := *user
	if doc.Friends == nil {
		doc.Friends = []string{}
	}
	if _, err := r.col.InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user %s: %w", user.Username, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var user domain.User
	if err := r.col.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

// GetByEmail retrieves a user by email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// GetMany retrieves the users with the given IDs.
func (r *userRepository) GetMany(ctx context.Context, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	return decodeAll[domain.User](ctx, cur)
}

// Update replaces everything but the friend list.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": user.ID}, bson.M{"$set": bson.M{
		"username":     user.Username,
		"email":        user.Email,
		"passwordHash": user.PasswordHash,
		"profile":      user.Profile,
		"isActive":     user.IsActive,
		"isAdmin":      user.IsAdmin,
		"updatedAt":    user.UpdatedAt,
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user %s: %w", user.Username, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a user by ID.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns all users, oldest first.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	return list[domain.User](ctx, r.col, bson.M{}, opts, bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
}

func (r *userRepository) exists(ctx context.Context, filter bson.M) (bool, error) {
	n, err := r.col.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return n > 0, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, bson.M{"username": username})
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, bson.M{"email": email})
}

// AddFriend adds friendID to the friend list of userID.
func (r *userRepository) AddFriend(ctx context.Context, userID, friendID string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": userID, "friends": bson.M{"$ne": friendID}},
		bson.M{"$push": bson.M{"friends": friendID}},
	)
	if err != nil {
		return fmt.Errorf("add friend: %w", err)
	}
	if res.MatchedCount == 0 {
		return existsByID(ctx, r.col, userID)
	}
	return nil
}

// RemoveFriend removes friendID from the friend list of userID.
func (r *userRepository) RemoveFriend(ctx context.Context, userID, friendID string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": userID, "friends": friendID},
		bson.M{"$pull": bson.M{"friends": friendID}},
	)
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	if res.MatchedCount == 0 {
		return existsByID(ctx, r.col, userID)
	}
	return nil
}

// RemoveFriendEverywhere removes friendID from every friend list.
func (r *userRepository) RemoveFriendEverywhere(ctx context.Context, friendID string) error {
	_, err := r.col.UpdateMany(ctx,
		bson.M{"friends": friendID},
		bson.M{"$pull": bson.M{"friends": friendID}},
	)
	if err != nil {
		return fmt.Errorf("remove friend everywhere: %w", err)
	}
	return nil
}
