package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// userRepository implements repository.UserRepository in memory.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new in-memory user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

func getUser(txn *memdb.Txn, index, value string) (*domain.User, error) {
	raw, err := txn.First(tblUsers, index, value)
	if err != nil {
		return nil, fmt.Errorf("find user by %s: %w", index, err)
	}
	if raw == nil {
		return nil, repository.ErrNotFound
	}
	return raw.(*domain.User), nil
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		for index, value := range map[string]string{"id": user.ID, "username": user.Username, "email": user.Email} {
			existing, err := txn.First(tblUsers, index, value)
			if err != nil {
				return fmt.Errorf("find user by %s: %w", index, err)
			}
			if existing != nil {
				return fmt.Errorf("%s %q: %w", index, value, repository.ErrAlreadyExists)
			}
		}
		if err := txn.Insert(tblUsers, user.DeepCopy()); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

func (r *userRepository) getBy(ctx context.Context, index, value string) (*domain.User, error) {
	var user *domain.User
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		u, err := getUser(txn, index, value)
		if err != nil {
			return err
		}
		user = u.DeepCopy()
		return nil
	})
	return user, err
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, "username", username)
}

// GetByEmail retrieves a user by email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "email", email)
}

// GetMany retrieves the users with the given IDs.
func (r *userRepository) GetMany(ctx context.Context, ids []string) ([]*domain.User, error) {
	users := make([]*domain.User, 0, len(ids))
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		for _, id := range ids {
			u, err := getUser(txn, "id", id)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			users = append(users, u.DeepCopy())
		}
		return nil
	})
	return users, err
}

// Update updates an existing user, keeping the stored friend list.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		current, err := getUser(txn, "id", user.ID)
		if err != nil {
			return err
		}
		next := user.DeepCopy()
		next.Friends = slices.Clone(current.Friends)
		if err := txn.Insert(tblUsers, next); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
}

// Delete deletes a user by ID.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		u, err := getUser(txn, "id", id)
		if err != nil {
			return err
		}
		if err := txn.Delete(tblUsers, u); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}

// List returns all users ordered by creation time.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	var all []*domain.User
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(tblUsers, "id")
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		all = collect[domain.User](it)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	res := repository.Page(all, opts)
	for i, u := range res.Items {
		res.Items[i] = u.DeepCopy()
	}
	return res, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username", username)
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email", email)
}

func (r *userRepository) exists(ctx context.Context, index, value string) (bool, error) {
	_, err := r.getBy(ctx, index, value)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// AddFriend adds friendID to the friend list of userID.
func (r *userRepository) AddFriend(ctx context.Context, userID, friendID string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		u, err := getUser(txn, "id", userID)
		if err != nil {
			return err
		}
		if u.IsFriend(friendID) {
			return repository.ErrConditionFailed
		}
		next := u.DeepCopy()
		next.Friends = append(next.Friends, friendID)
		return txn.Insert(tblUsers, next)
	})
}

// RemoveFriend removes friendID from the friend list of userID.
func (r *userRepository) RemoveFriend(ctx context.Context, userID, friendID string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		u, err := getUser(txn, "id", userID)
		if err != nil {
			return err
		}
		if !u.IsFriend(friendID) {
			return repository.ErrConditionFailed
		}
		next := u.DeepCopy()
		next.Friends = slices.DeleteFunc(next.Friends, func(id string) bool { return id == friendID })
		return txn.Insert(tblUsers, next)
	})
}

// RemoveFriendEverywhere removes friendID from every friend list.
func (r *userRepository) RemoveFriendEverywhere(ctx context.Context, friendID string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(tblUsers, "friends", friendID)
		if err != nil {
			return fmt.Errorf("find users by friend: %w", err)
		}
		// Collect before writing; the iterator is invalidated by inserts.
		for _, u := range collect[domain.User](it) {
			next := u.DeepCopy()
			next.Friends = slices.DeleteFunc(next.Friends, func(id string) bool { return id == friendID })
			if err := txn.Insert(tblUsers, next); err != nil {
				return fmt.Errorf("update user friends: %w", err)
			}
		}
		return nil
	})
}
