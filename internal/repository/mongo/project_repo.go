package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// projectRepository implements repository.ProjectRepository. Every guarded
// transition is one FindOneAndUpdate whose filter carries the guard, so the
// server evaluates the condition and the write atomically.
type projectRepository struct {
	col *mongo.Collection
}

// NewProjectRepository creates a MongoDB project repository.
func NewProjectRepository(d *DB) repository.ProjectRepository {
	return &projectRepository{col: d.collection(colProjects)}
}

var releasedFields = bson.M{
	"checkedOutBy":   nil,
	"checkedOutAt":   nil,
	"leaseExpiresAt": nil,
}

// guarded applies update to the project matching id and guard. When nothing
// matches it reports ErrNotFound or ErrConditionFailed.
func (r *projectRepository) guarded(ctx context.Context, id string, guard bson.M, update bson.M) (*domain.Project, error) {
	filter := bson.M{"_id": id}
	for k, v := range guard {
		filter[k] = v
	}

	var project domain.Project
	err := r.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&project)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, existsByID(ctx, r.col, id)
		}
		return nil, fmt.Errorf("update project: %w", err)
	}
	return &project, nil
}

// Create creates a new project.
func (r *projectRepository) Create(ctx context.Context, project *domain.Project) error {
	doc := *project
	if doc.Members == nil {
		doc.Members = []string{}
	}
	if doc.Files == nil {
		doc.Files = []domain.FileRecord{}
	}
	if _, err := r.col.InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("project %s: %w", project.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetByID retrieves a project by ID.
func (r *projectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	var project domain.Project
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&project); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find project: %w", err)
	}
	return &project, nil
}

// List returns projects matching the filter, most recently updated first.
func (r *projectRepository) List(ctx context.Context, filter repository.ProjectFilter) (*repository.ListResult[domain.Project], error) {
	q := bson.M{}
	if filter.OwnerID != "" {
		q["ownedBy"] = filter.OwnerID
	}
	if filter.MemberID != "" {
		q["members"] = filter.MemberID
	}
	return list[domain.Project](ctx, r.col, q, filter.ListOptions,
		bson.D{{Key: "lastUpdated", Value: -1}, {Key: "_id", Value: 1}})
}

// UpdateMetadata applies the owner-editable fields.
func (r *projectRepository) UpdateMetadata(ctx context.Context, id string, update domain.ProjectUpdate, at time.Time) (*domain.Project, error) {
	set := bson.M{"lastUpdated": at}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.Language != nil {
		set["language"] = *update.Language
	}
	return r.guarded(ctx, id, nil, bson.M{"$set": set})
}

// Delete deletes a project by ID.
func (r *projectRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Touch advances lastUpdated.
func (r *projectRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.guarded(ctx, id, nil, bson.M{"$set": bson.M{"lastUpdated": at}})
	return err
}

// TryCheckout marks the project checked out by userID when available,
// already held by userID, or held under an expired lease.
func (r *projectRepository) TryCheckout(ctx context.Context, id, userID string, now time.Time, leaseUntil *time.Time) (*domain.Project, error) {
	guard := bson.M{"$or": bson.A{
		bson.M{"checkedOutBy": nil},
		bson.M{"checkedOutBy": userID},
		bson.M{"leaseExpiresAt": bson.M{"$ne": nil, "$lte": now}},
	}}
	return r.guarded(ctx, id, guard, bson.M{"$set": bson.M{
		"checkedOutBy":   userID,
		"checkedOutAt":   now,
		"leaseExpiresAt": leaseUntil,
		"lastUpdated":    now,
	}})
}

// Checkin records the check-in only when userID holds the checkout.
func (r *projectRepository) Checkin(ctx context.Context, id, userID string, update domain.CheckinUpdate) (*domain.Project, error) {
	set := bson.M{"lastUpdated": update.At}
	for k, v := range releasedFields {
		set[k] = v
	}
	if update.Version != "" {
		set["version"] = update.Version
	}
	files := update.Files
	if files == nil {
		files = []domain.FileRecord{}
	}
	return r.guarded(ctx, id, bson.M{"checkedOutBy": userID}, bson.M{
		"$set":  set,
		"$push": bson.M{"files": bson.M{"$each": files}},
	})
}

// ForceRelease clears the checkout regardless of holder.
func (r *projectRepository) ForceRelease(ctx context.Context, id string, at time.Time) (*domain.Project, error) {
	return r.guarded(ctx, id, bson.M{"checkedOutBy": bson.M{"$ne": nil}}, releaseUpdate(at))
}

// ReleaseExpired clears every checkout whose lease has ended.
func (r *projectRepository) ReleaseExpired(ctx context.Context, now time.Time) ([]string, error) {
	return r.releaseWhere(ctx, now, bson.M{
		"checkedOutBy":   bson.M{"$ne": nil},
		"leaseExpiresAt": bson.M{"$ne": nil, "$lte": now},
	})
}

// ReleaseHeldBy clears every checkout held by userID.
func (r *projectRepository) ReleaseHeldBy(ctx context.Context, userID string, at time.Time) ([]string, error) {
	return r.releaseWhere(ctx, at, bson.M{"checkedOutBy": userID})
}

// releaseWhere finds candidates, then releases each one with the same
// filter as guard so a checkout renewed in between is left alone.
func (r *projectRepository) releaseWhere(ctx context.Context, at time.Time, filter bson.M) ([]string, error) {
	cur, err := r.col.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find checked out projects: %w", err)
	}
	var ids []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &ids); err != nil {
		return nil, fmt.Errorf("decode project ids: %w", err)
	}

	released := []string{}
	for _, doc := range ids {
		_, err := r.guarded(ctx, doc.ID, filter, releaseUpdate(at))
		switch {
		case err == nil:
			released = append(released, doc.ID)
		case errors.Is(err, repository.ErrConditionFailed), errors.Is(err, repository.ErrNotFound):
		default:
			return released, err
		}
	}
	return released, nil
}

func releaseUpdate(at time.Time) bson.M {
	set := bson.M{"lastUpdated": at}
	for k, v := range releasedFields {
		set[k] = v
	}
	return bson.M{"$set": set}
}

// AddMember adds memberID to the member set.
func (r *projectRepository) AddMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error) {
	return r.guarded(ctx, id, bson.M{"members": bson.M{"$ne": memberID}}, bson.M{
		"$push": bson.M{"members": memberID},
		"$set":  bson.M{"lastUpdated": at},
	})
}

// RemoveMember removes a non-owner member that does not hold the checkout.
func (r *projectRepository) RemoveMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error) {
	guard := bson.M{
		"members":      memberID,
		"ownedBy":      bson.M{"$ne": memberID},
		"checkedOutBy": bson.M{"$ne": memberID},
	}
	return r.guarded(ctx, id, guard, bson.M{
		"$pull": bson.M{"members": memberID},
		"$set":  bson.M{"lastUpdated": at},
	})
}

// TransferOwnership moves ownership from one member to another.
func (r *projectRepository) TransferOwnership(ctx context.Context, id, from, to string, at time.Time) (*domain.Project, error) {
	return r.guarded(ctx, id, bson.M{"ownedBy": from, "members": to}, bson.M{
		"$set": bson.M{"ownedBy": to, "lastUpdated": at},
	})
}

// RemoveMemberEverywhere removes userID from every project it does not own.
func (r *projectRepository) RemoveMemberEverywhere(ctx context.Context, userID string, at time.Time) error {
	_, err := r.col.UpdateMany(ctx,
		bson.M{"members": userID, "ownedBy": bson.M{"$ne": userID}},
		bson.M{
			"$pull": bson.M{"members": userID},
			"$set":  bson.M{"lastUpdated": at},
		},
	)
	if err != nil {
		return fmt.Errorf("remove member everywhere: %w", err)
	}
	return nil
}
