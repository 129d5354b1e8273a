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

var newestCommitFirst = bson.D{
	{Key: "timestamp", Value: -1},
	{Key: "_id", Value: -1},
}

type commitRepository struct {
	col *mongo.Collection
}

// NewCommitRepository creates a MongoDB commit repository.
func NewCommitRepository(d *DB) repository.CommitRepository {
	return &commitRepository{col: d.collection(colCommits)}
}

// Create appends a commit.
func (r *commitRepository) Create(ctx context.Context, commit *domain.Commit) error {
	if _, err := r.col.InsertOne(ctx, commit); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("commit %s: %w", commit.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert commit: %w", err)
	}
	return nil
}

func (r *commitRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*domain.Commit, error) {
	var commit domain.Commit
	if err := r.col.FindOne(ctx, filter, opts...).Decode(&commit); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find commit: %w", err)
	}
	return &commit, nil
}

// GetByID retrieves a commit by ID.
func (r *commitRepository) GetByID(ctx context.Context, id string) (*domain.Commit, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// ListByProject returns a project's commits, newest first.
func (r *commitRepository) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Commit], error) {
	return list[domain.Commit](ctx, r.col, bson.M{"projectId": projectID}, opts, newestCommitFirst)
}

// Latest returns a project's newest commit.
func (r *commitRepository) Latest(ctx context.Context, projectID string) (*domain.Commit, error) {
	return r.findOne(ctx, bson.M{"projectId": projectID}, options.FindOne().SetSort(newestCommitFirst))
}

// CountByProject returns the number of commits recorded for a project.
func (r *commitRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"projectId": projectID})
	if err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return n, nil
}

// Delete deletes a commit by ID.
func (r *commitRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete commit: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByProject deletes every commit of a project.
func (r *commitRepository) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{"projectId": projectID}); err != nil {
		return fmt.Errorf("delete commits: %w", err)
	}
	return nil
}
