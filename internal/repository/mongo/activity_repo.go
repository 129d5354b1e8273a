package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

type activityRepository struct {
	col *mongo.Collection
}

// NewActivityRepository creates a MongoDB activity repository.
func NewActivityRepository(d *DB) repository.ActivityRepository {
	return &activityRepository{col: d.collection(colActivities)}
}

// Create appends an activity.
func (r *activityRepository) Create(ctx context.Context, activity *domain.Activity) error {
	if _, err := r.col.InsertOne(ctx, activity); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListByProject returns a project's activities, newest first.
func (r *activityRepository) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Activity], error) {
	return list[domain.Activity](ctx, r.col, bson.M{"projectId": projectID}, opts,
		bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
}

// DeleteByProject deletes every activity of a project.
func (r *activityRepository) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{"projectId": projectID}); err != nil {
		return fmt.Errorf("delete activities: %w", err)
	}
	return nil
}

// DeleteByUser deletes every activity authored by a user.
func (r *activityRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return fmt.Errorf("delete activities: %w", err)
	}
	return nil
}
