package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// activityRepository implements repository.ActivityRepository in memory.
type activityRepository struct {
	db *DB
}

// NewActivityRepository creates a new in-memory activity repository.
func NewActivityRepository(db *DB) repository.ActivityRepository {
	return &activityRepository{db: db}
}

// Create appends an activity.
func (r *activityRepository) Create(ctx context.Context, activity *domain.Activity) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		a := *activity
		if err := txn.Insert(tblActivities, &a); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		return nil
	})
}

// ListByProject returns a project's activities, newest first.
func (r *activityRepository) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Activity], error) {
	var all []*domain.Activity
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(tblActivities, "project", projectID)
		if err != nil {
			return fmt.Errorf("list activities: %w", err)
		}
		all = collect[domain.Activity](it)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	res := repository.Page(all, opts)
	for i, a := range res.Items {
		cp := *a
		res.Items[i] = &cp
	}
	return res, nil
}

// DeleteByProject deletes every activity of a project.
func (r *activityRepository) DeleteByProject(ctx context.Context, projectID string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		if _, err := txn.DeleteAll(tblActivities, "project", projectID); err != nil {
			return fmt.Errorf("delete activities: %w", err)
		}
		return nil
	})
}

// DeleteByUser deletes every activity authored by a user.
func (r *activityRepository) DeleteByUser(ctx context.Context, userID string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		if _, err := txn.DeleteAll(tblActivities, "user", userID); err != nil {
			return fmt.Errorf("delete activities: %w", err)
		}
		return nil
	})
}
