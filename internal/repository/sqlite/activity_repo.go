package sqlite

import (
	"context"
	"fmt"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// activityRepository implements repository.ActivityRepository for SQLite.
type activityRepository struct {
	db *DB
}

// NewActivityRepository creates a new SQLite activity repository.
func NewActivityRepository(db *DB) repository.ActivityRepository {
	return &activityRepository{db: db}
}

// Create appends an activity.
func (r *activityRepository) Create(ctx context.Context, a *domain.Activity) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		INSERT INTO activities (id, project_id, user_id, kind, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProjectID, a.UserID, string(a.Kind), a.Text, toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// ListByProject returns a project's activities, newest first.
func (r *activityRepository) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Activity], error) {
	opts = opts.Normalize()

	var total int64
	if err := r.db.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activities WHERE project_id = ?`, projectID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count activities: %w", err)
	}

	rows, err := r.db.q(ctx).QueryContext(ctx, `
		SELECT id, project_id, user_id, kind, text, created_at FROM activities
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, projectID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	items := []*domain.Activity{}
	for rows.Next() {
		a := &domain.Activity{}
		var kind string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.UserID, &kind, &a.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Kind = domain.ActivityKind(kind)
		a.CreatedAt = fromMillis(createdAt)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}

	return &repository.ListResult[domain.Activity]{
		Items:  items,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// DeleteByProject deletes every activity of a project.
func (r *activityRepository) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := r.db.q(ctx).ExecContext(ctx, `DELETE FROM activities WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete activities: %w", err)
	}
	return nil
}

// DeleteByUser deletes every activity authored by a user.
func (r *activityRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.q(ctx).ExecContext(ctx, `DELETE FROM activities WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete activities: %w", err)
	}
	return nil
}

// Ensure activityRepository implements repository.ActivityRepository.
var _ repository.ActivityRepository = (*activityRepository)(nil)
