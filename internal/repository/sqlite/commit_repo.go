package sqlite

import (
	"context"
	"fmt"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// commitRepository implements repository.CommitRepository for SQLite.
type commitRepository struct {
	db *DB
}

// NewCommitRepository creates a new SQLite commit repository.
func NewCommitRepository(db *DB) repository.CommitRepository {
	return &commitRepository{db: db}
}

const commitColumns = `id, hash, message, author, user_id, project_id, files_changed, timestamp`

func scanCommit(row rowScanner) (*domain.Commit, error) {
	c := &domain.Commit{}
	var ts int64
	if err := row.Scan(&c.ID, &c.Hash, &c.Message, &c.Author, &c.UserID, &c.ProjectID, &c.FilesChanged, &ts); err != nil {
		return nil, err
	}
	c.Timestamp = fromMillis(ts)
	return c, nil
}

// Create appends a commit.
func (r *commitRepository) Create(ctx context.Context, c *domain.Commit) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		INSERT INTO commits (`+commitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Hash, c.Message, c.Author, c.UserID, c.ProjectID, c.FilesChanged, toMillis(c.Timestamp))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit %s: %w", c.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create commit: %w", err)
	}
	return nil
}

// GetByID retrieves a commit by ID.
func (r *commitRepository) GetByID(ctx context.Context, id string) (*domain.Commit, error) {
	c, err := scanCommit(r.db.q(ctx).QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return c, nil
}

// ListByProject returns a project's commits, newest first.
func (r *commitRepository) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Commit], error) {
	opts = opts.Normalize()

	total, err := r.CountByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.q(ctx).QueryContext(ctx, `
		SELECT `+commitColumns+` FROM commits
		WHERE project_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, projectID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()

	commits := []*domain.Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commits: %w", err)
	}

	return &repository.ListResult[domain.Commit]{
		Items:  commits,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// Latest returns a project's newest commit.
func (r *commitRepository) Latest(ctx context.Context, projectID string) (*domain.Commit, error) {
	c, err := scanCommit(r.db.q(ctx).QueryRowContext(ctx, `
		SELECT `+commitColumns+` FROM commits
		WHERE project_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, projectID))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest commit: %w", err)
	}
	return c, nil
}

// CountByProject returns the number of commits recorded for a project.
func (r *commitRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	var n int64
	if err := r.db.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM commits WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count commits: %w", err)
	}
	return n, nil
}

// Delete deletes a commit by ID.
func (r *commitRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.q(ctx).ExecContext(ctx, `DELETE FROM commits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete commit: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByProject deletes every commit of a project.
func (r *commitRepository) DeleteByProject(ctx context.Context, projectID string) error {
	if _, err := r.db.q(ctx).ExecContext(ctx, `DELETE FROM commits WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete commits: %w", err)
	}
	return nil
}

// Ensure commitRepository implements repository.CommitRepository.
var _ repository.CommitRepository = (*commitRepository)(nil)
