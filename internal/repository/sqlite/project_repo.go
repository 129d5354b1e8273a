package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// projectRepository implements repository.ProjectRepository for SQLite.
// Conditional transitions are single UPDATE statements whose WHERE clause
// carries the guard; RowsAffected tells whether the transition happened.
type projectRepository struct {
	db *DB
}

// NewProjectRepository creates a new SQLite project repository.
func NewProjectRepository(db *DB) repository.ProjectRepository {
	return &projectRepository{db: db}
}

const projectColumns = `id, name, description, status, language, stars, forks, owned_by,
	checked_out_by, checked_out_at, lease_expires_at, version, created_at, last_updated`

const releaseSet = `checked_out_by = NULL, checked_out_at = NULL, lease_expires_at = NULL`

func scanProject(row rowScanner) (*domain.Project, error) {
	p := &domain.Project{}
	var (
		status                  string
		checkedOutBy            sql.NullString
		checkedOutAt, leaseEnds sql.NullInt64
		createdAt, lastUpdated  int64
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&status,
		&p.Language,
		&p.Stars,
		&p.Forks,
		&p.OwnedBy,
		&checkedOutBy,
		&checkedOutAt,
		&leaseEnds,
		&p.Version,
		&createdAt,
		&lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.ProjectStatus(status)
	if checkedOutBy.Valid {
		p.CheckedOutBy = &checkedOutBy.String
	}
	p.CheckedOutAt = fromNullMillis(checkedOutAt)
	p.LeaseExpiresAt = fromNullMillis(leaseEnds)
	p.CreatedAt = fromMillis(createdAt)
	p.LastUpdated = fromMillis(lastUpdated)
	return p, nil
}

// load fills members and files.
func (r *projectRepository) load(ctx context.Context, p *domain.Project) error {
	q := r.db.q(ctx)

	rows, err := q.QueryContext(ctx, `SELECT user_id FROM project_members WHERE project_id = ? ORDER BY rowid`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}
	p.Members = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan member: %w", err)
		}
		p.Members = append(p.Members, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT id, name, size, content_type, hash, storage_key, uploaded_by, uploaded_at
		FROM project_files WHERE project_id = ? ORDER BY rowid
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	p.Files = []domain.FileRecord{}
	for rows.Next() {
		var f domain.FileRecord
		var uploadedAt int64
		if err := rows.Scan(&f.ID, &f.Name, &f.Size, &f.ContentType, &f.Hash, &f.StorageKey, &f.UploadedBy, &uploadedAt); err != nil {
			return fmt.Errorf("failed to scan file: %w", err)
		}
		f.UploadedAt = fromMillis(uploadedAt)
		p.Files = append(p.Files, f)
	}
	return rows.Err()
}

// Create creates a new project.
func (r *projectRepository) Create(ctx context.Context, p *domain.Project) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		_, err := q.ExecContext(ctx, `
			INSERT INTO projects (`+projectColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.ID, p.Name, p.Description, string(p.Status), p.Language, p.Stars, p.Forks, p.OwnedBy,
			nullString(p.CheckedOutBy), nullMillis(p.CheckedOutAt), nullMillis(p.LeaseExpiresAt),
			p.Version, toMillis(p.CreatedAt), toMillis(p.LastUpdated),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("project %s: %w", p.ID, repository.ErrAlreadyExists)
			}
			return fmt.Errorf("failed to create project: %w", err)
		}

		for _, m := range p.Members {
			if _, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO project_members (project_id, user_id) VALUES (?, ?)`, p.ID, m); err != nil {
				return fmt.Errorf("failed to add member: %w", err)
			}
		}
		return insertFiles(ctx, q, p.ID, p.Files)
	})
}

func insertFiles(ctx context.Context, q querier, projectID string, files []domain.FileRecord) error {
	for _, f := range files {
		_, err := q.ExecContext(ctx, `
			INSERT INTO project_files (id, project_id, name, size, content_type, hash, storage_key, uploaded_by, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, projectID, f.Name, f.Size, f.ContentType, f.Hash, f.StorageKey, f.UploadedBy, toMillis(f.UploadedAt))
		if err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a project by ID.
func (r *projectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	p, err := scanProject(r.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if err := r.load(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns projects matching the filter, most recently updated first.
func (r *projectRepository) List(ctx context.Context, filter repository.ProjectFilter) (*repository.ListResult[domain.Project], error) {
	opts := filter.ListOptions.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owned_by = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.MemberID != "" {
		where = append(where, "id IN (SELECT project_id FROM project_members WHERE user_id = ?)")
		args = append(args, filter.MemberID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count projects: %w", err)
	}

	rows, err := r.db.q(ctx).QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects`+clause+` ORDER BY last_updated DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	projects := []*domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	rows.Close()

	for _, p := range projects {
		if err := r.load(ctx, p); err != nil {
			return nil, err
		}
	}

	return &repository.ListResult[domain.Project]{
		Items:  projects,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// UpdateMetadata applies the owner-editable fields.
func (r *projectRepository) UpdateMetadata(ctx context.Context, id string, update domain.ProjectUpdate, at time.Time) (*domain.Project, error) {
	sets := []string{"last_updated = ?"}
	args := []any{toMillis(at)}
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Language != nil {
		sets = append(sets, "language = ?")
		args = append(args, *update.Language)
	}

	return r.conditional(ctx, id, `UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
}

// Delete deletes a project by ID. Members and files cascade.
func (r *projectRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.q(ctx).ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Touch advances lastUpdated.
func (r *projectRepository) Touch(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.q(ctx).ExecContext(ctx, `UPDATE projects SET last_updated = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// conditional runs a guarded UPDATE and returns the updated project. Zero
// affected rows means ErrNotFound when the project is missing and
// ErrConditionFailed otherwise.
func (r *projectRepository) conditional(ctx context.Context, id, query string, args ...any) (*domain.Project, error) {
	var out *domain.Project
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		result, err := r.db.q(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			if _, err := r.GetByID(ctx, id); err != nil {
				return err
			}
			return repository.ErrConditionFailed
		}
		out, err = r.GetByID(ctx, id)
		return err
	})
	return out, err
}

// TryCheckout marks the project checked out by userID when available,
// already held by userID, or held under an expired lease.
func (r *projectRepository) TryCheckout(ctx context.Context, id, userID string, now time.Time, leaseUntil *time.Time) (*domain.Project, error) {
	return r.conditional(ctx, id, `
		UPDATE projects
		SET checked_out_by = ?, checked_out_at = ?, lease_expires_at = ?, last_updated = ?
		WHERE id = ?
		  AND (checked_out_by IS NULL
		       OR checked_out_by = ?
		       OR (lease_expires_at IS NOT NULL AND lease_expires_at <= ?))
	`, userID, toMillis(now), nullMillis(leaseUntil), toMillis(now), id, userID, toMillis(now))
}

// Checkin records the check-in only when userID holds the checkout.
func (r *projectRepository) Checkin(ctx context.Context, id, userID string, update domain.CheckinUpdate) (*domain.Project, error) {
	var out *domain.Project
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		p, err := r.conditional(ctx, id, `
			UPDATE projects
			SET `+releaseSet+`, version = COALESCE(NULLIF(?, ''), version), last_updated = ?
			WHERE id = ? AND checked_out_by = ?
		`, update.Version, toMillis(update.At), id, userID)
		if err != nil {
			return err
		}
		if err := insertFiles(ctx, r.db.q(ctx), id, update.Files); err != nil {
			return err
		}
		p.Files = append(p.Files, update.Files...)
		out = p
		return nil
	})
	return out, err
}

// ForceRelease clears the checkout regardless of holder.
func (r *projectRepository) ForceRelease(ctx context.Context, id string, at time.Time) (*domain.Project, error) {
	return r.conditional(ctx, id, `
		UPDATE projects SET `+releaseSet+`, last_updated = ?
		WHERE id = ? AND checked_out_by IS NOT NULL
	`, toMillis(at), id)
}

// ReleaseExpired clears every checkout whose lease has ended.
func (r *projectRepository) ReleaseExpired(ctx context.Context, now time.Time) ([]string, error) {
	return r.releaseReturning(ctx, `
		UPDATE projects SET `+releaseSet+`, last_updated = ?
		WHERE checked_out_by IS NOT NULL AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?
		RETURNING id
	`, toMillis(now), toMillis(now))
}

// ReleaseHeldBy clears every checkout held by userID.
func (r *projectRepository) ReleaseHeldBy(ctx context.Context, userID string, at time.Time) ([]string, error) {
	return r.releaseReturning(ctx, `
		UPDATE projects SET `+releaseSet+`, last_updated = ?
		WHERE checked_out_by = ?
		RETURNING id
	`, toMillis(at), userID)
}

func (r *projectRepository) releaseReturning(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to release projects: %w", err)
	}
	defer rows.Close()

	released := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan released project: %w", err)
		}
		released = append(released, id)
	}
	return released, rows.Err()
}

// AddMember adds memberID to the member set.
func (r *projectRepository) AddMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error) {
	var out *domain.Project
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		result, err := r.db.q(ctx).ExecContext(ctx, `
			INSERT INTO project_members (project_id, user_id)
			SELECT id, ? FROM projects WHERE id = ?
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, memberID, id)
		if err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			if _, err := r.GetByID(ctx, id); err != nil {
				return err
			}
			return repository.ErrConditionFailed
		}
		out, err = r.conditional(ctx, id, `UPDATE projects SET last_updated = ? WHERE id = ?`, toMillis(at), id)
		return err
	})
	return out, err
}

// RemoveMember removes a non-owner member that does not hold the checkout.
func (r *projectRepository) RemoveMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error) {
	var out *domain.Project
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		result, err := r.db.q(ctx).ExecContext(ctx, `
			DELETE FROM project_members
			WHERE project_id = ? AND user_id = ?
			  AND EXISTS (
			    SELECT 1 FROM projects
			    WHERE id = ? AND owned_by <> ? AND (checked_out_by IS NULL OR checked_out_by <> ?)
			  )
		`, id, memberID, id, memberID, memberID)
		if err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			if _, err := r.GetByID(ctx, id); err != nil {
				return err
			}
			return repository.ErrConditionFailed
		}
		out, err = r.conditional(ctx, id, `UPDATE projects SET last_updated = ? WHERE id = ?`, toMillis(at), id)
		return err
	})
	return out, err
}

// TransferOwnership moves ownership from one member to another.
func (r *projectRepository) TransferOwnership(ctx context.Context, id, from, to string, at time.Time) (*domain.Project, error) {
	return r.conditional(ctx, id, `
		UPDATE projects SET owned_by = ?, last_updated = ?
		WHERE id = ? AND owned_by = ?
		  AND EXISTS (SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ?)
	`, to, toMillis(at), id, from, id, to)
}

// RemoveMemberEverywhere removes userID from every project it does not own.
func (r *projectRepository) RemoveMemberEverywhere(ctx context.Context, userID string, at time.Time) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		_, err := q.ExecContext(ctx, `
			UPDATE projects SET last_updated = ?
			WHERE owned_by <> ? AND id IN (SELECT project_id FROM project_members WHERE user_id = ?)
		`, toMillis(at), userID, userID)
		if err != nil {
			return fmt.Errorf("failed to touch projects: %w", err)
		}
		_, err = q.ExecContext(ctx, `
			DELETE FROM project_members
			WHERE user_id = ? AND project_id IN (SELECT id FROM projects WHERE owned_by <> ?)
		`, userID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove member everywhere: %w", err)
		}
		return nil
	})
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Ensure projectRepository implements repository.ProjectRepository.
var _ repository.ProjectRepository = (*projectRepository)(nil)
