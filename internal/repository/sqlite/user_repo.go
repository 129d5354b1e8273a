package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, email, password_hash, name, avatar, title, bio, is_active, is_admin, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var isActive, isAdmin int
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Profile.Name,
		&user.Profile.Avatar,
		&user.Profile.Title,
		&user.Profile.Bio,
		&isActive,
		&isAdmin,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.IsActive = isActive != 0
	user.IsAdmin = isAdmin != 0
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	user.Friends = []string{}
	return user, nil
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.db.q(ctx).ExecContext(ctx, query,
			user.ID,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.Profile.Name,
			user.Profile.Avatar,
			user.Profile.Title,
			user.Profile.Bio,
			boolToInt(user.IsActive),
			boolToInt(user.IsAdmin),
			toMillis(user.CreatedAt),
			toMillis(user.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("username or email: %w", repository.ErrAlreadyExists)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		for _, friendID := range user.Friends {
			if _, err := r.db.q(ctx).ExecContext(ctx,
				`INSERT OR IGNORE INTO friendships (user_id, friend_id) VALUES (?, ?)`, user.ID, friendID); err != nil {
				return fmt.Errorf("failed to create friendship: %w", err)
			}
		}
		return nil
	})
}

func (r *userRepository) getBy(ctx context.Context, column, value string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`

	user, err := scanUser(r.db.q(ctx).QueryRowContext(ctx, query, value))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}

	if user.Friends, err = r.friends(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) friends(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.q(ctx).QueryContext(ctx,
		`SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	friends := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
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
	for _, id := range ids {
		u, err := r.GetByID(ctx, id)
		if err == repository.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// Update updates an existing user.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET username = ?, email = ?, password_hash = ?, name = ?, avatar = ?, title = ?, bio = ?,
			is_active = ?, is_admin = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.q(ctx).ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Profile.Name,
		user.Profile.Avatar,
		user.Profile.Title,
		user.Profile.Bio,
		boolToInt(user.IsActive),
		boolToInt(user.IsAdmin),
		toMillis(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username or email: %w", repository.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a user by ID. Outgoing friendships cascade.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.q(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns all users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()

	var total int64
	if err := r.db.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id LIMIT ? OFFSET ?`
	rows, err := r.db.q(ctx).QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := []*domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	rows.Close()

	// Friends are loaded after the cursor is closed; the pool has one connection.
	for _, u := range users {
		if u.Friends, err = r.friends(ctx, u.ID); err != nil {
			return nil, err
		}
	}

	return &repository.ListResult[domain.User]{
		Items:  users,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username)
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email)
}

func (r *userRepository) exists(ctx context.Context, query, arg string) (bool, error) {
	var count int
	if err := r.db.q(ctx).QueryRowContext(ctx, query, arg).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}

// AddFriend adds friendID to the friend list of userID.
func (r *userRepository) AddFriend(ctx context.Context, userID, friendID string) error {
	result, err := r.db.q(ctx).ExecContext(ctx, `
		INSERT INTO friendships (user_id, friend_id)
		SELECT id, ? FROM users WHERE id = ?
		ON CONFLICT (user_id, friend_id) DO NOTHING
	`, friendID, userID)
	if err != nil {
		return fmt.Errorf("failed to add friend: %w", err)
	}
	return r.requireOne(ctx, result, userID)
}

// RemoveFriend removes friendID from the friend list of userID.
func (r *userRepository) RemoveFriend(ctx context.Context, userID, friendID string) error {
	result, err := r.db.q(ctx).ExecContext(ctx,
		`DELETE FROM friendships WHERE user_id = ? AND friend_id = ?`, userID, friendID)
	if err != nil {
		return fmt.Errorf("failed to remove friend: %w", err)
	}
	return r.requireOne(ctx, result, userID)
}

// requireOne maps a zero-row write to ErrNotFound or ErrConditionFailed.
func (r *userRepository) requireOne(ctx context.Context, result sql.Result, userID string) error {
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}
	exists, err := r.exists(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConditionFailed
}

// RemoveFriendEverywhere removes friendID from every friend list.
func (r *userRepository) RemoveFriendEverywhere(ctx context.Context, friendID string) error {
	if _, err := r.db.q(ctx).ExecContext(ctx, `DELETE FROM friendships WHERE friend_id = ?`, friendID); err != nil {
		return fmt.Errorf("failed to remove friend everywhere: %w", err)
	}
	return nil
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
