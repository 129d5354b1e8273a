// Package repository defines data access interfaces for ApexCoding.
// These interfaces abstract database operations, allowing for different implementations
// (MongoDB, SQLite, in-memory for testing) while keeping the service layer clean.
//
// Every state transition that must be exclusive (checkout, checkin, membership
// changes) is a single conditional write. When the condition does not hold the
// implementation returns ErrConditionFailed and writes nothing.
package repository

import (
	"context"
	"time"

	"github.com/apexcoding/apexcoding/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// Create creates a new user.
	// Returns ErrAlreadyExists if the username or email is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByUsername retrieves a user by username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetMany retrieves the users with the given IDs. Missing IDs are skipped.
	GetMany(ctx context.Context, ids []string) ([]*domain.User, error)

	// Update replaces the profile, flags and password hash of an existing user.
	// The friend list is only changed through AddFriend and RemoveFriend.
	Update(ctx context.Context, user *domain.User) error

	// Delete deletes a user by ID.
	Delete(ctx context.Context, id string) error

	// List returns all users with pagination.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// ExistsByUsername checks if a user with the given username exists.
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// ExistsByEmail checks if a user with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// AddFriend adds friendID to the friend list of userID.
	// Returns ErrConditionFailed if friendID is already listed.
	AddFriend(ctx context.Context, userID, friendID string) error

	// RemoveFriend removes friendID from the friend list of userID.
	// Returns ErrConditionFailed if friendID is not listed.
	RemoveFriend(ctx context.Context, userID, friendID string) error

	// RemoveFriendEverywhere removes friendID from every friend list.
	RemoveFriendEverywhere(ctx context.Context, friendID string) error
}

// =============================================================================
// Project Repository
// =============================================================================

// ProjectRepository defines the interface for project data access.
type ProjectRepository interface {
	// Create creates a new project.
	Create(ctx context.Context, project *domain.Project) error

	// GetByID retrieves a project by ID.
	GetByID(ctx context.Context, id string) (*domain.Project, error)

	// List returns projects matching the filter, most recently updated first.
	List(ctx context.Context, filter ProjectFilter) (*ListResult[domain.Project], error)

	// UpdateMetadata applies the owner-editable fields and advances lastUpdated.
	UpdateMetadata(ctx context.Context, id string, update domain.ProjectUpdate, at time.Time) (*domain.Project, error)

	// Delete deletes a project by ID.
	Delete(ctx context.Context, id string) error

	// Touch advances lastUpdated.
	Touch(ctx context.Context, id string, at time.Time) error

	// TryCheckout marks the project checked out by userID.
	// The write only happens when the project is available, already held by
	// userID, or held under an expired lease. leaseUntil may be nil.
	TryCheckout(ctx context.Context, id, userID string, now time.Time, leaseUntil *time.Time) (*domain.Project, error)

	// Checkin appends the files, sets the version, clears the checkout and
	// advances lastUpdated, only when userID holds the checkout.
	Checkin(ctx context.Context, id, userID string, update domain.CheckinUpdate) (*domain.Project, error)

	// ForceRelease clears the checkout regardless of holder.
	// Returns ErrConditionFailed if the project is not checked out.
	ForceRelease(ctx context.Context, id string, at time.Time) (*domain.Project, error)

	// ReleaseExpired clears every checkout whose lease ended at or before now
	// and returns the released project IDs.
	ReleaseExpired(ctx context.Context, now time.Time) ([]string, error)

	// ReleaseHeldBy clears every checkout held by userID.
	ReleaseHeldBy(ctx context.Context, userID string, at time.Time) ([]string, error)

	// AddMember adds memberID to the member set.
	// Returns ErrConditionFailed if memberID is already a member.
	AddMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error)

	// RemoveMember removes memberID from the member set, only when memberID
	// is a member, is not the owner and does not hold the checkout.
	RemoveMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error)

	// TransferOwnership sets ownedBy to to, only when ownedBy is from and
	// to is already a member.
	TransferOwnership(ctx context.Context, id, from, to string, at time.Time) (*domain.Project, error)

	// RemoveMemberEverywhere removes userID from every project it does not own.
	RemoveMemberEverywhere(ctx context.Context, userID string, at time.Time) error
}

// ProjectFilter narrows a project listing.
type ProjectFilter struct {
	// MemberID restricts the listing to projects with this member.
	MemberID string

	// OwnerID restricts the listing to projects owned by this user.
	OwnerID string

	ListOptions
}

// =============================================================================
// Commit Repository
// =============================================================================

// CommitRepository is the append-only commit ledger.
type CommitRepository interface {
	// Create appends a commit.
	Create(ctx context.Context, commit *domain.Commit) error

	// GetByID retrieves a commit by ID.
	GetByID(ctx context.Context, id string) (*domain.Commit, error)

	// ListByProject returns a project's commits, newest first.
	ListByProject(ctx context.Context, projectID string, opts ListOptions) (*ListResult[domain.Commit], error)

	// Latest returns a project's newest commit.
	// Returns ErrNotFound when the project has no commits.
	Latest(ctx context.Context, projectID string) (*domain.Commit, error)

	// CountByProject returns the number of commits recorded for a project.
	CountByProject(ctx context.Context, projectID string) (int64, error)

	// Delete deletes a commit by ID.
	Delete(ctx context.Context, id string) error

	// DeleteByProject deletes every commit of a project.
	DeleteByProject(ctx context.Context, projectID string) error
}

// =============================================================================
// Activity Repository
// =============================================================================

// ActivityRepository stores project messages and recorded events.
type ActivityRepository interface {
	// Create appends an activity.
	Create(ctx context.Context, activity *domain.Activity) error

	// ListByProject returns a project's activities, newest first.
	ListByProject(ctx context.Context, projectID string, opts ListOptions) (*ListResult[domain.Activity], error)

	// DeleteByProject deletes every activity of a project.
	DeleteByProject(ctx context.Context, projectID string) error

	// DeleteByUser deletes every activity authored by a user.
	DeleteByUser(ctx context.Context, userID string) error
}

// =============================================================================
// Common Types
// =============================================================================

// DefaultListLimit is applied when ListOptions.Limit is zero.
const DefaultListLimit = 50

// MaxListLimit caps ListOptions.Limit.
const MaxListLimit = 500

// ListOptions contains common pagination options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// Normalize clamps the options to sane values.
func (o ListOptions) Normalize() ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	return o
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}

// Page slices an already sorted list according to opts.
func Page[T any](all []*T, opts ListOptions) *ListResult[T] {
	opts = opts.Normalize()
	res := &ListResult[T]{
		Items:  []*T{},
		Total:  int64(len(all)),
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}
	if opts.Offset >= len(all) {
		return res
	}
	end := min(opts.Offset+opts.Limit, len(all))
	res.Items = all[opts.Offset:end]
	return res
}

// =============================================================================
// Transaction Support
// =============================================================================

// TxManager defines the interface for transaction management.
type TxManager interface {
	// WithTx executes the given function within a transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	// Repositories called with the ctx passed to fn join the transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
