package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// projectRepository implements repository.ProjectRepository in memory.
// Each conditional write reads and writes inside one memdb write
// transaction, which is exclusive, so check-then-write is atomic.
type projectRepository struct {
	db *DB
}

// NewProjectRepository creates a new in-memory project repository.
func NewProjectRepository(db *DB) repository.ProjectRepository {
	return &projectRepository{db: db}
}

func getProject(txn *memdb.Txn, id string) (*domain.Project, error) {
	raw, err := txn.First(tblProjects, "id", id)
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	if raw == nil {
		return nil, repository.ErrNotFound
	}
	return raw.(*domain.Project), nil
}

// mutate applies fn to a copy of the project and stores it. fn returns
// ErrConditionFailed to abort without writing.
func (r *projectRepository) mutate(ctx context.Context, id string, fn func(p *domain.Project) error) (*domain.Project, error) {
	var out *domain.Project
	err := r.db.update(ctx, func(txn *memdb.Txn) error {
		current, err := getProject(txn, id)
		if err != nil {
			return err
		}
		next := current.DeepCopy()
		if err := fn(next); err != nil {
			return err
		}
		if err := txn.Insert(tblProjects, next); err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		out = next.DeepCopy()
		return nil
	})
	return out, err
}

// Create creates a new project.
func (r *projectRepository) Create(ctx context.Context, project *domain.Project) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		_, err := getProject(txn, project.ID)
		if err == nil {
			return fmt.Errorf("project %s: %w", project.ID, repository.ErrAlreadyExists)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := txn.Insert(tblProjects, project.DeepCopy()); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a project by ID.
func (r *projectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	var project *domain.Project
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		p, err := getProject(txn, id)
		if err != nil {
			return err
		}
		project = p.DeepCopy()
		return nil
	})
	return project, err
}

// List returns projects matching the filter, most recently updated first.
func (r *projectRepository) List(ctx context.Context, filter repository.ProjectFilter) (*repository.ListResult[domain.Project], error) {
	var all []*domain.Project
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		var (
			it  memdb.ResultIterator
			err error
		)
		switch {
		case filter.OwnerID != "":
			it, err = txn.Get(tblProjects, "owner", filter.OwnerID)
		case filter.MemberID != "":
			it, err = txn.Get(tblProjects, "members", filter.MemberID)
		default:
			it, err = txn.Get(tblProjects, "id")
		}
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		for _, p := range collect[domain.Project](it) {
			if filter.MemberID != "" && !p.IsMember(filter.MemberID) {
				continue
			}
			all = append(all, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].LastUpdated.Equal(all[j].LastUpdated) {
			return all[i].LastUpdated.After(all[j].LastUpdated)
		}
		return all[i].ID < all[j].ID
	})
	res := repository.Page(all, filter.ListOptions)
	for i, p := range res.Items {
		res.Items[i] = p.DeepCopy()
	}
	return res, nil
}

// UpdateMetadata applies the owner-editable fields.
func (r *projectRepository) UpdateMetadata(ctx context.Context, id string, update domain.ProjectUpdate, at time.Time) (*domain.Project, error) {
	return r.mutate(ctx, id, func(p *domain.Project) error {
		update.Apply(p)
		p.LastUpdated = at
		return nil
	})
}

// Delete deletes a project by ID.
func (r *projectRepository) Delete(ctx context.Context, id string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		p, err := getProject(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(tblProjects, p); err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
}

// Touch advances lastUpdated.
func (r *projectRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.mutate(ctx, id, func(p *domain.Project) error {
		p.LastUpdated = at
		return nil
	})
	return err
}

// TryCheckout marks the project checked out by userID when available,
// already held by userID, or held under an expired lease.
func (r *projectRepository) TryCheckout(ctx context.Context, id, userID string, now time.Time, leaseUntil *time.Time) (*domain.Project, error) {
	return r.mutate(ctx, id, func(p *domain.Project) error {
		if p.IsCheckedOut() && !p.HeldBy(userID) && !p.LeaseExpired(now) {
			return repository.ErrConditionFailed
		}
		p.CheckedOutBy = &userID
		p.CheckedOutAt = &now
		p.LeaseExpiresAt = leaseUntil
		p.LastUpdated = now
		return nil
	})
}

// Checkin records the check-in only when userID holds the checkout.
func (r *projectRepository) Checkin(ctx context.Context, id, userID string, update domain.CheckinUpdate) (*domain.Project, error) {
	return r.mutate(ctx, id, func(p *domain.Project) error {
		if !p.HeldBy(userID) {
			return repository.ErrConditionFailed
		}
		p.Files = append(p.Files, update.Files...)
		if update.Version != "" {
			p.Version = update.Version
		}
		release(p)
		p.LastUpdated = update.At
		return nil
	})
}

// ForceRelease clears the checkout regardless of holder.
func (r *projectRepository) ForceRelease(ctx context.Context, id string, at time.Time) (*domain.Project, error) {
	return r.mutate(ctx, id, func(p *domain.Project) error {
		if !p.IsCheckedOut() {
			return repository.ErrConditionFailed
		}
		release(p)
		p.LastUpdated = at
		return nil
	})
}

// ReleaseExpired clears every checkout whose lease has ended.
func (r *projectRepository) ReleaseExpired(ctx context.Context, now time.Time) ([]string, error) {
	return r.releaseWhere(ctx, now, func(p *domain.Project) bool {
		return p.LeaseExpired(now)
	}, "holder_prefix", "")
}

// ReleaseHeldBy clears every checkout held by userID.
func (r *projectRepository) ReleaseHeldBy(ctx context.Context, userID string, at time.Time) ([]string, error) {
	return r.releaseWhere(ctx, at, func(p *domain.Project) bool {
		return p.HeldBy(userID)
	}, "holder", userID)
}

func (r *projectRepository) releaseWhere(ctx context.Context, at time.Time, match func(p *domain.Project) bool, index string, args ...any) ([]string, error) {
	released := []string{}
	err := r.db.update(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(tblProjects, index, args...)
		if err != nil {
			return fmt.Errorf("find checked out projects: %w", err)
		}
		for _, p := range collect[domain.Project](it) {
			if !match(p) {
				continue
			}
			next := p.DeepCopy()
			release(next)
			next.LastUpdated = at
			if err := txn.Insert(tblProjects, next); err != nil {
				return fmt.Errorf("release project: %w", err)
			}
			released = append(released, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// AddMember adds memberID to the member set.
func (r *projectRepository) AddMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error) {
	return r.mutate(ctx, id, func(p *domain.Project) error {
		if p.IsMember(memberID) {
			return repository.ErrConditionFailed
		}
		p.Members = append(p.Members, memberID)
		p.LastUpdated = at
		return nil
	})
}

// RemoveMember removes a non-owner member that does not hold the checkout.
func (r *projectRepository) RemoveMember(ctx context.Context, id, memberID string, at time.Time) (*domain.Project, error) {
	return r.mutate(ctx, id, func(p *domain.Project) error {
		if !p.IsMember(memberID) || p.IsOwner(memberID) || p.HeldBy(memberID) {
			return repository.ErrConditionFailed
		}
		p.Members = slices.DeleteFunc(p.Members, func(m string) bool { return m == memberID })
		p.LastUpdated = at
		return nil
	})
}

// TransferOwnership moves ownership from one member to another.
func (r *projectRepository) TransferOwnership(ctx context.Context, id, from, to string, at time.Time) (*domain.Project, error) {
	return r.mutate(ctx, id, func(p *domain.Project) error {
		if !p.IsOwner(from) || !p.IsMember(to) {
			return repository.ErrConditionFailed
		}
		p.OwnedBy = to
		p.LastUpdated = at
		return nil
	})
}

// RemoveMemberEverywhere removes userID from every project it does not own.
func (r *projectRepository) RemoveMemberEverywhere(ctx context.Context, userID string, at time.Time) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(tblProjects, "members", userID)
		if err != nil {
			return fmt.Errorf("find projects by member: %w", err)
		}
		for _, p := range collect[domain.Project](it) {
			if p.IsOwner(userID) {
				continue
			}
			next := p.DeepCopy()
			next.Members = slices.DeleteFunc(next.Members, func(m string) bool { return m == userID })
			next.LastUpdated = at
			if err := txn.Insert(tblProjects, next); err != nil {
				return fmt.Errorf("remove member: %w", err)
			}
		}
		return nil
	})
}

// release clears the checkout fields together.
func release(p *domain.Project) {
	p.CheckedOutBy = nil
	p.CheckedOutAt = nil
	p.LeaseExpiresAt = nil
}
