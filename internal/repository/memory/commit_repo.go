package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// commitRepository implements repository.CommitRepository in memory.
type commitRepository struct {
	db *DB
}

// NewCommitRepository creates a new in-memory commit repository.
func NewCommitRepository(db *DB) repository.CommitRepository {
	return &commitRepository{db: db}
}

// Create appends a commit.
func (r *commitRepository) Create(ctx context.Context, commit *domain.Commit) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		existing, err := txn.First(tblCommits, "id", commit.ID)
		if err != nil {
			return fmt.Errorf("find commit: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("commit %s: %w", commit.ID, repository.ErrAlreadyExists)
		}
		c := *commit
		if err := txn.Insert(tblCommits, &c); err != nil {
			return fmt.Errorf("insert commit: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a commit by ID.
func (r *commitRepository) GetByID(ctx context.Context, id string) (*domain.Commit, error) {
	var commit *domain.Commit
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(tblCommits, "id", id)
		if err != nil {
			return fmt.Errorf("find commit: %w", err)
		}
		if raw == nil {
			return repository.ErrNotFound
		}
		c := *raw.(*domain.Commit)
		commit = &c
		return nil
	})
	return commit, err
}

func (r *commitRepository) byProject(ctx context.Context, projectID string) ([]*domain.Commit, error) {
	var commits []*domain.Commit
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(tblCommits, "project", projectID)
		if err != nil {
			return fmt.Errorf("list commits: %w", err)
		}
		commits = collect[domain.Commit](it)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(commits, func(i, j int) bool {
		if !commits[i].Timestamp.Equal(commits[j].Timestamp) {
			return commits[i].Timestamp.After(commits[j].Timestamp)
		}
		return commits[i].ID > commits[j].ID
	})
	for i, c := range commits {
		cp := *c
		commits[i] = &cp
	}
	return commits, nil
}

// ListByProject returns a project's commits, newest first.
func (r *commitRepository) ListByProject(ctx context.Context, projectID string, opts repository.ListOptions) (*repository.ListResult[domain.Commit], error) {
	commits, err := r.byProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return repository.Page(commits, opts), nil
}

// Latest returns a project's newest commit.
func (r *commitRepository) Latest(ctx context.Context, projectID string) (*domain.Commit, error) {
	commits, err := r.byProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, repository.ErrNotFound
	}
	return commits[0], nil
}

// CountByProject returns the number of commits recorded for a project.
func (r *commitRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := r.db.view(ctx, func(txn *memdb.Txn) error {
		it, err := txn.Get(tblCommits, "project", projectID)
		if err != nil {
			return fmt.Errorf("count commits: %w", err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Delete deletes a commit by ID.
func (r *commitRepository) Delete(ctx context.Context, id string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		raw, err := txn.First(tblCommits, "id", id)
		if err != nil {
			return fmt.Errorf("find commit: %w", err)
		}
		if raw == nil {
			return repository.ErrNotFound
		}
		return txn.Delete(tblCommits, raw)
	})
}

// DeleteByProject deletes every commit of a project.
func (r *commitRepository) DeleteByProject(ctx context.Context, projectID string) error {
	return r.db.update(ctx, func(txn *memdb.Txn) error {
		if _, err := txn.DeleteAll(tblCommits, "project", projectID); err != nil {
			return fmt.Errorf("delete commits: %w", err)
		}
		return nil
	})
}
