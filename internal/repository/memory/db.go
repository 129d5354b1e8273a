// Package memory provides an in-process repository backend on go-memdb.
// It is used by tests and single-node development servers; data does not
// survive a restart.
package memory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/apexcoding/apexcoding/internal/repository"
)

const (
	tblUsers      = "users"
	tblProjects   = "projects"
	tblCommits    = "commits"
	tblActivities = "activities"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblUsers: {
			Name: tblUsers,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"username": {
					Name:    "username",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Username"},
				},
				"email": {
					Name:    "email",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Email", Lowercase: true},
				},
				"friends": {
					Name:         "friends",
					AllowMissing: true,
					Indexer:      &memdb.StringSliceFieldIndex{Field: "Friends"},
				},
			},
		},
		tblProjects: {
			Name: tblProjects,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"owner": {
					Name:    "owner",
					Indexer: &memdb.StringFieldIndex{Field: "OwnedBy"},
				},
				"members": {
					Name:         "members",
					AllowMissing: true,
					Indexer:      &memdb.StringSliceFieldIndex{Field: "Members"},
				},
				"holder": {
					Name:         "holder",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "CheckedOutBy"},
				},
			},
		},
		tblCommits: {
			Name: tblCommits,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"project": {
					Name:    "project",
					Indexer: &memdb.StringFieldIndex{Field: "ProjectID"},
				},
			},
		},
		tblActivities: {
			Name: tblActivities,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"project": {
					Name:    "project",
					Indexer: &memdb.StringFieldIndex{Field: "ProjectID"},
				},
				// System activities such as expired leases carry no user.
				"user": {
					Name:         "user",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "UserID"},
				},
			},
		},
	},
}

// DB is an in-memory database. Stored objects are never mutated in place:
// writers insert deep copies and readers return deep copies.
type DB struct {
	db *memdb.MemDB
}

// New creates an empty in-memory database.
func New() (*DB, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &DB{db: db}, nil
}

// Ping always succeeds.
func (d *DB) Ping(context.Context) error { return nil }

// Health always succeeds.
func (d *DB) Health(context.Context) error { return nil }

// Close is a no-op.
func (d *DB) Close() error { return nil }

type txKey struct{}

func txFrom(ctx context.Context) (*memdb.Txn, bool) {
	txn, ok := ctx.Value(txKey{}).(*memdb.Txn)
	return txn, ok
}

// WithTx runs fn inside a single write transaction. go-memdb serializes
// writers, so everything fn does through this package's repositories is
// atomic and isolated. Nested calls join the outer transaction.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	txn := d.db.Txn(true)
	defer txn.Abort()

	if err := fn(context.WithValue(ctx, txKey{}, txn)); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// update runs fn in the caller's transaction, or in a new write
// transaction that commits when fn succeeds.
func (d *DB) update(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if txn, ok := txFrom(ctx); ok {
		return fn(txn)
	}

	txn := d.db.Txn(true)
	defer txn.Abort()

	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// view runs fn in the caller's transaction, or in a read transaction.
func (d *DB) view(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if txn, ok := txFrom(ctx); ok {
		return fn(txn)
	}

	txn := d.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

// collect drains an iterator.
func collect[T any](it memdb.ResultIterator) []*T {
	var out []*T
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*T))
	}
	return out
}

// NewRepositories builds the repository set over db.
func NewRepositories(db *DB) *repository.Repositories {
	return &repository.Repositories{
		User:     NewUserRepository(db),
		Project:  NewProjectRepository(db),
		Commit:   NewCommitRepository(db),
		Activity: NewActivityRepository(db),
		Tx:       db,
	}
}
