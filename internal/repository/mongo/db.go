// Package mongo implements the repository interfaces on MongoDB.
//
// Multi-document writes run inside a transaction when the deployment is a
// replica set. On a standalone server WithTx degrades to sequential writes
// and reports any failure after the first write through the Divergence hook.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/apexcoding/apexcoding/internal/repository"
)

const (
	colUsers      = "users"
	colProjects   = "projects"
	colCommits    = "commits"
	colActivities = "activities"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// DB wraps a connected client and the application database.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger

	noTx atomic.Bool

	// Divergence is called when a non-transactional WithTx fails part way.
	Divergence func(err error)
}

// Dial connects to MongoDB and verifies the primary is reachable.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info().
		Str("database", cfg.Database).
		Msg("connected to mongo")

	return &DB{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger.With().Str("component", "mongo").Logger(),
	}, nil
}

// Close disconnects the client.
func (d *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// Ping checks the primary is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

// Health runs a trivial command against the application database.
func (d *DB) Health(ctx context.Context) error {
	if err := d.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return fmt.Errorf("mongo health: %w", err)
	}
	return nil
}

// Drop drops the application database. Used by tests.
func (d *DB) Drop(ctx context.Context) error {
	return d.db.Drop(ctx)
}

// SupportsTransactions reports whether the server is a replica set member
// or mongos, where multi-document transactions are available.
func (d *DB) SupportsTransactions(ctx context.Context) bool {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	err := d.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).
		Decode(&hello)
	if err != nil {
		return false
	}
	return hello.SetName != "" || hello.Msg == "isdbgrid"
}

func (d *DB) collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

// WithTx runs fn inside a transaction. Calls made with a context that
// already carries a session join it.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	if d.noTx.Load() {
		return d.withoutTx(ctx, fn)
	}

	sess, err := d.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		d.noTx.Store(true)
		d.logger.Warn().
			Err(err).
			Msg("transactions not supported, falling back to sequential writes")
		return d.withoutTx(ctx, fn)
	}
	return err
}

func (d *DB) withoutTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err != nil && !isExpected(err) {
		d.logger.Error().
			Err(err).
			Msg("non-transactional write sequence failed")
		if d.Divergence != nil {
			d.Divergence(err)
		}
	}
	return err
}

// isExpected reports guard failures that are raised before any write.
func isExpected(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrConditionFailed) ||
		errors.Is(err, repository.ErrAlreadyExists)
}

// NewRepositories creates all repositories backed by d.
func NewRepositories(d *DB) *repository.Repositories {
	return &repository.Repositories{
		User:     NewUserRepository(d),
		Project:  NewProjectRepository(d),
		Commit:   NewCommitRepository(d),
		Activity: NewActivityRepository(d),
		Tx:       d,
	}
}

// existsByID distinguishes ErrNotFound from ErrConditionFailed after a
// conditional write matched nothing.
func existsByID(ctx context.Context, col *mongo.Collection, id string) error {
	n, err := col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count %s: %w", col.Name(), err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConditionFailed
}

func findOptions(opts repository.ListOptions, sort bson.D) *options.FindOptions {
	return options.Find().
		SetSort(sort).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))
}

// decodeAll drains cur into a non-nil slice.
func decodeAll[T any](ctx context.Context, cur *mongo.Cursor) ([]*T, error) {
	defer cur.Close(ctx)

	items := []*T{}
	for cur.Next(ctx) {
		item := new(T)
		if err := cur.Decode(item); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		items = append(items, item)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return items, nil
}

func list[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts repository.ListOptions, sort bson.D) (*repository.ListResult[T], error) {
	opts = opts.Normalize()

	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", col.Name(), err)
	}

	cur, err := col.Find(ctx, filter, findOptions(opts, sort))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", col.Name(), err)
	}
	items, err := decodeAll[T](ctx, cur)
	if err != nil {
		return nil, err
	}

	return &repository.ListResult[T]{
		Items:  items,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

var _ repository.TxManager = (*DB)(nil)
