// Package app wires configuration, stores and services into a runnable
// ApexCoding API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/auth"
	memcache "github.com/apexcoding/apexcoding/internal/cache/memory"
	rediscache "github.com/apexcoding/apexcoding/internal/cache/redis"
	"github.com/apexcoding/apexcoding/internal/config"
	"github.com/apexcoding/apexcoding/internal/handler"
	"github.com/apexcoding/apexcoding/internal/lock"
	"github.com/apexcoding/apexcoding/internal/metrics"
	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/repository/memory"
	"github.com/apexcoding/apexcoding/internal/repository/mongo"
	"github.com/apexcoding/apexcoding/internal/repository/sqlite"
	"github.com/apexcoding/apexcoding/internal/service"
	"github.com/apexcoding/apexcoding/internal/storage"
	"github.com/apexcoding/apexcoding/internal/storage/filesystem"
	s3storage "github.com/apexcoding/apexcoding/internal/storage/s3"
)

// cachePrefix namespaces every Redis key written by the API.
const cachePrefix = "apex:"

// App holds the long-lived components of one API process.
type App struct {
	Config   *config.Config
	Backend  *repository.Backend
	Storage  storage.Backend
	Cache    repository.Cache
	Locker   lock.Locker
	Metrics  *metrics.Metrics
	Tokens   *auth.TokenManager
	Reaper   *service.LeaseReaper
	Limiter  *handler.RateLimiter
	Services Services

	redis   *goredis.Client
	closers []func() error
	logger  zerolog.Logger
}

// Services groups the business services.
type Services struct {
	Users      *service.UserService
	Projects   *service.ProjectService
	Checkout   *service.CheckoutService
	Commits    *service.CommitService
	Membership *service.MembershipService
	Activity   *service.ActivityService
}

// New opens every store named by cfg and builds the services. Call Close
// when done. A failed New releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		if a.Metrics, err = metrics.NewMetrics(); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	if a.Backend, err = OpenBackend(ctx, cfg.Database, a.Metrics, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Backend.Database.Close)

	if a.Storage, err = OpenStorage(ctx, cfg.Storage, logger); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		if a.redis, err = rediscache.NewClient(ctx, cfg.Redis); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
		a.Locker = lock.NewRedisLocker(a.redis)
		if cfg.Idempotency.Enabled {
			a.Cache = rediscache.NewCache(a.redis, cachePrefix)
		}
	} else {
		a.Locker = lock.NewMemoryLocker()
		if cfg.Idempotency.Enabled {
			c := memcache.NewCache()
			a.closers = append(a.closers, c.Close)
			a.Cache = c
		}
	}

	a.Tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	repos := a.Backend.Repos

	projects := service.NewProjectService(repos, a.Storage, logger)
	a.Services = Services{
		Users:      service.NewUserService(repos, projects, auth.NewPasswordHasher(cfg.Auth.BcryptCost), a.Tokens, logger),
		Projects:   projects,
		Checkout:   service.NewCheckoutService(repos, a.Storage, a.Metrics, logger, service.CheckoutConfig{LeaseTTL: cfg.Checkout.LeaseTTL}),
		Commits:    service.NewCommitService(repos, a.Metrics, logger),
		Membership: service.NewMembershipService(repos, logger),
		Activity:   service.NewActivityService(repos, logger),
	}

	if cfg.Checkout.LeasesEnabled() {
		a.Reaper = service.NewLeaseReaper(repos, a.Locker, a.Metrics, logger, service.ReaperConfig{
			Interval: cfg.Checkout.ReaperInterval,
		})
	}

	if cfg.RateLimit.Enabled {
		a.Limiter = handler.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
		a.closers = append(a.closers, func() error {
			a.Limiter.Stop()
			return nil
		})
	}

	return a, nil
}

// Handler returns the API handler.
func (a *App) Handler() http.Handler {
	s := a.Services
	router := handler.NewRouter(handler.RouterConfig{
		Public: []handler.Registrar{
			handler.NewAuthHandler(s.Users, a.logger),
		},
		Protected: []handler.Registrar{
			handler.NewProjectHandler(s.Projects, a.logger),
			handler.NewCheckoutHandler(s.Checkout, a.logger),
			handler.NewCommitHandler(s.Commits, a.logger),
			handler.NewMembershipHandler(s.Membership, a.logger),
			handler.NewActivityHandler(s.Activity, a.logger),
			handler.NewUserHandler(s.Users, a.logger),
		},
		AuthMiddleware: auth.Middleware(a.Tokens, a.Backend.Repos.User, auth.DefaultConfig(), handler.WriteError),
		RateLimiter:    a.Limiter,
		Cache:          a.Cache,
		IdempotencyTTL: a.Config.Idempotency.TTL,
		MaxBodySize:    a.Config.Server.MaxBodySize,
		Database:       a.Backend.Database,
		Metrics:        a.Metrics,
		Logger:         a.logger,
	})
	return router.Handler()
}

// Close releases every resource opened by New, newest first.
func (a *App) Close() error {
	if a.Reaper != nil {
		a.Reaper.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// Stores
// =============================================================================

// OpenBackend opens the database named by cfg.Driver and prepares its
// schema. Ledger divergence on a Mongo deployment without transactions is
// counted on m.
func OpenBackend(ctx context.Context, cfg config.DatabaseConfig, m *metrics.Metrics, logger zerolog.Logger) (*repository.Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		db, err := memory.New()
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		logger.Warn().Msg("using the in-memory store; data is lost on restart")
		return &repository.Backend{Repos: memory.NewRepositories(db), Database: db}, nil

	case config.DriverSQLite:
		sqlCfg := sqlite.DefaultConfig(cfg.Path)
		if cfg.JournalMode != "" {
			sqlCfg.JournalMode = cfg.JournalMode
		}
		if cfg.BusyTimeout > 0 {
			sqlCfg.BusyTimeout = cfg.BusyTimeout
		}
		db, err := sqlite.NewDB(ctx, sqlCfg, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return &repository.Backend{Repos: sqlite.NewRepositories(db), Database: db}, nil

	case config.DriverMongo:
		db, err := mongo.Dial(ctx, mongo.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureIndexes(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		if !db.SupportsTransactions(ctx) {
			logger.Warn().Msg("mongo deployment has no transactions; multi-document writes run sequentially")
		}
		db.Divergence = func(error) { m.AddLedgerDivergence() }
		return &repository.Backend{Repos: mongo.NewRepositories(db), Database: db}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenStorage opens the file storage backend named by cfg.Backend.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendFilesystem:
		b, err := filesystem.NewBackend(cfg.DataDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open filesystem storage: %w", err)
		}
		return b, nil

	case config.BackendS3:
		client, err := s3storage.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		return s3storage.NewBackend(client, cfg.S3.Bucket, logger), nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
