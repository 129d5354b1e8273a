package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/lock"
	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/repository/memory"
	"github.com/apexcoding/apexcoding/internal/storage/filesystem"
)

// testClock is a settable Clock shared by every service of a fixture.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repos   *repository.Repositories
	storage *filesystem.Backend
	dataDir string
	clock   *testClock

	users      *UserService
	projects   *ProjectService
	checkout   *CheckoutService
	commits    *CommitService
	membership *MembershipService
	activity   *ActivityService
	reaper     *LeaseReaper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := memory.New()
	require.NoError(t, err)
	repos := memory.NewRepositories(db)

	dataDir := t.TempDir()
	backend, err := filesystem.NewBackend(dataDir, zerolog.Nop())
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	logger := zerolog.Nop()

	projects := NewProjectService(repos, backend, logger)
	f := &fixture{
		repos:      repos,
		storage:    backend,
		dataDir:    dataDir,
		clock:      clock,
		projects:   projects,
		users:      NewUserService(repos, projects, auth.NewPasswordHasher(4), auth.NewTokenManager("test-secret", time.Hour), logger),
		checkout:   NewCheckoutService(repos, backend, nil, logger, CheckoutConfig{LeaseTTL: time.Hour}),
		commits:    NewCommitService(repos, nil, logger),
		membership: NewMembershipService(repos, logger),
		activity:   NewActivityService(repos, logger),
		reaper:     NewLeaseReaper(repos, lock.NewMemoryLocker(), nil, logger, DefaultReaperConfig()),
	}

	f.users.now = clock.Now
	f.projects.now = clock.Now
	f.checkout.now = clock.Now
	f.commits.now = clock.Now
	f.membership.now = clock.Now
	f.activity.now = clock.Now
	f.reaper.now = clock.Now

	return f
}

// signup creates a user and returns its caller identity.
func (f *fixture) signup(t *testing.T, username string) domain.Caller {
	t.Helper()
	u, err := f.users.Create(context.Background(), CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Name:     username,
	})
	require.NoError(t, err)
	return domain.CallerFromUser(u)
}

// admin creates an admin user.
func (f *fixture) admin(t *testing.T, username string) domain.Caller {
	t.Helper()
	u, err := f.users.Create(context.Background(), CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		IsAdmin:  true,
	})
	require.NoError(t, err)
	return domain.CallerFromUser(u)
}

// refresh reloads a caller so its friend list is current.
func (f *fixture) refresh(t *testing.T, c domain.Caller) domain.Caller {
	t.Helper()
	u, err := f.repos.User.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	return domain.CallerFromUser(u)
}

// befriend makes a and b friends and returns both refreshed.
func (f *fixture) befriend(t *testing.T, a, b domain.Caller) (domain.Caller, domain.Caller) {
	t.Helper()
	_, err := f.users.AddFriend(context.Background(), a, b.ID)
	require.NoError(t, err)
	return f.refresh(t, a), f.refresh(t, b)
}

// project creates a project owned by owner with the given friends added as
// members.
func (f *fixture) project(t *testing.T, owner domain.Caller, members ...domain.Caller) *domain.Project {
	t.Helper()
	ctx := context.Background()

	p, err := f.projects.Create(ctx, owner, CreateProjectInput{Name: "apex-" + owner.ID[:8]})
	require.NoError(t, err)

	for _, m := range members {
		owner, _ = f.befriend(t, owner, m)
		p, err = f.membership.AddMember(ctx, owner, p.ID, m.ID)
		require.NoError(t, err)
	}
	return p
}

func (f *fixture) getProject(t *testing.T, id string) *domain.Project {
	t.Helper()
	p, err := f.repos.Project.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}
