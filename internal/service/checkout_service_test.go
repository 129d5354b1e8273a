package service

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/pkg/crypto"
	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/storage"
)

func upload(name, content string) storage.Upload {
	return storage.Upload{
		Name:        name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Content:     strings.NewReader(content),
	}
}

// storedFiles counts the objects under the fixture's data directory.
func (f *fixture) storedFiles(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(f.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".tmp" {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestCheckout_OwnerMemberScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	u2 := f.signup(t, "user2")
	p := f.project(t, u1, u2)

	got, err := f.checkout.Checkout(ctx, u2, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CheckedOutBy)
	assert.Equal(t, u2.ID, *got.CheckedOutBy)
	assert.NotNil(t, got.CheckedOutAt)

	_, err = f.checkout.Checkin(ctx, u1, CheckinInput{ProjectID: p.ID, Message: "sneaky"})
	assert.ErrorIs(t, err, domain.ErrNotHolder)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	out, err := f.checkout.Checkin(ctx, u2, CheckinInput{ProjectID: p.ID, Message: "fixed bug"})
	require.NoError(t, err)
	assert.Nil(t, out.Project.CheckedOutBy)
	assert.Nil(t, out.Project.CheckedOutAt)

	commits, err := f.repos.Commit.ListByProject(ctx, p.ID, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, commits.Items, 1)
	assert.Equal(t, "fixed bug", commits.Items[0].Message)
	assert.Equal(t, 0, commits.Items[0].FilesChanged)
	assert.Equal(t, u2.ID, commits.Items[0].UserID)
	assert.Equal(t, "user2", commits.Items[0].Author)
}

func TestCheckout_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	u2 := f.signup(t, "user2")
	p := f.project(t, u1, u2)

	_, err := f.checkout.Checkout(ctx, u1, p.ID)
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, u2, p.ID)
	require.ErrorIs(t, err, domain.ErrCheckoutConflict)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "Project is already checked out by user1", domain.PublicMessage(err))

	assert.True(t, f.getProject(t, p.ID).HeldBy(u1.ID))
}

func TestCheckout_SelfCheckoutRefreshesLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	p := f.project(t, u1)

	first, err := f.checkout.Checkout(ctx, u1, p.ID)
	require.NoError(t, err)
	require.NotNil(t, first.LeaseExpiresAt)

	f.clock.Advance(10 * time.Minute)

	second, err := f.checkout.Checkout(ctx, u1, p.ID)
	require.NoError(t, err)
	assert.True(t, second.HeldBy(u1.ID))
	assert.True(t, second.LeaseExpiresAt.After(*first.LeaseExpiresAt))

	feed, err := f.repos.Activity.ListByProject(ctx, p.ID, repository.ListOptions{})
	require.NoError(t, err)
	checkouts := 0
	for _, a := range feed.Items {
		if a.Kind == domain.ActivityCheckout {
			checkouts++
		}
	}
	assert.Equal(t, 1, checkouts)
}

func TestCheckout_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.signup(t, "owner")
	stranger := f.signup(t, "stranger")
	admin := f.admin(t, "root")
	p := f.project(t, owner)

	tests := []struct {
		name    string
		caller  domain.Caller
		project string
		wantErr error
	}{
		{"stranger is denied", stranger, p.ID, domain.ErrNotMember},
		{"missing project", owner, "missing", domain.ErrProjectNotFound},
		{"admin is allowed", admin, p.ID, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.checkout.Checkout(ctx, tt.caller, tt.project)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckout_ConcurrentExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.signup(t, "owner")
	p := f.project(t, owner)

	const n = 16
	callers := make([]domain.Caller, n)
	for i := range callers {
		callers[i] = f.signup(t, "member"+string(rune('a'+i)))
		owner, _ = f.befriend(t, owner, callers[i])
		_, err := f.membership.AddMember(ctx, owner, p.ID, callers[i].ID)
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for _, c := range callers {
		wg.Add(1)
		go func(c domain.Caller) {
			defer wg.Done()
			<-start
			_, err := f.checkout.Checkout(ctx, c, p.ID)
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, domain.ErrCheckoutConflict):
				conflicts.Add(1)
			}
		}(c)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, n-1, conflicts.Load())
	assert.True(t, f.getProject(t, p.ID).IsCheckedOut())
}

func TestCheckout_ExpiredLeaseCanBeTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	u2 := f.signup(t, "user2")
	p := f.project(t, u1, u2)

	_, err := f.checkout.Checkout(ctx, u1, p.ID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	got, err := f.checkout.Checkout(ctx, u2, p.ID)
	require.NoError(t, err)
	assert.True(t, got.HeldBy(u2.ID))

	_, err = f.checkout.Checkin(ctx, u1, CheckinInput{ProjectID: p.ID, Message: "too late"})
	assert.ErrorIs(t, err, domain.ErrNotHolder)
}

func TestCheckin_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	p := f.project(t, u1)
	before := f.getProject(t, p.ID).LastUpdated

	_, err := f.checkout.Checkout(ctx, u1, p.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)

	out, err := f.checkout.Checkin(ctx, u1, CheckinInput{
		ProjectID: p.ID,
		Message:   "  add docs  ",
		Version:   "1.1.0",
		Files: []storage.Upload{
			upload("README.md", "# apex"),
			upload("main.go", "package main"),
		},
	})
	require.NoError(t, err)

	got := f.getProject(t, p.ID)
	assert.False(t, got.IsCheckedOut())
	assert.Nil(t, got.LeaseExpiresAt)
	assert.Equal(t, "1.1.0", got.Version)
	assert.True(t, got.LastUpdated.After(before))
	require.Len(t, got.Files, 2)
	assert.Equal(t, "README.md", got.Files[0].Name)
	assert.Equal(t, crypto.ComputeSHA256([]byte("# apex")), got.Files[0].Hash)
	assert.Equal(t, u1.ID, got.Files[1].UploadedBy)
	assert.Equal(t, 2, f.storedFiles(t))

	assert.Equal(t, "add docs", out.Commit.Message)
	assert.Equal(t, 2, out.Commit.FilesChanged)
	assert.True(t, crypto.ValidateSHA256(out.Commit.Hash))

	view, err := f.projects.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, view.LastCommit)
	assert.Equal(t, out.Commit.ID, view.LastCommit.ID)
	assert.EqualValues(t, 1, view.CommitCount)

	rc, err := f.storage.Get(ctx, got.Files[1].StorageKey)
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "package main", buf.String())
}

func TestCheckin_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	p := f.project(t, u1)

	tests := []struct {
		name    string
		input   CheckinInput
		wantErr error
	}{
		{"empty message", CheckinInput{ProjectID: p.ID, Message: "   "}, domain.ErrEmptyMessage},
		{"long version", CheckinInput{ProjectID: p.ID, Message: "m", Version: strings.Repeat("v", MaxVersionLength+1)}, domain.ErrValidation},
		{"available project", CheckinInput{ProjectID: p.ID, Message: "m"}, domain.ErrNotHolder},
		{"missing project", CheckinInput{ProjectID: "missing", Message: "m"}, domain.ErrProjectNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.checkout.Checkin(ctx, u1, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	commits, err := f.repos.Commit.CountByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, commits)
}

// losingCheckinRepo simulates losing the checkout between the early holder
// check and the conditional write.
type losingCheckinRepo struct {
	repository.ProjectRepository
}

func (losingCheckinRepo) Checkin(context.Context, string, string, domain.CheckinUpdate) (*domain.Project, error) {
	return nil, repository.ErrConditionFailed
}

func TestCheckin_RejectedWriteDeletesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	p := f.project(t, u1)

	_, err := f.checkout.Checkout(ctx, u1, p.ID)
	require.NoError(t, err)

	f.checkout.projects = losingCheckinRepo{ProjectRepository: f.repos.Project}

	_, err = f.checkout.Checkin(ctx, u1, CheckinInput{
		ProjectID: p.ID,
		Message:   "lost the race",
		Files:     []storage.Upload{upload("a.txt", "a"), upload("b.txt", "b")},
	})
	require.ErrorIs(t, err, domain.ErrNotHolder)

	assert.Zero(t, f.storedFiles(t))
	count, err := f.repos.Commit.CountByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// sequentialTx runs fn without a transaction, as a store without
// multi-document transactions does.
type sequentialTx struct{}

func (sequentialTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type failingCommitRepo struct {
	repository.CommitRepository
}

func (failingCommitRepo) Create(context.Context, *domain.Commit) error {
	return errors.New("ledger unavailable")
}

func TestCheckin_LedgerFailureKeepsPersistedFiles(t *testing.T) {
	tests := []struct {
		name          string
		sequential    bool
		wantStored    int
		wantCheckedIn bool
	}{
		{"transaction rolls back project write", false, 0, false},
		{"sequential writes keep project write", true, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			owner := f.signup(t, "owner")
			p := f.project(t, owner)

			_, err := f.checkout.Checkout(ctx, owner, p.ID)
			require.NoError(t, err)

			f.checkout.commits = failingCommitRepo{CommitRepository: f.repos.Commit}
			if tt.sequential {
				f.checkout.tx = sequentialTx{}
			}

			_, err = f.checkout.Checkin(ctx, owner, CheckinInput{
				ProjectID: p.ID,
				Message:   "ledger down",
				Files:     []storage.Upload{upload("a.txt", "a"), upload("b.txt", "b")},
			})
			require.ErrorIs(t, err, domain.ErrInternal)

			got := f.getProject(t, p.ID)
			assert.Equal(t, tt.wantStored, f.storedFiles(t))
			assert.Equal(t, tt.wantCheckedIn, !got.IsCheckedOut())
			if !tt.sequential {
				assert.Empty(t, got.Files)
				return
			}

			require.Len(t, got.Files, 2)
			for _, file := range got.Files {
				ok, err := f.storage.Exists(ctx, file.StorageKey)
				require.NoError(t, err)
				assert.True(t, ok, file.Name)
			}
		})
	}
}

func TestForceRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.signup(t, "owner")
	member := f.signup(t, "member")
	admin := f.admin(t, "root")
	p := f.project(t, owner, member)

	_, err := f.checkout.ForceRelease(ctx, owner, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotCheckedOut)

	_, err = f.checkout.Checkout(ctx, member, p.ID)
	require.NoError(t, err)

	_, err = f.checkout.ForceRelease(ctx, member, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	got, err := f.checkout.ForceRelease(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsCheckedOut())

	_, err = f.checkout.Checkout(ctx, member, p.ID)
	require.NoError(t, err)
	_, err = f.checkout.ForceRelease(ctx, admin, p.ID)
	require.NoError(t, err)

	_, err = f.checkout.Checkin(ctx, member, CheckinInput{ProjectID: p.ID, Message: "after release"})
	assert.ErrorIs(t, err, domain.ErrNotHolder)
}

func TestLeaseReaper_RunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	expiring := f.project(t, u1)
	fresh := f.project(t, u1)

	_, err := f.checkout.Checkout(ctx, u1, expiring.ID)
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)

	_, err = f.checkout.Checkout(ctx, u1, fresh.ID)
	require.NoError(t, err)

	res := f.reaper.RunOnce(ctx)
	require.NoError(t, res.Err)
	assert.False(t, res.Skipped)
	assert.Equal(t, []string{expiring.ID}, res.Released)

	assert.False(t, f.getProject(t, expiring.ID).IsCheckedOut())
	assert.True(t, f.getProject(t, fresh.ID).IsCheckedOut())

	feed, err := f.repos.Activity.ListByProject(ctx, expiring.ID, repository.ListOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, feed.Items)
	assert.Equal(t, domain.ActivityReleased, feed.Items[0].Kind)

	res = f.reaper.RunOnce(ctx)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Released)
}

func TestLeaseReaper_SkipsWhenLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.reaper.locker.Acquire(ctx, repository.LockKey{}.LeaseReaper(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	other := NewLeaseReaper(f.repos, f.reaper.locker, nil, f.reaper.logger, DefaultReaperConfig())
	res := other.RunOnce(ctx)
	assert.True(t, res.Skipped)
}

func TestLeaseReaper_StartStop(t *testing.T) {
	f := newFixture(t)

	r := NewLeaseReaper(f.repos, f.reaper.locker, nil, f.reaper.logger, ReaperConfig{Interval: time.Millisecond})
	r.Start()
	r.Start()
	time.Sleep(5 * time.Millisecond)
	r.Stop()
	r.Stop()
}
