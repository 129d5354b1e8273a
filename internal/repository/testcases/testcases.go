// Package testcases contains testcases for repository backends. It is used by
// backend implementations to test their own implementations with the same
// testcases.
package testcases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newUser(t *testing.T, repos *repository.Repositories) *domain.User {
	t.Helper()
	id := uuid.NewString()
	u := domain.NewUser(id, "user-"+id[:8], id[:8]+"@example.com", "hash")
	u.CreatedAt = now()
	u.UpdatedAt = u.CreatedAt
	require.NoError(t, repos.User.Create(context.Background(), u))
	return u
}

func newProject(t *testing.T, repos *repository.Repositories, ownerID string, members ...string) *domain.Project {
	t.Helper()
	p := domain.NewProject(uuid.NewString(), ownerID, "project")
	p.Members = append(p.Members, members...)
	p.CreatedAt = now()
	p.LastUpdated = p.CreatedAt
	require.NoError(t, repos.Project.Create(context.Background(), p))
	return p
}

// RunUserTest runs the user repository tests for the given repositories.
func RunUserTest(t *testing.T, repos *repository.Repositories) {
	t.Run("user crud test", func(t *testing.T) {
		ctx := context.Background()
		u := newUser(t, repos)

		dup := domain.NewUser(uuid.NewString(), u.Username, "other-"+u.Email, "hash")
		assert.ErrorIs(t, repos.User.Create(ctx, dup), repository.ErrAlreadyExists)

		got, err := repos.User.GetByEmail(ctx, u.Email)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "hash", got.PasswordHash)

		got, err = repos.User.GetByUsername(ctx, u.Username)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		exists, err := repos.User.ExistsByUsername(ctx, u.Username)
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = repos.User.ExistsByEmail(ctx, "nobody-"+u.Email)
		require.NoError(t, err)
		assert.False(t, exists)

		got.Profile.Bio = "gopher"
		got.Profile.Title = "engineer"
		require.NoError(t, repos.User.Update(ctx, got))
		got, err = repos.User.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "gopher", got.Profile.Bio)
		assert.Equal(t, "engineer", got.Profile.Title)

		users, err := repos.User.GetMany(ctx, []string{u.ID, uuid.NewString()})
		require.NoError(t, err)
		require.Len(t, users, 1)

		require.NoError(t, repos.User.Delete(ctx, u.ID))
		_, err = repos.User.GetByID(ctx, u.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("friend list test", func(t *testing.T) {
		ctx := context.Background()
		a := newUser(t, repos)
		b := newUser(t, repos)
		c := newUser(t, repos)

		require.NoError(t, repos.User.AddFriend(ctx, a.ID, b.ID))
		assert.ErrorIs(t, repos.User.AddFriend(ctx, a.ID, b.ID), repository.ErrConditionFailed)
		require.NoError(t, repos.User.AddFriend(ctx, c.ID, b.ID))

		// Update must not clobber the friend list.
		stale := a.DeepCopy()
		stale.Profile.Name = "renamed"
		require.NoError(t, repos.User.Update(ctx, stale))
		got, err := repos.User.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID}, got.Friends)

		require.NoError(t, repos.User.RemoveFriend(ctx, a.ID, b.ID))
		assert.ErrorIs(t, repos.User.RemoveFriend(ctx, a.ID, b.ID), repository.ErrConditionFailed)

		require.NoError(t, repos.User.RemoveFriendEverywhere(ctx, b.ID))
		got, err = repos.User.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Friends)
	})
}

// RunCheckoutTest runs the checkout state machine tests for the given repositories.
func RunCheckoutTest(t *testing.T, repos *repository.Repositories) {
	t.Run("checkout exclusivity test", func(t *testing.T) {
		ctx := context.Background()
		p := newProject(t, repos, "owner", "alice", "bob")
		t0 := now()

		got, err := repos.Project.TryCheckout(ctx, p.ID, "alice", t0, nil)
		require.NoError(t, err)
		assert.True(t, got.HeldBy("alice"))
		require.NotNil(t, got.CheckedOutAt)
		assert.True(t, t0.Equal(*got.CheckedOutAt))

		_, err = repos.Project.TryCheckout(ctx, p.ID, "bob", t0, nil)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		// Repeated self-checkout succeeds.
		_, err = repos.Project.TryCheckout(ctx, p.ID, "alice", t0.Add(time.Second), nil)
		require.NoError(t, err)

		stored, err := repos.Project.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, stored.HeldBy("alice"))

		_, err = repos.Project.TryCheckout(ctx, uuid.NewString(), "alice", t0, nil)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("checkin test", func(t *testing.T) {
		ctx := context.Background()
		p := newProject(t, repos, "owner", "alice", "bob")
		t0 := now()

		_, err := repos.Project.Checkin(ctx, p.ID, "alice", domain.CheckinUpdate{At: t0})
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		_, err = repos.Project.TryCheckout(ctx, p.ID, "alice", t0, nil)
		require.NoError(t, err)

		_, err = repos.Project.Checkin(ctx, p.ID, "bob", domain.CheckinUpdate{At: t0})
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		files := []domain.FileRecord{{
			ID: uuid.NewString(), Name: "main.go", Size: 12, Hash: "abc",
			StorageKey: "ab/c", UploadedBy: "alice", UploadedAt: t0,
		}}
		t1 := t0.Add(time.Minute)
		got, err := repos.Project.Checkin(ctx, p.ID, "alice", domain.CheckinUpdate{Files: files, Version: "1.1.0", At: t1})
		require.NoError(t, err)
		assert.False(t, got.IsCheckedOut())
		assert.Nil(t, got.CheckedOutAt)
		assert.Equal(t, "1.1.0", got.Version)
		require.Len(t, got.Files, 1)
		assert.Equal(t, "main.go", got.Files[0].Name)

		stored, err := repos.Project.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsCheckedOut())
		assert.Nil(t, stored.CheckedOutAt)
		assert.True(t, t1.Equal(stored.LastUpdated))
		require.Len(t, stored.Files, 1)

		// Check-in after release is rejected.
		_, err = repos.Project.Checkin(ctx, p.ID, "alice", domain.CheckinUpdate{At: t1})
		assert.ErrorIs(t, err, repository.ErrConditionFailed)
	})

	t.Run("lease and release test", func(t *testing.T) {
		ctx := context.Background()
		p := newProject(t, repos, "owner", "alice", "bob")
		t0 := now()
		lease := t0.Add(time.Hour)

		_, err := repos.Project.ForceRelease(ctx, p.ID, t0)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		_, err = repos.Project.TryCheckout(ctx, p.ID, "alice", t0, &lease)
		require.NoError(t, err)

		_, err = repos.Project.TryCheckout(ctx, p.ID, "bob", t0.Add(30*time.Minute), nil)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		// An expired lease can be taken over.
		got, err := repos.Project.TryCheckout(ctx, p.ID, "bob", t0.Add(2*time.Hour), nil)
		require.NoError(t, err)
		assert.True(t, got.HeldBy("bob"))
		assert.Nil(t, got.LeaseExpiresAt)

		got, err = repos.Project.ForceRelease(ctx, p.ID, t0.Add(3*time.Hour))
		require.NoError(t, err)
		assert.False(t, got.IsCheckedOut())

		// The reaper releases only expired leases.
		other := newProject(t, repos, "owner", "alice")
		_, err = repos.Project.TryCheckout(ctx, p.ID, "alice", t0, &lease)
		require.NoError(t, err)
		later := t0.Add(10 * time.Hour)
		_, err = repos.Project.TryCheckout(ctx, other.ID, "alice", t0, &later)
		require.NoError(t, err)

		released, err := repos.Project.ReleaseExpired(ctx, t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Contains(t, released, p.ID)
		assert.NotContains(t, released, other.ID)

		released, err = repos.Project.ReleaseHeldBy(ctx, "alice", t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Contains(t, released, other.ID)

		stored, err := repos.Project.GetByID(ctx, other.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsCheckedOut())
	})
}

// RunConcurrentCheckoutTest races many checkouts of one project and
// verifies exactly one wins.
func RunConcurrentCheckoutTest(t *testing.T, repos *repository.Repositories) {
	t.Run("concurrent checkout test", func(t *testing.T) {
		const n = 16
		ctx := context.Background()

		members := make([]string, n)
		for i := range members {
			members[i] = xid.New().String()
		}
		p := newProject(t, repos, "owner", members...)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   []string
			conflicts int
		)
		start := make(chan struct{})
		for _, m := range members {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				<-start
				_, err := repos.Project.TryCheckout(ctx, p.ID, userID, now(), nil)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, userID)
				case errors.Is(err, repository.ErrConditionFailed):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(m)
		}
		close(start)
		wg.Wait()

		require.Len(t, winners, 1)
		assert.Equal(t, n-1, conflicts)

		stored, err := repos.Project.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, stored.HeldBy(winners[0]))
	})
}

// RunMembershipTest runs the membership and ownership tests for the given repositories.
func RunMembershipTest(t *testing.T, repos *repository.Repositories) {
	t.Run("membership test", func(t *testing.T) {
		ctx := context.Background()
		p := newProject(t, repos, "owner")
		t0 := now()

		got, err := repos.Project.AddMember(ctx, p.ID, "alice", t0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"owner", "alice"}, got.Members)

		_, err = repos.Project.AddMember(ctx, p.ID, "alice", t0)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		_, err = repos.Project.RemoveMember(ctx, p.ID, "owner", t0)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		_, err = repos.Project.TryCheckout(ctx, p.ID, "alice", t0, nil)
		require.NoError(t, err)
		_, err = repos.Project.RemoveMember(ctx, p.ID, "alice", t0)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		_, err = repos.Project.ForceRelease(ctx, p.ID, t0)
		require.NoError(t, err)
		got, err = repos.Project.RemoveMember(ctx, p.ID, "alice", t0)
		require.NoError(t, err)
		assert.Equal(t, []string{"owner"}, got.Members)

		_, err = repos.Project.RemoveMember(ctx, p.ID, "alice", t0)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)
	})

	t.Run("transfer ownership test", func(t *testing.T) {
		ctx := context.Background()
		p := newProject(t, repos, "owner", "alice")
		t0 := now()

		_, err := repos.Project.TransferOwnership(ctx, p.ID, "owner", "stranger", t0)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		_, err = repos.Project.TransferOwnership(ctx, p.ID, "alice", "owner", t0)
		assert.ErrorIs(t, err, repository.ErrConditionFailed)

		got, err := repos.Project.TransferOwnership(ctx, p.ID, "owner", "alice", t0)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.OwnedBy)
		assert.True(t, got.IsMember("owner"))
	})

	t.Run("list and cascade test", func(t *testing.T) {
		ctx := context.Background()
		owner := uuid.NewString()
		member := uuid.NewString()
		a := newProject(t, repos, owner, member)
		b := newProject(t, repos, member)

		owned, err := repos.Project.List(ctx, repository.ProjectFilter{OwnerID: owner})
		require.NoError(t, err)
		require.Len(t, owned.Items, 1)
		assert.Equal(t, a.ID, owned.Items[0].ID)

		joined, err := repos.Project.List(ctx, repository.ProjectFilter{MemberID: member})
		require.NoError(t, err)
		assert.Equal(t, int64(2), joined.Total)

		require.NoError(t, repos.Project.RemoveMemberEverywhere(ctx, member, now()))

		stored, err := repos.Project.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsMember(member))

		// Owned projects keep their owner as member.
		stored, err = repos.Project.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsMember(member))

		name := "renamed"
		status := domain.ProjectStatusArchived
		updated, err := repos.Project.UpdateMetadata(ctx, a.ID, domain.ProjectUpdate{Name: &name, Status: &status}, now())
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Name)
		assert.Equal(t, domain.ProjectStatusArchived, updated.Status)

		require.NoError(t, repos.Project.Delete(ctx, a.ID))
		_, err = repos.Project.GetByID(ctx, a.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

// RunCommitTest runs the commit ledger tests for the given repositories.
func RunCommitTest(t *testing.T, repos *repository.Repositories) {
	t.Run("commit ledger test", func(t *testing.T) {
		ctx := context.Background()
		projectID := uuid.NewString()
		t0 := now()

		_, err := repos.Commit.Latest(ctx, projectID)
		assert.ErrorIs(t, err, repository.ErrNotFound)

		var ids []string
		for i := 0; i < 3; i++ {
			c := &domain.Commit{
				ID:           xid.New().String(),
				Hash:         "h",
				Message:      "change",
				Author:       "alice",
				UserID:       "alice",
				ProjectID:    projectID,
				FilesChanged: i,
				Timestamp:    t0.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, repos.Commit.Create(ctx, c))
			ids = append(ids, c.ID)
		}

		latest, err := repos.Commit.Latest(ctx, projectID)
		require.NoError(t, err)
		assert.Equal(t, ids[2], latest.ID)
		assert.Equal(t, 2, latest.FilesChanged)

		list, err := repos.Commit.ListByProject(ctx, projectID, repository.ListOptions{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), list.Total)
		require.Len(t, list.Items, 2)
		assert.Equal(t, ids[2], list.Items[0].ID)
		assert.Equal(t, ids[1], list.Items[1].ID)

		n, err := repos.Commit.CountByProject(ctx, projectID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		got, err := repos.Commit.GetByID(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, projectID, got.ProjectID)

		require.NoError(t, repos.Commit.Delete(ctx, ids[0]))
		_, err = repos.Commit.GetByID(ctx, ids[0])
		assert.ErrorIs(t, err, repository.ErrNotFound)

		require.NoError(t, repos.Commit.DeleteByProject(ctx, projectID))
		n, err = repos.Commit.CountByProject(ctx, projectID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// RunActivityTest runs the activity feed tests for the given repositories.
func RunActivityTest(t *testing.T, repos *repository.Repositories) {
	t.Run("activity feed test", func(t *testing.T) {
		ctx := context.Background()
		projectID := uuid.NewString()
		t0 := now()

		for i, kind := range []domain.ActivityKind{domain.ActivityCheckout, domain.ActivityMessage} {
			require.NoError(t, repos.Activity.Create(ctx, &domain.Activity{
				ID:        xid.New().String(),
				ProjectID: projectID,
				UserID:    "alice",
				Kind:      kind,
				Text:      string(kind),
				CreatedAt: t0.Add(time.Duration(i) * time.Second),
			}))
		}

		require.NoError(t, repos.Activity.Create(ctx, &domain.Activity{
			ID:        xid.New().String(),
			ProjectID: projectID,
			Kind:      domain.ActivityReleased,
			Text:      "checkout lease expired",
			CreatedAt: t0.Add(2 * time.Second),
		}))

		list, err := repos.Activity.ListByProject(ctx, projectID, repository.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list.Items, 3)
		assert.Equal(t, domain.ActivityReleased, list.Items[0].Kind)
		assert.Empty(t, list.Items[0].UserID)
		assert.Equal(t, domain.ActivityMessage, list.Items[1].Kind)

		require.NoError(t, repos.Activity.DeleteByUser(ctx, "alice"))
		list, err = repos.Activity.ListByProject(ctx, projectID, repository.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.Equal(t, domain.ActivityReleased, list.Items[0].Kind)
	})
}

// RunTxTest verifies that WithTx rolls back every write when fn fails.
func RunTxTest(t *testing.T, repos *repository.Repositories) {
	t.Run("transaction rollback test", func(t *testing.T) {
		ctx := context.Background()
		p := newProject(t, repos, "owner", "alice")
		boom := errors.New("boom")

		err := repos.Tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := repos.Project.TryCheckout(ctx, p.ID, "alice", now(), nil); err != nil {
				return err
			}
			if err := repos.Commit.Create(ctx, &domain.Commit{
				ID: xid.New().String(), ProjectID: p.ID, Message: "m", Timestamp: now(),
			}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		stored, err := repos.Project.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsCheckedOut())

		n, err := repos.Commit.CountByProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		err = repos.Tx.WithTx(ctx, func(ctx context.Context) error {
			_, err := repos.Project.TryCheckout(ctx, p.ID, "alice", now(), nil)
			return err
		})
		require.NoError(t, err)
		stored, err = repos.Project.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, stored.HeldBy("alice"))
	})
}

// RunAll runs every testcase.
func RunAll(t *testing.T, repos *repository.Repositories, transactional bool) {
	RunUserTest(t, repos)
	RunCheckoutTest(t, repos)
	RunConcurrentCheckoutTest(t, repos)
	RunMembershipTest(t, repos)
	RunCommitTest(t, repos)
	RunActivityTest(t, repos)
	if transactional {
		RunTxTest(t, repos)
	}
}
