package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/storage"
)

func TestProjectCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.signup(t, "owner")

	tests := []struct {
		name    string
		input   CreateProjectInput
		wantErr error
		check   func(t *testing.T, p *domain.Project)
	}{
		{
			name:  "defaults",
			input: CreateProjectInput{Name: "  apex  "},
			check: func(t *testing.T, p *domain.Project) {
				assert.Equal(t, "apex", p.Name)
				assert.Equal(t, domain.ProjectStatusActive, p.Status)
				assert.Equal(t, []string{owner.ID}, p.Members)
				assert.Equal(t, owner.ID, p.OwnedBy)
				assert.False(t, p.IsCheckedOut())
				assert.Equal(t, f.clock.Now(), p.CreatedAt)
			},
		},
		{
			name: "sanitized fields",
			input: CreateProjectInput{
				Name:        "<b>tool</b>",
				Description: `<p onclick="x()">hi</p><script>alert(1)</script>`,
				Language:    "Go",
				Status:      domain.ProjectStatusPlanning,
			},
			check: func(t *testing.T, p *domain.Project) {
				assert.Equal(t, "tool", p.Name)
				assert.Equal(t, "<p>hi</p>", p.Description)
				assert.Equal(t, "Go", p.Language)
				assert.Equal(t, domain.ProjectStatusPlanning, p.Status)
			},
		},
		{name: "missing name", input: CreateProjectInput{Name: " "}, wantErr: domain.ErrValidation},
		{name: "long name", input: CreateProjectInput{Name: strings.Repeat("n", MaxProjectNameLength+1)}, wantErr: domain.ErrValidation},
		{name: "bad status", input: CreateProjectInput{Name: "x", Status: "abandoned"}, wantErr: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.projects.Create(ctx, owner, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)

			stored := f.getProject(t, p.ID)
			assert.Equal(t, p.Name, stored.Name)
		})
	}
}

func TestProjectUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.signup(t, "owner")
	member := f.signup(t, "member")
	admin := f.admin(t, "root")
	p := f.project(t, owner, member)

	_, err := f.projects.Update(ctx, member, p.ID, domain.ProjectUpdate{Name: ptr("mine")})
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.projects.Update(ctx, owner, p.ID, domain.ProjectUpdate{Status: ptr(domain.ProjectStatus("gone"))})
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.clock.Advance(time.Minute)
	got, err := f.projects.Update(ctx, owner, p.ID, domain.ProjectUpdate{
		Description: ptr("now with docs"),
		Status:      ptr(domain.ProjectStatusMaintained),
	})
	require.NoError(t, err)
	assert.Equal(t, "now with docs", got.Description)
	assert.Equal(t, domain.ProjectStatusMaintained, got.Status)
	assert.Equal(t, f.clock.Now(), got.LastUpdated)

	got, err = f.projects.Update(ctx, admin, p.ID, domain.ProjectUpdate{Language: ptr("Rust")})
	require.NoError(t, err)
	assert.Equal(t, "Rust", got.Language)

	unchanged, err := f.projects.Update(ctx, owner, p.ID, domain.ProjectUpdate{})
	require.NoError(t, err)
	assert.Equal(t, got.LastUpdated, unchanged.LastUpdated)
}

func TestProjectList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u1 := f.signup(t, "user1")
	u2 := f.signup(t, "user2")
	first := f.project(t, u1)
	f.clock.Advance(time.Minute)
	second := f.project(t, u2, u1)

	all, err := f.projects.List(ctx, repository.ProjectFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, all.Total)
	assert.Equal(t, second.ID, all.Items[0].ID)

	owned, err := f.projects.List(ctx, repository.ProjectFilter{OwnerID: u1.ID})
	require.NoError(t, err)
	require.Len(t, owned.Items, 1)
	assert.Equal(t, first.ID, owned.Items[0].ID)

	member, err := f.projects.List(ctx, repository.ProjectFilter{MemberID: u1.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, member.Total)
}

func TestProjectDelete_Cascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.signup(t, "owner")
	member := f.signup(t, "member")
	p := f.project(t, owner, member)
	keep := f.project(t, owner)

	_, err := f.checkout.Checkout(ctx, owner, p.ID)
	require.NoError(t, err)
	_, err = f.checkout.Checkin(ctx, owner, CheckinInput{
		ProjectID: p.ID,
		Message:   "files",
		Files:     []storage.Upload{upload("a.txt", "a")},
	})
	require.NoError(t, err)
	_, err = f.commits.RecordCommit(ctx, owner, RecordCommitInput{ProjectID: keep.ID, Message: "kept"})
	require.NoError(t, err)
	require.Equal(t, 1, f.storedFiles(t))

	assert.ErrorIs(t, f.projects.Delete(ctx, member, p.ID), domain.ErrNotOwner)
	require.NoError(t, f.projects.Delete(ctx, owner, p.ID))
	assert.ErrorIs(t, f.projects.Delete(ctx, owner, p.ID), domain.ErrProjectNotFound)

	_, err = f.projects.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)

	count, err := f.repos.Commit.CountByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	feed, err := f.repos.Activity.ListByProject(ctx, p.ID, repository.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, feed.Items)
	assert.Zero(t, f.storedFiles(t))

	view, err := f.projects.Get(ctx, keep.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, view.CommitCount)
	assert.Equal(t, "kept", view.LastCommit.Message)
}
