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
)

func TestPostMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.signup(t, "owner")
	stranger := f.signup(t, "stranger")
	p := f.project(t, owner)

	tests := []struct {
		name    string
		caller  domain.Caller
		text    string
		wantErr error
	}{
		{"empty", owner, "  ", domain.ErrValidation},
		{"only markup", owner, "<script>alert(1)</script>", domain.ErrValidation},
		{"too long", owner, strings.Repeat("m", MaxMessageLength+1), domain.ErrValidation},
		{"non-member", stranger, "hello", domain.ErrNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.activity.PostMessage(ctx, tt.caller, p.ID, tt.text)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	a, err := f.activity.PostMessage(ctx, owner, p.ID, `ship it <img src=x onerror="boom()">`)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivityMessage, a.Kind)
	assert.NotContains(t, a.Text, "onerror")
	assert.Contains(t, a.Text, "ship it")
}

func TestListActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.signup(t, "owner")
	stranger := f.signup(t, "stranger")
	admin := f.admin(t, "root")
	p := f.project(t, owner)

	_, err := f.checkout.Checkout(ctx, owner, p.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.activity.PostMessage(ctx, owner, p.ID, "working on it")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.checkout.Checkin(ctx, owner, CheckinInput{ProjectID: p.ID, Message: "done"})
	require.NoError(t, err)

	_, err = f.activity.List(ctx, stranger, p.ID, repository.ListOptions{})
	assert.ErrorIs(t, err, domain.ErrNotMember)

	feed, err := f.activity.List(ctx, admin, p.ID, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, feed.Items, 3)

	kinds := []domain.ActivityKind{feed.Items[0].Kind, feed.Items[1].Kind, feed.Items[2].Kind}
	assert.Equal(t, []domain.ActivityKind{
		domain.ActivityCheckin,
		domain.ActivityMessage,
		domain.ActivityCheckout,
	}, kinds)

	page, err := f.activity.List(ctx, owner, p.ID, repository.ListOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "working on it", page.Items[0].Text)
}
