package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/domain"
)

func project() *domain.Project {
	p := domain.NewProject("p1", "owner", "apex")
	p.Members = append(p.Members, "member", "holder")
	holder := "holder"
	p.CheckedOutBy = &holder
	return p
}

var (
	owner    = domain.Caller{ID: "owner", Friends: []string{"friend", "member"}}
	member   = domain.Caller{ID: "member", Friends: []string{"friend"}}
	outsider = domain.Caller{ID: "outsider", Friends: []string{"friend"}}
	admin    = domain.Caller{ID: "admin", IsAdmin: true}
)

func TestCanEdit(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.Caller
		want   error
	}{
		{"owner", owner, nil},
		{"admin", admin, nil},
		{"member", member, domain.ErrNotOwner},
		{"outsider", outsider, domain.ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanEdit(tt.caller, project())
			assert.Equal(t, tt.want == nil, d.Allowed)
			assert.ErrorIs(t, d.Err(), tt.want)
		})
	}
}

func TestCanCheckout(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.Caller
		want   bool
	}{
		{"owner", owner, true},
		{"member", member, true},
		{"admin", admin, true},
		{"outsider", outsider, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanCheckout(tt.caller, project()).Allowed)
			assert.Equal(t, tt.want, CanCheckin(tt.caller, project()).Allowed)
			assert.Equal(t, tt.want, CanCommit(tt.caller, project()).Allowed)
		})
	}
}

func TestCanAddMember(t *testing.T) {
	tests := []struct {
		name      string
		caller    domain.Caller
		candidate string
		want      error
	}{
		{"member adds friend", member, "friend", nil},
		{"owner adds friend", owner, "friend", nil},
		{"owner adds non-friend", owner, "stranger", domain.ErrNotFriend},
		{"member adds non-friend", member, "stranger", domain.ErrNotFriend},
		{"admin has no bypass", admin, "friend", domain.ErrNotMember},
		{"outsider adds friend", outsider, "friend", domain.ErrNotMember},
		{"friend already member", owner, "member", domain.ErrAlreadyMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanAddMember(tt.caller, project(), tt.candidate)
			if tt.want == nil {
				require.True(t, d.Allowed)
				require.NoError(t, d.Err())
				return
			}
			assert.False(t, d.Allowed)
			assert.ErrorIs(t, d.Err(), tt.want)
		})
	}
}

func TestCanRemoveMember(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.Caller
		member string
		want   error
	}{
		{"owner removes member", owner, "member", nil},
		{"admin removes member", admin, "member", nil},
		{"member removes member", member, "holder", domain.ErrNotOwner},
		{"owner removes self", owner, "owner", domain.ErrRemoveOwner},
		{"owner removes stranger", owner, "stranger", domain.ErrMemberNotFound},
		{"owner removes holder", owner, "holder", domain.ErrMemberHoldsCheckout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanRemoveMember(tt.caller, project(), tt.member)
			assert.Equal(t, tt.want == nil, d.Allowed)
			assert.ErrorIs(t, d.Err(), tt.want)
		})
	}
}

func TestCanTransferOwnership(t *testing.T) {
	tests := []struct {
		name     string
		caller   domain.Caller
		newOwner string
		want     error
	}{
		{"owner to member", owner, "member", nil},
		{"owner to stranger", owner, "stranger", domain.ErrNewOwnerNotMember},
		{"member to member", member, "holder", domain.ErrNotOwner},
		{"admin is not owner", admin, "member", domain.ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanTransferOwnership(tt.caller, project(), tt.newOwner)
			assert.Equal(t, tt.want == nil, d.Allowed)
			assert.ErrorIs(t, d.Err(), tt.want)
		})
	}
}

func TestDecision_Reason(t *testing.T) {
	d := CanForceRelease(member, project())
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ErrNotOwner.Error(), d.Reason)
	assert.True(t, CanForceRelease(admin, project()).Allowed)
}
