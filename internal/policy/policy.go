// Package policy holds the authorization predicates for project operations.
// Every predicate is pure: it inspects the caller and a project snapshot and
// returns a Decision without touching any store.
package policy

import (
	"github.com/apexcoding/apexcoding/internal/domain"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string

	err error
}

// Err returns nil when allowed, otherwise the domain error behind the denial.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.err
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(err error) Decision {
	return Decision{Reason: err.Error(), err: err}
}

// CanView allows members and admins to read a project.
func CanView(c domain.Caller, p *domain.Project) Decision {
	if c.IsAdmin || p.IsMember(c.ID) || p.IsOwner(c.ID) {
		return allow()
	}
	return deny(domain.ErrNotMember)
}

// CanEdit allows the owner and admins to change metadata or delete.
func CanEdit(c domain.Caller, p *domain.Project) Decision {
	if c.IsAdmin || p.IsOwner(c.ID) {
		return allow()
	}
	return deny(domain.ErrNotOwner)
}

// CanCheckout allows members and admins to take the checkout.
func CanCheckout(c domain.Caller, p *domain.Project) Decision {
	return CanView(c, p)
}

// CanCheckin allows members and admins to check in. Holding the checkout is
// enforced by the conditional write, not here.
func CanCheckin(c domain.Caller, p *domain.Project) Decision {
	return CanView(c, p)
}

// CanCommit allows members and admins to record a commit.
func CanCommit(c domain.Caller, p *domain.Project) Decision {
	return CanView(c, p)
}

// CanPostMessage allows members and admins to post to the activity feed.
func CanPostMessage(c domain.Caller, p *domain.Project) Decision {
	return CanView(c, p)
}

// CanAddMember allows a member or the owner to add one of their friends.
// Admins get no bypass of the friend gate.
func CanAddMember(c domain.Caller, p *domain.Project, candidateID string) Decision {
	if !p.IsMember(c.ID) && !p.IsOwner(c.ID) {
		return deny(domain.ErrNotMember)
	}
	if !c.IsFriend(candidateID) {
		return deny(domain.ErrNotFriend)
	}
	if p.IsMember(candidateID) {
		return deny(domain.ErrAlreadyMember)
	}
	return allow()
}

// CanRemoveMember allows the owner or an admin to remove a member other
// than the owner.
func CanRemoveMember(c domain.Caller, p *domain.Project, memberID string) Decision {
	if !c.IsAdmin && !p.IsOwner(c.ID) {
		return deny(domain.ErrNotOwner)
	}
	if p.IsOwner(memberID) {
		return deny(domain.ErrRemoveOwner)
	}
	if !p.IsMember(memberID) {
		return deny(domain.ErrMemberNotFound)
	}
	if p.HeldBy(memberID) {
		return deny(domain.ErrMemberHoldsCheckout)
	}
	return allow()
}

// CanTransferOwnership allows the owner to hand the project to an existing
// member.
func CanTransferOwnership(c domain.Caller, p *domain.Project, newOwnerID string) Decision {
	if !p.IsOwner(c.ID) {
		return deny(domain.ErrNotOwner)
	}
	if !p.IsMember(newOwnerID) {
		return deny(domain.ErrNewOwnerNotMember)
	}
	return allow()
}

// CanForceRelease allows the owner or an admin to clear another user's
// checkout.
func CanForceRelease(c domain.Caller, p *domain.Project) Decision {
	return CanEdit(c, p)
}
