package domain

import "slices"

// Caller identifies who is performing an operation. It is built once per
// request by the auth middleware and passed explicitly to every service call.
type Caller struct {
	ID      string
	IsAdmin bool
	Friends []string
}

// CallerFromUser builds a Caller from a loaded user.
func CallerFromUser(u *User) Caller {
	return Caller{
		ID:      u.ID,
		IsAdmin: u.IsAdmin,
		Friends: slices.Clone(u.Friends),
	}
}

// IsFriend reports whether id is one of the caller's friends.
func (c Caller) IsFriend(id string) bool {
	return slices.Contains(c.Friends, id)
}
