// Package domain contains the core business entities for ApexCoding.
// These are plain Go structs; the bson tags are the persisted document
// shape and the json tags are the wire contract.
package domain

import (
	"slices"
	"time"
)

// Profile holds the public, user-editable part of a user.
type Profile struct {
	Name   string `json:"name" bson:"name"`
	Avatar string `json:"avatar" bson:"avatar"`
	Title  string `json:"title" bson:"title"`
	Bio    string `json:"bio" bson:"bio"`
}

// User represents a registered developer.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id" bson:"_id"`

	// Username is the unique handle used for login and display.
	Username string `json:"username" bson:"username"`

	// Email is the unique email address for the user.
	Email string `json:"email" bson:"email"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-" bson:"passwordHash"`

	Profile Profile `json:"profile" bson:"profile"`

	// IsActive indicates whether the user account is active.
	IsActive bool `json:"isActive" bson:"isActive"`

	// IsAdmin indicates whether the user has administrative privileges.
	IsAdmin bool `json:"isAdmin" bson:"isAdmin"`

	// Friends lists friend user ids. Friendship is symmetric.
	Friends []string `json:"friends" bson:"friends"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// NewUser creates a new User with default values.
func NewUser(id, username, email, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Profile:      Profile{Name: username},
		IsActive:     true,
		Friends:      []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CanAuthenticate returns true if the user is allowed to authenticate.
func (u *User) CanAuthenticate() bool {
	return u.IsActive
}

// DisplayName returns the profile name, falling back to the username.
func (u *User) DisplayName() string {
	if u.Profile.Name != "" {
		return u.Profile.Name
	}
	return u.Username
}

// IsFriend reports whether id is in the user's friend list.
func (u *User) IsFriend(id string) bool {
	return slices.Contains(u.Friends, id)
}

// DeepCopy returns a deep copy of the user.
func (u *User) DeepCopy() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Friends = slices.Clone(u.Friends)
	return &c
}
