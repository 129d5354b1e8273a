package domain

import (
	"slices"
	"time"
)

// ProjectStatus is a free-form lifecycle label shown on project cards.
type ProjectStatus string

const (
	ProjectStatusPlanning   ProjectStatus = "planning"
	ProjectStatusActive     ProjectStatus = "active"
	ProjectStatusMaintained ProjectStatus = "maintained"
	ProjectStatusArchived   ProjectStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusPlanning, ProjectStatusActive, ProjectStatusMaintained, ProjectStatusArchived:
		return true
	}
	return false
}

// FileRecord describes one file uploaded to a project during check-in.
type FileRecord struct {
	ID          string    `json:"id" bson:"id"`
	Name        string    `json:"name" bson:"name"`
	Size        int64     `json:"size" bson:"size"`
	ContentType string    `json:"contentType" bson:"contentType"`
	Hash        string    `json:"hash" bson:"hash"`
	StorageKey  string    `json:"storageKey" bson:"storageKey"`
	UploadedBy  string    `json:"uploadedBy" bson:"uploadedBy"`
	UploadedAt  time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

// Project is a showcased repository that members can check out and in.
//
// A project is checked out iff CheckedOutBy is non-nil; CheckedOutBy and
// CheckedOutAt are always set and cleared together.
type Project struct {
	ID          string        `json:"id" bson:"_id"`
	Name        string        `json:"name" bson:"name"`
	Description string        `json:"description" bson:"description"`
	Status      ProjectStatus `json:"status" bson:"status"`
	Language    string        `json:"language" bson:"language"`
	Stars       int           `json:"stars" bson:"stars"`
	Forks       int           `json:"forks" bson:"forks"`

	// Members is a set of user ids; the owner is always included.
	Members []string `json:"members" bson:"members"`
	OwnedBy string   `json:"ownedBy" bson:"ownedBy"`

	CheckedOutBy *string    `json:"checkedOutBy" bson:"checkedOutBy"`
	CheckedOutAt *time.Time `json:"checkedOutAt" bson:"checkedOutAt"`

	// LeaseExpiresAt is nil when checkouts never expire.
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt" bson:"leaseExpiresAt"`

	Version string       `json:"version" bson:"version"`
	Files   []FileRecord `json:"files" bson:"files"`

	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated" bson:"lastUpdated"`
}

// NewProject creates a project owned by ownerID, who is also its sole member.
func NewProject(id, ownerID, name string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:          id,
		Name:        name,
		Status:      ProjectStatusActive,
		Members:     []string{ownerID},
		OwnedBy:     ownerID,
		Version:     "0.0.0",
		Files:       []FileRecord{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// IsCheckedOut reports whether someone holds the checkout.
func (p *Project) IsCheckedOut() bool {
	return p.CheckedOutBy != nil
}

// HeldBy reports whether userID holds the checkout.
func (p *Project) HeldBy(userID string) bool {
	return p.CheckedOutBy != nil && *p.CheckedOutBy == userID
}

// Holder returns the holder id, or "" when available.
func (p *Project) Holder() string {
	if p.CheckedOutBy == nil {
		return ""
	}
	return *p.CheckedOutBy
}

// LeaseExpired reports whether a held checkout's lease has lapsed at now.
func (p *Project) LeaseExpired(now time.Time) bool {
	return p.CheckedOutBy != nil && p.LeaseExpiresAt != nil && !now.Before(*p.LeaseExpiresAt)
}

// IsMember reports whether userID is in the member set.
func (p *Project) IsMember(userID string) bool {
	return slices.Contains(p.Members, userID)
}

// IsOwner reports whether userID owns the project.
func (p *Project) IsOwner(userID string) bool {
	return p.OwnedBy == userID
}

// DeepCopy returns a deep copy of the project.
func (p *Project) DeepCopy() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.Members = slices.Clone(p.Members)
	c.Files = slices.Clone(p.Files)
	if p.CheckedOutBy != nil {
		v := *p.CheckedOutBy
		c.CheckedOutBy = &v
	}
	if p.CheckedOutAt != nil {
		v := *p.CheckedOutAt
		c.CheckedOutAt = &v
	}
	if p.LeaseExpiresAt != nil {
		v := *p.LeaseExpiresAt
		c.LeaseExpiresAt = &v
	}
	return &c
}

// ProjectUpdate carries the owner-editable metadata fields.
// Nil fields are left unchanged.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *ProjectStatus
	Language    *string
}

// IsEmpty reports whether the update changes nothing.
func (u ProjectUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.Status == nil && u.Language == nil
}

// Apply writes the set fields onto p.
func (u ProjectUpdate) Apply(p *Project) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.Language != nil {
		p.Language = *u.Language
	}
}

// CheckinUpdate carries the state written by a successful check-in.
type CheckinUpdate struct {
	Files   []FileRecord
	Version string
	At      time.Time
}
