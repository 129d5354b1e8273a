package domain

import (
	"time"
)

// Commit is an immutable ledger entry for one check-in or direct commit.
type Commit struct {
	// ID is time-ordered so lexical order matches creation order.
	ID string `json:"id" bson:"_id"`

	// Hash is the SHA-256 of the commit content and checked-in file hashes.
	Hash string `json:"hash" bson:"hash"`

	Message string `json:"message" bson:"message"`

	// Author is the author's display name at commit time.
	Author string `json:"author" bson:"author"`

	UserID       string    `json:"userId" bson:"userId"`
	ProjectID    string    `json:"projectId" bson:"projectId"`
	FilesChanged int       `json:"filesChanged" bson:"filesChanged"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}

// ActivityKind labels an entry in a project's activity feed.
type ActivityKind string

const (
	ActivityMessage              ActivityKind = "message"
	ActivityCheckout             ActivityKind = "checkout"
	ActivityCheckin              ActivityKind = "checkin"
	ActivityCommit               ActivityKind = "commit"
	ActivityMemberAdded          ActivityKind = "member_added"
	ActivityMemberRemoved        ActivityKind = "member_removed"
	ActivityOwnershipTransferred ActivityKind = "ownership_transferred"
	ActivityReleased             ActivityKind = "released"
)

// Activity is a message posted to a project or an event recorded on it.
type Activity struct {
	ID        string       `json:"id" bson:"_id"`
	ProjectID string       `json:"projectId" bson:"projectId"`
	UserID    string       `json:"userId" bson:"userId"`
	Kind      ActivityKind `json:"kind" bson:"kind"`
	Text      string       `json:"text" bson:"text"`
	CreatedAt time.Time    `json:"createdAt" bson:"createdAt"`
}
