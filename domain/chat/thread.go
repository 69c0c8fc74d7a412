// Package chat defines the persisted entities of the Loom chat application:
// conversation threads, their messages, and the uniform collection entities
// (agents, workflows, archives, profiles, tool configs).
package chat

import (
	"strings"
	"time"
)

// ThreadStatus marks whether a thread is visible. Threads are never
// hard-deleted; the journal history stays intact and the status flips.
type ThreadStatus string

const (
	ThreadStatusActive  ThreadStatus = "Active"
	ThreadStatusDeleted ThreadStatus = "Deleted"
)

// DefaultThreadTitle is used when a thread was created without a title.
const DefaultThreadTitle = "New chat"

// Thread is a conversation thread. IDs are opaque and supplied by the
// caller; the thread is created on the first user message.
type Thread struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	OwnerID   string       `json:"ownerId"`
	Status    ThreadStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// DisplayTitle returns the title, falling back to the default label for an
// empty one.
func (t *Thread) DisplayTitle() string {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		return DefaultThreadTitle
	}
	return title
}

// IsDeleted reports whether the thread has been soft-deleted.
func (t *Thread) IsDeleted() bool {
	return t.Status == ThreadStatusDeleted
}
