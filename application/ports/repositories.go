// Package ports defines the data-access interfaces the application exposes
// to its consumers. The services package implements them by composing the
// cache with the timeline and collection stores.
package ports

import (
	"context"

	"loom-backend/domain/chat"
)

// ChatRepository is the facade the application tier talks to for threads
// and messages. Every operation resolves the owner's backing repository,
// serves reads through the cache, and applies optimistic cache mutation
// around writes.
type ChatRepository interface {
	// InsertThread stores a new thread. Missing id and timestamp are
	// filled in.
	InsertThread(ctx context.Context, t *chat.Thread) (*chat.Thread, error)

	// UpsertThread stores a thread, pruning stale duplicates of its id.
	UpsertThread(ctx context.Context, t *chat.Thread) (*chat.Thread, error)

	// UpdateThread rewrites a thread's title.
	UpdateThread(ctx context.Context, ownerID, threadID, title string) (*chat.Thread, error)

	// DeleteThread soft-deletes a thread.
	DeleteThread(ctx context.Context, ownerID, threadID string) error

	// ListThreadsByOwner returns the owner's active threads, newest first.
	ListThreadsByOwner(ctx context.Context, ownerID string, limit int) ([]*chat.Thread, error)

	// DeleteAllThreads soft-deletes every thread of the owner.
	DeleteAllThreads(ctx context.Context, ownerID string) error

	// InsertMessage appends a message to its thread.
	InsertMessage(ctx context.Context, ownerID string, m *chat.Message) (*chat.Message, error)

	// UpsertMessage rewrites a message's stored block in place.
	UpsertMessage(ctx context.Context, ownerID string, m *chat.Message) (*chat.Message, error)

	// ListMessagesByThread returns a thread's messages ascending by
	// creation time.
	ListMessagesByThread(ctx context.Context, ownerID, threadID string) ([]*chat.Message, error)

	// DeleteMessage removes one message.
	DeleteMessage(ctx context.Context, ownerID, threadID, messageID string) error

	// DeleteMessagesAfter removes every message after the named one,
	// keeping the named message itself.
	DeleteMessagesAfter(ctx context.Context, ownerID, threadID, messageID string) error
}

// CollectionRepository is the facade over the uniform one-file-per-entity
// collections (agents, workflows, archives, profiles, tool configs).
type CollectionRepository interface {
	Get(ctx context.Context, ownerID string, collection chat.CollectionType, id string) (*chat.Entity, error)
	Put(ctx context.Context, ownerID string, collection chat.CollectionType, entity *chat.Entity) (*chat.Entity, error)
	Delete(ctx context.Context, ownerID string, collection chat.CollectionType, id string) error
	ListByOwner(ctx context.Context, ownerID string, collection chat.CollectionType) ([]*chat.Entity, error)

	// ListPublic enumerates public entities. Visibility is an in-payload
	// flag, so this is a full scan of the collection.
	ListPublic(ctx context.Context, ownerID string, collection chat.CollectionType) ([]*chat.Entity, error)
}
