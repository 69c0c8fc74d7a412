// Package services implements the repository facades: domain calls in,
// cache and store operations out.
package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom-backend/application/ports"
	"loom-backend/domain/chat"
	"loom-backend/infrastructure/cache"
	"loom-backend/infrastructure/gitstore"
	"loom-backend/infrastructure/gitstore/timeline"
	"loom-backend/infrastructure/remote"
	apperrors "loom-backend/pkg/errors"
)

// ChatService composes the cache, the provisioner, and the timeline store
// behind ports.ChatRepository.
//
// Read path: cache hit returns immediately; a miss reads and parses the
// remote files, populates the cache, and returns. Write path: the cached
// collection is mutated optimistically, the remote write runs, and on
// failure the optimistic entry is invalidated so it is never served as
// durable. When there was no cached entry to mutate, a confirmed write
// invalidates the key instead: a read racing the write may have populated
// it without the new record. Per-thread cache keys carry the owner id.
type ChatService struct {
	provisioner *gitstore.Provisioner
	store       timeline.Store
	cache       *cache.MemoryCache
	now         func() time.Time
	logger      *zap.Logger
}

var _ ports.ChatRepository = (*ChatService)(nil)

// NewChatService creates the chat facade. A nil now means time.Now.
func NewChatService(
	provisioner *gitstore.Provisioner,
	store timeline.Store,
	memCache *cache.MemoryCache,
	now func() time.Time,
	logger *zap.Logger,
) *ChatService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		provisioner: provisioner,
		store:       store,
		cache:       memCache,
		now:         now,
		logger:      logger,
	}
}

// InsertThread stores a new thread, filling in id and timestamp.
func (s *ChatService) InsertThread(ctx context.Context, t *chat.Thread) (*chat.Thread, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.Status == "" {
		t.Status = chat.ThreadStatusActive
	}
	return s.UpsertThread(ctx, t)
}

// UpsertThread writes the thread's section, applying the change to the
// cached thread list first.
func (s *ChatService) UpsertThread(ctx context.Context, t *chat.Thread) (*chat.Thread, error) {
	if t.OwnerID == "" {
		return nil, apperrors.NewValidationError("thread owner is required")
	}
	repo, err := s.provisioner.Ensure(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}

	mutated := s.cache.ApplyOptimistic(cache.RegionThreadLists, t.OwnerID, func(value interface{}) interface{} {
		threads, ok := value.([]*chat.Thread)
		if !ok {
			return value
		}
		return upsertIntoThreadList(threads, t)
	})

	err = s.writeWithRepair(ctx, repo, func() error {
		return s.store.UpsertThread(ctx, repo, t)
	})
	if err != nil {
		s.cache.Invalidate(cache.RegionThreadLists, t.OwnerID)
		s.cache.Invalidate(cache.RegionThreadDetail, threadKey(t.OwnerID, t.ID))
		return nil, err
	}
	if !mutated {
		// A read may have populated the list while the write was in
		// flight; it would not contain this thread.
		s.cache.Invalidate(cache.RegionThreadLists, t.OwnerID)
	}

	s.cache.Set(cache.RegionThreadDetail, threadKey(t.OwnerID, t.ID), t)
	return t, nil
}

// UpdateThread rewrites a thread's title, preserving its creation
// timestamp so the section stays in its journal.
func (s *ChatService) UpdateThread(ctx context.Context, ownerID, threadID, title string) (*chat.Thread, error) {
	existing, err := s.getThread(ctx, ownerID, threadID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Title = title
	updated.OwnerID = ownerID
	return s.UpsertThread(ctx, &updated)
}

// DeleteThread soft-deletes the thread and drops every cache entry that
// could still show it.
func (s *ChatService) DeleteThread(ctx context.Context, ownerID, threadID string) error {
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return err
	}

	mutated := s.cache.ApplyOptimistic(cache.RegionThreadLists, ownerID, func(value interface{}) interface{} {
		threads, ok := value.([]*chat.Thread)
		if !ok {
			return value
		}
		return removeFromThreadList(threads, threadID)
	})

	err = s.writeWithRepair(ctx, repo, func() error {
		return s.store.DeleteThread(ctx, repo, threadID)
	})
	if err != nil || !mutated {
		s.cache.Invalidate(cache.RegionThreadLists, ownerID)
	}
	s.cache.Invalidate(cache.RegionThreadDetail, threadKey(ownerID, threadID))
	s.cache.Invalidate(cache.RegionMessageLists, threadKey(ownerID, threadID))
	return err
}

// ListThreadsByOwner serves the owner's thread list read-through.
func (s *ChatService) ListThreadsByOwner(ctx context.Context, ownerID string, limit int) ([]*chat.Thread, error) {
	if cached, ok := s.cache.Get(cache.RegionThreadLists, ownerID); ok {
		if threads, ok := cached.([]*chat.Thread); ok {
			return truncateThreads(threads, limit), nil
		}
	}

	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	threads, err := s.store.ListThreads(ctx, repo, 0)
	if err != nil {
		return nil, err
	}
	for _, t := range threads {
		t.OwnerID = ownerID
	}

	s.cache.Set(cache.RegionThreadLists, ownerID, threads)
	return truncateThreads(threads, limit), nil
}

// DeleteAllThreads soft-deletes every thread of the owner.
func (s *ChatService) DeleteAllThreads(ctx context.Context, ownerID string) error {
	threads, err := s.ListThreadsByOwner(ctx, ownerID, 0)
	if err != nil {
		return err
	}
	for _, t := range threads {
		if err := s.DeleteThread(ctx, ownerID, t.ID); err != nil {
			return err
		}
	}
	s.cache.Invalidate(cache.RegionThreadLists, ownerID)
	return nil
}

// InsertMessage appends a message, filling in id and timestamp.
func (s *ChatService) InsertMessage(ctx context.Context, ownerID string, m *chat.Message) (*chat.Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	return s.UpsertMessage(ctx, ownerID, m)
}

// UpsertMessage writes the message's block, rewriting an existing block
// with the same id in place.
func (s *ChatService) UpsertMessage(ctx context.Context, ownerID string, m *chat.Message) (*chat.Message, error) {
	if m.ThreadID == "" {
		return nil, apperrors.NewValidationError("message thread id is required")
	}
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// The title only matters when the store has to synthesize a section;
	// an unknown thread falls back to the default label.
	threadTitle := ""
	if t, err := s.getThread(ctx, ownerID, m.ThreadID); err == nil {
		threadTitle = t.DisplayTitle()
	}

	mutated := s.cache.ApplyOptimistic(cache.RegionMessageLists, threadKey(ownerID, m.ThreadID), func(value interface{}) interface{} {
		messages, ok := value.([]*chat.Message)
		if !ok {
			return value
		}
		return upsertIntoMessageList(messages, m)
	})

	err = s.writeWithRepair(ctx, repo, func() error {
		return s.store.AppendMessage(ctx, repo, m, threadTitle)
	})
	if err != nil {
		// A failed write must never leave the cache reporting success.
		s.cache.Invalidate(cache.RegionMessageLists, threadKey(ownerID, m.ThreadID))
		return nil, err
	}
	if !mutated {
		// A read may have populated the list while the write was in
		// flight; it would not contain this message.
		s.cache.Invalidate(cache.RegionMessageLists, threadKey(ownerID, m.ThreadID))
	}
	return m, nil
}

// ListMessagesByThread serves the thread's messages read-through.
func (s *ChatService) ListMessagesByThread(ctx context.Context, ownerID, threadID string) ([]*chat.Message, error) {
	if cached, ok := s.cache.Get(cache.RegionMessageLists, threadKey(ownerID, threadID)); ok {
		if messages, ok := cached.([]*chat.Message); ok {
			return messages, nil
		}
	}

	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, repo, threadID)
	if err != nil {
		return nil, err
	}

	s.cache.Set(cache.RegionMessageLists, threadKey(ownerID, threadID), messages)
	return messages, nil
}

// DeleteMessage removes one message.
func (s *ChatService) DeleteMessage(ctx context.Context, ownerID, threadID, messageID string) error {
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return err
	}

	mutated := s.cache.ApplyOptimistic(cache.RegionMessageLists, threadKey(ownerID, threadID), func(value interface{}) interface{} {
		messages, ok := value.([]*chat.Message)
		if !ok {
			return value
		}
		return removeFromMessageList(messages, func(m *chat.Message) bool { return m.ID == messageID })
	})

	err = s.writeWithRepair(ctx, repo, func() error {
		return s.store.DeleteMessage(ctx, repo, threadID, messageID)
	})
	if err != nil || !mutated {
		s.cache.Invalidate(cache.RegionMessageLists, threadKey(ownerID, threadID))
	}
	return err
}

// DeleteMessagesAfter truncates the thread after the named message.
func (s *ChatService) DeleteMessagesAfter(ctx context.Context, ownerID, threadID, messageID string) error {
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return err
	}

	err = s.writeWithRepair(ctx, repo, func() error {
		return s.store.DeleteMessagesAfter(ctx, repo, threadID, messageID)
	})
	// Multiple journals may have changed; drop the cached list either way.
	s.cache.Invalidate(cache.RegionMessageLists, threadKey(ownerID, threadID))
	return err
}

// getThread resolves one thread from the detail cache or the store.
func (s *ChatService) getThread(ctx context.Context, ownerID, threadID string) (*chat.Thread, error) {
	if cached, ok := s.cache.Get(cache.RegionThreadDetail, threadKey(ownerID, threadID)); ok {
		if t, ok := cached.(*chat.Thread); ok {
			return t, nil
		}
	}

	threads, err := s.ListThreadsByOwner(ctx, ownerID, 0)
	if err != nil {
		return nil, err
	}
	for _, t := range threads {
		if t.ID == threadID {
			s.cache.Set(cache.RegionThreadDetail, threadKey(ownerID, threadID), t)
			return t, nil
		}
	}
	return nil, apperrors.NewNotFoundError("thread " + threadID)
}

// writeWithRepair runs one store write. A NotFound means the backing
// repository is missing or uninitialized: repair it and retry the original
// write once.
func (s *ChatService) writeWithRepair(ctx context.Context, repo remote.RepoRef, write func() error) error {
	err := write()
	if err == nil || !apperrors.IsNotFound(err) {
		return err
	}

	s.logger.Warn("write hit uninitialized repository, repairing",
		zap.String("repo", repo.String()),
		zap.Error(err),
	)
	if repairErr := s.provisioner.Repair(ctx, repo); repairErr != nil {
		return repairErr
	}
	return write()
}

// threadKey scopes per-thread cache entries to their owner so one user's
// cached entries are never served for another user's request.
func threadKey(ownerID, threadID string) string {
	return ownerID + ":" + threadID
}

func upsertIntoThreadList(threads []*chat.Thread, t *chat.Thread) []*chat.Thread {
	out := removeFromThreadList(threads, t.ID)
	out = append(out, t)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func removeFromThreadList(threads []*chat.Thread, threadID string) []*chat.Thread {
	out := make([]*chat.Thread, 0, len(threads))
	for _, t := range threads {
		if t.ID != threadID {
			out = append(out, t)
		}
	}
	return out
}

func upsertIntoMessageList(messages []*chat.Message, m *chat.Message) []*chat.Message {
	out := removeFromMessageList(messages, func(existing *chat.Message) bool { return existing.ID == m.ID })
	out = append(out, m)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func removeFromMessageList(messages []*chat.Message, drop func(*chat.Message) bool) []*chat.Message {
	out := make([]*chat.Message, 0, len(messages))
	for _, m := range messages {
		if !drop(m) {
			out = append(out, m)
		}
	}
	return out
}

func truncateThreads(threads []*chat.Thread, limit int) []*chat.Thread {
	if limit > 0 && len(threads) > limit {
		return threads[:limit]
	}
	return threads
}
