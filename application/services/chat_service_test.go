package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom-backend/domain/chat"
	"loom-backend/infrastructure/cache"
	"loom-backend/infrastructure/gitstore"
	"loom-backend/infrastructure/gitstore/timeline"
	"loom-backend/infrastructure/remote"
	"loom-backend/infrastructure/remote/remotetest"
	apperrors "loom-backend/pkg/errors"
)

type chatFixture struct {
	service *ChatService
	fake    *remotetest.FakeStore
	cache   *cache.MemoryCache
	now     *time.Time
}

func newChatFixture(t *testing.T, writeAttempts int) *chatFixture {
	t.Helper()

	fake := remotetest.NewFakeStore("octocat")
	provisioner := gitstore.NewProvisioner(fake, "loom-data", nil)
	store, err := timeline.NewStore(timeline.Options{
		Encoding:      timeline.EncodingJournal,
		WriteAttempts: writeAttempts,
		ScanJournals:  12,
	}, fake, nil)
	require.NoError(t, err)

	now := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	memCache := cache.NewMemoryCache(cache.Config{DefaultTTL: time.Minute, MaxEntries: 128}, func() time.Time { return now }, nil)

	f := &chatFixture{fake: fake, cache: memCache, now: &now}
	f.service = NewChatService(provisioner, store, memCache, func() time.Time { return *f.now }, nil)
	return f
}

func (f *chatFixture) tick() time.Time {
	*f.now = f.now.Add(time.Second)
	return *f.now
}

func (f *chatFixture) mustCreateThread(t *testing.T, owner, title string) *chat.Thread {
	t.Helper()
	f.tick()
	thread, err := f.service.InsertThread(context.Background(), &chat.Thread{Title: title, OwnerID: owner})
	require.NoError(t, err)
	return thread
}

func (f *chatFixture) mustAppend(t *testing.T, owner, threadID, body string) *chat.Message {
	t.Helper()
	f.tick()
	message, err := f.service.InsertMessage(context.Background(), owner, &chat.Message{
		ThreadID: threadID,
		Role:     chat.RoleUser,
		Parts:    []chat.Part{chat.TextPart(body)},
	})
	require.NoError(t, err)
	return message
}

// Create a thread, chat, rename it. The rename must not disturb the
// conversation or the thread's position in the list.
func TestConversationSurvivesRename(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	thread := f.mustCreateThread(t, "alice", "")
	assert.NotEmpty(t, thread.ID)
	assert.Equal(t, chat.DefaultThreadTitle, thread.DisplayTitle())

	f.mustAppend(t, "alice", thread.ID, "hello")
	f.mustAppend(t, "alice", thread.ID, "world")

	renamed, err := f.service.UpdateThread(ctx, "alice", thread.ID, "Named at last")
	require.NoError(t, err)
	assert.Equal(t, "Named at last", renamed.Title)
	assert.Equal(t, thread.CreatedAt, renamed.CreatedAt)

	threads, err := f.service.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "Named at last", threads[0].Title)

	messages, err := f.service.ListMessagesByThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].PlainText())
	assert.Equal(t, "world", messages[1].PlainText())
}

// Everything must be reconstructable from the repository files alone: a
// fresh process with a cold cache sees the same state.
func TestStateSurvivesRestart(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	thread := f.mustCreateThread(t, "alice", "Persistent")
	f.mustAppend(t, "alice", thread.ID, "remember me")

	// Second service over the same remote, nothing shared in memory.
	restarted := NewChatService(
		gitstore.NewProvisioner(f.fake, "loom-data", nil),
		mustNewJournalStore(t, f.fake),
		cache.NewMemoryCache(cache.Config{DefaultTTL: time.Minute, MaxEntries: 128}, nil, nil),
		nil, nil,
	)

	threads, err := restarted.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "Persistent", threads[0].Title)

	messages, err := restarted.ListMessagesByThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "remember me", messages[0].PlainText())
}

func mustNewJournalStore(t *testing.T, fake *remotetest.FakeStore) timeline.Store {
	t.Helper()
	store, err := timeline.NewStore(timeline.Options{Encoding: timeline.EncodingJournal, WriteAttempts: 3, ScanJournals: 12}, fake, nil)
	require.NoError(t, err)
	return store
}

// Regeneration: drop everything after the kept message, then append the new
// completion.
func TestRegenerateFlow(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	thread := f.mustCreateThread(t, "alice", "Regen")
	m1 := f.mustAppend(t, "alice", thread.ID, "prompt")
	f.mustAppend(t, "alice", thread.ID, "first answer")
	f.mustAppend(t, "alice", thread.ID, "followup noise")

	require.NoError(t, f.service.DeleteMessagesAfter(ctx, "alice", thread.ID, m1.ID))
	f.mustAppend(t, "alice", thread.ID, "second answer")

	messages, err := f.service.ListMessagesByThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, m1.ID, messages[0].ID)
	assert.Equal(t, "second answer", messages[1].PlainText())
}

// Two writers, single write attempt: the loser gets a Conflict and nothing
// is silently dropped.
func TestConcurrentWriteSurfacesConflict(t *testing.T) {
	f := newChatFixture(t, 1)
	ctx := context.Background()

	thread := f.mustCreateThread(t, "alice", "Contended")

	f.fake.PutHook = func(_ remote.RepoRef, path string) error {
		if strings.HasPrefix(path, "timeline/") {
			return apperrors.NewConflictError("content hash mismatch on " + path)
		}
		return nil
	}
	defer func() { f.fake.PutHook = nil }()

	f.tick()
	_, err := f.service.InsertMessage(ctx, "alice", &chat.Message{
		ThreadID: thread.ID,
		Role:     chat.RoleUser,
		Parts:    []chat.Part{chat.TextPart("lost the race")},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

// A failed remote write must never leave the cache claiming the write
// happened.
func TestFailedAppendDoesNotPoisonCache(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	thread := f.mustCreateThread(t, "alice", "Flaky")
	f.mustAppend(t, "alice", thread.ID, "durable")

	// Prime the message-list cache.
	_, err := f.service.ListMessagesByThread(ctx, "alice", thread.ID)
	require.NoError(t, err)

	f.fake.PutHook = func(_ remote.RepoRef, path string) error {
		if strings.HasPrefix(path, "timeline/") {
			return apperrors.NewUnavailableError("remote down", nil)
		}
		return nil
	}

	f.tick()
	_, err = f.service.InsertMessage(ctx, "alice", &chat.Message{
		ThreadID: thread.ID,
		Role:     chat.RoleUser,
		Parts:    []chat.Part{chat.TextPart("never landed")},
	})
	require.Error(t, err)
	f.fake.PutHook = nil

	messages, err := f.service.ListMessagesByThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "durable", messages[0].PlainText())
}

// A NotFound during a write means the backing repository vanished or was
// never initialized: the facade repairs it and retries once.
func TestWriteRepairsMissingRepository(t *testing.T) {
	f := newChatFixture(t, 3)

	thread := f.mustCreateThread(t, "alice", "Fragile")

	failures := 1
	f.fake.PutHook = func(_ remote.RepoRef, path string) error {
		if strings.HasPrefix(path, "timeline/") && failures > 0 {
			failures--
			return apperrors.NewNotFoundError(path)
		}
		return nil
	}
	defer func() { f.fake.PutHook = nil }()

	message := f.mustAppend(t, "alice", thread.ID, "made it")

	messages, err := f.service.ListMessagesByThread(context.Background(), "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, message.ID, messages[0].ID)
}

func TestDeleteThreadHidesItEverywhere(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	keep := f.mustCreateThread(t, "alice", "Keep")
	drop := f.mustCreateThread(t, "alice", "Drop")
	f.mustAppend(t, "alice", drop.ID, "soon gone from lists")

	// Prime both caches so the delete has optimistic state to maintain.
	_, err := f.service.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteThread(ctx, "alice", drop.ID))

	threads, err := f.service.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, keep.ID, threads[0].ID)
}

func TestDeleteAllThreads(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	f.mustCreateThread(t, "alice", "One")
	f.mustCreateThread(t, "alice", "Two")

	require.NoError(t, f.service.DeleteAllThreads(ctx, "alice"))

	threads, err := f.service.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestListThreadsServedFromCache(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	f.mustCreateThread(t, "alice", "Cached")

	_, err := f.service.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)

	// With the list cached, a remote outage is invisible to reads.
	f.fake.GetHook = func(remote.RepoRef, string) error {
		return apperrors.NewUnavailableError("remote down", nil)
	}
	defer func() { f.fake.GetHook = nil }()

	threads, err := f.service.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestMessageCacheIsOwnerScoped(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	thread := f.mustCreateThread(t, "alice", "Private")
	f.mustAppend(t, "alice", thread.ID, "for alice only")

	// Prime alice's cached message list.
	messages, err := f.service.ListMessagesByThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// Another user asking for the same thread id must not be served
	// alice's cached messages; their own repository has none.
	messages, err = f.service.ListMessagesByThread(ctx, "mallory", thread.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	threads, err := f.service.ListThreadsByOwner(ctx, "mallory", 0)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

// A read that lands between the optimistic cache pass and the remote write
// populates the list without the new record. The write's success path must
// drop that entry rather than serve it until TTL.
func TestRacingReadDoesNotMaskNewMessage(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	thread := f.mustCreateThread(t, "alice", "Race")

	f.fake.PutHook = func(_ remote.RepoRef, path string) error {
		if strings.HasPrefix(path, "timeline/") {
			f.cache.Set(cache.RegionMessageLists, threadKey("alice", thread.ID), []*chat.Message{})
		}
		return nil
	}
	defer func() { f.fake.PutHook = nil }()

	message := f.mustAppend(t, "alice", thread.ID, "not masked")
	f.fake.PutHook = nil

	messages, err := f.service.ListMessagesByThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, message.ID, messages[0].ID)
}

func TestRacingReadDoesNotMaskNewThread(t *testing.T) {
	f := newChatFixture(t, 3)
	ctx := context.Background()

	f.fake.PutHook = func(_ remote.RepoRef, path string) error {
		if strings.HasPrefix(path, "timeline/") {
			f.cache.Set(cache.RegionThreadLists, "alice", []*chat.Thread{})
		}
		return nil
	}
	defer func() { f.fake.PutHook = nil }()

	thread := f.mustCreateThread(t, "alice", "Race")
	f.fake.PutHook = nil

	threads, err := f.service.ListThreadsByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, thread.ID, threads[0].ID)
}

func TestUpsertThreadRequiresOwner(t *testing.T) {
	f := newChatFixture(t, 3)

	_, err := f.service.UpsertThread(context.Background(), &chat.Thread{ID: "x", Title: "No owner"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
