package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom-backend/domain/chat"
	"loom-backend/infrastructure/remote"
	"loom-backend/infrastructure/remote/remotetest"
	apperrors "loom-backend/pkg/errors"
)

func newJournalFixture(t *testing.T, attempts int) (*JournalStore, *remotetest.FakeStore, remote.RepoRef) {
	t.Helper()
	fake := remotetest.NewFakeStore("octocat")
	repo := remote.RepoRef{Owner: "octocat", Name: "loom-data-alice"}
	fake.AddRepo(repo)
	store := NewJournalStore(fake, Options{WriteAttempts: attempts, ScanJournals: 12}, nil)
	return store, fake, repo
}

func textMessage(id, threadID, body string, at time.Time) *chat.Message {
	return &chat.Message{
		ID:        id,
		ThreadID:  threadID,
		Role:      chat.RoleUser,
		Parts:     []chat.Part{chat.TextPart(body)},
		CreatedAt: at,
	}
}

func TestUpsertThreadWritesMonthlyJournal(t *testing.T) {
	store, fake, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	thread := &chat.Thread{ID: "thread-1", Title: "Hello", CreatedAt: ts("2026-08-02T10:00:00Z")}
	require.NoError(t, store.UpsertThread(ctx, repo, thread))

	content := fake.Content(repo, "timeline/2026-08.md")
	require.NotNil(t, content)
	assert.Contains(t, string(content), "#### Hello (thread-1)")
	assert.Contains(t, string(content), "- Status: Active")
}

func TestUpsertThreadIsIdempotent(t *testing.T) {
	store, fake, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	thread := &chat.Thread{ID: "thread-1", Title: "Hello", CreatedAt: ts("2026-08-02T10:00:00Z")}
	require.NoError(t, store.UpsertThread(ctx, repo, thread))

	before := fake.Content(repo, "timeline/2026-08.md")
	puts := fake.PutCalls

	// Same thread again: the serialized journal is byte-identical, so no
	// write happens at all.
	require.NoError(t, store.UpsertThread(ctx, repo, thread))
	assert.Equal(t, puts, fake.PutCalls)
	assert.Equal(t, before, fake.Content(repo, "timeline/2026-08.md"))

	threads, err := store.ListThreads(ctx, repo, 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
}

func TestUpsertThreadRenamePreservesMessages(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	created := ts("2026-08-02T10:00:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "Old name", CreatedAt: created}))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-1", "thread-1", "hi", created.Add(time.Second)), "Old name"))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-2", "thread-1", "there", created.Add(2*time.Second)), "Old name"))

	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "New name", CreatedAt: created}))

	threads, err := store.ListThreads(ctx, repo, 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "New name", threads[0].Title)
	assert.Equal(t, created, threads[0].CreatedAt)

	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "msg-1", messages[0].ID)
	assert.Equal(t, "msg-2", messages[1].ID)
}

func TestAppendMessageOrdersByTimestamp(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	base := ts("2026-08-02T10:00:00Z")
	// Inserted out of order on purpose.
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("late", "thread-1", "late", base.Add(time.Minute)), "T"))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("early", "thread-1", "early", base), "T"))

	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "early", messages[0].ID)
	assert.Equal(t, "late", messages[1].ID)
}

func TestAppendMessageSameIDRewritesInPlace(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	at := ts("2026-08-02T10:00:00Z")
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-1", "thread-1", "draft", at), "T"))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-1", "thread-1", "final", at), "T"))

	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "final", messages[0].PlainText())
}

func TestThreadSpanningMonthBoundary(t *testing.T) {
	store, fake, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	created := ts("2026-08-31T23:50:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "Night owl", CreatedAt: created}))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("aug", "thread-1", "before midnight", created.Add(time.Minute)), "Night owl"))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("sep", "thread-1", "after midnight", created.Add(20*time.Minute)), "Night owl"))

	// Two physical journals, one logical thread.
	assert.NotNil(t, fake.Content(repo, "timeline/2026-08.md"))
	assert.NotNil(t, fake.Content(repo, "timeline/2026-09.md"))

	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "aug", messages[0].ID)
	assert.Equal(t, "sep", messages[1].ID)

	// The September section was synthesized; the thread must still list
	// exactly once.
	threads, err := store.ListThreads(ctx, repo, 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "thread-1", threads[0].ID)
}

func TestListThreadsNewestFirstWithLimit(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		created := ts("2026-08-01T00:00:00Z").Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: id, Title: id, CreatedAt: created}))
	}

	threads, err := store.ListThreads(ctx, repo, 2)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "c", threads[0].ID)
	assert.Equal(t, "b", threads[1].ID)
}

func TestListThreadsOnEmptyRepository(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)

	threads, err := store.ListThreads(context.Background(), repo, 0)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestDeleteThreadSoftDeletes(t *testing.T) {
	store, fake, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	created := ts("2026-08-02T10:00:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "Doomed", CreatedAt: created}))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-1", "thread-1", "hello", created.Add(time.Second)), "Doomed"))

	require.NoError(t, store.DeleteThread(ctx, repo, "thread-1"))

	threads, err := store.ListThreads(ctx, repo, 0)
	require.NoError(t, err)
	assert.Empty(t, threads)

	// History stays in the journal; only the status marker changed.
	content := string(fake.Content(repo, "timeline/2026-08.md"))
	assert.Contains(t, content, "- Status: Deleted")
	assert.Contains(t, content, "(msg-1)")
}

func TestDeleteMessageAbsentIsNoOp(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	created := ts("2026-08-02T10:00:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "T", CreatedAt: created}))

	assert.NoError(t, store.DeleteMessage(ctx, repo, "thread-1", "no-such-message"))
}

func TestDeleteMessagesAfterKeepsPivot(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	base := ts("2026-08-31T23:50:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "T", CreatedAt: base}))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("m1", "thread-1", "one", base.Add(1*time.Minute)), "T"))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("m2", "thread-1", "two", base.Add(2*time.Minute)), "T"))
	// Crosses into September, so truncation spans journals.
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("m3", "thread-1", "three", base.Add(15*time.Minute)), "T"))

	require.NoError(t, store.DeleteMessagesAfter(ctx, repo, "thread-1", "m1"))

	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].ID)
}

func TestDeleteMessagesAfterRemovesEqualTimestamps(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	base := ts("2026-08-02T10:00:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "T", CreatedAt: base}))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("before", "thread-1", "kept", base.Add(time.Second)), "T"))
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("pivot", "thread-1", "kept", base.Add(2*time.Second)), "T"))
	// Same timestamp as the pivot: removed, only the pivot itself survives.
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("twin", "thread-1", "dropped", base.Add(2*time.Second)), "T"))

	require.NoError(t, store.DeleteMessagesAfter(ctx, repo, "thread-1", "pivot"))

	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "before", messages[0].ID)
	assert.Equal(t, "pivot", messages[1].ID)
}

func TestAppendMessageWithMarkdownHeadingsKeepsJournalReadable(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	created := ts("2026-08-02T10:00:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "Notes", CreatedAt: created}))

	body := "My notes:\n#### Ideas\n#### Shopping list (today)\n---\ndone"
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-1", "thread-1", body, created.Add(time.Second)), "Notes"))

	// The journal stays readable and writable.
	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, body, messages[0].PlainText())

	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-2", "thread-1", "after", created.Add(2*time.Second)), "Notes"))

	// And no phantom thread appeared for "(today)".
	threads, err := store.ListThreads(ctx, repo, 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "thread-1", threads[0].ID)
}

func TestDeleteMessagesAfterUnknownPivot(t *testing.T) {
	store, _, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "T", CreatedAt: ts("2026-08-02T10:00:00Z")}))

	err := store.DeleteMessagesAfter(ctx, repo, "thread-1", "ghost")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConflictSurfacesWithSingleAttempt(t *testing.T) {
	store, fake, repo := newJournalFixture(t, 1)
	ctx := context.Background()

	fake.PutHook = func(_ remote.RepoRef, path string) error {
		return apperrors.NewConflictError("content hash mismatch on " + path)
	}

	err := store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "T", CreatedAt: ts("2026-08-02T10:00:00Z")})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 1, fake.PutCalls)
}

func TestConflictRetriesReadMergeWrite(t *testing.T) {
	store, fake, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	// First write attempt loses the race; the loop re-reads and retries.
	failures := 1
	fake.PutHook = func(_ remote.RepoRef, path string) error {
		if failures > 0 {
			failures--
			return apperrors.NewConflictError("content hash mismatch on " + path)
		}
		return nil
	}

	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "T", CreatedAt: ts("2026-08-02T10:00:00Z")}))
	assert.Equal(t, 2, fake.PutCalls)

	threads, err := store.ListThreads(ctx, repo, 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
}

func TestConflictMergePreservesConcurrentAppend(t *testing.T) {
	store, fake, repo := newJournalFixture(t, 3)
	ctx := context.Background()

	created := ts("2026-08-02T10:00:00Z")
	require.NoError(t, store.UpsertThread(ctx, repo, &chat.Thread{ID: "thread-1", Title: "T", CreatedAt: created}))

	// A concurrent writer's message is already in the journal. Our first
	// write attempt loses the hash race; the retry re-reads the journal and
	// reapplies the append on top of the concurrent content.
	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-other", "thread-1", "concurrent", created.Add(time.Second)), "T"))

	failures := 1
	fake.PutHook = func(_ remote.RepoRef, path string) error {
		if failures > 0 {
			failures--
			return apperrors.NewConflictError("content hash mismatch on " + path)
		}
		return nil
	}

	require.NoError(t, store.AppendMessage(ctx, repo, textMessage("msg-mine", "thread-1", "mine", created.Add(2*time.Second)), "T"))
	fake.PutHook = nil

	messages, err := store.ListMessages(ctx, repo, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "msg-other", messages[0].ID)
	assert.Equal(t, "msg-mine", messages[1].ID)
}
