package timeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"loom-backend/domain/chat"
	"loom-backend/infrastructure/remote"
	apperrors "loom-backend/pkg/errors"
)

// FileStore implements Store with the per-entity encoding: one JSON file
// per thread and per message. Kept for repositories written by older
// clients; the journal encoding is canonical.
type FileStore struct {
	store  remote.Store
	logger *zap.Logger
}

// NewFileStore creates a per-entity timeline store.
func NewFileStore(store remote.Store, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{store: store, logger: logger}
}

func threadPath(id string) string {
	return "threads/" + id + ".json"
}

func messageDir(threadID string) string {
	return "messages/thread-" + threadID
}

func messagePath(threadID, messageID string) string {
	return messageDir(threadID) + "/" + messageID + ".json"
}

// UpsertThread writes the thread file, read-modify-write, skipping
// byte-identical payloads.
func (s *FileStore) UpsertThread(ctx context.Context, repo remote.RepoRef, t *chat.Thread) error {
	if t.ID == "" {
		return apperrors.NewValidationError("thread id is required")
	}
	stored := *t
	if stored.Status == "" {
		stored.Status = chat.ThreadStatusActive
	}
	return s.writeJSON(ctx, repo, threadPath(t.ID), &stored, fmt.Sprintf("loom: upsert thread %s", t.ID))
}

// AppendMessage writes the message file. An existing file for the id is
// rewritten in place.
func (s *FileStore) AppendMessage(ctx context.Context, repo remote.RepoRef, m *chat.Message, threadTitle string) error {
	if m.ID == "" || m.ThreadID == "" {
		return apperrors.NewValidationError("message id and thread id are required")
	}
	return s.writeJSON(ctx, repo, messagePath(m.ThreadID, m.ID), m, fmt.Sprintf("loom: message %s in thread %s", m.ID, m.ThreadID))
}

// ListThreads reads every thread file and filters client-side.
func (s *FileStore) ListThreads(ctx context.Context, repo remote.RepoRef, limit int) ([]*chat.Thread, error) {
	entries, err := s.store.ListDir(ctx, repo, "threads")
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var threads []*chat.Thread
	for _, entry := range entries {
		if entry.Type != remote.EntryTypeFile || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		file, err := s.store.GetFile(ctx, repo, entry.Path)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var thread chat.Thread
		if err := json.Unmarshal(file.Content, &thread); err != nil {
			return nil, apperrors.NewEncodingError(entry.Path, err)
		}
		if thread.IsDeleted() {
			continue
		}
		threads = append(threads, &thread)
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// ListMessages reads every message file of the thread, ascending by
// creation time.
func (s *FileStore) ListMessages(ctx context.Context, repo remote.RepoRef, threadID string) ([]*chat.Message, error) {
	if threadID == "" {
		return nil, apperrors.NewValidationError("thread id is required")
	}

	entries, err := s.store.ListDir(ctx, repo, messageDir(threadID))
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []*chat.Message
	for _, entry := range entries {
		if entry.Type != remote.EntryTypeFile || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		file, err := s.store.GetFile(ctx, repo, entry.Path)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var message chat.Message
		if err := json.Unmarshal(file.Content, &message); err != nil {
			return nil, apperrors.NewEncodingError(entry.Path, err)
		}
		messages = append(messages, &message)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// DeleteThread soft-deletes by rewriting the thread's status.
func (s *FileStore) DeleteThread(ctx context.Context, repo remote.RepoRef, threadID string) error {
	path := threadPath(threadID)
	file, err := s.store.GetFile(ctx, repo, path)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var thread chat.Thread
	if err := json.Unmarshal(file.Content, &thread); err != nil {
		return apperrors.NewEncodingError(path, err)
	}
	thread.Status = chat.ThreadStatusDeleted

	content, err := json.MarshalIndent(&thread, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, "failed to encode thread")
	}
	_, err = s.store.PutFile(ctx, repo, path, content, fmt.Sprintf("loom: delete thread %s", threadID), file.SHA)
	return err
}

// DeleteMessage removes the message file. Removing an absent message is a
// no-op.
func (s *FileStore) DeleteMessage(ctx context.Context, repo remote.RepoRef, threadID, messageID string) error {
	path := messagePath(threadID, messageID)
	file, err := s.store.GetFile(ctx, repo, path)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.DeleteFile(ctx, repo, path, file.SHA, fmt.Sprintf("loom: delete message %s", messageID))
}

// DeleteMessagesAfter removes every message at or after the named one,
// keeping the named message itself.
func (s *FileStore) DeleteMessagesAfter(ctx context.Context, repo remote.RepoRef, threadID, messageID string) error {
	messages, err := s.ListMessages(ctx, repo, threadID)
	if err != nil {
		return err
	}

	var pivot *chat.Message
	for _, m := range messages {
		if m.ID == messageID {
			pivot = m
			break
		}
	}
	if pivot == nil {
		return apperrors.NewNotFoundError("message " + messageID)
	}

	for _, m := range messages {
		if m.ID == messageID || m.CreatedAt.Before(pivot.CreatedAt) {
			continue
		}
		if err := s.DeleteMessage(ctx, repo, threadID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// writeJSON is the shared read-modify-write helper: discover the prior
// hash by reading, skip byte-identical payloads, write guarded.
func (s *FileStore) writeJSON(ctx context.Context, repo remote.RepoRef, path string, value interface{}, commitMessage string) error {
	content, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, "failed to encode entity")
	}

	sha := ""
	existing, err := s.store.GetFile(ctx, repo, path)
	switch {
	case err == nil:
		if bytes.Equal(existing.Content, content) {
			return nil
		}
		sha = existing.SHA
	case apperrors.IsNotFound(err):
		// First write.
	default:
		return err
	}

	_, err = s.store.PutFile(ctx, repo, path, content, commitMessage, sha)
	return err
}
