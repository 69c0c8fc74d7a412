package timeline

import (
	"context"

	"go.uber.org/zap"

	"loom-backend/domain/chat"
	"loom-backend/infrastructure/remote"
	apperrors "loom-backend/pkg/errors"
)

// Store is the timeline port: threads and messages on top of the remote
// file API. Every operation re-derives structure from the stored files; no
// index is persisted.
type Store interface {
	// UpsertThread writes the thread's section, pruning stale duplicate
	// sections for the same id. Existing messages are preserved.
	UpsertThread(ctx context.Context, repo remote.RepoRef, t *chat.Thread) error

	// AppendMessage inserts or rewrites one message block. The thread
	// title is used when a section has to be synthesized.
	AppendMessage(ctx context.Context, repo remote.RepoRef, m *chat.Message, threadTitle string) error

	// ListThreads returns active threads, newest first, at most limit.
	ListThreads(ctx context.Context, repo remote.RepoRef, limit int) ([]*chat.Thread, error)

	// ListMessages returns every message of a thread ascending by
	// creation time, across month boundaries.
	ListMessages(ctx context.Context, repo remote.RepoRef, threadID string) ([]*chat.Message, error)

	// DeleteThread soft-deletes a thread, preserving its history.
	DeleteThread(ctx context.Context, repo remote.RepoRef, threadID string) error

	// DeleteMessage removes one message.
	DeleteMessage(ctx context.Context, repo remote.RepoRef, threadID, messageID string) error

	// DeleteMessagesAfter removes every message of the thread whose
	// timestamp is at or after the named message's, except that message
	// itself.
	DeleteMessagesAfter(ctx context.Context, repo remote.RepoRef, threadID, messageID string) error
}

// Encodings supported by NewStore.
const (
	EncodingJournal = "journal"
	EncodingFiles   = "files"
)

// Options configures a timeline store.
type Options struct {
	// Encoding selects the on-repository format. Journal is canonical.
	Encoding string

	// WriteAttempts bounds the read-merge-write loop on Conflict.
	// 1 surfaces the first Conflict unchanged.
	WriteAttempts int

	// ScanJournals bounds how many journals ListThreads reads, newest
	// first.
	ScanJournals int
}

// NewStore builds the timeline store for the configured encoding.
func NewStore(opts Options, store remote.Store, logger *zap.Logger) (Store, error) {
	if opts.WriteAttempts < 1 {
		opts.WriteAttempts = 1
	}
	if opts.ScanJournals < 1 {
		opts.ScanJournals = 12
	}

	switch opts.Encoding {
	case EncodingJournal, "":
		return NewJournalStore(store, opts, logger), nil
	case EncodingFiles:
		return NewFileStore(store, logger), nil
	default:
		return nil, apperrors.NewValidationError("unknown timeline encoding: " + opts.Encoding)
	}
}
