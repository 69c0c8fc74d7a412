package timeline

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"loom-backend/domain/chat"
	"loom-backend/infrastructure/remote"
	apperrors "loom-backend/pkg/errors"
)

const journalDir = "timeline"

var journalNamePattern = regexp.MustCompile(`^\d{4}-\d{2}\.md$`)

// JournalStore implements Store with the shared monthly journal encoding.
// The journal a record lands in is derived from the record's own timestamp,
// so a thread spanning a month boundary has its messages split across
// journals by design.
type JournalStore struct {
	store        remote.Store
	attempts     int
	scanJournals int
	logger       *zap.Logger
}

// NewJournalStore creates a journal-encoded timeline store.
func NewJournalStore(store remote.Store, opts Options, logger *zap.Logger) *JournalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalStore{
		store:        store,
		attempts:     opts.WriteAttempts,
		scanJournals: opts.ScanJournals,
		logger:       logger,
	}
}

// UpsertThread rewrites the thread's section in the journal of its creation
// month. Every stale section for the id is pruned; messages held by pruned
// sections are carried into the fresh one.
func (s *JournalStore) UpsertThread(ctx context.Context, repo remote.RepoRef, t *chat.Thread) error {
	if t.ID == "" {
		return apperrors.NewValidationError("thread id is required")
	}

	month := MonthKey(t.CreatedAt)
	message := fmt.Sprintf("loom: upsert thread %s", t.ID)

	return s.mutateJournal(ctx, repo, month, message, func(doc *Document) error {
		stale := doc.RemoveSections(t.ID)

		status := t.Status
		if status == "" {
			status = chat.ThreadStatusActive
		}
		fresh := &Section{
			ThreadID:  t.ID,
			Title:     t.DisplayTitle(),
			CreatedAt: t.CreatedAt,
			Status:    status,
		}
		for _, old := range stale {
			fresh.Blocks = append(fresh.Blocks, old.Blocks...)
		}
		sortBlocks(fresh.Blocks)

		doc.AppendSection(fresh)
		return nil
	})
}

// AppendMessage inserts the message's block into its thread's section in
// the journal of the message's month, synthesizing a minimal section when
// the thread has none there. An existing block with the same message id is
// rewritten in place.
func (s *JournalStore) AppendMessage(ctx context.Context, repo remote.RepoRef, m *chat.Message, threadTitle string) error {
	if m.ID == "" || m.ThreadID == "" {
		return apperrors.NewValidationError("message id and thread id are required")
	}

	month := MonthKey(m.CreatedAt)
	message := fmt.Sprintf("loom: message %s in thread %s", m.ID, m.ThreadID)

	return s.mutateJournal(ctx, repo, month, message, func(doc *Document) error {
		section := doc.FindSection(m.ThreadID)
		if section == nil {
			// Self-healing: the thread was created in another month (or its
			// section is missing); synthesize a minimal one here.
			section = &Section{
				ThreadID:  m.ThreadID,
				Title:     threadTitle,
				CreatedAt: m.CreatedAt,
				Status:    chat.ThreadStatusActive,
			}
			doc.AppendSection(section)
		}
		section.UpsertBlock(blockFromMessage(m))
		return nil
	})
}

// ListThreads enumerates journals newest first (filenames embed year-month,
// so lexical order is chronological), scans a bounded number of them, and
// deduplicates sections by thread id keeping the latest timestamp.
func (s *JournalStore) ListThreads(ctx context.Context, repo remote.RepoRef, limit int) ([]*chat.Thread, error) {
	months, err := s.journalMonths(ctx, repo)
	if err != nil {
		return nil, err
	}
	if len(months) > s.scanJournals {
		months = months[:s.scanJournals]
	}

	latest := make(map[string]*Section)
	for _, month := range months {
		doc, _, err := s.readJournal(ctx, repo, month)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		for _, section := range doc.Sections {
			if existing, ok := latest[section.ThreadID]; ok && !section.CreatedAt.After(existing.CreatedAt) {
				continue
			}
			latest[section.ThreadID] = section
		}
	}

	threads := make([]*chat.Thread, 0, len(latest))
	for _, section := range latest {
		if section.Status == chat.ThreadStatusDeleted {
			continue
		}
		threads = append(threads, &chat.Thread{
			ID:        section.ThreadID,
			Title:     section.Title,
			Status:    section.Status,
			CreatedAt: section.CreatedAt,
		})
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

// ListMessages linearly scans journals for the thread's id marker and
// collects the blocks of every matching section, across months.
func (s *JournalStore) ListMessages(ctx context.Context, repo remote.RepoRef, threadID string) ([]*chat.Message, error) {
	if threadID == "" {
		return nil, apperrors.NewValidationError("thread id is required")
	}

	months, err := s.journalMonths(ctx, repo)
	if err != nil {
		return nil, err
	}

	marker := []byte("(" + threadID + ")")
	var blocks []*Block
	for _, month := range months {
		path := journalPath(month)
		file, err := s.store.GetFile(ctx, repo, path)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !bytes.Contains(file.Content, marker) {
			continue
		}
		doc, err := ParseDocument(path, month, file.Content)
		if err != nil {
			return nil, err
		}
		for _, section := range doc.Sections {
			if section.ThreadID == threadID {
				blocks = append(blocks, section.Blocks...)
			}
		}
	}

	sortBlocks(blocks)
	messages := make([]*chat.Message, 0, len(blocks))
	for _, block := range blocks {
		messages = append(messages, messageFromBlock(threadID, block))
	}
	return messages, nil
}

// DeleteThread soft-deletes by rewriting the status marker of every section
// carrying the id. The sections and their history stay in place.
func (s *JournalStore) DeleteThread(ctx context.Context, repo remote.RepoRef, threadID string) error {
	months, err := s.journalMonths(ctx, repo)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("loom: delete thread %s", threadID)
	for _, month := range months {
		contains, err := s.journalMentions(ctx, repo, month, threadID)
		if err != nil {
			return err
		}
		if !contains {
			continue
		}
		err = s.mutateJournal(ctx, repo, month, message, func(doc *Document) error {
			for _, section := range doc.Sections {
				if section.ThreadID == threadID {
					section.Status = chat.ThreadStatusDeleted
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessage removes one message's block. Removing an absent message is
// a no-op.
func (s *JournalStore) DeleteMessage(ctx context.Context, repo remote.RepoRef, threadID, messageID string) error {
	months, err := s.journalMonths(ctx, repo)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("loom: delete message %s", messageID)
	for _, month := range months {
		contains, err := s.journalMentions(ctx, repo, month, threadID)
		if err != nil {
			return err
		}
		if !contains {
			continue
		}
		removed := false
		err = s.mutateJournal(ctx, repo, month, message, func(doc *Document) error {
			removed = false
			for _, section := range doc.Sections {
				if section.ThreadID == threadID && section.RemoveBlock(messageID) {
					removed = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if removed {
			return nil
		}
	}
	return nil
}

// DeleteMessagesAfter loads the thread's messages, keeps everything
// strictly before the named message (and the message itself), and removes
// the rest journal by journal.
func (s *JournalStore) DeleteMessagesAfter(ctx context.Context, repo remote.RepoRef, threadID, messageID string) error {
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

	victims := make(map[string][]string) // month -> message ids
	for _, m := range messages {
		if m.ID == messageID || m.CreatedAt.Before(pivot.CreatedAt) {
			continue
		}
		month := MonthKey(m.CreatedAt)
		victims[month] = append(victims[month], m.ID)
	}

	message := fmt.Sprintf("loom: truncate thread %s after message %s", threadID, messageID)
	for month, ids := range victims {
		err := s.mutateJournal(ctx, repo, month, message, func(doc *Document) error {
			for _, section := range doc.Sections {
				if section.ThreadID != threadID {
					continue
				}
				for _, id := range ids {
					section.RemoveBlock(id)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// mutateJournal is the guarded read-merge-write loop: read the journal (a
// genuine NotFound is an empty journal, not an error), mutate the model,
// serialize, and write with the hash from the read. A Conflict re-reads
// the latest revision and reapplies the semantic change, bounded by the
// configured attempt count; the final Conflict surfaces.
func (s *JournalStore) mutateJournal(ctx context.Context, repo remote.RepoRef, month, commitMessage string, mutate func(*Document) error) error {
	path := journalPath(month)
	var lastErr error

	for attempt := 0; attempt < s.attempts; attempt++ {
		var doc *Document
		var prior []byte
		sha := ""

		file, err := s.store.GetFile(ctx, repo, path)
		switch {
		case err == nil:
			doc, err = ParseDocument(path, month, file.Content)
			if err != nil {
				return err
			}
			sha = file.SHA
			prior = file.Content
		case apperrors.IsNotFound(err):
			doc = NewDocument(month)
		default:
			return err
		}

		if err := mutate(doc); err != nil {
			return err
		}

		content := doc.Serialize()
		if sha != "" && bytes.Equal(content, prior) {
			return nil
		}

		_, err = s.store.PutFile(ctx, repo, path, content, commitMessage, sha)
		if err == nil {
			return nil
		}
		if !apperrors.IsConflict(err) {
			return err
		}
		lastErr = err
		s.logger.Debug("journal write conflicted",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
		)
	}
	return lastErr
}

// readJournal reads and parses one journal. A missing journal returns
// (nil, "", nil): genuinely absent means empty, never an error.
func (s *JournalStore) readJournal(ctx context.Context, repo remote.RepoRef, month string) (*Document, string, error) {
	path := journalPath(month)
	file, err := s.store.GetFile(ctx, repo, path)
	if apperrors.IsNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	doc, err := ParseDocument(path, month, file.Content)
	if err != nil {
		return nil, "", err
	}
	return doc, file.SHA, nil
}

// journalMonths lists existing journal month keys, newest first. A missing
// timeline directory is an empty timeline.
func (s *JournalStore) journalMonths(ctx context.Context, repo remote.RepoRef) ([]string, error) {
	entries, err := s.store.ListDir(ctx, repo, journalDir)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var months []string
	for _, entry := range entries {
		if entry.Type != remote.EntryTypeFile || !journalNamePattern.MatchString(entry.Name) {
			continue
		}
		months = append(months, entry.Name[:len(entry.Name)-len(".md")])
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months, nil
}

// journalMentions reports whether a journal contains the thread id marker,
// without parsing.
func (s *JournalStore) journalMentions(ctx context.Context, repo remote.RepoRef, month, threadID string) (bool, error) {
	file, err := s.store.GetFile(ctx, repo, journalPath(month))
	if apperrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Contains(file.Content, []byte("("+threadID+")")), nil
}

func journalPath(month string) string {
	return journalDir + "/" + month + ".md"
}

func blockFromMessage(m *chat.Message) *Block {
	return &Block{
		MessageID: m.ID,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
		Model:     m.Model,
		Parts:     m.Parts,
	}
}

func messageFromBlock(threadID string, b *Block) *chat.Message {
	return &chat.Message{
		ID:        b.MessageID,
		ThreadID:  threadID,
		Role:      b.Role,
		CreatedAt: b.CreatedAt,
		Model:     b.Model,
		Parts:     b.Parts,
	}
}
