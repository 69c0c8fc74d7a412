// Package timeline stores threads and messages. The canonical encoding
// appends records into shared monthly markdown journals; a per-entity file
// encoding is kept for repositories written by older clients. Both sit
// behind the Store interface and are chosen at construction.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"loom-backend/domain/chat"
	apperrors "loom-backend/pkg/errors"
)

// Journal layout. A journal is parsed into this typed model once, mutated
// as a model, then serialized back; no mutation happens on raw text.
//
//	# Timeline 2026-08
//
//	#### <title> (<thread-id>)
//
//	- Created: <RFC3339>
//	- Status: Active|Deleted
//
//	##### <role> · <RFC3339> (<message-id>)
//
//	<body parts>
//
//	---
//
// The horizontal rule terminates a message block; fenced code inside a
// body never terminates anything. Plain-text lines that would read as
// journal structure are backslash-escaped at serialize time and restored
// on parse, so chat text can contain headings, rules, and fence markers.

// Document is one monthly journal.
type Document struct {
	Month    string // "2006-01"
	Sections []*Section
}

// Section is the portion of a journal from a thread's header to the next
// thread header or end of file.
type Section struct {
	ThreadID  string
	Title     string
	CreatedAt time.Time
	Status    chat.ThreadStatus
	Blocks    []*Block
}

// Block is one rendered message.
type Block struct {
	MessageID string
	Role      chat.Role
	CreatedAt time.Time
	Model     string
	Parts     []chat.Part
}

const (
	sectionPrefix = "#### "
	blockPrefix   = "##### "
	blockRule     = "---"
	createdLabel  = "- Created: "
	statusLabel   = "- Status: "
	modelLabel    = "- Model: "
	toolCallOpen  = "**Tool call: "
	toolCallClose = "**"
	toolResult    = "**Tool result**"
	fenceMarker   = "```"
)

// NewDocument creates an empty journal for the given month key.
func NewDocument(month string) *Document {
	return &Document{Month: month}
}

// MonthKey returns the journal month key for a timestamp.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// FindSection returns the first current section for a thread id, or nil.
func (d *Document) FindSection(threadID string) *Section {
	for _, s := range d.Sections {
		if s.ThreadID == threadID {
			return s
		}
	}
	return nil
}

// RemoveSections deletes every section for a thread id and returns the
// removed sections. Used for defensive de-duplication on upsert.
func (d *Document) RemoveSections(threadID string) []*Section {
	var removed []*Section
	kept := d.Sections[:0]
	for _, s := range d.Sections {
		if s.ThreadID == threadID {
			removed = append(removed, s)
		} else {
			kept = append(kept, s)
		}
	}
	d.Sections = kept
	return removed
}

// AppendSection adds a section at the end of the journal.
func (d *Document) AppendSection(s *Section) {
	d.Sections = append(d.Sections, s)
}

// UpsertBlock replaces the block with the same message id in place, or
// appends the block at the end of the section.
func (s *Section) UpsertBlock(b *Block) {
	for i, existing := range s.Blocks {
		if existing.MessageID == b.MessageID {
			s.Blocks[i] = b
			return
		}
	}
	s.Blocks = append(s.Blocks, b)
}

// RemoveBlock deletes the block with the given message id and reports
// whether it was present.
func (s *Section) RemoveBlock(messageID string) bool {
	for i, b := range s.Blocks {
		if b.MessageID == messageID {
			s.Blocks = append(s.Blocks[:i], s.Blocks[i+1:]...)
			return true
		}
	}
	return false
}

// Serialize renders the journal. The summary line is regenerated; parsers
// ignore everything before the first section header.
func (d *Document) Serialize() []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Timeline %s\n\n", d.Month)
	fmt.Fprintf(&b, "_%d conversation(s) recorded in this journal._\n", len(d.Sections))

	for _, s := range d.Sections {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s%s (%s)\n\n", sectionPrefix, s.displayTitle(), s.ThreadID)
		fmt.Fprintf(&b, "%s%s\n", createdLabel, formatTime(s.CreatedAt))
		fmt.Fprintf(&b, "%s%s\n", statusLabel, s.Status)

		for _, block := range s.Blocks {
			b.WriteString("\n")
			writeBlock(&b, block)
		}
	}

	return []byte(b.String())
}

func (s *Section) displayTitle() string {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return chat.DefaultThreadTitle
	}
	return title
}

func writeBlock(b *strings.Builder, block *Block) {
	fmt.Fprintf(b, "%s%s · %s (%s)\n", blockPrefix, block.Role, formatTime(block.CreatedAt), block.MessageID)
	if block.Model != "" {
		fmt.Fprintf(b, "\n%s%s\n", modelLabel, block.Model)
	}

	for _, part := range block.Parts {
		b.WriteString("\n")
		switch part.Kind {
		case chat.PartKindText:
			b.WriteString(escapeTextLines(strings.TrimRight(part.Text, "\n")))
			b.WriteString("\n")
		case chat.PartKindToolCall:
			fmt.Fprintf(b, "%s%s%s\n\n", toolCallOpen, part.ToolName, toolCallClose)
			writeFence(b, part.Args)
		case chat.PartKindToolResult:
			fmt.Fprintf(b, "%s\n\n", toolResult)
			writeFence(b, part.Result)
		default:
			// Opaque fallback for kinds this encoder does not know.
			writeFence(b, []byte(part.Text))
		}
	}

	fmt.Fprintf(b, "\n%s\n", blockRule)
}

// escapeTextLines prefixes a backslash onto plain-text lines that would
// otherwise read as journal structure, so any chat text round-trips.
// Fenced tool payloads are never escaped; the parser hides them instead.
func escapeTextLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if needsEscape(line) {
			lines[i] = `\` + line
		}
	}
	return strings.Join(lines, "\n")
}

// needsEscape reports whether a plain-text line collides with a marker the
// parser acts on. Lines already starting with a backslash are escaped too,
// so unescaping is exact.
func needsEscape(line string) bool {
	if strings.HasPrefix(line, `\`) {
		return true
	}
	if line == blockRule || line == toolResult {
		return true
	}
	if strings.HasPrefix(line, toolCallOpen) && strings.HasSuffix(line, toolCallClose) {
		return true
	}
	return strings.HasPrefix(line, sectionPrefix) ||
		strings.HasPrefix(line, blockPrefix) ||
		strings.HasPrefix(line, fenceMarker) ||
		strings.HasPrefix(line, modelLabel)
}

func unescapeTextLine(line string) string {
	return strings.TrimPrefix(line, `\`)
}

func writeFence(b *strings.Builder, body []byte) {
	b.WriteString(fenceMarker + "json\n")
	b.WriteString(strings.TrimRight(string(body), "\n"))
	b.WriteString("\n" + fenceMarker + "\n")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseDocument reconstructs the journal model from raw text. A journal
// that cannot be parsed surfaces an Encoding error so the next write
// cannot corrupt a shared file.
func ParseDocument(path, month string, content []byte) (*Document, error) {
	doc := NewDocument(month)
	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")

	var current *Section
	i := 0
	for i < len(lines) {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, sectionPrefix):
			title, id, err := parseHeading(line, sectionPrefix)
			if err != nil {
				return nil, apperrors.NewEncodingError(path, fmt.Errorf("line %d: %w", i+1, err))
			}
			current = &Section{ThreadID: id, Title: title, Status: chat.ThreadStatusActive}
			doc.Sections = append(doc.Sections, current)
			i++

		case current != nil && strings.HasPrefix(line, createdLabel):
			ts, err := parseTime(strings.TrimPrefix(line, createdLabel))
			if err != nil {
				return nil, apperrors.NewEncodingError(path, fmt.Errorf("line %d: %w", i+1, err))
			}
			current.CreatedAt = ts
			i++

		case current != nil && strings.HasPrefix(line, statusLabel):
			current.Status = chat.ThreadStatus(strings.TrimSpace(strings.TrimPrefix(line, statusLabel)))
			i++

		case current != nil && strings.HasPrefix(line, blockPrefix):
			block, next, err := parseBlock(path, lines, i)
			if err != nil {
				return nil, err
			}
			current.Blocks = append(current.Blocks, block)
			i = next

		default:
			// Journal header, summary, blank lines, and anything between
			// recognized markers.
			i++
		}
	}

	return doc, nil
}

// parseBlock consumes one message block starting at the heading line and
// returns the index of the first line after its terminating rule.
func parseBlock(path string, lines []string, start int) (*Block, int, error) {
	heading := lines[start]
	meta, id, err := parseHeading(heading, blockPrefix)
	if err != nil {
		return nil, 0, apperrors.NewEncodingError(path, fmt.Errorf("line %d: %w", start+1, err))
	}

	role, tsRaw, ok := strings.Cut(meta, " · ")
	if !ok {
		return nil, 0, apperrors.NewEncodingError(path, fmt.Errorf("line %d: malformed message heading %q", start+1, heading))
	}
	ts, err := parseTime(tsRaw)
	if err != nil {
		return nil, 0, apperrors.NewEncodingError(path, fmt.Errorf("line %d: %w", start+1, err))
	}

	block := &Block{MessageID: id, Role: chat.Role(role), CreatedAt: ts}

	// Collect body lines up to the terminating rule, fence-aware.
	var body []string
	inFence := false
	i := start + 1
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, fenceMarker) {
			inFence = !inFence
		}
		if !inFence && line == blockRule {
			i++
			break
		}
		if !inFence && (strings.HasPrefix(line, blockPrefix) || strings.HasPrefix(line, sectionPrefix)) {
			// Missing terminator; treat the next heading as the boundary.
			break
		}
		body = append(body, line)
	}

	block.Model, block.Parts, err = parseBody(path, body, start+1)
	if err != nil {
		return nil, 0, err
	}
	return block, i, nil
}

// parseBody reconstructs the ordered content parts of one block body by
// the inverse of the encoder: tool calls and results are detected by
// label+fence, everything else is plain text verbatim.
func parseBody(path string, body []string, lineOffset int) (string, []chat.Part, error) {
	var parts []chat.Part
	var text []string
	model := ""

	flushText := func() {
		joined := strings.Trim(strings.Join(text, "\n"), "\n")
		if joined != "" {
			parts = append(parts, chat.TextPart(joined))
		}
		text = text[:0]
	}

	i := 0
	for i < len(body) {
		line := body[i]

		switch {
		case model == "" && len(parts) == 0 && allBlank(text) && strings.HasPrefix(line, modelLabel):
			model = strings.TrimSpace(strings.TrimPrefix(line, modelLabel))
			i++

		case strings.HasPrefix(line, toolCallOpen) && strings.HasSuffix(line, toolCallClose):
			flushText()
			name := strings.TrimSuffix(strings.TrimPrefix(line, toolCallOpen), toolCallClose)
			payload, next, err := parseFence(path, body, i+1, lineOffset)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, chat.ToolCallPart(name, payload))
			i = next

		case line == toolResult:
			flushText()
			payload, next, err := parseFence(path, body, i+1, lineOffset)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, chat.ToolResultPart(payload))
			i = next

		default:
			text = append(text, unescapeTextLine(line))
			i++
		}
	}
	flushText()

	return model, parts, nil
}

// parseFence consumes the next fenced payload, skipping blank lines before
// the opening marker.
func parseFence(path string, body []string, start, lineOffset int) ([]byte, int, error) {
	i := start
	for i < len(body) && strings.TrimSpace(body[i]) == "" {
		i++
	}
	if i >= len(body) || !strings.HasPrefix(body[i], fenceMarker) {
		return nil, 0, apperrors.NewEncodingError(path, fmt.Errorf("line %d: labeled tool block without fenced payload", lineOffset+start+1))
	}

	var payload []string
	for i++; i < len(body); i++ {
		if strings.HasPrefix(body[i], fenceMarker) {
			return []byte(strings.Join(payload, "\n")), i + 1, nil
		}
		payload = append(payload, body[i])
	}
	return nil, 0, apperrors.NewEncodingError(path, fmt.Errorf("line %d: unterminated fenced payload", lineOffset+start+1))
}

// parseHeading splits `<prefix><label> (<id>)` into label and id. The id
// marker is the last parenthesized token so titles may contain parentheses.
func parseHeading(line, prefix string) (string, string, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if !strings.HasSuffix(rest, ")") {
		return "", "", fmt.Errorf("heading without id marker: %q", line)
	}
	open := strings.LastIndex(rest, "(")
	if open < 0 {
		return "", "", fmt.Errorf("heading without id marker: %q", line)
	}
	id := rest[open+1 : len(rest)-1]
	if id == "" {
		return "", "", fmt.Errorf("heading with empty id: %q", line)
	}
	label := strings.TrimSpace(rest[:open])
	return label, id, nil
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

func parseTime(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", raw)
	}
	return ts, nil
}

// sortBlocks orders blocks ascending by creation time, stable for equal
// timestamps.
func sortBlocks(blocks []*Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].CreatedAt.Before(blocks[j].CreatedAt)
	})
}
