// Package remotetest provides an in-memory remote.Store for tests. It
// reproduces the semantics the storage layer depends on: content-hash
// guarded writes, typed NotFound on missing paths, and directory listings.
package remotetest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"loom-backend/infrastructure/remote"
	apperrors "loom-backend/pkg/errors"
)

type fakeFile struct {
	content []byte
	sha     string
}

// FakeStore is a thread-safe in-memory implementation of remote.Store.
type FakeStore struct {
	mu    sync.Mutex
	login string
	repos map[string]map[string]*fakeFile
	rev   int

	// Hooks let tests inject failures per call. A non-nil return short-
	// circuits the operation.
	GetHook func(repo remote.RepoRef, path string) error
	PutHook func(repo remote.RepoRef, path string) error

	// PutCalls counts PutFile invocations, successful or not.
	PutCalls int
}

// NewFakeStore creates an empty fake store for the given login.
func NewFakeStore(login string) *FakeStore {
	return &FakeStore{
		login: login,
		repos: make(map[string]map[string]*fakeFile),
	}
}

// AddRepo registers a repository without going through CreateRepo.
func (s *FakeStore) AddRepo(ref remote.RepoRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[ref.String()]; !ok {
		s.repos[ref.String()] = make(map[string]*fakeFile)
	}
}

// SHA returns the current content hash of a path, or "" when absent.
func (s *FakeStore) SHA(ref remote.RepoRef, path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if files, ok := s.repos[ref.String()]; ok {
		if f, ok := files[path]; ok {
			return f.sha
		}
	}
	return ""
}

// Content returns the raw stored bytes of a path, or nil when absent.
func (s *FakeStore) Content(ref remote.RepoRef, path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if files, ok := s.repos[ref.String()]; ok {
		if f, ok := files[path]; ok {
			return append([]byte(nil), f.content...)
		}
	}
	return nil
}

// GetFile implements remote.Store.
func (s *FakeStore) GetFile(ctx context.Context, repo remote.RepoRef, path string) (*remote.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetHook != nil {
		if err := s.GetHook(repo, path); err != nil {
			return nil, err
		}
	}

	files, ok := s.repos[repo.String()]
	if !ok {
		return nil, apperrors.NewNotFoundError(repo.String())
	}
	f, ok := files[path]
	if !ok {
		return nil, apperrors.NewNotFoundError(path)
	}
	return &remote.File{Content: append([]byte(nil), f.content...), SHA: f.sha}, nil
}

// PutFile implements remote.Store with guarded-write semantics.
func (s *FakeStore) PutFile(ctx context.Context, repo remote.RepoRef, path string, content []byte, message, expectedSHA string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.PutCalls++
	if s.PutHook != nil {
		if err := s.PutHook(repo, path); err != nil {
			return "", err
		}
	}

	files, ok := s.repos[repo.String()]
	if !ok {
		return "", apperrors.NewNotFoundError(repo.String())
	}

	existing, exists := files[path]
	if expectedSHA == "" {
		if exists {
			return "", apperrors.NewConflictError("file already exists: " + path)
		}
	} else {
		if !exists {
			return "", apperrors.NewNotFoundError(path)
		}
		if existing.sha != expectedSHA {
			return "", apperrors.NewConflictError("content hash mismatch on " + path)
		}
	}

	s.rev++
	f := &fakeFile{
		content: append([]byte(nil), content...),
		sha:     hashOf(s.rev, content),
	}
	files[path] = f
	return f.sha, nil
}

// DeleteFile implements remote.Store.
func (s *FakeStore) DeleteFile(ctx context.Context, repo remote.RepoRef, path, sha, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.repos[repo.String()]
	if !ok {
		return apperrors.NewNotFoundError(repo.String())
	}
	f, ok := files[path]
	if !ok {
		return apperrors.NewNotFoundError(path)
	}
	if f.sha != sha {
		return apperrors.NewConflictError("content hash mismatch on " + path)
	}
	delete(files, path)
	return nil
}

// ListDir implements remote.Store. Immediate children only.
func (s *FakeStore) ListDir(ctx context.Context, repo remote.RepoRef, dir string) ([]remote.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.repos[repo.String()]
	if !ok {
		return nil, apperrors.NewNotFoundError(repo.String())
	}

	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := make(map[string]remote.Entry)
	for path := range files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		name, _, isDir := strings.Cut(rest, "/")
		entryType := remote.EntryTypeFile
		if isDir {
			entryType = "dir"
		}
		seen[name] = remote.Entry{Name: name, Path: prefix + name, Type: entryType}
	}
	if len(seen) == 0 {
		return nil, apperrors.NewNotFoundError(dir)
	}

	entries := make([]remote.Entry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// CreateRepo implements remote.Store.
func (s *FakeStore) CreateRepo(ctx context.Context, name string, private bool) (remote.RepoRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := remote.RepoRef{Owner: s.login, Name: name}
	if _, ok := s.repos[ref.String()]; !ok {
		s.repos[ref.String()] = make(map[string]*fakeFile)
	}
	return ref, nil
}

// Identity implements remote.Store.
func (s *FakeStore) Identity(ctx context.Context) (string, error) {
	return s.login, nil
}

func hashOf(rev int, content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%d:", rev)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
