// Package remote wraps the hosted Git repository service used as the
// backing store. Every read and write in the persistence layer goes through
// the Store port defined here.
package remote

import (
	"context"
)

// RepoRef identifies a backing repository on the remote service.
type RepoRef struct {
	Owner string
	Name  string
}

// String returns owner/name.
func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// File is the content and version token of a stored file. SHA is the remote
// service's content hash, used to detect concurrent modification on write.
type File struct {
	Content []byte
	SHA     string
}

// Entry describes one directory listing entry.
type Entry struct {
	Name string
	Path string
	Type string // "file" or "dir"
}

// EntryTypeFile is the listing type of a regular file.
const EntryTypeFile = "file"

// Store is the port over the remote file API.
//
// Semantics the rest of the storage layer relies on:
//   - GetFile on a missing path returns a typed NotFound error.
//   - PutFile with a non-empty expectedSHA is a guarded write: a hash
//     mismatch returns a typed Conflict error, nothing is written.
//   - PutFile with an empty expectedSHA creates the file; if it already
//     exists the remote rejects the write with Conflict.
//   - Transient failures (network, timeout, rate limit, 5xx) surface as
//     typed Unavailable errors after the client's own bounded retries.
type Store interface {
	GetFile(ctx context.Context, repo RepoRef, path string) (*File, error)
	PutFile(ctx context.Context, repo RepoRef, path string, content []byte, message, expectedSHA string) (string, error)
	DeleteFile(ctx context.Context, repo RepoRef, path, sha, message string) error
	ListDir(ctx context.Context, repo RepoRef, dir string) ([]Entry, error)
	CreateRepo(ctx context.Context, name string, private bool) (RepoRef, error)
	Identity(ctx context.Context) (string, error)
}
