// Package gitstore maps Loom's entities onto files inside a per-user
// backing repository on the remote Git service.
package gitstore

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"loom-backend/infrastructure/remote"
	apperrors "loom-backend/pkg/errors"
)

// ManifestPath is the baseline marker file. Its presence means the
// repository is initialized; its content is advisory and never read back.
const ManifestPath = ".loom/manifest.md"

const manifestContent = `# Loom data repository

This repository is managed by the Loom backend. Do not edit by hand.

- ` + "`timeline/`" + ` — monthly conversation journals
- ` + "`threads/`, `messages/`" + ` — per-entity timeline encoding (older clients)
- ` + "`agents/`, `workflows/`, `archives/`, `profiles/`, `toolconfigs/`" + ` — one file per entity
`

// Provisioner ensures a private backing repository exists per user and
// repairs an uninitialized one.
type Provisioner struct {
	store  remote.Store
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	login  string
	known  map[string]remote.RepoRef
}

// NewProvisioner creates a Provisioner. Repositories are named
// <prefix>-<sanitized user id>.
func NewProvisioner(store remote.Store, prefix string, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		store:  store,
		prefix: prefix,
		logger: logger,
		known:  make(map[string]remote.RepoRef),
	}
}

// Ensure returns the handle of the user's backing repository, creating and
// initializing it when absent. Denied permission or persistent
// unreachability surface as Provisioning errors.
func (p *Provisioner) Ensure(ctx context.Context, userID string) (remote.RepoRef, error) {
	p.mu.Lock()
	if ref, ok := p.known[userID]; ok {
		p.mu.Unlock()
		return ref, nil
	}
	p.mu.Unlock()

	login, err := p.identity(ctx)
	if err != nil {
		return remote.RepoRef{}, provisioningErr("failed to resolve remote identity", err)
	}

	ref := remote.RepoRef{Owner: login, Name: p.RepoName(userID)}

	_, err = p.store.GetFile(ctx, ref, ManifestPath)
	switch {
	case err == nil:
		// Initialized repository.
	case apperrors.IsNotFound(err):
		if err := p.initialize(ctx, ref); err != nil {
			return remote.RepoRef{}, err
		}
	default:
		return remote.RepoRef{}, provisioningErr("failed to check backing repository", err)
	}

	p.mu.Lock()
	p.known[userID] = ref
	p.mu.Unlock()
	return ref, nil
}

// Repair writes the baseline marker into a repository that reported
// NotFound during a write. The caller retries its original write once
// afterwards.
func (p *Provisioner) Repair(ctx context.Context, ref remote.RepoRef) error {
	p.logger.Warn("repairing uninitialized backing repository",
		zap.String("repo", ref.String()),
	)
	return p.initialize(ctx, ref)
}

// RepoName returns the deterministic repository name for a user.
func (p *Provisioner) RepoName(userID string) string {
	return p.prefix + "-" + sanitizeRepoName(userID)
}

// initialize creates the repository if needed and writes the manifest.
func (p *Provisioner) initialize(ctx context.Context, ref remote.RepoRef) error {
	if _, err := p.store.CreateRepo(ctx, ref.Name, true); err != nil {
		// An existing repository is fine; the manifest write below is the
		// real initialization.
		if !apperrors.IsConflict(err) && !apperrors.IsValidation(err) {
			return provisioningErr("failed to create backing repository", err)
		}
	}

	_, err := p.store.PutFile(ctx, ref, ManifestPath, []byte(manifestContent), "loom: initialize repository", "")
	if err != nil && !apperrors.IsConflict(err) {
		return provisioningErr("failed to write repository manifest", err)
	}

	p.logger.Info("backing repository initialized", zap.String("repo", ref.String()))
	return nil
}

func (p *Provisioner) identity(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.login != "" {
		login := p.login
		p.mu.Unlock()
		return login, nil
	}
	p.mu.Unlock()

	login, err := p.store.Identity(ctx)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.login = login
	p.mu.Unlock()
	return login, nil
}

func provisioningErr(message string, err error) error {
	if apperrors.IsProvisioning(err) {
		return err
	}
	return apperrors.NewProvisioningError(message, err)
}

// sanitizeRepoName lowercases the user id and collapses anything outside
// [a-z0-9-] so the result is a valid repository name.
func sanitizeRepoName(userID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(userID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "user"
	}
	return out
}
