package gitstore

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

// CollectionStore is the one-file-per-entity pattern: an entity of a given
// type lives at <type>/<id>.json, last-write-wins guarded by content hash.
type CollectionStore struct {
	store  remote.Store
	logger *zap.Logger
}

// NewCollectionStore creates a CollectionStore on top of the remote store.
func NewCollectionStore(store remote.Store, logger *zap.Logger) *CollectionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionStore{store: store, logger: logger}
}

// Get reads one entity. A missing file is absent, never an error: it
// returns (nil, nil).
func (s *CollectionStore) Get(ctx context.Context, repo remote.RepoRef, collection chat.CollectionType, id string) (*chat.Entity, error) {
	path := entityPath(collection, id)

	file, err := s.store.GetFile(ctx, repo, path)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entity, err := decodeEntity(path, file.Content)
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Put creates or updates one entity with read-modify-write semantics: the
// prior content hash is discovered by reading, and a byte-identical payload
// skips the write entirely.
//
// Two concurrent Puts on the same id race on the content hash; the later
// write wins and the earlier one is lost. Callers needing stronger
// guarantees serialize above this layer.
func (s *CollectionStore) Put(ctx context.Context, repo remote.RepoRef, collection chat.CollectionType, entity *chat.Entity) (*chat.Entity, error) {
	if entity == nil || entity.ID == "" {
		return nil, apperrors.NewValidationError("entity id is required")
	}
	path := entityPath(collection, entity.ID)

	content, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode entity")
	}

	sha := ""
	existing, err := s.store.GetFile(ctx, repo, path)
	switch {
	case err == nil:
		if bytes.Equal(existing.Content, content) {
			s.logger.Debug("entity unchanged, skipping write", zap.String("path", path))
			return entity, nil
		}
		sha = existing.SHA
	case apperrors.IsNotFound(err):
		// First write for this id.
	default:
		return nil, err
	}

	message := fmt.Sprintf("loom: upsert %s/%s", collection, entity.ID)
	if _, err := s.store.PutFile(ctx, repo, path, content, message, sha); err != nil {
		return nil, err
	}
	return entity, nil
}

// Delete removes one entity. Deleting an absent entity is a no-op.
func (s *CollectionStore) Delete(ctx context.Context, repo remote.RepoRef, collection chat.CollectionType, id string) error {
	path := entityPath(collection, id)

	file, err := s.store.GetFile(ctx, repo, path)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	message := fmt.Sprintf("loom: delete %s/%s", collection, id)
	return s.store.DeleteFile(ctx, repo, path, file.SHA, message)
}

// ListByOwner enumerates every entity of a type and filters client-side.
// O(n) in entity count; acceptable because n stays small per repository.
func (s *CollectionStore) ListByOwner(ctx context.Context, repo remote.RepoRef, collection chat.CollectionType, ownerID string) ([]*chat.Entity, error) {
	return s.list(ctx, repo, collection, func(e *chat.Entity) bool {
		return e.OwnerID == ownerID
	})
}

// ListPublic enumerates every entity of a type and keeps the public ones.
// Visibility is an in-payload flag, so this is a full scan by design.
func (s *CollectionStore) ListPublic(ctx context.Context, repo remote.RepoRef, collection chat.CollectionType) ([]*chat.Entity, error) {
	return s.list(ctx, repo, collection, func(e *chat.Entity) bool {
		return e.IsPublic
	})
}

func (s *CollectionStore) list(ctx context.Context, repo remote.RepoRef, collection chat.CollectionType, keep func(*chat.Entity) bool) ([]*chat.Entity, error) {
	entries, err := s.store.ListDir(ctx, repo, string(collection))
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entities []*chat.Entity
	for _, entry := range entries {
		if entry.Type != remote.EntryTypeFile || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		file, err := s.store.GetFile(ctx, repo, entry.Path)
		if apperrors.IsNotFound(err) {
			continue // deleted between list and read
		}
		if err != nil {
			return nil, err
		}
		entity, err := decodeEntity(entry.Path, file.Content)
		if err != nil {
			return nil, err
		}
		if keep(entity) {
			entities = append(entities, entity)
		}
	}

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].UpdatedAt.After(entities[j].UpdatedAt)
	})
	return entities, nil
}

func decodeEntity(path string, content []byte) (*chat.Entity, error) {
	var entity chat.Entity
	if err := json.Unmarshal(content, &entity); err != nil {
		return nil, apperrors.NewEncodingError(path, err)
	}
	return &entity, nil
}

func entityPath(collection chat.CollectionType, id string) string {
	return fmt.Sprintf("%s/%s.json", collection, id)
}
