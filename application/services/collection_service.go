package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom-backend/application/ports"
	"loom-backend/domain/chat"
	"loom-backend/infrastructure/cache"
	"loom-backend/infrastructure/gitstore"
	apperrors "loom-backend/pkg/errors"
)

// CollectionService is the facade over the uniform collections. Same cache
// discipline as ChatService: list reads are read-through, writes invalidate
// the owner's cached list.
type CollectionService struct {
	provisioner *gitstore.Provisioner
	store       *gitstore.CollectionStore
	cache       *cache.MemoryCache
	now         func() time.Time
	logger      *zap.Logger
}

var _ ports.CollectionRepository = (*CollectionService)(nil)

// NewCollectionService creates the collection facade. A nil now means
// time.Now.
func NewCollectionService(
	provisioner *gitstore.Provisioner,
	store *gitstore.CollectionStore,
	memCache *cache.MemoryCache,
	now func() time.Time,
	logger *zap.Logger,
) *CollectionService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionService{
		provisioner: provisioner,
		store:       store,
		cache:       memCache,
		now:         now,
		logger:      logger,
	}
}

// Get reads one entity; absent returns (nil, nil).
func (s *CollectionService) Get(ctx context.Context, ownerID string, collection chat.CollectionType, id string) (*chat.Entity, error) {
	if !chat.IsKnownCollection(collection) {
		return nil, apperrors.NewValidationError("unknown collection: " + string(collection))
	}
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, repo, collection, id)
}

// Put creates or updates one entity, stamping timestamps.
func (s *CollectionService) Put(ctx context.Context, ownerID string, collection chat.CollectionType, entity *chat.Entity) (*chat.Entity, error) {
	if !chat.IsKnownCollection(collection) {
		return nil, apperrors.NewValidationError("unknown collection: " + string(collection))
	}
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	entity.OwnerID = ownerID
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = s.now()
	}
	entity.UpdatedAt = s.now()

	stored, err := s.store.Put(ctx, repo, collection, entity)
	if err != nil && apperrors.IsNotFound(err) {
		if repairErr := s.provisioner.Repair(ctx, repo); repairErr != nil {
			return nil, repairErr
		}
		stored, err = s.store.Put(ctx, repo, collection, entity)
	}

	s.cache.Invalidate(cache.RegionCollections, listKey(collection, ownerID))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete removes one entity; deleting an absent entity is a no-op.
func (s *CollectionService) Delete(ctx context.Context, ownerID string, collection chat.CollectionType, id string) error {
	if !chat.IsKnownCollection(collection) {
		return apperrors.NewValidationError("unknown collection: " + string(collection))
	}
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return err
	}

	err = s.store.Delete(ctx, repo, collection, id)
	s.cache.Invalidate(cache.RegionCollections, listKey(collection, ownerID))
	return err
}

// ListByOwner serves the owner's entities read-through.
func (s *CollectionService) ListByOwner(ctx context.Context, ownerID string, collection chat.CollectionType) ([]*chat.Entity, error) {
	if !chat.IsKnownCollection(collection) {
		return nil, apperrors.NewValidationError("unknown collection: " + string(collection))
	}

	key := listKey(collection, ownerID)
	if cached, ok := s.cache.Get(cache.RegionCollections, key); ok {
		if entities, ok := cached.([]*chat.Entity); ok {
			return entities, nil
		}
	}

	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	entities, err := s.store.ListByOwner(ctx, repo, collection, ownerID)
	if err != nil {
		return nil, err
	}

	s.cache.Set(cache.RegionCollections, key, entities)
	return entities, nil
}

// ListPublic enumerates public entities of the collection. Full scan by
// design; uncached because visibility can change under other keys.
func (s *CollectionService) ListPublic(ctx context.Context, ownerID string, collection chat.CollectionType) ([]*chat.Entity, error) {
	if !chat.IsKnownCollection(collection) {
		return nil, apperrors.NewValidationError("unknown collection: " + string(collection))
	}
	repo, err := s.provisioner.Ensure(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.store.ListPublic(ctx, repo, collection)
}

func listKey(collection chat.CollectionType, ownerID string) string {
	return string(collection) + ":" + ownerID
}
