// Package di wires the application with google/wire. wire_gen.go is checked
// in; regenerate with `wire ./infrastructure/di` after changing providers.
package di

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"loom-backend/application/ports"
	"loom-backend/application/services"
	"loom-backend/infrastructure/cache"
	"loom-backend/infrastructure/config"
	"loom-backend/infrastructure/gitstore"
	"loom-backend/infrastructure/gitstore/timeline"
	"loom-backend/infrastructure/remote"
	"loom-backend/pkg/auth"
)

// ProvideLogger creates the application logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideRemoteStore creates the hosted-repository client
func ProvideRemoteStore(cfg *config.Config, logger *zap.Logger) remote.Store {
	return remote.NewGitHubStore(cfg.GitHubToken, remote.DefaultRetryConfig(), logger)
}

// ProvideProvisioner creates the repository provisioner
func ProvideProvisioner(store remote.Store, cfg *config.Config, logger *zap.Logger) *gitstore.Provisioner {
	return gitstore.NewProvisioner(store, cfg.RepoPrefix, logger)
}

// ProvideCollectionStore creates the collection store
func ProvideCollectionStore(store remote.Store, logger *zap.Logger) *gitstore.CollectionStore {
	return gitstore.NewCollectionStore(store, logger)
}

// ProvideTimelineStore creates the timeline store for the configured
// encoding
func ProvideTimelineStore(store remote.Store, cfg *config.Config, logger *zap.Logger) (timeline.Store, error) {
	return timeline.NewStore(timeline.Options{
		Encoding:      cfg.TimelineEncoding,
		WriteAttempts: cfg.WriteRetryAttempts,
		ScanJournals:  cfg.ThreadScanJournals,
	}, store, logger)
}

// ProvideCache creates the in-memory cache with per-region TTLs
func ProvideCache(cfg *config.Config, logger *zap.Logger) *cache.MemoryCache {
	return cache.NewMemoryCache(cache.Config{
		TTLs: map[cache.Region]time.Duration{
			cache.RegionThreadLists:  cfg.ThreadListTTL,
			cache.RegionMessageLists: cfg.MessageListTTL,
			cache.RegionThreadDetail: cfg.ThreadDetailTTL,
			cache.RegionCollections:  cfg.ThreadListTTL,
		},
		DefaultTTL: cfg.ThreadListTTL,
		MaxEntries: cfg.CacheMaxEntries,
	}, nil, logger)
}

// ProvideChatRepository creates the chat facade
func ProvideChatRepository(
	provisioner *gitstore.Provisioner,
	store timeline.Store,
	memCache *cache.MemoryCache,
	logger *zap.Logger,
) ports.ChatRepository {
	return services.NewChatService(provisioner, store, memCache, nil, logger)
}

// ProvideCollectionRepository creates the collection facade
func ProvideCollectionRepository(
	provisioner *gitstore.Provisioner,
	store *gitstore.CollectionStore,
	memCache *cache.MemoryCache,
	logger *zap.Logger,
) ports.CollectionRepository {
	return services.NewCollectionService(provisioner, store, memCache, nil, logger)
}

// ProvideJWTValidator creates the token validator
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		secret = "development-secret-change-in-production"
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: secret,
		Issuer:    cfg.JWTIssuer,
	})
}
