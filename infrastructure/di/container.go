package di

import (
	"go.uber.org/zap"

	"loom-backend/application/ports"
	"loom-backend/infrastructure/cache"
	"loom-backend/infrastructure/config"
	"loom-backend/infrastructure/gitstore"
	"loom-backend/pkg/auth"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Provisioner  *gitstore.Provisioner
	Cache        *cache.MemoryCache
	ChatRepo     ports.ChatRepository
	CollectRepo  ports.CollectionRepository
	JWTValidator *auth.JWTValidator
}
