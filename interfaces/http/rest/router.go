// Package rest wires the chi router for the API.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"loom-backend/application/ports"
	"loom-backend/infrastructure/config"
	"loom-backend/interfaces/http/rest/handlers"
	"loom-backend/interfaces/http/rest/middleware"
	"loom-backend/pkg/auth"
)

// Router creates and configures the HTTP router
type Router struct {
	chats       ports.ChatRepository
	collections ports.CollectionRepository
	validator   *auth.JWTValidator
	config      *config.Config
	logger      *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	chats ports.ChatRepository,
	collections ports.CollectionRepository,
	validator *auth.JWTValidator,
	cfg *config.Config,
	logger *zap.Logger,
) *Router {
	return &Router{
		chats:       chats,
		collections: collections,
		validator:   validator,
		config:      cfg,
		logger:      logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.config.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:3000", "https://*.loom.app"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	// API v1 routes
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.logger))

		// Thread and message endpoints
		r.Route("/threads", func(r chi.Router) {
			threadHandler := handlers.NewThreadHandler(rt.chats, rt.logger)
			r.Post("/", threadHandler.CreateThread)
			r.Get("/", threadHandler.ListThreads)
			r.Delete("/", threadHandler.DeleteAllThreads)
			r.Put("/{threadID}", threadHandler.UpdateThread)
			r.Delete("/{threadID}", threadHandler.DeleteThread)

			r.Post("/{threadID}/messages", threadHandler.CreateMessage)
			r.Get("/{threadID}/messages", threadHandler.ListMessages)
			r.Delete("/{threadID}/messages/{messageID}", threadHandler.DeleteMessage)
			r.Delete("/{threadID}/messages/{messageID}/following", threadHandler.DeleteMessagesAfter)
		})

		// Collection endpoints, one route set for every collection type
		r.Route("/collections/{collection}", func(r chi.Router) {
			collectionHandler := handlers.NewCollectionHandler(rt.collections, rt.logger)
			r.Get("/", collectionHandler.ListEntities)
			r.Post("/", collectionHandler.PutEntity)
			r.Get("/{entityID}", collectionHandler.GetEntity)
			r.Put("/{entityID}", collectionHandler.PutEntity)
			r.Delete("/{entityID}", collectionHandler.DeleteEntity)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
