package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loom-backend/application/ports"
	"loom-backend/domain/chat"
	"loom-backend/pkg/auth"
	"loom-backend/pkg/common"
	apperrors "loom-backend/pkg/errors"
	"loom-backend/pkg/utils"
)

// CollectionHandler handles the uniform collection HTTP requests. One set of
// routes serves all collection types; the type is a path segment.
type CollectionHandler struct {
	collections ports.CollectionRepository
	logger      *zap.Logger
}

// NewCollectionHandler creates a new collection handler
func NewCollectionHandler(collections ports.CollectionRepository, logger *zap.Logger) *CollectionHandler {
	return &CollectionHandler{collections: collections, logger: logger}
}

// PutEntityRequest represents the request body for upserting an entity
type PutEntityRequest struct {
	ID       string          `json:"id,omitempty" validate:"omitempty,max=100"`
	Payload  json.RawMessage `json:"payload" validate:"required"`
	IsPublic bool            `json:"isPublic,omitempty"`
}

// ListEntities handles GET /collections/{collection}
func (h *CollectionHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	collection := chat.CollectionType(chi.URLParam(r, "collection"))

	var entities []*chat.Entity
	if r.URL.Query().Get("visibility") == "public" {
		entities, err = h.collections.ListPublic(r.Context(), userCtx.UserID, collection)
	} else {
		entities, err = h.collections.ListByOwner(r.Context(), userCtx.UserID, collection)
	}
	if err != nil {
		h.logger.Error("Failed to list entities",
			zap.String("collection", string(collection)),
			zap.String("userID", userCtx.UserID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}
	if entities == nil {
		entities = []*chat.Entity{}
	}

	common.RespondJSON(w, http.StatusOK, entities)
}

// GetEntity handles GET /collections/{collection}/{entityID}
func (h *CollectionHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	collection := chat.CollectionType(chi.URLParam(r, "collection"))
	entityID := chi.URLParam(r, "entityID")

	entity, err := h.collections.Get(r.Context(), userCtx.UserID, collection, entityID)
	if err != nil {
		h.logger.Error("Failed to get entity",
			zap.String("collection", string(collection)),
			zap.String("entityID", entityID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}
	if entity == nil {
		common.RespondAppError(w, apperrors.NewNotFoundError("entity "+entityID))
		return
	}

	common.RespondJSON(w, http.StatusOK, entity)
}

// PutEntity handles PUT /collections/{collection}/{entityID} and
// POST /collections/{collection}
func (h *CollectionHandler) PutEntity(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	collection := chat.CollectionType(chi.URLParam(r, "collection"))

	var req PutEntityRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	// The path id wins over the body id on PUT.
	if pathID := chi.URLParam(r, "entityID"); pathID != "" {
		req.ID = pathID
	}

	entity, err := h.collections.Put(r.Context(), userCtx.UserID, collection, &chat.Entity{
		ID:       req.ID,
		Payload:  req.Payload,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		h.logger.Error("Failed to put entity",
			zap.String("collection", string(collection)),
			zap.String("entityID", req.ID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, entity)
}

// DeleteEntity handles DELETE /collections/{collection}/{entityID}
func (h *CollectionHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	userCtx, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		common.RespondAppError(w, apperrors.NewUnauthorizedError(""))
		return
	}
	collection := chat.CollectionType(chi.URLParam(r, "collection"))
	entityID := chi.URLParam(r, "entityID")

	if err := h.collections.Delete(r.Context(), userCtx.UserID, collection, entityID); err != nil {
		h.logger.Error("Failed to delete entity",
			zap.String("collection", string(collection)),
			zap.String("entityID", entityID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]string{"id": entityID, "status": "deleted"})
}
