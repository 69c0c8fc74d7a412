package chat

import (
	"encoding/json"
	"time"
)

// CollectionType names a uniform one-file-per-entity collection.
type CollectionType string

const (
	CollectionAgents      CollectionType = "agents"
	CollectionWorkflows   CollectionType = "workflows"
	CollectionArchives    CollectionType = "archives"
	CollectionProfiles    CollectionType = "profiles"
	CollectionToolConfigs CollectionType = "toolconfigs"
)

// KnownCollections lists every collection type the store accepts.
var KnownCollections = []CollectionType{
	CollectionAgents,
	CollectionWorkflows,
	CollectionArchives,
	CollectionProfiles,
	CollectionToolConfigs,
}

// IsKnownCollection reports whether t names a supported collection.
func IsKnownCollection(t CollectionType) bool {
	for _, known := range KnownCollections {
		if t == known {
			return true
		}
	}
	return false
}

// Entity is a collection entity: one entity, one file, no cross-file
// structure. Payload is opaque to the store.
type Entity struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	Payload   json.RawMessage `json:"payload"`
	IsPublic  bool            `json:"isPublic,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
