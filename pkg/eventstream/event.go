// Package eventstream defines the transport-neutral events the backend emits
// when a user's memory set changes, plus the Publisher contract for shipping
// them to a streaming backend. Consumers (analytics, cache invalidation,
// future push notification fan-out) subscribe downstream; the API never
// blocks on delivery.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMemoryChanged is emitted after any mutation of a user's
	// memory set lands in storage.
	EventTypeMemoryChanged = "beacon.memory.changed"
)

// Change kinds carried by MemoryChangedEvent.
const (
	ChangeInserted = "inserted"
	ChangeUpdated  = "updated"
	ChangeDeleted  = "deleted"
	ChangePatched  = "patched"
)

// MemoryChangedEvent is a transport-neutral payload for one memory mutation.
type MemoryChangedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	OwnerID    string `json:"owner_id"`
	ExternalID string `json:"external_id,omitempty"`
	Change     string `json:"change"`
	Category   string `json:"category,omitempty"`

	// OriginDevice is the device whose push caused the change, when known.
	OriginDevice string `json:"origin_device,omitempty"`
}

// NewMemoryChangedEvent stamps a fresh event for the change.
func NewMemoryChangedEvent(ownerID, externalID, change string) *MemoryChangedEvent {
	return &MemoryChangedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeMemoryChanged,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		OwnerID:       ownerID,
		ExternalID:    externalID,
		Change:        change,
	}
}
