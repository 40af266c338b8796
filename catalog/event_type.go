package catalog

import (
	"encoding/json"
	"time"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
)

// Definition describes one event type that producers may emit.
type Definition struct {
	// Name is the dot-separated event type, e.g. "quest.completed".
	Name string `json:"name"`

	// Description explains when the event fires.
	Description string `json:"description,omitempty"`

	// Schema is an optional JSON Schema for the event data. Emit rejects
	// payloads that do not conform.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Version is a free-form version label, conventionally a date.
	Version string `json:"version,omitempty"`
}

// EventType is a persisted Definition.
type EventType struct {
	entity.Entity

	ID           id.ID      `json:"id"`
	Definition   Definition `json:"definition"`
	IsDeprecated bool       `json:"deprecated"`
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`
}

// ListOpts filters event type listings.
type ListOpts struct {
	Offset            int
	Limit             int
	IncludeDeprecated bool
}
