package catalog

import "context"

// Store persists the event type catalog.
type Store interface {
	// RegisterType inserts et or, when its name exists, replaces the definition
	// and clears any deprecation. et.ID is set to the stored ID.
	RegisterType(ctx context.Context, et *EventType) error

	// GetType returns the event type with the given name.
	GetType(ctx context.Context, name string) (*EventType, error)

	// ListTypes returns event types ordered by name.
	ListTypes(ctx context.Context, opts ListOpts) ([]*EventType, error)

	// DeleteType deprecates the named event type.
	DeleteType(ctx context.Context, name string) error
}
