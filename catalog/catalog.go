// Package catalog keeps the registry of known event types.
//
// Registration is optional. Subscriptions and Emit accept any event type
// string unless the engine runs in strict mode. When a type is registered,
// its JSON Schema (if any) is enforced at emit time.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
)

// Config configures a Catalog.
type Config struct {
	// CacheTTL bounds how long a looked-up type is served from memory.
	// Zero caches forever; a negative value disables caching.
	CacheTTL time.Duration
}

type cached struct {
	et       *EventType
	loadedAt time.Time
}

// Catalog is a read-through cache in front of a Store.
type Catalog struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cached
}

// NewCatalog returns a Catalog backed by store.
func NewCatalog(store Store, cfg Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:  store,
		ttl:    cfg.CacheTTL,
		logger: logger,
		cache:  make(map[string]cached),
	}
}

// RegisterType upserts def by name.
func (c *Catalog) RegisterType(ctx context.Context, def Definition) (*EventType, error) {
	et := &EventType{
		Entity:     entity.New(),
		ID:         id.NewEventTypeID(),
		Definition: def,
	}
	if err := c.store.RegisterType(ctx, et); err != nil {
		return nil, err
	}

	c.put(et)
	c.logger.DebugContext(ctx, "event type registered", "name", def.Name, "id", et.ID)
	return et, nil
}

// GetType returns the named event type, serving from cache when fresh.
func (c *Catalog) GetType(ctx context.Context, name string) (*EventType, error) {
	if et, ok := c.get(name); ok {
		return et, nil
	}

	et, err := c.store.GetType(ctx, name)
	if err != nil {
		return nil, err
	}
	c.put(et)
	return et, nil
}

// ListTypes lists event types straight from the store.
func (c *Catalog) ListTypes(ctx context.Context, opts ListOpts) ([]*EventType, error) {
	return c.store.ListTypes(ctx, opts)
}

// DeleteType deprecates the named type and drops it from the cache.
func (c *Catalog) DeleteType(ctx context.Context, name string) error {
	if err := c.store.DeleteType(ctx, name); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
	return nil
}

// InvalidateCache empties the cache.
func (c *Catalog) InvalidateCache() {
	c.mu.Lock()
	c.cache = make(map[string]cached)
	c.mu.Unlock()
}

func (c *Catalog) get(name string) (*EventType, bool) {
	if c.ttl < 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[name]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.loadedAt) > c.ttl {
		return nil, false
	}
	return e.et, true
}

func (c *Catalog) put(et *EventType) {
	if c.ttl < 0 {
		return
	}
	c.mu.Lock()
	c.cache[et.Definition.Name] = cached{et: et, loadedAt: time.Now()}
	c.mu.Unlock()
}
