package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/catalog"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
)

// catalogModel is the JSON representation stored in Redis.
type catalogModel struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	Version      string          `json:"version"`
	IsDeprecated bool            `json:"is_deprecated"`
	DeprecatedAt *time.Time      `json:"deprecated_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toCatalogModel(et *catalog.EventType) *catalogModel {
	return &catalogModel{
		ID:           et.ID.String(),
		Name:         et.Definition.Name,
		Description:  et.Definition.Description,
		Schema:       et.Definition.Schema,
		Version:      et.Definition.Version,
		IsDeprecated: et.IsDeprecated,
		DeprecatedAt: et.DeprecatedAt,
		CreatedAt:    et.CreatedAt,
		UpdatedAt:    et.UpdatedAt,
	}
}

func fromCatalogModel(m *catalogModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &catalog.EventType{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: etID,
		Definition: catalog.Definition{
			Name:        m.Name,
			Description: m.Description,
			Schema:      m.Schema,
			Version:     m.Version,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
	}, nil
}

// RegisterType creates or updates an event type definition (upsert by name).
func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	key := entityKey(prefixEventType, et.Definition.Name)
	m := toCatalogModel(et)

	var existing catalogModel
	err := s.getEntity(ctx, key, &existing)
	switch {
	case err == nil:
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		m.IsDeprecated = false
		m.DeprecatedAt = nil
		m.UpdatedAt = now()
	case !isRedisNil(err):
		return fmt.Errorf("hookline/redis: register type: %w", err)
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal event type: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, 0)
	pipe.SAdd(ctx, sEventTypeAll, m.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookline/redis: register type: %w", err)
	}

	registered, err := fromCatalogModel(m)
	if err != nil {
		return err
	}
	et.ID = registered.ID
	et.CreatedAt = registered.CreatedAt
	return nil
}

// GetType returns an event type by name, including deprecated ones.
func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	var m catalogModel
	if err := s.getEntity(ctx, entityKey(prefixEventType, name), &m); err != nil {
		if isRedisNil(err) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("hookline/redis: get type: %w", err)
	}
	return fromCatalogModel(&m)
}

// ListTypes returns event types ordered by name.
func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	names, err := s.rdb.SMembers(ctx, sEventTypeAll).Result()
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list types: %w", err)
	}
	sort.Strings(names)

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = entityKey(prefixEventType, name)
	}
	models, err := getEntities[catalogModel](ctx, s, keys)
	if err != nil {
		return nil, fmt.Errorf("hookline/redis: list types: %w", err)
	}

	result := make([]*catalog.EventType, 0, len(models))
	for _, m := range models {
		if !opts.IncludeDeprecated && m.IsDeprecated {
			continue
		}
		et, err := fromCatalogModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, et)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(ctx context.Context, name string) error {
	key := entityKey(prefixEventType, name)
	var m catalogModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isRedisNil(err) {
			return hookline.ErrEventTypeNotFound
		}
		return fmt.Errorf("hookline/redis: delete type: %w", err)
	}

	t := now()
	m.IsDeprecated = true
	m.DeprecatedAt = &t
	m.UpdatedAt = t

	raw, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal event type: %w", err)
	}
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("hookline/redis: delete type: %w", err)
	}
	return nil
}
