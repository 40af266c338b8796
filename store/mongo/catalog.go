package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/catalog"
)

// RegisterType creates or updates an event type definition. Updating keeps
// the stored ID and creation time and clears any deprecation.
func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"name": m.Name}).
		SetUpdate(bson.M{
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"name":       m.Name,
				"created_at": m.CreatedAt,
			},
			"$set": bson.M{
				"description":   m.Description,
				"schema":        m.Schema,
				"version":       m.Version,
				"is_deprecated": false,
				"updated_at":    m.UpdatedAt,
			},
			"$unset": bson.M{"deprecated_at": ""},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: register type: %w", err)
	}

	stored, err := s.GetType(ctx, m.Name)
	if err != nil {
		return err
	}
	et.ID = stored.ID
	et.CreatedAt = stored.CreatedAt

	return nil
}

// GetType returns an event type by name.
func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	var m eventTypeModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"name": name}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, hookline.ErrEventTypeNotFound
		}

		return nil, fmt.Errorf("hookline/mongo: get type: %w", err)
	}

	return fromEventTypeModel(&m)
}

// ListTypes returns registered event types ordered by name.
func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel

	filter := bson.M{}
	if !opts.IncludeDeprecated {
		filter["is_deprecated"] = false
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hookline/mongo: list types: %w", err)
	}

	result := make([]*catalog.EventType, 0, len(models))

	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, et)
	}

	return result, nil
}

// DeleteType soft-deletes (deprecates) an event type.
func (s *Store) DeleteType(ctx context.Context, name string) error {
	t := now()

	res, err := s.mdb.NewUpdate((*eventTypeModel)(nil)).
		Filter(bson.M{"name": name}).
		Set("is_deprecated", true).
		Set("deprecated_at", t).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookline/mongo: delete type: %w", err)
	}

	if res.MatchedCount() == 0 {
		return hookline.ErrEventTypeNotFound
	}

	return nil
}
