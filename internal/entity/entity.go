// Package entity defines the timestamps shared by persisted Hookline objects.
package entity

import "time"

// Entity carries creation and modification times.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an Entity stamped with the current UTC time.
func New() Entity {
	return At(time.Now())
}

// At returns an Entity stamped with t in UTC.
func At(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch advances UpdatedAt to t in UTC.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}
