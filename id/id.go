// Package id provides prefixed, K-sortable identifiers for Hookline entities.
//
// Identifiers are TypeIDs ("sub_01h455vb4pex5vsknk084sn02q"): a short prefix
// naming the entity kind followed by a base32-encoded UUIDv7. Delivery
// attempts use plain UUIDs instead because receivers treat them as opaque
// idempotency keys.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of entity an ID belongs to.
type Prefix string

const (
	// PrefixSubscription marks subscription identifiers.
	PrefixSubscription Prefix = "sub"

	// PrefixEventType marks catalog event type identifiers.
	PrefixEventType Prefix = "evtype"
)

// ID is a prefix-qualified identifier. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid   typeid.TypeID
	valid bool
}

// Nil is the empty ID.
var Nil ID

// New returns a fresh ID for the given prefix. An invalid prefix is a
// programming error and panics.
func New(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, valid: true}
}

// NewSubscriptionID returns a new subscription ID.
func NewSubscriptionID() ID { return New(PrefixSubscription) }

// NewEventTypeID returns a new event type ID.
func NewEventTypeID() ID { return New(PrefixEventType) }

// Parse decodes any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, valid: true}, nil
}

// ParseAs decodes s and requires its prefix to be p.
func ParseAs(s string, p Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if v.Prefix() != p {
		return Nil, fmt.Errorf("id: %q: want prefix %q, got %q", s, p, v.Prefix())
	}
	return v, nil
}

// ParseSubscriptionID decodes a "sub_" identifier.
func ParseSubscriptionID(s string) (ID, error) { return ParseAs(s, PrefixSubscription) }

// ParseEventTypeID decodes an "evtype_" identifier.
func ParseEventTypeID(s string) (ID, error) { return ParseAs(s, PrefixEventType) }

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the ID, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.tid.String()
}

// Prefix reports the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL column
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
