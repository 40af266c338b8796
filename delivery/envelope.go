package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is the JSON body POSTed to every destination. Field order is fixed
// and map keys inside Data are sorted by encoding/json, so the same event
// always serializes to the same bytes.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	TenantID  string          `json:"tenant_id"`
}

// EncodeEnvelope serializes an event once. data may be any JSON-serializable
// value; json.RawMessage and []byte are taken as already-encoded JSON.
func EncodeEnvelope(eventType, tenantID string, data any, at time.Time) ([]byte, error) {
	raw, err := EncodeData(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Event:     eventType,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Data:      raw,
		TenantID:  tenantID,
	})
}

// DecodeEnvelope parses a stored payload.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("hookline: decode envelope: %w", err)
	}
	return &env, nil
}

// EncodeData serializes event data. json.RawMessage and []byte must already
// hold valid JSON and are used as is.
func EncodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return validRaw(v)
	case []byte:
		return validRaw(v)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("hookline: encode event data: %w", err)
	}
	return b, nil
}

func validRaw(b []byte) (json.RawMessage, error) {
	if !json.Valid(b) {
		return nil, errors.New("hookline: event data is not valid JSON")
	}
	return json.RawMessage(b), nil
}
