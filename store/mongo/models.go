package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xraph/grove"

	"github.com/xraph/hookline/catalog"
	"github.com/xraph/hookline/delivery"
	"github.com/xraph/hookline/id"
	"github.com/xraph/hookline/internal/entity"
	"github.com/xraph/hookline/subscription"
)

// --- Event Type models ---

type eventTypeModel struct {
	grove.BaseModel `grove:"table:hookline_event_types"`

	ID           string          `grove:"id,pk"         bson:"_id"`
	Name         string          `grove:"name,unique"   bson:"name"`
	Description  string          `grove:"description"   bson:"description"`
	Schema       json.RawMessage `grove:"schema"        bson:"schema,omitempty"`
	Version      string          `grove:"version"       bson:"version"`
	IsDeprecated bool            `grove:"is_deprecated" bson:"is_deprecated"`
	DeprecatedAt *time.Time      `grove:"deprecated_at" bson:"deprecated_at,omitempty"`
	CreatedAt    time.Time       `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"    bson:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
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

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
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

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:hookline_subscriptions"`

	ID          string    `grove:"id,pk"       bson:"_id"`
	TenantID    string    `grove:"tenant_id"   bson:"tenant_id"`
	URL         string    `grove:"url"         bson:"url"`
	Description string    `grove:"description" bson:"description"`
	Secret      string    `grove:"secret"      bson:"secret"`
	EventTypes  []string  `grove:"event_types" bson:"event_types"`
	Active      bool      `grove:"active"      bson:"active"`
	RateLimit   int       `grove:"rate_limit"  bson:"rate_limit"`
	CreatedAt   time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:          sub.ID.String(),
		TenantID:    sub.TenantID,
		URL:         sub.URL,
		Description: sub.Description,
		Secret:      sub.Secret,
		EventTypes:  sub.EventTypes,
		Active:      sub.Active,
		RateLimit:   sub.RateLimit,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          subID,
		TenantID:    m.TenantID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Active:      m.Active,
		RateLimit:   m.RateLimit,
	}, nil
}

// --- Delivery attempt models ---

// attemptModel carries due_at so one index answers the claim query. It is
// unset once the attempt is terminal.
type attemptModel struct {
	grove.BaseModel `grove:"table:hookline_delivery_attempts"`

	ID             string     `grove:"id,pk"            bson:"_id"`
	SubscriptionID string     `grove:"subscription_id"  bson:"subscription_id"`
	TenantID       string     `grove:"tenant_id"        bson:"tenant_id"`
	EventType      string     `grove:"event_type"       bson:"event_type"`
	Payload        []byte     `grove:"payload"          bson:"payload"`
	Status         string     `grove:"status"           bson:"status"`
	AttemptCount   int        `grove:"attempt_count"    bson:"attempt_count"`
	MaxAttempts    int        `grove:"max_attempts"     bson:"max_attempts"`
	LastStatusCode *int       `grove:"last_status_code" bson:"last_status_code,omitempty"`
	LastError      *string    `grove:"last_error"       bson:"last_error,omitempty"`
	LastLatencyMs  int        `grove:"last_latency_ms"  bson:"last_latency_ms"`
	NextRetryAt    *time.Time `grove:"next_retry_at"    bson:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time `grove:"delivered_at"     bson:"delivered_at,omitempty"`
	DueAt          *time.Time `grove:"due_at"           bson:"due_at"`
	ClaimedBy      string     `grove:"claimed_by"       bson:"claimed_by"`
	ClaimedUntil   *time.Time `grove:"claimed_until"    bson:"claimed_until"`
	CreatedAt      time.Time  `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"       bson:"updated_at"`
}

func dueAt(a *delivery.Attempt) *time.Time {
	switch {
	case a.Status == delivery.StatusPending:
		t := a.CreatedAt
		return &t
	case a.Status == delivery.StatusFailed && a.NextRetryAt != nil:
		t := *a.NextRetryAt
		return &t
	}
	return nil
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		TenantID:       a.TenantID,
		EventType:      a.EventType,
		Payload:        a.Payload,
		Status:         string(a.Status),
		AttemptCount:   a.AttemptCount,
		MaxAttempts:    a.MaxAttempts,
		LastStatusCode: a.LastStatusCode,
		LastError:      a.LastError,
		LastLatencyMs:  a.LastLatencyMs,
		NextRetryAt:    a.NextRetryAt,
		DeliveredAt:    a.DeliveredAt,
		DueAt:          dueAt(a),
		ClaimedBy:      a.ClaimedBy,
		ClaimedUntil:   a.ClaimedUntil,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAttemptModel(m *attemptModel) (*delivery.Attempt, error) {
	attemptID, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &delivery.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             attemptID,
		SubscriptionID: subID,
		TenantID:       m.TenantID,
		EventType:      m.EventType,
		Payload:        m.Payload,
		Status:         delivery.Status(m.Status),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		LastStatusCode: m.LastStatusCode,
		LastError:      m.LastError,
		LastLatencyMs:  m.LastLatencyMs,
		NextRetryAt:    m.NextRetryAt,
		DeliveredAt:    m.DeliveredAt,
		ClaimedBy:      m.ClaimedBy,
		ClaimedUntil:   m.ClaimedUntil,
	}, nil
}
