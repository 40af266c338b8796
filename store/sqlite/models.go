package sqlite

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

	ID           string     `grove:"id,pk"`
	Name         string     `grove:"name,unique"`
	Description  string     `grove:"description"`
	Schema       string     `grove:"schema"`
	Version      string     `grove:"version"`
	IsDeprecated bool       `grove:"is_deprecated"`
	DeprecatedAt *time.Time `grove:"deprecated_at"`
	CreatedAt    time.Time  `grove:"created_at"`
	UpdatedAt    time.Time  `grove:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:           et.ID.String(),
		Name:         et.Definition.Name,
		Description:  et.Definition.Description,
		Schema:       string(et.Definition.Schema),
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
	var schema json.RawMessage
	if m.Schema != "" {
		schema = json.RawMessage(m.Schema)
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
			Schema:      schema,
			Version:     m.Version,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
	}, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:hookline_subscriptions"`

	ID          string    `grove:"id,pk"`
	TenantID    string    `grove:"tenant_id"`
	URL         string    `grove:"url"`
	Description string    `grove:"description"`
	Secret      string    `grove:"secret"`
	EventTypes  string    `grove:"event_types"` // JSON array
	Active      bool      `grove:"active"`
	RateLimit   int       `grove:"rate_limit"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func (m *subscriptionModel) eventTypes() []string {
	var types []string
	if m.EventTypes != "" {
		_ = json.Unmarshal([]byte(m.EventTypes), &types) //nolint:errcheck // best-effort
	}
	return types
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	eventTypes, _ := json.Marshal(sub.EventTypes) //nolint:errcheck // best-effort
	return &subscriptionModel{
		ID:          sub.ID.String(),
		TenantID:    sub.TenantID,
		URL:         sub.URL,
		Description: sub.Description,
		Secret:      sub.Secret,
		EventTypes:  string(eventTypes),
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
		EventTypes:  m.eventTypes(),
		Active:      m.Active,
		RateLimit:   m.RateLimit,
	}, nil
}

// --- Delivery attempt models ---

// attemptModel keeps the due time and lease expiry as unix milliseconds so
// the claim queries compare integers rather than formatted timestamps.
type attemptModel struct {
	grove.BaseModel `grove:"table:hookline_delivery_attempts"`

	ID             string     `grove:"id,pk"`
	SubscriptionID string     `grove:"subscription_id"`
	TenantID       string     `grove:"tenant_id"`
	EventType      string     `grove:"event_type"`
	Payload        []byte     `grove:"payload"`
	Status         string     `grove:"status"`
	AttemptCount   int        `grove:"attempt_count"`
	MaxAttempts    int        `grove:"max_attempts"`
	LastStatusCode *int       `grove:"last_status_code"`
	LastError      *string    `grove:"last_error"`
	LastLatencyMs  int        `grove:"last_latency_ms"`
	NextRetryAt    *time.Time `grove:"next_retry_at"`
	DeliveredAt    *time.Time `grove:"delivered_at"`
	DueAt          *int64     `grove:"due_at"`
	ClaimedBy      string     `grove:"claimed_by"`
	ClaimedUntil   *int64     `grove:"claimed_until"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

// dueAt is nil for terminal attempts, which never become due again.
func dueAt(a *delivery.Attempt) *int64 {
	var ms int64
	switch {
	case a.Status == delivery.StatusPending:
		ms = a.CreatedAt.UnixMilli()
	case a.Status == delivery.StatusFailed && a.NextRetryAt != nil:
		ms = a.NextRetryAt.UnixMilli()
	default:
		return nil
	}
	return &ms
}

func toAttemptModel(a *delivery.Attempt) *attemptModel {
	m := &attemptModel{
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
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if a.ClaimedUntil != nil {
		until := a.ClaimedUntil.UnixMilli()
		m.ClaimedUntil = &until
	}
	return m
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
	a := &delivery.Attempt{
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
	}
	if m.ClaimedUntil != nil {
		until := time.UnixMilli(*m.ClaimedUntil).UTC()
		a.ClaimedUntil = &until
	}
	return a, nil
}

func fromAttemptModels(models []attemptModel) ([]*delivery.Attempt, error) {
	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}
