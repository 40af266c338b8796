package subscription

import (
	"errors"
	"net/url"
	"slices"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Input is the creation payload for a subscription.
type Input struct {
	TenantID    string   `json:"tenant_id"`
	URL         string   `json:"destination_url"`
	EventTypes  []string `json:"event_types"`
	Description string   `json:"description"`
	RateLimit   int      `json:"rate_limit"`
}

// Validate checks the input and returns a *ValidationError naming the first
// offending field.
func (in Input) Validate() error {
	// Whitespace-only types must fail Required rather than vanish later.
	trimmed := make([]string, len(in.EventTypes))
	for i, et := range in.EventTypes {
		trimmed[i] = strings.TrimSpace(et)
	}
	in.EventTypes = trimmed

	err := validation.ValidateStruct(&in,
		validation.Field(&in.TenantID, validation.Required),
		validation.Field(&in.URL, validation.Required, validation.By(secureURL)),
		validation.Field(&in.EventTypes,
			validation.Required,
			validation.Each(validation.Required, validation.Length(1, 255)),
		),
		validation.Field(&in.Description, validation.Length(0, 1024)),
		validation.Field(&in.RateLimit, validation.Min(0)),
	)
	if err == nil {
		return nil
	}

	var fields validation.Errors
	if errors.As(err, &fields) && len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &ValidationError{Field: keys[0], Message: fields[keys[0]].Error()}
	}
	return &ValidationError{Message: err.Error()}
}

// normalizedEventTypes trims and deduplicates event types, keeping order.
func (in Input) normalizedEventTypes() []string {
	out := make([]string, 0, len(in.EventTypes))
	for _, et := range in.EventTypes {
		et = strings.TrimSpace(et)
		if et != "" && !slices.Contains(out, et) {
			out = append(out, et)
		}
	}
	return out
}

// secureURL accepts absolute https URLs with a host.
func secureURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return errors.New("must use https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// ValidationError reports input that was rejected before any side effect.
type ValidationError struct {
	Field   string
	Message string

	// Err is an optional sentinel describing the failure class.
	Err error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "hookline: validation: " + e.Message
	}
	return "hookline: validation: " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }
