// Package api provides the tenant-facing management HTTP API for Hookline.
//
// Every route runs in the scope of one tenant. Authentication happens
// upstream: a middleware stores the tenant with scope.WithTenant, or a
// TenantResolver extracts it from the request.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/ratelimit"
	"github.com/xraph/hookline/scope"
)

// HeaderTenantID is read by the default tenant resolver.
const HeaderTenantID = "X-Tenant-ID"

const (
	defaultRateLimit  = 120
	defaultRateWindow = time.Minute
	defaultPageSize   = 50
	maxPageSize       = 500
)

// TenantResolver extracts the caller's tenant from a request. An empty
// result rejects the request with 401.
type TenantResolver func(r *http.Request) string

// HeaderTenant trusts the X-Tenant-ID header set by an auth proxy.
func HeaderTenant(r *http.Request) string {
	return r.Header.Get(HeaderTenantID)
}

// Handler is the root HTTP handler for the management API.
type Handler struct {
	hl            *hookline.Hookline
	limiter       ratelimit.Limiter
	rateLimit     int
	rateWindow    time.Duration
	resolveTenant TenantResolver
	logger        *slog.Logger
	mux           *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTenantResolver replaces the X-Tenant-ID header lookup.
func WithTenantResolver(fn TenantResolver) HandlerOption {
	return func(h *Handler) { h.resolveTenant = fn }
}

// WithRateLimit caps requests per tenant. A limit <= 0 disables the check.
func WithRateLimit(limit int, window time.Duration) HandlerOption {
	return func(h *Handler) {
		h.rateLimit = limit
		h.rateWindow = window
	}
}

// WithLimiter overrides the limiter taken from the Hookline instance.
func WithLimiter(l ratelimit.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates the management API over hl.
func NewHandler(hl *hookline.Hookline, opts ...HandlerOption) *Handler {
	h := &Handler{
		hl:            hl,
		limiter:       hl.Limiter(),
		rateLimit:     defaultRateLimit,
		rateWindow:    defaultRateWindow,
		resolveTenant: HeaderTenant,
		logger:        hl.Logger(),
		mux:           http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Subscriptions
	h.mux.HandleFunc("POST /subscriptions", h.createSubscription)
	h.mux.HandleFunc("GET /subscriptions", h.listSubscriptions)
	h.mux.HandleFunc("GET /subscriptions/{id}", h.getSubscription)
	h.mux.HandleFunc("PATCH /subscriptions/{id}", h.updateSubscription)
	h.mux.HandleFunc("DELETE /subscriptions/{id}", h.deleteSubscription)

	// Deliveries
	h.mux.HandleFunc("GET /deliveries", h.listDeliveries)
	h.mux.HandleFunc("GET /deliveries/{id}", h.getDelivery)
	h.mux.HandleFunc("POST /deliveries/{id}/test", h.testDelivery)

	// Events
	h.mux.HandleFunc("POST /events", h.createEvent)

	// Event types
	h.mux.HandleFunc("POST /event-types", h.createEventType)
	h.mux.HandleFunc("GET /event-types", h.listEventTypes)
	h.mux.HandleFunc("GET /event-types/{name}", h.getEventType)
	h.mux.HandleFunc("DELETE /event-types/{name}", h.deleteEventType)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(h.tenancy(h.rateLimiting(next))))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// tenancy puts the caller's tenant in the request context.
func (h *Handler) tenancy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := scope.Tenant(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		tenantID := h.resolveTenant(r)
		if tenantID == "" {
			writeError(w, http.StatusUnauthorized, "missing tenant")
			return
		}
		next.ServeHTTP(w, r.WithContext(scope.WithTenant(r.Context(), tenantID)))
	})
}

// rateLimiting charges each request to the tenant's API window. Limiter
// failures let the request through.
func (h *Handler) rateLimiting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil || h.rateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		tenantID, _ := scope.Tenant(r.Context())
		res, err := h.limiter.Allow(r.Context(), ratelimit.TenantKey(tenantID), h.rateLimit, h.rateWindow)
		if err != nil {
			h.logger.WarnContext(r.Context(), "api rate limiter unavailable", "tenant_id", tenantID, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !res.Allowed {
			h.hl.Metrics().RecordRateLimited("inbound")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, ratelimit.ErrRateLimited.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// tenant returns the scoped tenant. tenancy guarantees it is set.
func tenant(r *http.Request) string {
	tenantID, _ := scope.Tenant(r.Context())
	return tenantID
}

// fail maps an error onto its status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *hookline.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case hookline.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, hookline.ErrDeliveryInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, hookline.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a non-negative query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// page reads offset and limit, clamping limit to maxPageSize.
func page(r *http.Request) (offset, limit int) {
	offset = queryInt(r, "offset", 0)
	limit = queryInt(r, "limit", defaultPageSize)
	switch {
	case limit == 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	return offset, limit
}
