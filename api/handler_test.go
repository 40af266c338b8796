package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookline"
	"github.com/xraph/hookline/api"
	"github.com/xraph/hookline/scope"
	"github.com/xraph/hookline/store/memory"
)

// testServer creates a Handler backed by a memory store. Deliveries go to
// dest, which counts its requests in hits.
type testEnv struct {
	srv  *httptest.Server
	dest *httptest.Server
	hits *atomic.Int32
}

func testServer(t *testing.T, opts ...api.HandlerOption) *testEnv {
	t.Helper()

	hits := &atomic.Int32{}
	dest := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(dest.Close)

	hl, err := hookline.New(
		hookline.WithStore(memory.New()),
		hookline.WithHTTPClient(dest.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(api.NewHandler(hl, opts...))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, dest: dest, hits: hits}
}

func doJSON(t *testing.T, tenantID, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != "" {
		req.Header.Set(api.HeaderTenantID, tenantID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func createSubscription(t *testing.T, env *testEnv, tenantID string, types ...string) string {
	t.Helper()
	resp := doJSON(t, tenantID, "POST", env.srv.URL+"/subscriptions", map[string]any{
		"destination_url": env.dest.URL + "/hooks",
		"event_types":     types,
	})
	expectStatus(t, resp, http.StatusCreated)
	var out map[string]string
	decodeBody(t, resp, &out)
	if out["subscription_id"] == "" || out["secret"] == "" {
		t.Fatalf("expected subscription_id and secret, got %v", out)
	}
	return out["subscription_id"]
}

// --- Subscriptions ---

func TestSubscriptions_CRUD(t *testing.T) {
	env := testServer(t)
	subID := createSubscription(t, env, "t1", "quest.completed")

	// Get
	resp := doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusOK)
	var sub map[string]any
	decodeBody(t, resp, &sub)
	if sub["destination_url"] != env.dest.URL+"/hooks" || sub["active"] != true {
		t.Fatalf("unexpected subscription: %v", sub)
	}
	if _, ok := sub["secret"]; ok {
		t.Fatal("secret must not be returned after creation")
	}

	// List
	resp = doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(list))
	}
	if _, ok := list[0]["secret"]; ok {
		t.Fatal("list must omit secrets")
	}

	// Deactivate
	resp = doJSON(t, "t1", "PATCH", env.srv.URL+"/subscriptions/"+subID, map[string]any{"active": false})
	expectStatus(t, resp, http.StatusOK)
	var updated map[string]any
	decodeBody(t, resp, &updated)
	if updated["active"] != false {
		t.Fatalf("expected active=false, got %v", updated["active"])
	}

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions?active=true", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("expected no active subscriptions, got %d", len(list))
	}

	// Delete
	resp = doJSON(t, "t1", "DELETE", env.srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSubscriptions_CrossTenantIsNotFound(t *testing.T) {
	env := testServer(t)
	subID := createSubscription(t, env, "t1", "quest.completed")

	for _, method := range []string{"GET", "DELETE"} {
		resp := doJSON(t, "t2", method, env.srv.URL+"/subscriptions/"+subID, nil)
		expectStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	}
	resp := doJSON(t, "t2", "PATCH", env.srv.URL+"/subscriptions/"+subID, map[string]any{"active": false})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestSubscriptions_RejectsInvalidInput(t *testing.T) {
	env := testServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"http url", map[string]any{"destination_url": "http://example.com/hooks", "event_types": []string{"quest.completed"}}},
		{"no event types", map[string]any{"destination_url": "https://example.com/hooks", "event_types": []string{}}},
		{"missing url", map[string]any{"event_types": []string{"quest.completed"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, "t1", "POST", env.srv.URL+"/subscriptions", tc.body)
			expectStatus(t, resp, http.StatusBadRequest)
			resp.Body.Close()
		})
	}
}

func TestSubscriptions_InvalidID(t *testing.T) {
	env := testServer(t)

	resp := doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions/not-a-valid-id", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// --- Tenancy and rate limits ---

func TestMissingTenant(t *testing.T) {
	env := testServer(t)

	resp := doJSON(t, "", "GET", env.srv.URL+"/subscriptions", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestCustomTenantResolver(t *testing.T) {
	env := testServer(t, api.WithTenantResolver(func(r *http.Request) string {
		if r.Header.Get("Authorization") == "Bearer school-token" {
			return "school_42"
		}
		return ""
	}))

	req, _ := http.NewRequestWithContext(context.Background(), "GET", env.srv.URL+"/subscriptions", nil)
	req.Header.Set(api.HeaderTenantID, "spoofed")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	req.Header.Set("Authorization", "Bearer school-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestTenantFromContext(t *testing.T) {
	hl, err := hookline.New(hookline.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	h := api.NewHandler(hl)

	req := httptest.NewRequest("GET", "/subscriptions", nil)
	req = req.WithContext(scope.WithTenant(req.Context(), "t1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with tenant in context, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := testServer(t, api.WithRateLimit(2, time.Minute))

	for i := 0; i < 2; i++ {
		resp := doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions", nil)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := doJSON(t, "t1", "GET", env.srv.URL+"/subscriptions", nil)
	expectStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 1 || secs > 60 {
		t.Fatalf("expected Retry-After in whole seconds, got %q", resp.Header.Get("Retry-After"))
	}

	// Other tenants have their own window.
	resp = doJSON(t, "t2", "GET", env.srv.URL+"/subscriptions", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// --- Events and deliveries ---

func waitDelivered(t *testing.T, env *testEnv, tenantID, deliveryID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp := doJSON(t, tenantID, "GET", env.srv.URL+"/deliveries/"+deliveryID, nil)
		expectStatus(t, resp, http.StatusOK)
		var d map[string]any
		decodeBody(t, resp, &d)
		if d["status"] == "delivered" {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery %s not delivered: %v", deliveryID, d["status"])
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEvents_EmitAndQueryDeliveries(t *testing.T) {
	env := testServer(t)
	subID := createSubscription(t, env, "t1", "quest.completed")

	resp := doJSON(t, "t1", "POST", env.srv.URL+"/events", map[string]any{
		"event_type": "quest.completed",
		"data":       map[string]any{"quest_id": "q1"},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var emitted struct {
		DeliveryIDs []string `json:"delivery_ids"`
	}
	decodeBody(t, resp, &emitted)
	if len(emitted.DeliveryIDs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(emitted.DeliveryIDs))
	}
	deliveryID := emitted.DeliveryIDs[0]

	d := waitDelivered(t, env, "t1", deliveryID)
	if d["subscription_id"] != subID || d["attempt_count"] != float64(1) {
		t.Fatalf("unexpected delivery: %v", d)
	}

	// Cross-tenant lookup
	resp = doJSON(t, "t2", "GET", env.srv.URL+"/deliveries/"+deliveryID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// List
	resp = doJSON(t, "t1", "GET", env.srv.URL+"/deliveries?status=delivered&subscription_id="+subID, nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Deliveries []map[string]any `json:"deliveries"`
		Offset     int              `json:"offset"`
		Limit      int              `json:"limit"`
	}
	decodeBody(t, resp, &list)
	if len(list.Deliveries) != 1 || list.Limit != 50 {
		t.Fatalf("unexpected page: %+v", list)
	}

	resp = doJSON(t, "t2", "GET", env.srv.URL+"/deliveries", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &list)
	if len(list.Deliveries) != 0 {
		t.Fatalf("tenant t2 sees %d deliveries", len(list.Deliveries))
	}

	// Test a delivered attempt: a probe that leaves the record alone.
	resp = doJSON(t, "t1", "POST", env.srv.URL+"/deliveries/"+deliveryID+"/test", nil)
	expectStatus(t, resp, http.StatusOK)
	var tested struct {
		Delivery map[string]any `json:"delivery"`
		Result   map[string]any `json:"result"`
	}
	decodeBody(t, resp, &tested)
	if tested.Result["status_code"] != float64(200) || tested.Delivery["attempt_count"] != float64(1) {
		t.Fatalf("unexpected test response: %+v", tested)
	}
	if env.hits.Load() != 2 {
		t.Fatalf("expected 2 requests at destination, got %d", env.hits.Load())
	}

	// Stats
	resp = doJSON(t, "t1", "GET", env.srv.URL+"/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats map[string]int64
	decodeBody(t, resp, &stats)
	if stats["delivered"] != 1 || stats["pending"] != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestEvents_Validation(t *testing.T) {
	env := testServer(t)

	resp := doJSON(t, "t1", "POST", env.srv.URL+"/events", map[string]any{"data": map[string]any{}})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "t1", "POST", env.srv.URL+"/events", map[string]any{"event_type": "quest.completed"})
	expectStatus(t, resp, http.StatusAccepted)
	var emitted map[string][]string
	decodeBody(t, resp, &emitted)
	if ids, ok := emitted["delivery_ids"]; !ok || len(ids) != 0 {
		t.Fatalf("expected empty delivery_ids, got %v", emitted)
	}
}

func TestDeliveries_BadRequests(t *testing.T) {
	env := testServer(t)

	resp := doJSON(t, "t1", "GET", env.srv.URL+"/deliveries/not-a-uuid", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/deliveries/0190a5c8-3f2e-7c3a-9d2b-5e6f7a8b9c0d", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/deliveries?status=lost", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "t1", "POST", env.srv.URL+"/deliveries/0190a5c8-3f2e-7c3a-9d2b-5e6f7a8b9c0d/test", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

// --- Event Types ---

func TestEventTypes_CRUD(t *testing.T) {
	env := testServer(t)

	resp := doJSON(t, "t1", "POST", env.srv.URL+"/event-types", map[string]any{
		"name":        "quest.completed",
		"description": "A learner finished a quest",
		"schema": map[string]any{
			"type":     "object",
			"required": []string{"quest_id"},
		},
	})
	expectStatus(t, resp, http.StatusCreated)
	var et map[string]any
	decodeBody(t, resp, &et)
	def, _ := et["definition"].(map[string]any)
	if def == nil || def["name"] != "quest.completed" {
		t.Fatalf("expected definition.name quest.completed, got %v", et)
	}

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/event-types", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 event type, got %d", len(list))
	}

	// Payloads are checked against the schema.
	resp = doJSON(t, "t1", "POST", env.srv.URL+"/events", map[string]any{
		"event_type": "quest.completed",
		"data":       map[string]any{"xp": 10},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Soft delete marks as deprecated.
	resp = doJSON(t, "t1", "DELETE", env.srv.URL+"/event-types/quest.completed", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/event-types/quest.completed", nil)
	expectStatus(t, resp, http.StatusOK)
	var deprecated map[string]any
	decodeBody(t, resp, &deprecated)
	if deprecated["deprecated"] != true {
		t.Fatalf("expected deprecated=true, got %v", deprecated["deprecated"])
	}

	resp = doJSON(t, "t1", "GET", env.srv.URL+"/event-types/badge.earned", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestEventTypes_CreateMissingName(t *testing.T) {
	env := testServer(t)

	resp := doJSON(t, "t1", "POST", env.srv.URL+"/event-types", map[string]any{
		"description": "no name",
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
