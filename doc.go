// Package hookline provides a webhook delivery engine for Go.
//
// Hookline is a library. Import it into an application to get tenant-scoped
// webhook subscriptions, an event type catalog with optional JSON Schema
// validation, signed at-least-once delivery with exponential backoff, and a
// queryable delivery log.
//
// Key features:
//   - HMAC-SHA256 signatures on every request (X-Signature: sha256=<hex>)
//   - Attempts persisted before the first network call
//   - Retries at 1, 2, 4 and 8 minutes, exhausted after 5 tries
//   - Lease-based claims so concurrent workers never double-send a try
//   - Sliding-window rate limits per subscription (memory or Redis)
//   - Store backends for memory, Redis, PostgreSQL, SQLite and MongoDB
//
// Quick start:
//
//	h, err := hookline.New(
//	    hookline.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop(ctx)
//
//	sub, err := h.Subscriptions().Create(ctx, subscription.Input{
//	    TenantID:   "school_42",
//	    URL:        "https://lms.example.com/hooks",
//	    EventTypes: []string{"quest.completed"},
//	})
//
//	ids, err := h.Emit(ctx, "quest.completed", map[string]any{"quest_id": "q_7"}, "school_42")
package hookline
