package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Hookline store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("hookline")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_hookline_event_types",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_event_types (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    description     TEXT NOT NULL DEFAULT '',
    schema          JSONB,
    version         TEXT NOT NULL DEFAULT '',
    is_deprecated   BOOLEAN NOT NULL DEFAULT FALSE,
    deprecated_at   TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_event_types`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookline_subscriptions",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_subscriptions (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    url         TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    secret      TEXT NOT NULL,
    event_types TEXT[] NOT NULL DEFAULT '{}',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    rate_limit  INT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookline_subscriptions_tenant ON hookline_subscriptions (tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_hookline_subscriptions_event_types ON hookline_subscriptions USING GIN (event_types);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookline_delivery_attempts",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookline_delivery_attempts (
    id               TEXT PRIMARY KEY,
    subscription_id  TEXT NOT NULL,
    tenant_id        TEXT NOT NULL,
    event_type       TEXT NOT NULL,
    payload          BYTEA NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    attempt_count    INT NOT NULL DEFAULT 0,
    max_attempts     INT NOT NULL DEFAULT 5,
    last_status_code INT,
    last_error       TEXT,
    last_latency_ms  INT NOT NULL DEFAULT 0,
    next_retry_at    TIMESTAMPTZ,
    delivered_at     TIMESTAMPTZ,
    claimed_by       TEXT NOT NULL DEFAULT '',
    claimed_until    TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookline_attempts_due ON hookline_delivery_attempts (COALESCE(next_retry_at, created_at)) WHERE status IN ('pending', 'failed');
CREATE INDEX IF NOT EXISTS idx_hookline_attempts_tenant ON hookline_delivery_attempts (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_hookline_attempts_subscription ON hookline_delivery_attempts (subscription_id, created_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookline_delivery_attempts`)
				return err
			},
		},
	)
}
