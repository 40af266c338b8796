package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Hookline store (SQLite).
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
    schema          TEXT,
    version         TEXT NOT NULL DEFAULT '',
    is_deprecated   INTEGER NOT NULL DEFAULT 0,
    deprecated_at   TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
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
    event_types TEXT NOT NULL DEFAULT '[]',
    active      INTEGER NOT NULL DEFAULT 1,
    rate_limit  INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookline_subscriptions_tenant ON hookline_subscriptions (tenant_id, active);
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
    payload          BLOB NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    attempt_count    INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL DEFAULT 5,
    last_status_code INTEGER,
    last_error       TEXT,
    last_latency_ms  INTEGER NOT NULL DEFAULT 0,
    next_retry_at    TEXT,
    delivered_at     TEXT,
    due_at           INTEGER,
    claimed_by       TEXT NOT NULL DEFAULT '',
    claimed_until    INTEGER,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookline_attempts_due ON hookline_delivery_attempts (due_at) WHERE due_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_hookline_attempts_tenant ON hookline_delivery_attempts (tenant_id, id);
CREATE INDEX IF NOT EXISTS idx_hookline_attempts_subscription ON hookline_delivery_attempts (subscription_id, id);
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
