package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// price_history lives on the products row as jsonb so a check result is
// persisted with a single atomic UPDATE.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id               SERIAL PRIMARY KEY,
		title            TEXT NOT NULL,
		url              TEXT NOT NULL,
		image            TEXT NOT NULL DEFAULT '',
		stock_status     TEXT NOT NULL DEFAULT '',
		current_price    DOUBLE PRECISION NOT NULL DEFAULT 0,
		price_history    JSONB NOT NULL DEFAULT '[]',
		alarm_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_etag        TEXT NOT NULL DEFAULT '',
		last_modified    TEXT NOT NULL DEFAULT '',
		shard_minute     INT NOT NULL,
		cooldown_until   TIMESTAMPTZ,
		last_checked_at  TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_shard ON products (shard_minute, cooldown_until)`,
	`CREATE TABLE IF NOT EXISTS change_records (
		id            UUID PRIMARY KEY,
		product_id    INT NOT NULL REFERENCES products (id) ON DELETE CASCADE,
		title         TEXT NOT NULL,
		url           TEXT NOT NULL DEFAULT '',
		image         TEXT NOT NULL DEFAULT '',
		prev_price    DOUBLE PRECISION NOT NULL,
		new_price     DOUBLE PRECISION NOT NULL,
		diff          DOUBLE PRECISION NOT NULL,
		diff_pct      DOUBLE PRECISION NOT NULL,
		direction     TEXT NOT NULL,
		processed_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_change_records_processed_at ON change_records (processed_at DESC)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
