// Package dbtest opens throwaway SQLite databases that mirror the Postgres
// schema closely enough for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency_id TEXT NOT NULL,
		available NUMERIC NOT NULL DEFAULT 0 CHECK (available >= 0),
		frozen NUMERIC NOT NULL DEFAULT 0 CHECK (frozen >= 0),
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (user_id, currency_id)
	)`,
	`CREATE TABLE ledger_entries (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		currency_id TEXT NOT NULL,
		order_id TEXT,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		frozen_delta NUMERIC NOT NULL DEFAULT 0,
		idempotency_key TEXT UNIQUE,
		metadata BLOB,
		created_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT,
		currency_id TEXT NOT NULL,
		quote_currency_id TEXT,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		price NUMERIC NOT NULL,
		total_value NUMERIC NOT NULL,
		payment_method TEXT,
		notes TEXT,
		cancel_reason TEXT,
		matched_at DATETIME,
		confirmed_at DATETIME,
		completed_at DATETIME,
		cancelled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		task_type TEXT NOT NULL,
		reward_amount NUMERIC NOT NULL,
		reward_currency_id TEXT NOT NULL,
		max_completions INTEGER,
		valid_until DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE user_tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		window_start DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		reward_entry_id TEXT,
		reward_claimed BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		UNIQUE (user_id, task_id, window_start)
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a fresh in-memory database with the full schema. The pool is
// pinned to one connection so concurrent tests serialize instead of tripping
// over SQLite's table locks.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:p2pex_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
