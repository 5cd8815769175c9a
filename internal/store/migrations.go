package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the action history. Each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS actions (
		id          TEXT PRIMARY KEY,
		policy      TEXT NOT NULL,
		resolver    TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL,
		instant     INTEGER NOT NULL,
		assignments TEXT NOT NULL DEFAULT '[]',
		diagnoses   TEXT NOT NULL DEFAULT '[]',
		detail      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_policy_instant ON actions(policy, instant)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_instant ON actions(instant)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
