package sessionlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE state_changes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			at         INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state   TEXT NOT NULL
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create state_changes table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX state_changes_session_idx ON state_changes(session_id, at)`); err != nil {
		return fmt.Errorf("create state_changes index: %w", err)
	}

	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE packet_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			at         INTEGER NOT NULL,
			direction  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			size       INTEGER NOT NULL
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create packet_events table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX packet_events_session_idx ON packet_events(session_id, at)`); err != nil {
		return fmt.Errorf("create packet_events index: %w", err)
	}
	return nil
}
