// Package sessionlog records client session events (state transitions and
// packet traffic) to a sqlite3 database, for post-hoc debugging of a
// connection's handshake and lifetime. It is purely diagnostic: nothing
// in pkg/netcode depends on it being present or accurate.
package sessionlog

import (
	"context"
	"net/url"

	"github.com/jmoiron/sqlx"
)

// DB records session events to a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a sessionlog database at name and
// migrates it to the latest schema version.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	if err := migrateUp(context.Background(), x); err != nil {
		x.Close()
		return nil, err
	}
	return &DB{x}, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// RecordStateChange appends a state transition for sessionID.
func (db *DB) RecordStateChange(sessionID string, at int64, from, to string) error {
	_, err := db.x.Exec(
		`INSERT INTO state_changes (session_id, at, from_state, to_state) VALUES (?, ?, ?, ?)`,
		sessionID, at, from, to,
	)
	return err
}

// RecordPacket appends a sent or received packet event for sessionID.
// direction is "sent" or "recv".
func (db *DB) RecordPacket(sessionID string, at int64, direction, kind string, size int) error {
	_, err := db.x.Exec(
		`INSERT INTO packet_events (session_id, at, direction, kind, size) VALUES (?, ?, ?, ?, ?)`,
		sessionID, at, direction, kind, size,
	)
	return err
}
