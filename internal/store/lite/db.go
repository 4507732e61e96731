// Package lite implements the store interfaces on SQLite (modernc.org,
// no cgo) for standalone deployments. Schema is created on open; Postgres
// deployments use the migrations directory instead.
package lite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  phone TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  human_intervention_required INTEGER NOT NULL DEFAULT 0,
  last_message_id INTEGER,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  conversation_id INTEGER NOT NULL REFERENCES conversations(id),
  direction TEXT NOT NULL,
  sender_type TEXT NOT NULL,
  sender_id TEXT,
  external_id TEXT UNIQUE,
  has_text INTEGER NOT NULL DEFAULT 0,
  message_text TEXT,
  media_info TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  provider_ts TIMESTAMP NOT NULL,
  extra_metadata TEXT,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS dedup_entries (
  conversation_key TEXT NOT NULL,
  message_id TEXT NOT NULL,
  expires_at INTEGER NOT NULL,
  PRIMARY KEY (conversation_key, message_id)
);

CREATE TABLE IF NOT EXISTS buffer_entries (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  conversation_key TEXT NOT NULL,
  payload BLOB NOT NULL,
  arrived_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_buffer_entries_key ON buffer_entries(conversation_key);

CREATE TABLE IF NOT EXISTS buffer_batches (
  conversation_key TEXT PRIMARY KEY,
  first_at INTEGER NOT NULL,
  last_at INTEGER NOT NULL
);
`

// OpenDB opens (and if needed initializes) the standalone SQLite database.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return db, nil
}
