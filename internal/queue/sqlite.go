package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists queue snapshots in an embedded SQLite database. It
// honors the same contract as FileStore: unreadable rows load as absent, and
// Save replaces the whole snapshot for a queue name.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queue_messages (
	queue    TEXT    NOT NULL,
	position INTEGER NOT NULL,
	id       TEXT    NOT NULL,
	payload  TEXT    NOT NULL,
	PRIMARY KEY (queue, position)
);
`

// NewSQLiteStore opens (creating if needed) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// The snapshot writer is single-threaded per queue; one connection keeps
	// modernc's file locking simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the snapshot for a queue in stored order. Rows that fail to
// decode are skipped.
func (s *SQLiteStore) Load(name string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM queue_messages WHERE queue = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot %s: %w", name, err)
	}
	defer rows.Close()

	var pending []Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan queue snapshot %s: %w", name, err)
		}
		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			continue
		}
		pending = append(pending, msg)
	}
	return pending, rows.Err()
}

// Save atomically replaces the snapshot for a queue.
func (s *SQLiteStore) Save(name string, pending []Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save queue snapshot %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM queue_messages WHERE queue = ?`, name); err != nil {
		return fmt.Errorf("clear queue snapshot %s: %w", name, err)
	}
	for i, msg := range pending {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode queue message %s: %w", msg.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO queue_messages (queue, position, id, payload) VALUES (?, ?, ?, ?)`,
			name, i, msg.ID, string(payload)); err != nil {
			return fmt.Errorf("insert queue message %s: %w", msg.ID, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
