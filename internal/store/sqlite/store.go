// Package sqlite is the state server's embedded persistence layer: candle
// group snapshots, gap records and the durable message queue, all in one
// single-writer database.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// Store wraps the SQLite database behind the state server handlers.
type Store struct {
	db *sql.DB

	// OnCommit, when set, observes batch transaction commit latency.
	OnCommit func(d time.Duration)
}

func (s *Store) commitTimed(tx *sql.Tx) error {
	start := time.Now()
	err := tx.Commit()
	if err == nil && s.OnCommit != nil {
		s.OnCommit(time.Since(start))
	}
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database with WAL mode and applies the
// schema. The connection pool is pinned to one connection; SQLite allows
// one writer and the handlers serialize behind it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candle_state (
			exchange    TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			state_json  TEXT    NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (exchange, symbol)
		);

		CREATE TABLE IF NOT EXISTS gap_records (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			exchange      TEXT    NOT NULL,
			symbol        TEXT    NOT NULL,
			from_trade_id INTEGER NOT NULL,
			to_trade_id   INTEGER NOT NULL,
			gap_size      INTEGER NOT NULL,
			detected_at   INTEGER NOT NULL,
			synced        INTEGER NOT NULL DEFAULT 0,
			synced_at     INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_gap_symbol_detected
			ON gap_records (exchange, symbol, detected_at DESC);
		CREATE INDEX IF NOT EXISTS idx_gap_unsynced
			ON gap_records (synced, detected_at DESC);

		CREATE TABLE IF NOT EXISTS message_queue (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_name   TEXT    NOT NULL,
			payload      TEXT    NOT NULL,
			created_at   INTEGER NOT NULL,
			processed    INTEGER NOT NULL DEFAULT 0,
			processed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_queue_pending
			ON message_queue (queue_name, processed, id);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	case err != nil:
		return err
	case version != schemaVersion:
		return fmt.Errorf("unsupported schema version %d, want %d", version, schemaVersion)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
