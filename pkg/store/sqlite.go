package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL for concurrent readers, immediate transactions so the ledger's
	// read-then-write sequences take the write lock up front
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{sqlStore{db: db, dialect: sqliteDialect}}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

var sqliteDialect = dialect{
	name: "sqlite",
	insertEvent: func(tx *sql.Tx, ev *models.Event) (uint64, error) {
		res, err := tx.Exec(`
			INSERT INTO events (kind, request_id, requester, target, selector, old_owner, new_owner, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, eventArgs(ev)...)
		if err != nil {
			return 0, err
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		return uint64(seq), nil
	},
	isUniqueViolation: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
	},
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS oracle_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		requester TEXT NOT NULL,
		target TEXT NOT NULL,
		selector TEXT NOT NULL,
		status TEXT NOT NULL,
		payload BLOB,
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		closed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester);
	CREATE INDEX IF NOT EXISTS idx_requests_expires_at ON requests(expires_at);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		request_id INTEGER NOT NULL DEFAULT 0,
		requester TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL DEFAULT '',
		selector TEXT NOT NULL DEFAULT '',
		old_owner TEXT NOT NULL DEFAULT '',
		new_owner TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_request_id ON events(request_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
