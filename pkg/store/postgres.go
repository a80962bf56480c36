package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// PostgreSQLStore implements Store interface using PostgreSQL
type PostgreSQLStore struct {
	sqlStore
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{sqlStore{db: db, dialect: postgresDialect}}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:      "postgres",
	forUpdate: " FOR UPDATE",
	numbered:  true,
	insertEvent: func(tx *sql.Tx, ev *models.Event) (uint64, error) {
		var seq int64
		err := tx.QueryRow(`
			INSERT INTO events (kind, request_id, requester, target, selector, old_owner, new_owner, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING seq
		`, eventArgs(ev)...).Scan(&seq)
		if err != nil {
			return 0, err
		}
		return uint64(seq), nil
	},
	isUniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
	},
}

// initSchema creates tables if they don't exist
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS oracle_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS requests (
		id BIGINT PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		requester TEXT NOT NULL,
		target TEXT NOT NULL,
		selector TEXT NOT NULL,
		status TEXT NOT NULL,
		payload BYTEA,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester);
	CREATE INDEX IF NOT EXISTS idx_requests_expires_at ON requests(expires_at) WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS events (
		seq BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		request_id BIGINT NOT NULL DEFAULT 0,
		requester TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL DEFAULT '',
		selector TEXT NOT NULL DEFAULT '',
		old_owner TEXT NOT NULL DEFAULT '',
		new_owner TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_request_id ON events(request_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
