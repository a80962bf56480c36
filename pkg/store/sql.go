package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// dialect captures the differences between the SQL backends
type dialect struct {
	name string
	// forUpdate is appended to row reads inside a transaction
	forUpdate string
	// insertEvent writes an event row and returns its sequence number
	insertEvent func(tx *sql.Tx, ev *models.Event) (uint64, error)
	// isUniqueViolation reports driver-level primary/unique key violations
	isUniqueViolation func(err error) bool
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

// sqlStore implements Store on database/sql; SQLiteStore and
// PostgreSQLStore embed it and supply the connection and dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

const ownerKey = "owner"

const requestColumns = `id, uid, requester, target, selector, status, payload, created_at, expires_at, closed_at`

// rebind rewrites ? placeholders for dialects with numbered parameters
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Owner operations

// GetOwner returns the current owner
func (s *sqlStore) GetOwner() (models.Identity, error) {
	var owner string
	err := s.db.QueryRow(s.rebind(`SELECT value FROM oracle_state WHERE key = ?`), ownerKey).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", ErrOwnerNotSet
	}
	if err != nil {
		return "", err
	}
	return models.Identity(owner), nil
}

// InitOwner sets the owner if none has been recorded yet
func (s *sqlStore) InitOwner(owner models.Identity) error {
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO oracle_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO NOTHING
	`), ownerKey, string(owner))
	return err
}

// TransferOwner replaces the owner if it still equals from
func (s *sqlStore) TransferOwner(from, to models.Identity, ev *models.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(s.rebind(`UPDATE oracle_state SET value = ? WHERE key = ? AND value = ?`),
		string(to), ownerKey, string(from))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrOwnerMismatch
	}

	if err := s.appendEvent(tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// Request operations

// LastRequestID returns the largest stored request id, or zero
func (s *sqlStore) LastRequestID() (models.Nonce, error) {
	var last int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM requests`).Scan(&last); err != nil {
		return 0, err
	}
	return models.Nonce(last), nil
}

// CreateRequest stores a new request together with its event
func (s *sqlStore) CreateRequest(req *models.Request, ev *models.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(s.rebind(`SELECT COUNT(*) FROM requests WHERE id = ? OR uid = ?`),
		int64(req.ID), req.UID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %d", ErrDuplicateRequest, req.ID)
	}

	_, err = tx.Exec(s.rebind(`
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), int64(req.ID), req.UID, string(req.Requester), string(req.Target), req.Selector.String(),
		string(req.Status), req.Payload, req.CreatedAt.UTC(), nullTime(req.ExpiresAt), nullTime(req.ClosedAt))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: %d", ErrDuplicateRequest, req.ID)
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}

	if err := s.appendEvent(tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRequest retrieves a request by id
func (s *sqlStore) GetRequest(id models.Nonce) (*models.Request, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+requestColumns+` FROM requests WHERE id = ?`), int64(id))
	return scanRequest(row)
}

// GetRequestByUID retrieves a request by its external uid
func (s *sqlStore) GetRequestByUID(uid string) (*models.Request, error) {
	row := s.db.QueryRow(s.rebind(`SELECT `+requestColumns+` FROM requests WHERE uid = ?`), uid)
	return scanRequest(row)
}

// ListRequests returns matching requests ordered by id
func (s *sqlStore) ListRequests(filter RequestFilter) ([]*models.Request, error) {
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Requester != "" {
		where = append(where, "requester = ?")
		args = append(args, string(filter.Requester))
	}
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, string(filter.Target))
	}
	if filter.ExpiredBefore != nil {
		where = append(where, "expires_at IS NOT NULL AND expires_at <= ?")
		args = append(args, filter.ExpiredBefore.UTC())
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CloseRequest moves a pending request to a terminal state
func (s *sqlStore) CloseRequest(id models.Nonce, to models.RequestStatus, payload []byte, at time.Time, ev *models.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRow(s.rebind(`SELECT status FROM requests WHERE id = ?`+s.dialect.forUpdate), int64(id)).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}

	from := models.RequestStatus(current)
	if from != models.RequestStatusPending {
		return fmt.Errorf("%w: request %d is %s", ErrStatusConflict, id, from)
	}
	if err := models.ValidateTransition(from, to); err != nil {
		return err
	}

	res, err := tx.Exec(s.rebind(`
		UPDATE requests SET status = ?, payload = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`), string(to), payload, at.UTC(), int64(id), string(models.RequestStatusPending))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: request %d", ErrStatusConflict, id)
	}

	if err := s.appendEvent(tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// Event log

// Events returns up to limit events with Seq greater than after
func (s *sqlStore) Events(after uint64, limit int) ([]models.Event, error) {
	query := `
		SELECT seq, kind, request_id, requester, target, selector, old_owner, new_owner, created_at
		FROM events WHERE seq > ? ORDER BY seq`
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := s.db.Query(s.rebind(query), int64(after))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Event, 0)
	for rows.Next() {
		var ev models.Event
		var seq, requestID int64
		var kind, requester, target, selector, oldOwner, newOwner string
		if err := rows.Scan(&seq, &kind, &requestID, &requester, &target, &selector,
			&oldOwner, &newOwner, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Seq = uint64(seq)
		ev.Kind = models.EventKind(kind)
		ev.RequestID = models.Nonce(requestID)
		ev.Requester = models.Identity(requester)
		ev.Target = models.Identity(target)
		ev.OldOwner = models.Identity(oldOwner)
		ev.NewOwner = models.Identity(newOwner)
		if selector != "" {
			sel, err := models.ParseSelector(selector)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", seq, err)
			}
			ev.Selector = &sel
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqlStore) appendEvent(tx *sql.Tx, ev *models.Event) error {
	if ev == nil {
		return nil
	}
	seq, err := s.dialect.insertEvent(tx, ev)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	ev.Seq = seq
	return nil
}

// eventArgs flattens an event into the column order used by insertEvent
func eventArgs(ev *models.Event) []interface{} {
	selector := ""
	if ev.Selector != nil {
		selector = ev.Selector.String()
	}
	return []interface{}{
		string(ev.Kind), int64(ev.RequestID), string(ev.Requester), string(ev.Target), selector,
		string(ev.OldOwner), string(ev.NewOwner), ev.CreatedAt.UTC(),
	}
}

// Lifecycle

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *sqlStore) HealthCheck() error {
	return s.db.Ping()
}

// GetRequestMetrics aggregates ledger statistics in SQL
func (s *sqlStore) GetRequestMetrics() (*RequestMetrics, error) {
	m := &RequestMetrics{RequestsByStatus: make(map[models.RequestStatus]int)}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		m.RequestsByStatus[models.RequestStatus(status)] = count
		m.TotalRequests += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var seq int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return nil, err
	}
	m.TotalEvents = uint64(seq)
	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var req models.Request
	var id int64
	var requester, target, selector, status string
	var expiresAt, closedAt sql.NullTime
	err := row.Scan(&id, &req.UID, &requester, &target, &selector, &status, &req.Payload,
		&req.CreatedAt, &expiresAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	req.ID = models.Nonce(id)
	req.Requester = models.Identity(requester)
	req.Target = models.Identity(target)
	req.Status = models.RequestStatus(status)
	sel, err := models.ParseSelector(selector)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", id, err)
	}
	req.Selector = sel
	if expiresAt.Valid {
		t := expiresAt.Time
		req.ExpiresAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		req.ClosedAt = &t
	}
	if len(req.Payload) == 0 {
		req.Payload = nil
	}
	return &req, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
