package store

import (
	"errors"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

var (
	ErrRequestNotFound     = errors.New("request not found")
	ErrDuplicateRequest    = errors.New("request id already exists")
	ErrStatusConflict      = errors.New("request is not pending")
	ErrOwnerNotSet         = errors.New("owner not set")
	ErrOwnerMismatch       = errors.New("owner changed concurrently")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for protocol state persistence.
// Every mutating method persists its event in the same transaction and
// assigns the event's Seq.
type Store interface {
	// Owner operations
	GetOwner() (models.Identity, error)
	InitOwner(owner models.Identity) error
	TransferOwner(from, to models.Identity, ev *models.Event) error

	// Request ledger
	LastRequestID() (models.Nonce, error)
	CreateRequest(req *models.Request, ev *models.Event) error
	GetRequest(id models.Nonce) (*models.Request, error)
	GetRequestByUID(uid string) (*models.Request, error)
	ListRequests(filter RequestFilter) ([]*models.Request, error)
	CloseRequest(id models.Nonce, to models.RequestStatus, payload []byte, at time.Time, ev *models.Event) error

	// Event log
	Events(after uint64, limit int) ([]models.Event, error)

	// Lifecycle
	Close() error
	HealthCheck() error

	// Metrics operations
	GetRequestMetrics() (*RequestMetrics, error)
}

// RequestFilter narrows ListRequests. Zero values match everything.
type RequestFilter struct {
	Status        models.RequestStatus
	Requester     models.Identity
	Target        models.Identity
	ExpiredBefore *time.Time // only requests with a deadline at or before this time
	Limit         int
}

func (f RequestFilter) matches(r *models.Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Requester != "" && r.Requester != f.Requester {
		return false
	}
	if f.Target != "" && r.Target != f.Target {
		return false
	}
	if f.ExpiredBefore != nil && (r.ExpiresAt == nil || r.ExpiresAt.After(*f.ExpiredBefore)) {
		return false
	}
	return true
}

// RequestMetrics contains aggregated ledger statistics for the metrics endpoint
type RequestMetrics struct {
	RequestsByStatus map[models.RequestStatus]int
	TotalRequests    int
	TotalEvents      uint64
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "oracle.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
