package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	mu       sync.RWMutex
	owner    models.Identity
	requests map[models.Nonce]*models.Request
	byUID    map[string]models.Nonce
	lastID   models.Nonce
	events   []models.Event
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[models.Nonce]*models.Request),
		byUID:    make(map[string]models.Nonce),
		events:   make([]models.Event, 0),
	}
}

// Owner operations

// GetOwner returns the current owner
func (s *MemoryStore) GetOwner() (models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.owner == "" {
		return "", ErrOwnerNotSet
	}
	return s.owner, nil
}

// InitOwner sets the owner if none has been recorded yet
func (s *MemoryStore) InitOwner(owner models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner == "" {
		s.owner = owner
	}
	return nil
}

// TransferOwner replaces the owner if it still equals from
func (s *MemoryStore) TransferOwner(from, to models.Identity, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != from {
		return ErrOwnerMismatch
	}
	s.owner = to
	s.appendEvent(ev)
	return nil
}

// Request operations

// LastRequestID returns the largest stored request id, or zero
func (s *MemoryStore) LastRequestID() (models.Nonce, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID, nil
}

// CreateRequest stores a new request together with its event
func (s *MemoryStore) CreateRequest(req *models.Request, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateRequest, req.ID)
	}
	if _, exists := s.byUID[req.UID]; exists {
		return fmt.Errorf("%w: uid %s", ErrDuplicateRequest, req.UID)
	}

	s.requests[req.ID] = req.Clone()
	s.byUID[req.UID] = req.ID
	if req.ID > s.lastID {
		s.lastID = req.ID
	}
	s.appendEvent(ev)
	return nil
}

// GetRequest retrieves a request by id
func (s *MemoryStore) GetRequest(id models.Nonce) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req.Clone(), nil
}

// GetRequestByUID retrieves a request by its external uid
func (s *MemoryStore) GetRequestByUID(uid string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUID[uid]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return s.requests[id].Clone(), nil
}

// ListRequests returns matching requests ordered by id
func (s *MemoryStore) ListRequests(filter RequestFilter) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Request, 0)
	for _, req := range s.requests {
		if filter.matches(req) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CloseRequest moves a pending request to a terminal state
func (s *MemoryStore) CloseRequest(id models.Nonce, to models.RequestStatus, payload []byte, at time.Time, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != models.RequestStatusPending {
		return fmt.Errorf("%w: request %d is %s", ErrStatusConflict, id, req.Status)
	}
	if err := models.ValidateTransition(req.Status, to); err != nil {
		return err
	}

	req.Status = to
	if payload != nil {
		req.Payload = append([]byte(nil), payload...)
	}
	closedAt := at
	req.ClosedAt = &closedAt
	s.appendEvent(ev)
	return nil
}

// Event log

// Events returns up to limit events with Seq greater than after
func (s *MemoryStore) Events(after uint64, limit int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Seq is 1-based and dense, so the slice index is Seq-1
	if after >= uint64(len(s.events)) {
		return []models.Event{}, nil
	}
	tail := s.events[after:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]models.Event, len(tail))
	copy(out, tail)
	return out, nil
}

// appendEvent assigns the next sequence number; caller holds s.mu
func (s *MemoryStore) appendEvent(ev *models.Event) {
	if ev == nil {
		return
	}
	ev.Seq = uint64(len(s.events)) + 1
	s.events = append(s.events, *ev)
}

// Lifecycle

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// GetRequestMetrics aggregates ledger statistics
func (s *MemoryStore) GetRequestMetrics() (*RequestMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := &RequestMetrics{
		RequestsByStatus: make(map[models.RequestStatus]int),
		TotalRequests:    len(s.requests),
		TotalEvents:      uint64(len(s.events)),
	}
	for _, req := range s.requests {
		m.RequestsByStatus[req.Status]++
	}
	return m, nil
}
