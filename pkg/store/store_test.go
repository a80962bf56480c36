package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

var (
	testOwner     = models.MustParseIdentity("0x1111111111111111111111111111111111111111")
	testNewOwner  = models.MustParseIdentity("0x2222222222222222222222222222222222222222")
	testRequester = models.MustParseIdentity("0x3333333333333333333333333333333333333333")
	testTarget    = models.MustParseIdentity("0x4444444444444444444444444444444444444444")
)

// backends returns a constructor per available store implementation
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	b := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "oracle.db"))
			if err != nil {
				t.Fatalf("Failed to create sqlite store: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		b["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgreSQLStore(Config{DSN: dsn})
			if err != nil {
				t.Fatalf("Failed to create postgres store: %v", err)
			}
			if _, err := s.db.Exec(`TRUNCATE requests, events, oracle_state RESTART IDENTITY`); err != nil {
				t.Fatalf("Failed to truncate tables: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

func newTestRequest(id models.Nonce, at time.Time) *models.Request {
	return &models.Request{
		ID:        id,
		UID:       fmt.Sprintf("uid-%d", id),
		Requester: testRequester,
		Target:    testTarget,
		Selector:  models.SelectorSetValue,
		Status:    models.RequestStatusPending,
		CreatedAt: at,
	}
}

func TestStoreOwner(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)

			if _, err := s.GetOwner(); !errors.Is(err, ErrOwnerNotSet) {
				t.Fatalf("Expected ErrOwnerNotSet, got %v", err)
			}

			if err := s.InitOwner(testOwner); err != nil {
				t.Fatalf("InitOwner failed: %v", err)
			}
			// A second init must not override the recorded owner
			if err := s.InitOwner(testNewOwner); err != nil {
				t.Fatalf("InitOwner failed: %v", err)
			}
			owner, err := s.GetOwner()
			if err != nil || owner != testOwner {
				t.Fatalf("Expected owner %s, got %s (%v)", testOwner, owner, err)
			}

			ev := models.NewOwnershipTransferred(testOwner, testNewOwner, time.Now().UTC())
			if err := s.TransferOwner(testOwner, testNewOwner, ev); err != nil {
				t.Fatalf("TransferOwner failed: %v", err)
			}
			if ev.Seq != 1 {
				t.Errorf("Expected event seq 1, got %d", ev.Seq)
			}

			if err := s.TransferOwner(testOwner, testOwner, nil); !errors.Is(err, ErrOwnerMismatch) {
				t.Errorf("Expected ErrOwnerMismatch, got %v", err)
			}

			owner, _ = s.GetOwner()
			if owner != testNewOwner {
				t.Errorf("Expected owner %s, got %s", testNewOwner, owner)
			}
		})
	}
}

func TestStoreRequestLifecycle(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			now := time.Now().UTC().Truncate(time.Millisecond)

			last, err := s.LastRequestID()
			if err != nil || last != 0 {
				t.Fatalf("Expected last id 0, got %d (%v)", last, err)
			}

			req := newTestRequest(1, now)
			expires := now.Add(time.Minute)
			req.ExpiresAt = &expires
			ev := models.NewRequestLogged(req)
			if err := s.CreateRequest(req, ev); err != nil {
				t.Fatalf("CreateRequest failed: %v", err)
			}
			if ev.Seq != 1 {
				t.Errorf("Expected event seq 1, got %d", ev.Seq)
			}

			if err := s.CreateRequest(newTestRequest(1, now), nil); !errors.Is(err, ErrDuplicateRequest) {
				t.Errorf("Expected ErrDuplicateRequest, got %v", err)
			}

			got, err := s.GetRequest(1)
			if err != nil {
				t.Fatalf("GetRequest failed: %v", err)
			}
			if got.Status != models.RequestStatusPending || got.Selector != models.SelectorSetValue {
				t.Errorf("Unexpected request: %+v", got)
			}
			if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
				t.Errorf("Expected expiry %v, got %v", expires, got.ExpiresAt)
			}
			if !got.CreatedAt.Equal(now) {
				t.Errorf("Expected created_at %v, got %v", now, got.CreatedAt)
			}

			byUID, err := s.GetRequestByUID("uid-1")
			if err != nil || byUID.ID != 1 {
				t.Errorf("GetRequestByUID returned %+v, %v", byUID, err)
			}

			if _, err := s.GetRequest(99); !errors.Is(err, ErrRequestNotFound) {
				t.Errorf("Expected ErrRequestNotFound, got %v", err)
			}

			payload := []byte("hello")
			closeEv := models.NewRequestClosed(models.EventFulfilled, 1, now)
			if err := s.CloseRequest(1, models.RequestStatusFulfilled, payload, now, closeEv); err != nil {
				t.Fatalf("CloseRequest failed: %v", err)
			}
			if closeEv.Seq != 2 {
				t.Errorf("Expected event seq 2, got %d", closeEv.Seq)
			}

			err = s.CloseRequest(1, models.RequestStatusCancelled, nil, now, nil)
			if !errors.Is(err, ErrStatusConflict) {
				t.Errorf("Expected ErrStatusConflict, got %v", err)
			}
			if err := s.CloseRequest(42, models.RequestStatusFulfilled, nil, now, nil); !errors.Is(err, ErrRequestNotFound) {
				t.Errorf("Expected ErrRequestNotFound, got %v", err)
			}

			got, _ = s.GetRequest(1)
			if got.Status != models.RequestStatusFulfilled || string(got.Payload) != "hello" || got.ClosedAt == nil {
				t.Errorf("Unexpected closed request: %+v", got)
			}

			last, _ = s.LastRequestID()
			if last != 1 {
				t.Errorf("Expected last id 1, got %d", last)
			}
		})
	}
}

func TestStoreListAndEvents(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			now := time.Now().UTC().Truncate(time.Millisecond)

			for i := models.Nonce(1); i <= 5; i++ {
				req := newTestRequest(i, now)
				if i%2 == 0 {
					deadline := now.Add(-time.Second)
					req.ExpiresAt = &deadline
				}
				if err := s.CreateRequest(req, models.NewRequestLogged(req)); err != nil {
					t.Fatalf("CreateRequest %d failed: %v", i, err)
				}
			}
			if err := s.CloseRequest(3, models.RequestStatusCancelled, nil, now,
				models.NewRequestClosed(models.EventRequestCancelled, 3, now)); err != nil {
				t.Fatalf("CloseRequest failed: %v", err)
			}

			pending, err := s.ListRequests(RequestFilter{Status: models.RequestStatusPending})
			if err != nil {
				t.Fatalf("ListRequests failed: %v", err)
			}
			if len(pending) != 4 {
				t.Errorf("Expected 4 pending requests, got %d", len(pending))
			}
			for i := 1; i < len(pending); i++ {
				if pending[i-1].ID >= pending[i].ID {
					t.Errorf("Requests not ordered by id")
				}
			}

			overdue, _ := s.ListRequests(RequestFilter{Status: models.RequestStatusPending, ExpiredBefore: &now})
			if len(overdue) != 2 {
				t.Errorf("Expected 2 overdue requests, got %d", len(overdue))
			}

			limited, _ := s.ListRequests(RequestFilter{Limit: 2})
			if len(limited) != 2 || limited[0].ID != 1 {
				t.Errorf("Unexpected limited list: %d entries", len(limited))
			}

			events, err := s.Events(0, 0)
			if err != nil {
				t.Fatalf("Events failed: %v", err)
			}
			if len(events) != 6 {
				t.Fatalf("Expected 6 events, got %d", len(events))
			}
			if events[0].Kind != models.EventRequestLogged || events[0].Selector == nil ||
				*events[0].Selector != models.SelectorSetValue {
				t.Errorf("Unexpected first event: %+v", events[0])
			}
			if events[5].Kind != models.EventRequestCancelled || events[5].RequestID != 3 || events[5].Selector != nil {
				t.Errorf("Unexpected last event: %+v", events[5])
			}

			page, _ := s.Events(events[3].Seq, 1)
			if len(page) != 1 || page[0].Seq != events[4].Seq {
				t.Errorf("Expected event after cursor, got %+v", page)
			}
			if tail, _ := s.Events(events[5].Seq, 10); len(tail) != 0 {
				t.Errorf("Expected empty tail, got %d events", len(tail))
			}

			m, err := s.GetRequestMetrics()
			if err != nil {
				t.Fatalf("GetRequestMetrics failed: %v", err)
			}
			if m.TotalRequests != 5 || m.RequestsByStatus[models.RequestStatusCancelled] != 1 || m.TotalEvents != 6 {
				t.Errorf("Unexpected metrics: %+v", m)
			}
		})
	}
}

// TestSQLiteConcurrentCreates checks that concurrent writers do not hit SQLITE_BUSY
func TestSQLiteConcurrentCreates(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "concurrent.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id models.Nonce) {
			defer wg.Done()
			req := newTestRequest(id, time.Now().UTC())
			errs <- s.CreateRequest(req, models.NewRequestLogged(req))
		}(models.Nonce(i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent create failed: %v", err)
		}
	}

	events, _ := s.Events(0, 0)
	if len(events) != n {
		t.Errorf("Expected %d events, got %d", n, len(events))
	}
}

func TestRebind(t *testing.T) {
	s := &sqlStore{dialect: postgresDialect}
	got := s.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("Unexpected rebind: %s", got)
	}
	s = &sqlStore{dialect: sqliteDialect}
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %s", got)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	if _, err := NewStore(Config{Type: "oracle-db"}); !errors.Is(err, ErrUnsupportedDatabase) {
		t.Errorf("Expected ErrUnsupportedDatabase, got %v", err)
	}
}
