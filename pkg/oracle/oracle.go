package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/logging"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/store"
)

// Recorder receives operation outcomes for metrics
type Recorder interface {
	RequestLogged()
	RequestClosed(status models.RequestStatus)
	FulfillmentRejected(reason string)
	OwnershipTransferred()
}

type nopRecorder struct{}

func (nopRecorder) RequestLogged() {}
func (nopRecorder) RequestClosed(models.RequestStatus) {}
func (nopRecorder) FulfillmentRejected(string) {}
func (nopRecorder) OwnershipTransferred() {}

// Config configures an Oracle
type Config struct {
	// Owner is used only when the store has no owner recorded yet
	Owner models.Identity
	// RequestTTL is how long a request stays fulfillable; zero means forever
	RequestTTL time.Duration
	Logger     *logging.Logger
	Recorder   Recorder
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Oracle correlates requests with owner-submitted fulfillments.
// Every mutating operation runs under mu so their effects form one total order.
type Oracle struct {
	mu       sync.Mutex
	store    store.Store
	targets  *TargetRegistry
	emitter  *Emitter
	nonces   *NonceAllocator
	owner    models.Identity
	ttl      time.Duration
	logger   *logging.Logger
	recorder Recorder
	now      func() time.Time
}

// New loads protocol state from st and returns a ready Oracle
func New(st store.Store, targets *TargetRegistry, cfg Config) (*Oracle, error) {
	if cfg.Owner != "" {
		if !cfg.Owner.Valid() || cfg.Owner.IsZero() {
			return nil, fmt.Errorf("%w: owner %q", ErrInvalidIdentity, cfg.Owner)
		}
		if err := st.InitOwner(cfg.Owner); err != nil {
			return nil, fmt.Errorf("failed to record owner: %w", err)
		}
	}

	owner, err := st.GetOwner()
	if errors.Is(err, store.ErrOwnerNotSet) {
		return nil, ErrNoOwner
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}

	last, err := st.LastRequestID()
	if err != nil {
		return nil, fmt.Errorf("failed to load last request id: %w", err)
	}

	if targets == nil {
		targets = NewTargetRegistry()
	}
	o := &Oracle{
		store:    st,
		targets:  targets,
		emitter:  NewEmitter(),
		nonces:   NewNonceAllocator(last),
		owner:    owner,
		ttl:      cfg.RequestTTL,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		now:      cfg.Now,
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}

	if owner != cfg.Owner && cfg.Owner != "" {
		o.logger.Warn("Configured owner ignored, using persisted owner", map[string]interface{}{
			"configured": cfg.Owner.String(),
			"owner":      owner.String(),
		})
	}
	o.logger.Info("Oracle loaded", map[string]interface{}{
		"owner":           owner.String(),
		"last_request_id": last,
	})
	return o, nil
}

// Owner returns the identity allowed to fulfill and transfer ownership
func (o *Oracle) Owner() models.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owner
}

// Emitter returns the in-process event fan-out
func (o *Oracle) Emitter() *Emitter {
	return o.emitter
}

// Targets returns the dispatch registry
func (o *Oracle) Targets() *TargetRegistry {
	return o.targets
}

// Store returns the underlying store for read-only use
func (o *Oracle) Store() store.Store {
	return o.store
}

// Events reads the durable event log after the given sequence number
func (o *Oracle) Events(after uint64, limit int) ([]models.Event, error) {
	return o.store.Events(after, limit)
}
