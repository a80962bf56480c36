// Package adapter implements the off-core Oracle Adapter: it follows the
// oracle's event log, resolves each new request from a configured feed and
// submits the answer as the owner.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/client"
	"github.com/psantana5/phoenix-oracle/pkg/logging"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/retry"
	"github.com/psantana5/phoenix-oracle/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// OracleClient is the part of the API the adapter uses
type OracleClient interface {
	Events(ctx context.Context, after uint64, limit int) (*models.EventList, error)
	Fulfill(ctx context.Context, id models.Nonce, payload []byte) (*models.Request, error)
}

// Stats counts what the adapter has done since it started
type Stats struct {
	Cursor    uint64 `json:"cursor"`
	Seen      int64  `json:"seen"`
	Fulfilled int64  `json:"fulfilled"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
}

// Adapter polls for RequestLogged events and fulfills them
type Adapter struct {
	client    OracleClient
	resolver  *Resolver
	feeds     []Feed
	interval  time.Duration
	batchSize int
	policy    retry.Config
	tracer    *tracing.Provider
	logger    *logging.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates an adapter from a validated config
func New(cfg *Config, oc OracleClient, resolver *Resolver, tracer *tracing.Provider, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	if tracer == nil {
		tracer, _ = tracing.InitTracer(tracing.Config{ServiceName: "oracle-adapter"}, logger)
	}
	if resolver == nil {
		resolver = NewResolver(nil)
	}

	a := &Adapter{
		client:    oc,
		resolver:  resolver,
		feeds:     cfg.Feeds,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
		policy:    cfg.RetryPolicy(),
		tracer:    tracer,
		logger:    logger.WithField("component", "adapter"),
	}
	a.stats.Cursor = cfg.StartAfter
	a.policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		a.logger.Warn("Fulfillment attempt failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"backoff": backoff.String(),
			"error":   err.Error(),
		})
	}
	return a
}

// Run polls until ctx is cancelled
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("Adapter started", map[string]interface{}{
		"cursor":   a.Stats().Cursor,
		"feeds":    len(a.feeds),
		"interval": a.interval.String(),
	})

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if _, err := a.PollOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("Poll failed", map[string]interface{}{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			a.logger.Info("Adapter stopped", map[string]interface{}{"cursor": a.Stats().Cursor})
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce handles every event after the cursor, one page at a time, and
// returns how many events it consumed. The cursor advances past each event
// once it has been handled, whether or not its fulfillment succeeded.
func (a *Adapter) PollOnce(ctx context.Context) (int, error) {
	consumed := 0
	for {
		cursor := a.Stats().Cursor
		page, err := a.client.Events(ctx, cursor, a.batchSize)
		if err != nil {
			return consumed, fmt.Errorf("failed to read events: %w", err)
		}

		for _, ev := range page.Events {
			if err := ctx.Err(); err != nil {
				return consumed, err
			}
			if ev.Kind == models.EventRequestLogged {
				a.handle(ctx, ev)
			}
			a.mu.Lock()
			a.stats.Cursor = ev.Seq
			a.mu.Unlock()
			consumed++
		}

		if len(page.Events) < a.batchSize {
			return consumed, nil
		}
	}
}

func (a *Adapter) handle(ctx context.Context, ev models.Event) {
	a.count(func(s *Stats) { s.Seen++ })
	if ev.Selector == nil {
		a.count(func(s *Stats) { s.Skipped++ })
		return
	}

	feed := a.feedFor(ev.Target, *ev.Selector)
	if feed == nil {
		a.logger.Debug("No feed for request", map[string]interface{}{
			"request_id": ev.RequestID,
			"target":     ev.Target.String(),
			"selector":   ev.Selector.String(),
		})
		a.count(func(s *Stats) { s.Skipped++ })
		return
	}

	ctx, span := a.tracer.StartSpan(ctx, "adapter.fulfill",
		attribute.Int64("oracle.request_id", int64(ev.RequestID)),
		attribute.String("oracle.feed", feed.Name),
		attribute.String("oracle.selector", ev.Selector.String()),
	)
	defer span.End()

	if err := a.fulfill(ctx, ev, feed); err != nil {
		tracing.SetError(ctx, err)
		a.count(func(s *Stats) { s.Failed++ })
		a.logger.Error("Failed to fulfill request", map[string]interface{}{
			"request_id": ev.RequestID,
			"feed":       feed.Name,
			"error":      err.Error(),
		})
		return
	}
	a.count(func(s *Stats) { s.Fulfilled++ })
	a.logger.Info("Request fulfilled", map[string]interface{}{
		"request_id": ev.RequestID,
		"feed":       feed.Name,
	})
}

func (a *Adapter) fulfill(ctx context.Context, ev models.Event, feed *Feed) error {
	variant, ok := models.LookupHandler(*ev.Selector)
	if !ok {
		return fmt.Errorf("%w: unknown selector %s", ErrUnencodable, ev.Selector)
	}

	value, err := a.resolve(ctx, feed)
	if err != nil {
		return err
	}
	payload, err := Encode(variant.Kind, value, feed.times)
	if err != nil {
		return err
	}
	tracing.AddEvent(ctx, "resolved", attribute.Int("payload.bytes", len(payload)))

	return retry.Do(ctx, a.policy, func() error {
		_, err := a.client.Fulfill(ctx, ev.RequestID, payload)
		if isPermanent(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (a *Adapter) resolve(ctx context.Context, feed *Feed) (string, error) {
	ctx, span := a.tracer.StartSpan(ctx, "adapter.resolve", attribute.String("feed.url", feed.URL))
	defer span.End()

	var value string
	err := retry.Do(ctx, a.policy, func() error {
		v, err := a.resolver.Fetch(ctx, feed)
		if err != nil {
			if !retry.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		tracing.SetError(ctx, err)
	}
	return value, err
}

func (a *Adapter) feedFor(target models.Identity, selector models.Selector) *Feed {
	for i := range a.feeds {
		if a.feeds[i].matches(target, selector) {
			return &a.feeds[i]
		}
	}
	return nil
}

func (a *Adapter) count(fn func(*Stats)) {
	a.mu.Lock()
	fn(&a.stats)
	a.mu.Unlock()
}

// Stats returns a copy of the counters
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// isPermanent reports whether the core rejected the fulfillment for a
// reason a retry cannot change
func isPermanent(err error) bool {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusGone,
		http.StatusUnprocessableEntity, http.StatusBadRequest, http.StatusUnauthorized:
		return true
	}
	return false
}
