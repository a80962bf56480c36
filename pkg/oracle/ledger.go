package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/store"
)

// RequestData logs a new pending request from caller. Target and selector
// are opaque here; they are only checked when the request is fulfilled.
func (o *Oracle) RequestData(ctx context.Context, caller, target models.Identity, selector models.Selector) (*models.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !caller.Valid() || caller.IsZero() {
		return nil, fmt.Errorf("%w: requester %q", ErrInvalidIdentity, caller)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	req := &models.Request{
		ID:        o.nonces.Allocate(),
		UID:       uuid.NewString(),
		Requester: caller,
		Target:    target,
		Selector:  selector,
		Status:    models.RequestStatusPending,
		CreatedAt: now,
	}
	if o.ttl > 0 {
		deadline := now.Add(o.ttl)
		req.ExpiresAt = &deadline
	}

	ev := models.NewRequestLogged(req)
	if err := o.store.CreateRequest(req, ev); err != nil {
		o.nonces.Release(req.ID)
		return nil, fmt.Errorf("failed to store request: %w", err)
	}

	o.recorder.RequestLogged()
	o.logger.Info("Request logged", map[string]interface{}{
		"request_id": req.ID,
		"requester":  caller.String(),
		"target":     target.String(),
		"selector":   selector.String(),
	})
	o.emitter.Publish(*ev)
	return req, nil
}

// CancelRequest withdraws a pending request. Only its requester may cancel it.
func (o *Oracle) CancelRequest(ctx context.Context, caller models.Identity, id models.Nonce) (*models.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	req, err := o.loadRequest(id)
	if err != nil {
		return nil, err
	}
	if caller != req.Requester {
		return nil, ErrUnauthorized
	}
	if err := closedError(req); err != nil {
		return nil, err
	}

	now := o.now()
	ev, err := o.closeRequest(id, models.RequestStatusCancelled, nil, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel request: %w", err)
	}
	req.Status = models.RequestStatusCancelled
	req.ClosedAt = &now

	o.recorder.RequestClosed(models.RequestStatusCancelled)
	o.logger.Info("Request cancelled", map[string]interface{}{"request_id": id})
	o.emitter.Publish(*ev)
	return req, nil
}

// ExpirePending moves every pending request whose deadline is at or before
// now to the expired state and returns how many were expired.
func (o *Oracle) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	overdue, err := o.store.ListRequests(store.RequestFilter{
		Status:        models.RequestStatusPending,
		ExpiredBefore: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue requests: %w", err)
	}

	expired := 0
	for _, req := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ev, err := o.closeRequest(req.ID, models.RequestStatusExpired, nil, now)
		if err != nil {
			return expired, fmt.Errorf("failed to expire request %d: %w", req.ID, err)
		}
		expired++
		o.recorder.RequestClosed(models.RequestStatusExpired)
		o.emitter.Publish(*ev)
	}

	if expired > 0 {
		o.logger.Info("Expired overdue requests", map[string]interface{}{"count": expired})
	}
	return expired, nil
}

// Request returns the request with the given id
func (o *Oracle) Request(id models.Nonce) (*models.Request, error) {
	return o.loadRequest(id)
}

// RequestByUID returns the request with the given external uid
func (o *Oracle) RequestByUID(uid string) (*models.Request, error) {
	req, err := o.store.GetRequestByUID(uid)
	if errors.Is(err, store.ErrRequestNotFound) {
		return nil, ErrUnknownRequest
	}
	return req, err
}

// Requests lists requests matching filter
func (o *Oracle) Requests(filter store.RequestFilter) ([]*models.Request, error) {
	return o.store.ListRequests(filter)
}

func (o *Oracle) loadRequest(id models.Nonce) (*models.Request, error) {
	req, err := o.store.GetRequest(id)
	if errors.Is(err, store.ErrRequestNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// closeRequest commits the move of id to a terminal status along with its
// closing event; caller holds o.mu
func (o *Oracle) closeRequest(id models.Nonce, status models.RequestStatus, payload []byte, now time.Time) (*models.Event, error) {
	if !models.IsTerminalState(status) {
		return nil, fmt.Errorf("cannot close request %d as %s", id, status)
	}
	ev := models.NewRequestClosed(models.ClosingEvent(status), id, now)
	if err := o.store.CloseRequest(id, status, payload, now, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// closedError reports why a non-pending request can no longer change
func closedError(req *models.Request) error {
	switch req.Status {
	case models.RequestStatusPending:
		return nil
	case models.RequestStatusFulfilled:
		return fmt.Errorf("%w: %d", ErrAlreadyFulfilled, req.ID)
	default:
		return fmt.Errorf("%w: request %d is %s", ErrRequestClosed, req.ID, req.Status)
	}
}
