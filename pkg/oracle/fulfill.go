package oracle

import (
	"context"
	"fmt"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// FulfillData delivers payload to the target of request id. Only the owner
// may fulfill, and each request is delivered at most once. Delivery is
// validated before any state changes, so a failed call leaves no trace.
func (o *Oracle) FulfillData(ctx context.Context, caller models.Identity, id models.Nonce, payload []byte) (*models.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	req, apply, err := o.prepareFulfillment(caller, id, payload)
	if err != nil {
		o.recorder.FulfillmentRejected(ErrorKind(err))
		return nil, err
	}

	now := o.now()
	stored := append([]byte{}, payload...)
	ev, err := o.closeRequest(id, models.RequestStatusFulfilled, stored, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record fulfillment: %w", err)
	}
	apply()

	req.Status = models.RequestStatusFulfilled
	req.Payload = stored
	req.ClosedAt = &now

	o.recorder.RequestClosed(models.RequestStatusFulfilled)
	o.logger.Info("Request fulfilled", map[string]interface{}{
		"request_id": id,
		"target":     req.Target.String(),
		"bytes":      len(payload),
	})
	o.emitter.Publish(*ev)
	return req, nil
}

// prepareFulfillment runs every check in order; caller holds o.mu
func (o *Oracle) prepareFulfillment(caller models.Identity, id models.Nonce, payload []byte) (*models.Request, func(), error) {
	if caller != o.owner {
		return nil, nil, ErrUnauthorized
	}
	req, err := o.loadRequest(id)
	if err != nil {
		return nil, nil, err
	}
	if err := closedError(req); err != nil {
		return nil, nil, err
	}
	if req.Expired(o.now()) {
		return nil, nil, fmt.Errorf("%w: %d", ErrRequestExpired, id)
	}
	apply, err := o.targets.prepare(req, payload)
	if err != nil {
		o.logger.Warn("Fulfillment rejected", map[string]interface{}{
			"request_id": id,
			"error":      err.Error(),
		})
		return nil, nil, err
	}
	return req, apply, nil
}
