package oracle

import (
	"context"
	"fmt"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// TransferOwnership hands the owner role to newOwner. Only the current
// owner may call it, and newOwner must be a well-formed non-null identity.
func (o *Oracle) TransferOwnership(ctx context.Context, caller, newOwner models.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if caller != o.owner {
		return ErrUnauthorized
	}
	if !newOwner.Valid() || newOwner.IsZero() {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, newOwner)
	}

	old := o.owner
	ev := models.NewOwnershipTransferred(old, newOwner, o.now())
	if err := o.store.TransferOwner(old, newOwner, ev); err != nil {
		return fmt.Errorf("failed to persist owner: %w", err)
	}
	o.owner = newOwner

	o.recorder.OwnershipTransferred()
	o.logger.Info("Ownership transferred", map[string]interface{}{
		"old_owner": old.String(),
		"new_owner": newOwner.String(),
	})
	o.emitter.Publish(*ev)
	return nil
}
