package auth

import (
	"context"
	"errors"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

type contextKey string

const identityKey contextKey = "caller_identity"

var ErrNoIdentityInContext = errors.New("no caller identity in context")

// WithIdentity adds the authenticated caller to ctx
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity extracts the authenticated caller from ctx
func GetIdentity(ctx context.Context) (models.Identity, error) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	if !ok || id == "" {
		return "", ErrNoIdentityInContext
	}
	return id, nil
}
