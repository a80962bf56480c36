package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/psantana5/phoenix-oracle/pkg/logging"
	"github.com/psantana5/phoenix-oracle/pkg/models"
)

const (
	// IdentityHeader carries the identity the caller claims
	IdentityHeader = "X-Oracle-Identity"
	bearerPrefix   = "Bearer "
)

// Middleware authenticates every request except those whose path is in
// skip, and stores the caller identity in the request context.
func Middleware(ring *KeyRing, logger *logging.Logger, skip ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(skip))
	for _, p := range skip {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			id, err := Authenticate(ring, r)
			if err != nil {
				logger.Warn("Authentication failed", map[string]interface{}{
					"path":     r.URL.Path,
					"identity": r.Header.Get(IdentityHeader),
					"error":    err.Error(),
				})
				writeUnauthenticated(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

var errMissingCredentials = errors.New("missing identity or bearer key")

// Authenticate verifies the identity header and bearer key of r
func Authenticate(ring *KeyRing, r *http.Request) (models.Identity, error) {
	header := r.Header.Get("Authorization")
	rawID := r.Header.Get(IdentityHeader)
	if rawID == "" || !strings.HasPrefix(header, bearerPrefix) {
		return "", errMissingCredentials
	}

	id, err := models.ParseIdentity(rawID)
	if err != nil {
		return "", err
	}
	if err := ring.Validate(id, strings.TrimPrefix(header, bearerPrefix)); err != nil {
		return "", err
	}
	return id, nil
}

func writeUnauthenticated(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="oracle"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthenticated",
		"message": err.Error(),
	})
}
