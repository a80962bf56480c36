package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrKeyExpired = errors.New("key expired")
)

// KeyRing maps identities to bcrypt hashes of their API keys
type KeyRing struct {
	keys map[models.Identity]*KeyInfo
	cost int
	mu   sync.RWMutex
}

// KeyInfo contains key metadata
type KeyInfo struct {
	Identity  models.Identity
	Hash      string
	Label     string
	CreatedAt time.Time
	ExpiresAt time.Time // zero means the key never expires
}

func (k *KeyInfo) expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}

// NewKeyRing creates an empty key ring hashing with the given bcrypt cost.
// A cost of zero uses bcrypt.DefaultCost.
func NewKeyRing(cost int) *KeyRing {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &KeyRing{
		keys: make(map[models.Identity]*KeyInfo),
		cost: cost,
	}
}

// GenerateKey creates a random key for id, replacing any previous one.
// A zero ttl creates a key that never expires.
func (kr *KeyRing) GenerateKey(id models.Identity, label string, ttl time.Duration) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrMalformedIdentity, id)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	key := base64.URLEncoding.EncodeToString(keyBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), kr.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}

	info := &KeyInfo{
		Identity:  id,
		Hash:      string(hash),
		Label:     label,
		CreatedAt: time.Now(),
	}
	if ttl > 0 {
		info.ExpiresAt = info.CreatedAt.Add(ttl)
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys[id] = info
	return key, nil
}

// AddHash installs a precomputed bcrypt hash, as loaded from a key file
func (kr *KeyRing) AddHash(info KeyInfo) error {
	if !info.Identity.Valid() {
		return fmt.Errorf("%w: %q", models.ErrMalformedIdentity, info.Identity)
	}
	if _, err := bcrypt.Cost([]byte(info.Hash)); err != nil {
		return fmt.Errorf("invalid hash for %s: %w", info.Identity, err)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys[info.Identity] = &info
	return nil
}

// Validate checks key against the hash stored for id
func (kr *KeyRing) Validate(id models.Identity, key string) error {
	kr.mu.RLock()
	info, ok := kr.keys[id]
	kr.mu.RUnlock()
	if !ok {
		return ErrInvalidKey
	}

	if info.expired(time.Now()) {
		return ErrKeyExpired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(info.Hash), []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// Revoke removes the key for id
func (kr *KeyRing) Revoke(id models.Identity) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	delete(kr.keys, id)
}

// CleanupExpired removes expired keys and returns how many were removed
func (kr *KeyRing) CleanupExpired() int {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, info := range kr.keys {
		if info.expired(now) {
			delete(kr.keys, id)
			removed++
		}
	}
	return removed
}

// Keys returns a copy of every key entry ordered by identity
func (kr *KeyRing) Keys() []KeyInfo {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	out := make([]KeyInfo, 0, len(kr.keys))
	for _, info := range kr.keys {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Len returns the number of keys
func (kr *KeyRing) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.keys)
}
