package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/models"
	"gopkg.in/yaml.v3"
)

// KeyFile is the on-disk form of a key ring:
//
//	keys:
//	  - identity: 0x...
//	    hash: $2a$10$...
//	    label: adapter
type KeyFile struct {
	Keys []KeyEntry `yaml:"keys"`
}

// KeyEntry is one identity in a key file
type KeyEntry struct {
	Identity  string     `yaml:"identity"`
	Hash      string     `yaml:"hash"`
	Label     string     `yaml:"label,omitempty"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty"`
}

// LoadKeyFile reads a YAML key file into a new key ring
func LoadKeyFile(path string, cost int) (*KeyRing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var kf KeyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}

	ring := NewKeyRing(cost)
	for i, entry := range kf.Keys {
		id, err := models.ParseIdentity(entry.Identity)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		info := KeyInfo{Identity: id, Hash: entry.Hash, Label: entry.Label}
		if entry.ExpiresAt != nil {
			info.ExpiresAt = *entry.ExpiresAt
		}
		if err := ring.AddHash(info); err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
	}
	return ring, nil
}

// SaveKeyFile writes the hashes of ring to path with owner-only permissions
func SaveKeyFile(path string, ring *KeyRing) error {
	var kf KeyFile
	for _, info := range ring.Keys() {
		entry := KeyEntry{
			Identity: info.Identity.String(),
			Hash:     info.Hash,
			Label:    info.Label,
		}
		if !info.ExpiresAt.IsZero() {
			t := info.ExpiresAt
			entry.ExpiresAt = &t
		}
		kf.Keys = append(kf.Keys, entry)
	}

	data, err := yaml.Marshal(&kf)
	if err != nil {
		return fmt.Errorf("failed to encode key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}
