package oracle

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// ValueReceiver accepts raw bytes for the setValue(bytes) handler
type ValueReceiver interface {
	SetValue(id models.Nonce, value []byte)
}

// Bytes32Receiver accepts a fixed 32-byte word for the setBytes32(bytes32) handler
type Bytes32Receiver interface {
	SetBytes32(id models.Nonce, value [32]byte)
}

// PriceReceiver accepts an unsigned integer for the setPrice(uint256) handler
type PriceReceiver interface {
	SetPrice(id models.Nonce, price *big.Int)
}

// TextReceiver accepts a UTF-8 string for the setText(string) handler
type TextReceiver interface {
	SetText(id models.Nonce, text string)
}

// Target is any value implementing at least one receiver interface
type Target interface{}

// TargetRegistry maps identities to the in-process targets fulfillments are delivered to
type TargetRegistry struct {
	mu      sync.RWMutex
	targets map[models.Identity]Target
}

// NewTargetRegistry creates an empty registry
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{targets: make(map[models.Identity]Target)}
}

// Register binds target to id, replacing any previous binding
func (r *TargetRegistry) Register(id models.Identity, target Target) error {
	if !id.Valid() || id.IsZero() {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	}
	if len(supportedKinds(target)) == 0 {
		return fmt.Errorf("target %s implements no handler", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[id] = target
	return nil
}

// Lookup returns the target bound to id
func (r *TargetRegistry) Lookup(id models.Identity) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

// Identities lists registered identities in sorted order
func (r *TargetRegistry) Identities() []models.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Identity, 0, len(r.targets))
	for id := range r.targets {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Supports returns the handler kinds the target bound to id implements
func (r *TargetRegistry) Supports(id models.Identity) []models.HandlerKind {
	t, ok := r.Lookup(id)
	if !ok {
		return nil
	}
	return supportedKinds(t)
}

func supportedKinds(t Target) []models.HandlerKind {
	var kinds []models.HandlerKind
	if _, ok := t.(Bytes32Receiver); ok {
		kinds = append(kinds, models.HandlerBytes32)
	}
	if _, ok := t.(PriceReceiver); ok {
		kinds = append(kinds, models.HandlerPrice)
	}
	if _, ok := t.(TextReceiver); ok {
		kinds = append(kinds, models.HandlerText)
	}
	if _, ok := t.(ValueReceiver); ok {
		kinds = append(kinds, models.HandlerValue)
	}
	return kinds
}

// prepare validates a delivery of payload for req without touching the
// target. The returned func performs the delivery and cannot fail.
func (r *TargetRegistry) prepare(req *models.Request, payload []byte) (func(), error) {
	target, ok := r.Lookup(req.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, req.Target)
	}
	variant, ok := models.LookupHandler(req.Selector)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSelector, req.Selector)
	}

	id := req.ID
	switch variant.Kind {
	case models.HandlerValue:
		recv, ok := target.(ValueReceiver)
		if !ok {
			return nil, unsupported(req, variant)
		}
		value := append([]byte(nil), payload...)
		return func() { recv.SetValue(id, value) }, nil

	case models.HandlerBytes32:
		recv, ok := target.(Bytes32Receiver)
		if !ok {
			return nil, unsupported(req, variant)
		}
		if len(payload) > 32 {
			return nil, fmt.Errorf("%w: %d bytes exceed bytes32", ErrInvalidPayload, len(payload))
		}
		var word [32]byte
		copy(word[:], payload)
		return func() { recv.SetBytes32(id, word) }, nil

	case models.HandlerPrice:
		recv, ok := target.(PriceReceiver)
		if !ok {
			return nil, unsupported(req, variant)
		}
		if len(payload) > 32 {
			return nil, fmt.Errorf("%w: %d bytes exceed uint256", ErrInvalidPayload, len(payload))
		}
		price := new(big.Int).SetBytes(payload)
		return func() { recv.SetPrice(id, price) }, nil

	case models.HandlerText:
		recv, ok := target.(TextReceiver)
		if !ok {
			return nil, unsupported(req, variant)
		}
		if !utf8.Valid(payload) {
			return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidPayload)
		}
		text := string(payload)
		return func() { recv.SetText(id, text) }, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedSelector, req.Selector)
}

func unsupported(req *models.Request, v models.HandlerVariant) error {
	return fmt.Errorf("%w: target %s does not implement %s", ErrUnsupportedSelector, req.Target, v.Signature)
}
