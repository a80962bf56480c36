// Package consumer provides in-process fulfillment targets. A Consumer
// keeps the latest value delivered through each handler variant so a
// display layer can pull already-fulfilled data.
package consumer

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// maxHistory bounds the per-consumer delivery history
const maxHistory = 256

// Delivery records one fulfillment received by a consumer
type Delivery struct {
	RequestID  models.Nonce       `json:"request_id"`
	Kind       models.HandlerKind `json:"kind"`
	ReceivedAt time.Time          `json:"received_at"`
}

// Consumer implements every receiver interface of the dispatcher
type Consumer struct {
	mu      sync.RWMutex
	id      models.Identity
	name    string
	value   []byte
	word    [32]byte
	price   *big.Int
	text    string
	history []Delivery
	updated time.Time
	now     func() time.Time
}

// New creates an empty consumer
func New(id models.Identity, name string) *Consumer {
	return &Consumer{
		id:   id,
		name: name,
		now:  time.Now,
	}
}

// Identity returns the identity the consumer is registered under
func (c *Consumer) Identity() models.Identity {
	return c.id
}

// SetValue stores raw bytes
func (c *Consumer) SetValue(id models.Nonce, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), value...)
	c.record(id, models.HandlerValue)
}

// SetBytes32 stores a 32-byte word
func (c *Consumer) SetBytes32(id models.Nonce, value [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.word = value
	c.record(id, models.HandlerBytes32)
}

// SetPrice stores an unsigned integer
func (c *Consumer) SetPrice(id models.Nonce, price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = new(big.Int).Set(price)
	c.record(id, models.HandlerPrice)
}

// SetText stores a string
func (c *Consumer) SetText(id models.Nonce, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	c.record(id, models.HandlerText)
}

// record appends to the history; caller holds c.mu
func (c *Consumer) record(id models.Nonce, kind models.HandlerKind) {
	c.updated = c.now()
	c.history = append(c.history, Delivery{RequestID: id, Kind: kind, ReceivedAt: c.updated})
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
}

// Value returns a copy of the last setValue payload
func (c *Consumer) Value() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.value...)
}

// Bytes32 returns the last setBytes32 word
func (c *Consumer) Bytes32() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.word
}

// Price returns the last setPrice value, or nil if none was delivered
func (c *Consumer) Price() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.price == nil {
		return nil
	}
	return new(big.Int).Set(c.price)
}

// Text returns the last setText value
func (c *Consumer) Text() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.text
}

// History returns the deliveries received, oldest first
func (c *Consumer) History() []Delivery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Delivery, len(c.history))
	copy(out, c.history)
	return out
}

// Snapshot is the display view of a consumer
type Snapshot struct {
	Identity    models.Identity `json:"identity"`
	Name        string          `json:"name,omitempty"`
	Value       string          `json:"value,omitempty"`
	Bytes32     string          `json:"bytes32,omitempty"`
	Bytes32Text string          `json:"bytes32_text,omitempty"`
	Price       string          `json:"price,omitempty"`
	Text        string          `json:"text,omitempty"`
	Deliveries  []Delivery      `json:"deliveries"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
}

// Snapshot returns the current state for display
func (c *Consumer) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Identity:   c.id,
		Name:       c.name,
		Deliveries: make([]Delivery, len(c.history)),
	}
	copy(s.Deliveries, c.history)
	if c.value != nil {
		s.Value = "0x" + hex.EncodeToString(c.value)
	}
	if c.word != [32]byte{} {
		s.Bytes32 = "0x" + hex.EncodeToString(c.word[:])
		if trimmed := bytes.TrimRight(c.word[:], "\x00"); utf8.Valid(trimmed) {
			s.Bytes32Text = string(trimmed)
		}
	}
	if c.price != nil {
		s.Price = c.price.String()
	}
	s.Text = c.text
	if !c.updated.IsZero() {
		t := c.updated
		s.UpdatedAt = &t
	}
	return s
}

// Set is a directory of consumers keyed by identity
type Set struct {
	mu sync.RWMutex
	m  map[models.Identity]*Consumer
}

// NewSet creates an empty set
func NewSet() *Set {
	return &Set{m: make(map[models.Identity]*Consumer)}
}

// Add inserts c, replacing any consumer with the same identity
func (s *Set) Add(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[c.id] = c
}

// Get returns the consumer registered under id
func (s *Set) Get(id models.Identity) (*Consumer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.m[id]
	return c, ok
}

// All returns every consumer ordered by identity
func (s *Set) All() []*Consumer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Consumer, 0, len(s.m))
	for _, c := range s.m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
