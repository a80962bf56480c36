package oracle

import (
	"sync"

	"github.com/psantana5/phoenix-oracle/pkg/models"
)

// NonceAllocator hands out strictly increasing request ids
type NonceAllocator struct {
	mu   sync.Mutex
	last models.Nonce
}

// NewNonceAllocator continues the sequence after last
func NewNonceAllocator(last models.Nonce) *NonceAllocator {
	return &NonceAllocator{last: last}
}

// Allocate returns the next id and advances the counter
func (a *NonceAllocator) Allocate() models.Nonce {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	return a.last
}

// Release gives back n if it is the most recent allocation. It reports
// whether the counter moved back; older ids can no longer be reclaimed.
func (a *NonceAllocator) Release(n models.Nonce) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n != a.last || n == 0 {
		return false
	}
	a.last--
	return true
}

// Last returns the most recently allocated id
func (a *NonceAllocator) Last() models.Nonce {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
