package models

import (
	"time"
)

// Nonce correlates a request with its fulfillment
type Nonce = uint64

// Request is an entry in the request ledger
type Request struct {
	ID        Nonce         `json:"id"`
	UID       string        `json:"uid"`
	Requester Identity      `json:"requester"`
	Target    Identity      `json:"target"`
	Selector  Selector      `json:"selector"`
	Status    RequestStatus `json:"status"`
	Payload   []byte        `json:"payload,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
}

// Expired reports whether the request has a deadline at or before now
func (r *Request) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Clone returns a deep copy so callers cannot mutate stored state
func (r *Request) Clone() *Request {
	c := *r
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// IntakeRequest is the body of POST /requests
type IntakeRequest struct {
	Target   string `json:"target"`
	Selector string `json:"selector"`
}

// FulfillmentRequest is the body of POST /requests/{id}/fulfill.
// Payload is hex encoded, with or without a 0x prefix.
type FulfillmentRequest struct {
	Payload string `json:"payload"`
}

// OwnershipTransferRequest is the body of POST /owner/transfer
type OwnershipTransferRequest struct {
	NewOwner string `json:"new_owner"`
}
