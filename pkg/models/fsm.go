package models

import (
	"fmt"
)

// RequestStatus represents the lifecycle state of a request
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"   // Logged, waiting for the owner to fulfill
	RequestStatusFulfilled RequestStatus = "fulfilled" // Payload delivered to the target
	RequestStatusCancelled RequestStatus = "cancelled" // Withdrawn by the requester
	RequestStatusExpired   RequestStatus = "expired"   // Deadline passed before fulfillment
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[RequestStatus]map[RequestStatus]bool{
	RequestStatusPending: {
		RequestStatusFulfilled: true,
		RequestStatusCancelled: true,
		RequestStatusExpired:   true,
	},
	// Terminal states
	RequestStatusFulfilled: {},
	RequestStatusCancelled: {},
	RequestStatusExpired:   {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to RequestStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state RequestStatus) bool {
	allowed, exists := validTransitions[state]
	return exists && len(allowed) == 0
}

// ParseRequestStatus accepts the lowercase status names; empty means any
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case "", RequestStatusPending, RequestStatusFulfilled, RequestStatusCancelled, RequestStatusExpired:
		return RequestStatus(s), nil
	}
	return "", fmt.Errorf("unknown request status: %s", s)
}
