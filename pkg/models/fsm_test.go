package models

import (
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RequestStatus
		to      RequestStatus
		wantErr bool
	}{
		// Valid transitions
		{"Pending to Fulfilled", RequestStatusPending, RequestStatusFulfilled, false},
		{"Pending to Cancelled", RequestStatusPending, RequestStatusCancelled, false},
		{"Pending to Expired", RequestStatusPending, RequestStatusExpired, false},

		// Invalid transitions
		{"Fulfilled to Fulfilled", RequestStatusFulfilled, RequestStatusFulfilled, true},
		{"Fulfilled to Pending", RequestStatusFulfilled, RequestStatusPending, true},
		{"Cancelled to Fulfilled", RequestStatusCancelled, RequestStatusFulfilled, true},
		{"Expired to Fulfilled", RequestStatusExpired, RequestStatusFulfilled, true},
		{"Pending to Pending", RequestStatusPending, RequestStatusPending, true},
		{"Unknown source", RequestStatus("bogus"), RequestStatusFulfilled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    RequestStatus
		expected bool
	}{
		{"Fulfilled is terminal", RequestStatusFulfilled, true},
		{"Cancelled is terminal", RequestStatusCancelled, true},
		{"Expired is terminal", RequestStatusExpired, true},
		{"Pending is not terminal", RequestStatusPending, false},
		{"Unknown is not terminal", RequestStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminalState(tt.state); got != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestClosingEvent(t *testing.T) {
	if ClosingEvent(RequestStatusFulfilled) != EventFulfilled {
		t.Errorf("fulfilled should map to %s", EventFulfilled)
	}
	if ClosingEvent(RequestStatusExpired) != EventRequestExpired {
		t.Errorf("expired should map to %s", EventRequestExpired)
	}
	if ClosingEvent(RequestStatusPending) != "" {
		t.Errorf("pending has no closing event")
	}
}
