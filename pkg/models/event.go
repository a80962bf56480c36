package models

import "time"

// EventKind names a notification published by the oracle
type EventKind string

const (
	EventRequestLogged        EventKind = "RequestLogged"
	EventFulfilled            EventKind = "Fulfilled"
	EventOwnershipTransferred EventKind = "OwnershipTransferred"
	EventRequestCancelled     EventKind = "RequestCancelled"
	EventRequestExpired       EventKind = "RequestExpired"
)

// Event is an entry of the append-only event log. Seq is assigned by the
// store when the event is persisted and is the cursor observers poll with.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	RequestID Nonce     `json:"request_id,omitempty"`
	Requester Identity  `json:"requester,omitempty"`
	Target    Identity  `json:"target,omitempty"`
	Selector  *Selector `json:"selector,omitempty"`
	OldOwner  Identity  `json:"old_owner,omitempty"`
	NewOwner  Identity  `json:"new_owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRequestLogged builds the event announcing a new request
func NewRequestLogged(req *Request) *Event {
	sel := req.Selector
	return &Event{
		Kind:      EventRequestLogged,
		RequestID: req.ID,
		Requester: req.Requester,
		Target:    req.Target,
		Selector:  &sel,
		CreatedAt: req.CreatedAt,
	}
}

// NewRequestClosed builds the event for a pending request leaving the ledger's open set
func NewRequestClosed(kind EventKind, id Nonce, at time.Time) *Event {
	return &Event{Kind: kind, RequestID: id, CreatedAt: at}
}

// NewOwnershipTransferred builds the ownership change event
func NewOwnershipTransferred(oldOwner, newOwner Identity, at time.Time) *Event {
	return &Event{
		Kind:      EventOwnershipTransferred,
		OldOwner:  oldOwner,
		NewOwner:  newOwner,
		CreatedAt: at,
	}
}

// ClosingEvent maps a terminal request status to its event kind
func ClosingEvent(status RequestStatus) EventKind {
	switch status {
	case RequestStatusFulfilled:
		return EventFulfilled
	case RequestStatusCancelled:
		return EventRequestCancelled
	case RequestStatusExpired:
		return EventRequestExpired
	}
	return ""
}
