package oracle

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller lacks the required identity
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidIdentity is returned for malformed or null identities
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrUnknownRequest is returned when no request has the given id
	ErrUnknownRequest = errors.New("unknown request")
	// ErrAlreadyFulfilled is returned when the request was already fulfilled
	ErrAlreadyFulfilled = errors.New("request already fulfilled")
	// ErrRequestClosed is returned when the request was cancelled or expired
	ErrRequestClosed = errors.New("request closed")
	// ErrRequestExpired is returned when a pending request is past its deadline
	ErrRequestExpired = errors.New("request expired")
	// ErrNoOwner is returned by New when neither the store nor the config name an owner
	ErrNoOwner = errors.New("no owner configured")

	// ErrDispatchFailed wraps every reason a fulfillment cannot be delivered
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrUnknownTarget means no target is registered under the request's target identity
	ErrUnknownTarget = fmt.Errorf("%w: unknown target", ErrDispatchFailed)
	// ErrUnsupportedSelector means the selector names no handler the target implements
	ErrUnsupportedSelector = fmt.Errorf("%w: unsupported selector", ErrDispatchFailed)
	// ErrInvalidPayload means the payload cannot be decoded for the selected handler
	ErrInvalidPayload = fmt.Errorf("%w: invalid payload", ErrDispatchFailed)
)

// ErrorKind names the error class of err for metrics labels and API bodies
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrUnknownRequest):
		return "unknown_request"
	case errors.Is(err, ErrAlreadyFulfilled):
		return "already_fulfilled"
	case errors.Is(err, ErrRequestClosed):
		return "request_closed"
	case errors.Is(err, ErrRequestExpired):
		return "request_expired"
	case errors.Is(err, ErrDispatchFailed):
		return "dispatch_failed"
	}
	return "internal"
}
