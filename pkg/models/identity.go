package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// IdentityLength is the number of bytes in an identity
const IdentityLength = 20

var ErrMalformedIdentity = errors.New("malformed identity")

// Identity names a party of the protocol: a requester, a target or the owner.
// The canonical form is "0x" followed by 40 lowercase hex characters.
type Identity string

// ZeroIdentity is the null identity. It is never a valid owner.
const ZeroIdentity Identity = "0x0000000000000000000000000000000000000000"

// ParseIdentity validates s and returns its canonical form
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: %q has no 0x prefix", ErrMalformedIdentity, s)
	}
	body := s[2:]
	if len(body) != IdentityLength*2 {
		return "", fmt.Errorf("%w: %q must have %d hex digits", ErrMalformedIdentity, s, IdentityLength*2)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q is not hex", ErrMalformedIdentity, s)
	}
	return Identity("0x" + strings.ToLower(body)), nil
}

// MustParseIdentity is ParseIdentity for constants and tests
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether id is the null identity
func (id Identity) IsZero() bool {
	return id == ZeroIdentity
}

// Valid reports whether id is in canonical form
func (id Identity) Valid() bool {
	parsed, err := ParseIdentity(string(id))
	return err == nil && parsed == id
}

func (id Identity) String() string {
	return string(id)
}

// Short returns an abbreviated form for tables and log lines
func (id Identity) Short() string {
	if len(id) < 12 {
		return string(id)
	}
	return string(id[:6]) + "…" + string(id[len(id)-4:])
}
