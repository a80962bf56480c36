package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// SelectorLength is the size of a callback selector in bytes
const SelectorLength = 4

var ErrMalformedSelector = errors.New("malformed selector")

// Selector is the opaque 4-byte tag a requester attaches to a request to
// name the handler that receives the fulfillment payload.
type Selector [SelectorLength]byte

// SelectorFor derives a selector from a handler signature the same way
// Ethereum derives function selectors: the first four bytes of Keccak-256.
func SelectorFor(signature string) Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var s Selector
	copy(s[:], h.Sum(nil))
	return s
}

// ParseSelector accepts "0x" + 8 hex digits, or the name of a known handler variant
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if v, ok := handlerVariantsByName[strings.ToLower(s)]; ok {
		return v.Selector, nil
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(body)
	if err != nil || len(raw) != SelectorLength {
		return Selector{}, fmt.Errorf("%w: %q", ErrMalformedSelector, s)
	}
	var sel Selector
	copy(sel[:], raw)
	return sel, nil
}

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// MarshalText encodes the selector as 0x-prefixed hex
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses 0x-prefixed hex or a handler variant name
func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// HandlerKind enumerates the handler variants a selector can name
type HandlerKind string

const (
	HandlerValue   HandlerKind = "value"
	HandlerBytes32 HandlerKind = "bytes32"
	HandlerPrice   HandlerKind = "price"
	HandlerText    HandlerKind = "text"
)

// HandlerVariant ties a handler kind to the signature its selector is derived from
type HandlerVariant struct {
	Kind      HandlerKind `json:"kind"`
	Signature string      `json:"signature"`
	Selector  Selector    `json:"selector"`
}

var (
	SelectorSetValue   = SelectorFor("setValue(bytes)")
	SelectorSetBytes32 = SelectorFor("setBytes32(bytes32)")
	SelectorSetPrice   = SelectorFor("setPrice(uint256)")
	SelectorSetText    = SelectorFor("setText(string)")
)

var handlerVariants = map[Selector]HandlerVariant{
	SelectorSetValue:   {Kind: HandlerValue, Signature: "setValue(bytes)", Selector: SelectorSetValue},
	SelectorSetBytes32: {Kind: HandlerBytes32, Signature: "setBytes32(bytes32)", Selector: SelectorSetBytes32},
	SelectorSetPrice:   {Kind: HandlerPrice, Signature: "setPrice(uint256)", Selector: SelectorSetPrice},
	SelectorSetText:    {Kind: HandlerText, Signature: "setText(string)", Selector: SelectorSetText},
}

var handlerVariantsByName = func() map[string]HandlerVariant {
	m := make(map[string]HandlerVariant, len(handlerVariants))
	for _, v := range handlerVariants {
		m[string(v.Kind)] = v
	}
	return m
}()

// LookupHandler returns the handler variant named by s, if any
func LookupHandler(s Selector) (HandlerVariant, bool) {
	v, ok := handlerVariants[s]
	return v, ok
}

// HandlerVariants lists all supported variants ordered by kind
func HandlerVariants() []HandlerVariant {
	out := make([]HandlerVariant, 0, len(handlerVariants))
	for _, v := range handlerVariants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
