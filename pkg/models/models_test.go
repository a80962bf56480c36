package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("0xAbCdEf0123456789abcdef0123456789ABCDEF01")
	require.NoError(t, err)
	assert.Equal(t, Identity("0xabcdef0123456789abcdef0123456789abcdef01"), id)
	assert.True(t, id.Valid())
	assert.False(t, id.IsZero())

	for _, bad := range []string{
		"",
		"abcdef0123456789abcdef0123456789abcdef01",
		"0xabc",
		"0xzzcdef0123456789abcdef0123456789abcdef01",
		"0xabcdef0123456789abcdef0123456789abcdef0102",
	} {
		_, err := ParseIdentity(bad)
		assert.ErrorIs(t, err, ErrMalformedIdentity, "input %q", bad)
	}

	zero, err := ParseIdentity(string(ZeroIdentity))
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.False(t, Identity("0xABCDEF0123456789abcdef0123456789abcdef01").Valid())
}

func TestSelectorFor(t *testing.T) {
	// Well-known ERC-20 selector
	assert.Equal(t, "0xa9059cbb", SelectorFor("transfer(address,uint256)").String())

	seen := map[Selector]bool{}
	for _, v := range HandlerVariants() {
		assert.False(t, seen[v.Selector], "duplicate selector for %s", v.Kind)
		seen[v.Selector] = true
		assert.Equal(t, SelectorFor(v.Signature), v.Selector)
	}
	assert.Len(t, seen, 4)
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("0xa9059cbb")
	require.NoError(t, err)
	assert.Equal(t, SelectorFor("transfer(address,uint256)"), sel)

	sel, err = ParseSelector("price")
	require.NoError(t, err)
	assert.Equal(t, SelectorSetPrice, sel)

	_, err = ParseSelector("0xa9059c")
	assert.ErrorIs(t, err, ErrMalformedSelector)
	_, err = ParseSelector("nonsense")
	assert.ErrorIs(t, err, ErrMalformedSelector)

	v, ok := LookupHandler(SelectorSetText)
	require.True(t, ok)
	assert.Equal(t, HandlerText, v.Kind)
	_, ok = LookupHandler(SelectorFor("transfer(address,uint256)"))
	assert.False(t, ok)
}

func TestRequestJSONAndClone(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := &Request{
		ID:        7,
		UID:       "uid-7",
		Requester: MustParseIdentity("0x1111111111111111111111111111111111111111"),
		Target:    MustParseIdentity("0x2222222222222222222222222222222222222222"),
		Selector:  SelectorSetValue,
		Status:    RequestStatusPending,
		Payload:   []byte("abc"),
		ExpiresAt: &exp,
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"selector":"`+SelectorSetValue.String()+`"`)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.Selector, decoded.Selector)
	assert.Equal(t, req.Payload, decoded.Payload)

	c := req.Clone()
	c.Payload[0] = 'z'
	*c.ExpiresAt = exp.Add(time.Hour)
	assert.Equal(t, []byte("abc"), req.Payload)
	assert.Equal(t, exp, *req.ExpiresAt)

	assert.False(t, req.Expired(exp.Add(-time.Second)))
	assert.True(t, req.Expired(exp))
}
