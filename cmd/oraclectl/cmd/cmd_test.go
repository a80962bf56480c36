package cmd

import (
	"testing"

	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNonce(t *testing.T) {
	id, err := parseNonce("42")
	require.NoError(t, err)
	assert.Equal(t, models.Nonce(42), id)

	for _, bad := range []string{"", "-1", "abc", "0x2a"} {
		_, err := parseNonce(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestHandlerName(t *testing.T) {
	assert.Equal(t, "setPrice(uint256)", handlerName(models.SelectorSetPrice))
	assert.Equal(t, "unknown", handlerName(models.Selector{0xde, 0xad, 0xbe, 0xef}))
}

func TestPrintStructuredFormats(t *testing.T) {
	defer func(prev string) { outputFormat = prev }(outputFormat)

	outputFormat = "table"
	done, err := printStructured(struct{}{})
	assert.False(t, done)
	assert.NoError(t, err)

	outputFormat = "xml"
	done, err = printStructured(struct{}{})
	assert.True(t, done)
	assert.Error(t, err)
}

func TestEventDetail(t *testing.T) {
	a := models.MustParseIdentity("0x00000000000000000000000000000000000000aa")
	b := models.MustParseIdentity("0x00000000000000000000000000000000000000bb")

	ev := models.Event{Kind: models.EventOwnershipTransferred, OldOwner: a, NewOwner: b}
	assert.Equal(t, a.Short()+" -> "+b.Short(), eventDetail(ev))

	sel := models.SelectorSetText
	ev = models.Event{Kind: models.EventRequestLogged, Requester: a, Target: b, Selector: &sel}
	assert.Contains(t, eventDetail(ev), "setText(string)")

	assert.Empty(t, eventDetail(models.Event{Kind: models.EventFulfilled}))
}
