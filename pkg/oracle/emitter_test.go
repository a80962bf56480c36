package oracle

import (
	"testing"

	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterFanOut(t *testing.T) {
	e := NewEmitter()
	a, cancelA := e.Subscribe(2)
	b, cancelB := e.Subscribe(2)
	defer cancelA()
	defer cancelB()

	e.Publish(models.Event{Seq: 1, Kind: models.EventRequestLogged})

	assert.Equal(t, uint64(1), (<-a).Seq)
	assert.Equal(t, uint64(1), (<-b).Seq)
	assert.Equal(t, 2, e.Subscribers())
}

func TestEmitterDropsOnFullBuffer(t *testing.T) {
	e := NewEmitter()
	ch, cancel := e.Subscribe(1)
	defer cancel()

	e.Publish(models.Event{Seq: 1})
	e.Publish(models.Event{Seq: 2})

	assert.Equal(t, uint64(1), e.Dropped())
	assert.Equal(t, uint64(1), (<-ch).Seq)
}

func TestEmitterCancel(t *testing.T) {
	e := NewEmitter()
	ch, cancel := e.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, e.Subscribers())

	// publishing with no subscribers is a no-op
	e.Publish(models.Event{Seq: 1})
	assert.Equal(t, uint64(0), e.Dropped())
}

func TestEmitterClose(t *testing.T) {
	e := NewEmitter()
	ch, cancel := e.Subscribe(1)
	e.Close()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	late, _ := e.Subscribe(1)
	_, open = <-late
	require.False(t, open)
}
