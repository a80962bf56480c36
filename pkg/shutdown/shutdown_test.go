package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownRunsHooksInReverse(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	m.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.Register("server", func(context.Context) error { order = append(order, "server"); return nil })
	m.Register("broken", func(context.Context) error { return errors.New("boom") })

	if failed := m.Shutdown(); failed != 1 {
		t.Errorf("Expected 1 failed hook, got %d", failed)
	}
	if len(order) != 2 || order[0] != "server" || order[1] != "store" {
		t.Errorf("Hooks ran in wrong order: %v", order)
	}
}

func TestTriggerUnblocksWait(t *testing.T) {
	m := New(time.Second, nil)
	waited := make(chan struct{})
	go func() {
		m.Wait()
		close(waited)
	}()

	m.Trigger()
	m.Trigger()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Trigger")
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done channel should be closed")
	}
}

func TestStopFuncTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)
	err := StopFunc(func() { <-block })(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestCloseResource(t *testing.T) {
	c := &closer{}
	if err := CloseResource(c)(context.Background()); err != nil || !c.closed {
		t.Errorf("Expected resource closed, got %v", err)
	}
}
