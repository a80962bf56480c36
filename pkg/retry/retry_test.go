package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		retried = append(retried, attempt)
	}

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[1] != 2 {
		t.Errorf("Unexpected OnRetry calls: %v", retried)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	base := errors.New("503 service unavailable")
	calls := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return base
	})
	if !errors.Is(err, base) {
		t.Errorf("Expected wrapped last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	conflict := errors.New("already fulfilled")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(conflict)
	})
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if !errors.Is(err, conflict) || !IsPermanent(err) {
		t.Errorf("Expected permanent conflict error, got %v", err)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(3), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]bool{
		"dial tcp: connection refused":     true,
		"i/o timeout":                      true,
		"unexpected EOF":                   true,
		"context deadline exceeded":        true,
		"feed x returned status 500: oops": true,
		"feed x returned status 404: gone": false,
		"path \"data\" not found":          false,
		"unauthorized":                     false,
	}
	for msg, want := range cases {
		if got := IsRetryable(errors.New(msg)); got != want {
			t.Errorf("IsRetryable(%q) = %v, want %v", msg, got, want)
		}
	}
	if IsRetryable(Permanent(errors.New("timeout"))) {
		t.Error("Permanent errors are never retryable")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
