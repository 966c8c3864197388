package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelayDoublesAndCaps(t *testing.T) {
	p := Default()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // 32s capped
		{9, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestExhausted(t *testing.T) {
	p := Default()
	if p.Exhausted(9) {
		t.Error("attempt 9 should still be allowed")
	}
	if !p.Exhausted(10) {
		t.Error("attempt 10 should be exhausted")
	}
}

func TestWaitCancellable(t *testing.T) {
	p := Policy{Initial: time.Hour, Multiplier: 2, Max: time.Hour, MaxAttempts: 10}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Wait(ctx, 0) }()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestWaitElapses(t *testing.T) {
	p := Policy{Initial: 10 * time.Millisecond, Multiplier: 2, Max: time.Second, MaxAttempts: 10}
	if err := p.Wait(context.Background(), 0); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
