package nsq

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestLinearCappedBackOffGrowsThenCaps(t *testing.T) {
	b := newLinearCappedBackOff(100*time.Millisecond, 300*time.Millisecond)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		got := b.NextBackOff()
		if got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i, w, got)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 100*time.Millisecond {
		t.Fatalf("expected reset backoff to restart at 100ms, got %v", got)
	}
}

func TestReconnectBackOffStopsAfterMaxAttempts(t *testing.T) {
	// maxAttempts=2 allows two dials in total: the initial try plus one
	// retry, so only the first failure yields a delay.
	b := newReconnectBackOff(10*time.Millisecond, 100*time.Millisecond, 2)
	if d := b.NextBackOff(); d == backoff.Stop {
		t.Fatalf("expected a delay after the first failed attempt, got Stop")
	}
	if d := b.NextBackOff(); d != backoff.Stop {
		t.Fatalf("expected Stop after the second failed attempt, got %v", d)
	}
	if d := b.NextBackOff(); d != backoff.Stop {
		t.Fatalf("expected Stop to persist once exhausted, got %v", d)
	}
	if !b.exhausted() {
		t.Fatal("expected reconnectBackOff to report exhausted")
	}
}

func TestReconnectBackOffUnlimitedWhenMaxAttemptsZero(t *testing.T) {
	b := newReconnectBackOff(time.Millisecond, time.Millisecond, 0)
	for i := 0; i < 50; i++ {
		if d := b.NextBackOff(); d == backoff.Stop {
			t.Fatalf("attempt %d: expected unlimited retries, got Stop", i)
		}
	}
}
