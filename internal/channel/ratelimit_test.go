package channel

import (
	"testing"
	"time"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)

	for i := 0; i < 5; i++ {
		if d, ok := rl.Take(0); !ok || d != 0 {
			t.Fatalf("burst slot %d: delay=%v ok=%v", i, d, ok)
		}
	}
}

func TestRateLimiter_ReportsDelayAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10/sec refill

	if _, ok := rl.Take(0); !ok {
		t.Fatal("first slot should be free")
	}
	d, ok := rl.Take(time.Second)
	if !ok {
		t.Fatal("second slot should fit within a second")
	}
	if d < 50*time.Millisecond || d > 100*time.Millisecond {
		t.Fatalf("expected roughly 100ms delay, got %v", d)
	}
}

func TestRateLimiter_RefusesLongWait(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)

	if _, ok := rl.Take(0); !ok {
		t.Fatal("first slot should be free")
	}
	d, ok := rl.Take(20 * time.Millisecond)
	if ok {
		t.Fatal("expected refusal while the bucket is empty")
	}
	if d < 50*time.Second {
		t.Fatalf("refused delay should report the real wait, got %v", d)
	}

	// The refused claim is given back, so the next slot is still one
	// refill away rather than two.
	d, ok = rl.Take(2 * time.Minute)
	if !ok || d > time.Minute {
		t.Fatalf("expected at most one minute, got %v ok=%v", d, ok)
	}
}

func TestRateLimiter_DefaultValues(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.lim.Burst() != 10 {
		t.Fatalf("expected default burst=10, got %v", rl.lim.Burst())
	}
	if rl.lim.Limit() != 2 {
		t.Fatalf("expected default rate of 2/sec, got %v", rl.lim.Limit())
	}
}
