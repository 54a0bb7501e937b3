package backoff_test

import (
	"testing"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/backoff"
)

func TestExponentialSequence(t *testing.T) {
	bo := backoff.NewExponential(1*time.Second, 5*time.Second)
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second, // capped
		5 * time.Second,
	}
	for i, w := range want {
		if got := bo.Next(); got != w {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, w)
		}
	}
}

func TestReset(t *testing.T) {
	bo := backoff.NewExponential(100*time.Millisecond, 1*time.Second)
	bo.Next()
	bo.Next()
	bo.Reset()
	if got := bo.Next(); got != 100*time.Millisecond {
		t.Errorf("after reset got %v, want base delay", got)
	}
}

func TestJitterBounds(t *testing.T) {
	bo := backoff.NewExponential(1*time.Second, 5*time.Second)
	bo.Jitter = true
	for i := 0; i < 50; i++ {
		bo.Reset()
		d := bo.Next()
		if d < 1*time.Second || d >= 1*time.Second+250*time.Millisecond {
			t.Fatalf("jittered base delay %v outside [1s, 1.25s)", d)
		}
	}
}

func TestDefaults(t *testing.T) {
	bo := backoff.NewExponential(0, 0)
	if bo.Base != backoff.DefaultBase || bo.Max != backoff.DefaultMax {
		t.Errorf("defaults not applied: base=%v max=%v", bo.Base, bo.Max)
	}
}
