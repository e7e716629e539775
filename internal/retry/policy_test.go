package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/webship/internal/config"
)

// TestDefaultPolicy verifies the baseline default values.
func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != config.RetryBackoffExponential {
		t.Fatalf("expected exponential default mode got %s", p.Mode)
	}
	if p.MaxRetries != 3 {
		t.Fatalf("expected max retries 3 got %d", p.MaxRetries)
	}
}

// TestNewPolicyOverrides checks override precedence and clamping when initial > max.
func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)
	if p.Initial != 2*time.Second {
		t.Fatalf("expected clamped initial 2s got %v", p.Initial)
	}
	if p.Mode != config.RetryBackoffFixed {
		t.Fatalf("expected fixed mode got %s", p.Mode)
	}
	if p.MaxRetries != 5 {
		t.Fatalf("expected maxRetries 5 got %d", p.MaxRetries)
	}
	if q := NewPolicy("weird", time.Second, time.Second, 1); q.Mode != config.RetryBackoffExponential {
		t.Fatalf("unknown mode should fall back to exponential got %s", q.Mode)
	}
}

// TestDelayModes ensures fixed, linear, exponential behave and respect cap.
func TestDelayModes(t *testing.T) {
	cases := []struct {
		mode    config.RetryBackoffMode
		attempt int
		want    time.Duration
	}{
		{config.RetryBackoffFixed, 3, 100 * time.Millisecond},
		{config.RetryBackoffLinear, 2, 200 * time.Millisecond},
		{config.RetryBackoffLinear, 4, 250 * time.Millisecond},
		{config.RetryBackoffExponential, 1, 100 * time.Millisecond},
		{config.RetryBackoffExponential, 2, 200 * time.Millisecond},
		{config.RetryBackoffExponential, 3, 250 * time.Millisecond},
		{config.RetryBackoffExponential, 80, 250 * time.Millisecond},
		{config.RetryBackoffExponential, 0, 0},
	}
	for _, c := range cases {
		p := NewPolicy(c.mode, 100*time.Millisecond, 250*time.Millisecond, 5)
		if got := p.Delay(c.attempt); got != c.want {
			t.Fatalf("%s attempt %d expected %v got %v", c.mode, c.attempt, c.want, got)
		}
	}
}

func TestDoRetriesOnlyRetryableErrors(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3)
	transient := errors.New("transient")
	permanent := errors.New("permanent")

	calls := 0
	retries := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	}, func(err error) bool { return errors.Is(err, transient) }, func(int, time.Duration, error) { retries++ })
	if err != nil || calls != 3 || retries != 2 {
		t.Fatalf("expected success after 3 calls, got err=%v calls=%d retries=%d", err, calls, retries)
	}

	calls = 0
	err = p.Do(context.Background(), func(int) error { calls++; return permanent },
		func(err error) bool { return errors.Is(err, transient) }, nil)
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("permanent error must not be retried, calls=%d err=%v", calls, err)
	}

	calls = 0
	err = p.Do(context.Background(), func(int) error { calls++; return transient },
		func(error) bool { return true }, nil)
	if !errors.Is(err, transient) || calls != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got calls=%d", calls)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Hour, time.Hour, 5)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func(int) error {
		calls++
		cancel()
		return errors.New("stalled")
	}, func(error) bool { return true }, nil)
	if err == nil || calls != 1 {
		t.Fatalf("expected single call and error, got calls=%d err=%v", calls, err)
	}
}
