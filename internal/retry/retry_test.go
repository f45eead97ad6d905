package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyDelay_ExponentialAndCapped(t *testing.T) {
	p := Policy{MaxAttempts: 10, MinDelay: 100 * time.Millisecond, MaxDelay: 1 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{50, 1 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestPolicyDo_RetriesTransientUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	transient := errors.New("connection reset")
	attempts := 0
	err := p.Do(context.Background(), nil, "op", func(err error) (error, bool) {
		return err, true
	}, func() error {
		attempts++
		if attempts < 3 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestPolicyDo_ExhaustionWrapsErrExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	transient := errors.New("timeout")
	attempts := 0
	err := p.Do(context.Background(), nil, "op", func(err error) (error, bool) {
		return err, true
	}, func() error {
		attempts++
		return transient
	})
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, transient) {
		t.Errorf("expected wrapped transient error, got %v", err)
	}
}

func TestPolicyDo_NonRetryableReturnsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	rejected := errors.New("order rejected")
	attempts := 0
	err := p.Do(context.Background(), nil, "op", func(err error) (error, bool) {
		return err, false
	}, func() error {
		attempts++
		return rejected
	})
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
	if !errors.Is(err, rejected) {
		t.Errorf("expected rejected error, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Errorf("non-retryable error must not report exhaustion")
	}
}

func TestPolicyDo_ContextCancelStopsWait(t *testing.T) {
	p := Policy{MaxAttempts: 5, MinDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	transient := errors.New("timeout")
	attempts := 0

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, nil, "op", func(err error) (error, bool) {
			return err, true
		}, func() error {
			attempts++
			return transient
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancel")
	}
	if attempts != 1 {
		t.Errorf("expected single attempt before cancel, got %d", attempts)
	}
}
