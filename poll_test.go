package sbpgate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitUntil_ImmediateSuccess(t *testing.T) {
	calls := 0
	err := WaitUntil(context.Background(),
		func(ctx context.Context) (bool, error) {
			calls++
			return true, nil
		},
		WithInterval(time.Hour), WithTimeout(time.Hour),
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one evaluation, got %d", calls)
	}
}

func TestWaitUntil_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := WaitUntil(context.Background(),
		func(ctx context.Context) (bool, error) {
			calls++
			return calls >= 3, nil
		},
		WithInterval(time.Millisecond), WithTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 evaluations, got %d", calls)
	}
}

func TestWaitUntil_Timeout(t *testing.T) {
	err := WaitUntil(context.Background(),
		func(ctx context.Context) (bool, error) {
			return false, nil
		},
		WithInterval(time.Millisecond), WithTimeout(10*time.Millisecond),
	)
	if !IsCode(err, ErrCodeDeadlineExceeded) {
		t.Fatalf("expected %s, got %v", ErrCodeDeadlineExceeded, err)
	}
}

func TestWaitUntil_ConditionErrorPropagates(t *testing.T) {
	boom := errors.New("round trip failed")
	calls := 0
	err := WaitUntil(context.Background(),
		func(ctx context.Context) (bool, error) {
			calls++
			return false, boom
		},
		WithInterval(time.Millisecond), WithTimeout(time.Second),
	)
	if !errors.Is(err, boom) {
		t.Fatalf("expected condition error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no retry after condition error, got %d evaluations", calls)
	}
}

func TestWaitUntil_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WaitUntil(ctx,
			func(ctx context.Context) (bool, error) { return false, nil },
			WithInterval(time.Hour), WithTimeout(time.Hour),
		)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitUntil did not return after context cancellation")
	}
}

func TestWaitUntil_DeadlineRetryableWithSameKey(t *testing.T) {
	err := WaitUntil(context.Background(),
		func(ctx context.Context) (bool, error) { return false, nil },
		WithInterval(time.Millisecond), WithTimeout(5*time.Millisecond),
	)
	if !RetryableWithSameKey(err) {
		t.Errorf("deadline errors should be retryable with the same key")
	}
}
