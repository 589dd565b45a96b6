package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup() *FallbackGroup[int] {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("twenty", 20)
	return fg
}

func TestCall_PrimarySuccess(t *testing.T) {
	fg := newGroup()
	var calls []int
	got, err := Call(context.Background(), fg, func(v int) (int, error) {
		calls = append(calls, v)
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 20 {
		t.Errorf("result = %d, want 20", got)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the primary", calls)
	}
}

func TestCall_Failover(t *testing.T) {
	fg := newGroup()
	got, err := Call(context.Background(), fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-twenty" {
		t.Errorf("result = %q, want from-twenty", got)
	}
}

func TestCall_AllFail(t *testing.T) {
	fg := newGroup()
	_, err := Call(context.Background(), fg, func(int) (string, error) { return "", errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want it to wrap the last provider error", err)
	}
}

func TestCall_SkipsOpenProvider(t *testing.T) {
	fg := newGroup()
	primaryFails := func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v, nil
	}
	for range 2 {
		_, _ = Call(context.Background(), fg, primaryFails)
	}

	var calls []int
	_, err := Call(context.Background(), fg, func(v int) (int, error) {
		calls = append(calls, v)
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != 20 {
		t.Errorf("calls = %v, want [20] (primary circuit open)", calls)
	}

	status := fg.Status()
	if status[0].Name != "ten" || status[0].State != StateOpen {
		t.Errorf("status[0] = %+v, want ten/open", status[0])
	}
	if status[1].State != StateClosed {
		t.Errorf("status[1] = %+v, want closed", status[1])
	}
}

func TestCall_StopsOnCancellation(t *testing.T) {
	fg := newGroup()
	ctx, cancel := context.WithCancel(context.Background())

	var calls []int
	_, err := Call(ctx, fg, func(v int) (int, error) {
		calls = append(calls, v)
		cancel()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want a single attempt", calls)
	}
	if fg.Status()[0].State != StateClosed {
		t.Error("cancellation must not count against the primary")
	}
}

func TestCall_ReportsAttempts(t *testing.T) {
	type attempt struct {
		kind, provider string
		failed         bool
	}
	var got []attempt
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		Kind:           "llm",
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		OnAttempt: func(_ context.Context, kind, provider string, err error) {
			got = append(got, attempt{kind, provider, err != nil})
		},
	})
	fg.AddFallback("twenty", 20)

	primaryFails := func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v, nil
	}
	// The first call trips the primary's breaker; the second skips it.
	for range 2 {
		if _, err := Call(context.Background(), fg, primaryFails); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []attempt{
		{"llm", "ten", true},
		{"llm", "twenty", false},
		{"llm", "twenty", false},
	}
	if len(got) != len(want) {
		t.Fatalf("attempts = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attempt %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
