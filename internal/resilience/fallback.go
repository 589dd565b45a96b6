package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/internal/observe"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result, either because it failed or because its circuit was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is shared by every entry of a [FallbackGroup].
type FallbackConfig struct {
	// Kind labels the group in logs, for example "llm" or "stt".
	Kind string

	// CircuitBreaker is the template for each entry's breaker. Its Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, if set, is called after every provider call that was
	// actually made, with the call's error or nil. Entries skipped because
	// their circuit is open are not reported.
	OnAttempt func(ctx context.Context, kind, provider string, err error)
}

// EntryStatus is the breaker state of one provider in a group.
type EntryStatus struct {
	Name  string
	State State
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and its fallbacks, tried in the
// order they were added. Add all entries before sharing the group.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends provider behind every existing entry.
func (fg *FallbackGroup[T]) AddFallback(name string, provider T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: provider, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the first entry.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Status reports every entry's breaker state in try order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(fg.entries))
	for _, e := range fg.entries {
		out = append(out, EntryStatus{Name: e.name, State: e.breaker.State()})
	}
	return out
}

// Call runs fn on each entry in turn and returns the first success. Entries
// whose circuit is open are skipped. Cancellation of ctx ends the attempt
// immediately and is never counted against a provider. When every entry
// fails the error wraps [ErrAllFailed] and the last provider error.
func Call[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	log := observe.Logger(ctx).With("kind", fg.cfg.Kind)

	var lastErr error
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		e := &fg.entries[i]

		var out R
		err := e.breaker.Execute(func() (err error) {
			out, err = fn(e.value)
			return err
		})
		switch {
		case err == nil:
			fg.attempted(ctx, e.name, nil)
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			log.Debug("provider circuit open, skipping", "provider", e.name)
		case errors.Is(err, context.Canceled):
			return zero, err
		default:
			fg.attempted(ctx, e.name, err)
			log.Warn("provider failed", "provider", e.name, "remaining", len(fg.entries)-i-1, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) attempted(ctx context.Context, provider string, err error) {
	if fg.cfg.OnAttempt != nil {
		fg.cfg.OnAttempt(ctx, fg.cfg.Kind, provider, err)
	}
}
