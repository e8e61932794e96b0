package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Member describes one entry of a [Group] for status reporting.
type Member struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group is an ordered list of interchangeable backends, each behind its own
// [CircuitBreaker]. The first member is the primary. Members are added only
// during setup; [Do] may then be called concurrently.
type Group[T any] struct {
	cfg     CircuitBreakerConfig
	entries []entry[T]
}

// NewGroup creates a [Group] whose primary is primary. cfg is the template
// for every member's breaker; its Name is replaced by the member name.
func NewGroup[T any](primaryName string, primary T, cfg CircuitBreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback. Fallbacks are tried in the order they are added.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.entries[0].value }

// Members returns every member with its current breaker state.
func (g *Group[T]) Members() []Member {
	out := make([]Member, len(g.entries))
	for i, e := range g.entries {
		out[i] = Member{Name: e.name, State: e.breaker.State().String()}
	}
	return out
}

// Available reports whether at least one member's breaker admits calls.
func (g *Group[T]) Available() bool {
	for _, e := range g.entries {
		if e.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Attempt is reported to a [Group] observer after every member call that the
// breaker admitted.
type Attempt struct {
	Provider string
	Err      error
}

// Do calls fn on each member in order until one succeeds. Members with an
// open breaker are skipped. When ctx is done the loop stops and ctx.Err() is
// returned. Otherwise, if every member fails, the result wraps
// [ErrAllFailed] together with each member's error.
//
// observe, if non-nil, is called after each admitted attempt.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error), observe func(Attempt)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.entries {
		e := &g.entries[i]
		var res R
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			if observe != nil {
				observe(Attempt{Provider: e.name})
			}
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			if observe != nil {
				observe(Attempt{Provider: e.name, Err: err})
			}
			if i < len(g.entries)-1 {
				slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
			}
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
