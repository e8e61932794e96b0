package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/stepforge/internal/observe"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
)

// ErrUnavailable is returned by [LLMFallback.Ready] when every backend's
// breaker is open.
var ErrUnavailable = errors.New("resilience: no generation backend available")

// LLMFallbackOption configures an [LLMFallback].
type LLMFallbackOption func(*LLMFallback)

// WithMetrics records one provider request per attempted backend.
func WithMetrics(m *observe.Metrics) LLMFallbackOption {
	return func(f *LLMFallback) { f.metrics = m }
}

// LLMFallback implements [llm.Provider] on top of a [Group] of generation
// backends.
type LLMFallback struct {
	group   *Group[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primaryName string, primary llm.Provider, cfg CircuitBreakerConfig, opts ...LLMFallbackOption) *LLMFallback {
	f := &LLMFallback{group: NewGroup(primaryName, primary, cfg)}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// Complete sends req to the first backend that answers.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	}, f.record(ctx))
}

func (f *LLMFallback) record(ctx context.Context) func(Attempt) {
	if f.metrics == nil {
		return nil
	}
	return func(a Attempt) {
		status := "ok"
		if a.Err != nil {
			status = "error"
			f.metrics.RecordProviderError(ctx, a.Provider, "llm")
		}
		f.metrics.RecordProviderRequest(ctx, a.Provider, "llm", status)
	}
}

// ModelID returns the primary backend's model.
func (f *LLMFallback) ModelID() string {
	return f.group.Primary().ModelID()
}

// Members reports every backend with its breaker state.
func (f *LLMFallback) Members() []Member {
	return f.group.Members()
}

// Ready returns [ErrUnavailable] when no backend would currently be tried.
func (f *LLMFallback) Ready(context.Context) error {
	if !f.group.Available() {
		return ErrUnavailable
	}
	return nil
}
