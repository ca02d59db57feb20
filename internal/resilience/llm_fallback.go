package resilience

import (
	"context"

	"github.com/arji-ai/arji/internal/observe"
	"github.com/arji-ai/arji/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across
// multiple completion backends, so extraction keeps working when the primary
// model is down. Each backend has its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. Every attempted completion is counted on the provider request and
// error counters.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg BreakerConfig) *LLMFallback {
	f := &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
	f.group.Instrument(observe.DefaultMetrics(), "llm")
	return f
}

// Instrument overrides the metrics instance (default [observe.DefaultMetrics]).
func (f *LLMFallback) Instrument(m *observe.Metrics) {
	f.group.Instrument(m, "llm")
}

// AddFallback registers an additional completion backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Execute(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
