package resilience

import (
	"context"

	"github.com/arji-ai/arji/internal/observe"
	"github.com/arji-ai/arji/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. Every attempted transcription is counted on the provider request
// and error counters.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg BreakerConfig) *STTFallback {
	f := &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
	f.group.Instrument(observe.DefaultMetrics(), "stt")
	return f
}

// Instrument overrides the metrics instance (default [observe.DefaultMetrics]).
func (f *STTFallback) Instrument(m *observe.Metrics) {
	f.group.Instrument(m, "stt")
}

// AddFallback registers an additional transcription backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	return Execute(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, audio, format)
	})
}
