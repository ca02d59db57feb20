package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arji-ai/arji/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the
// same provider type. When the primary fails (or its breaker is open), the
// next healthy fallback is tried in registration order. Safe for concurrent
// use once assembly is done.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     BreakerConfig
	metrics *observe.Metrics
	kind    string
}

// NewFallbackGroup creates a group with primary as the first entry. cfg seeds
// the per-entry breakers; its Name is overridden per entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a fallback provider, tried after the primary in the
// order added. Not safe to call concurrently with Execute.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.add(name, fallback)
}

// Instrument enables the provider request and error counters for this group.
// kind labels the provider family ("llm", "stt"). Not safe to call
// concurrently with Execute.
func (g *FallbackGroup[T]) Instrument(m *observe.Metrics, kind string) {
	g.metrics = m
	g.kind = kind
}

func (g *FallbackGroup[T]) add(name string, value T) {
	cbCfg := g.cfg
	cbCfg.Name = name
	g.entries = append(g.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute tries fn against each entry in order until one succeeds, returning
// its result. Entries with open breakers are skipped. Returns [ErrAllFailed]
// wrapped around the last error when every entry fails.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func Execute[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		entry := &g.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			g.record(ctx, entry.name, nil)
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			// No request reached the provider, so nothing is counted.
			slog.Debug("skipping provider, circuit open", "provider", entry.name)
			continue
		}
		g.record(ctx, entry.name, err)
		slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// record counts one attempted provider call on the instrumented group.
func (g *FallbackGroup[T]) record(ctx context.Context, name string, err error) {
	if g.metrics == nil {
		return
	}
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, name, g.kind, "error")
		g.metrics.RecordProviderError(ctx, name, g.kind)
		return
	}
	g.metrics.RecordProviderRequest(ctx, name, g.kind, "ok")
}
