// Package mock provides a scriptable extract.Extractor for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arji-ai/arji/internal/extract"
	"github.com/arji-ai/arji/internal/schema"
)

// Call records one Extract invocation.
type Call struct {
	Text   string
	Fields []schema.FieldSpec
}

// Extractor is a mock extract.Extractor. Results are consumed in order; once
// exhausted, the last result repeats. Safe for concurrent use.
type Extractor struct {
	mu sync.Mutex

	// Results is the scripted sequence of extraction results.
	Results []extract.Result

	// Err, when non-nil, is returned by every call.
	Err error

	// Calls records every Extract invocation.
	Calls []Call

	next int
}

// Compile-time interface assertion.
var _ extract.Extractor = (*Extractor)(nil)

// Extract implements extract.Extractor.
func (e *Extractor) Extract(_ context.Context, text string, fields []schema.FieldSpec) (extract.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls = append(e.Calls, Call{Text: text, Fields: fields})
	if e.Err != nil {
		return nil, e.Err
	}
	if len(e.Results) == 0 {
		return extract.Result{}, nil
	}
	idx := e.next
	if idx >= len(e.Results) {
		idx = len(e.Results) - 1
	}
	e.next++
	return e.Results[idx], nil
}

// CallCount returns how many times Extract was invoked.
func (e *Extractor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}
