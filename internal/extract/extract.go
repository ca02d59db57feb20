// Package extract turns free-form answer text into structured field values.
//
// The Extractor interface is the narrow boundary between the conversational
// state machine and the underlying model: text plus the active group's target
// fields in, a per-field value/confidence mapping out. Extraction is scoped
// per turn — fields outside the active group are never requested, which keeps
// the model from hallucinating unrelated structured output.
package extract

import (
	"context"

	"github.com/arji-ai/arji/internal/schema"
)

// Value is one extracted field value with the model's confidence in it.
type Value struct {
	// Value is the raw extracted string, before normalisation/validation.
	Value string `json:"value"`

	// Confidence is the model's self-reported confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Result maps field names to extracted values. A field the model could not
// determine is simply absent. Results are ephemeral: they are consumed by the
// merge policy and recorded in the conversation log, never stored directly.
type Result map[string]Value

// Extractor is the abstraction over any structured-extraction backend.
//
// Implementations must treat malformed model output as an empty Result with a
// nil error — the conversation must keep moving — and must reserve non-nil
// errors for transport-level failures (timeout, unreachable backend), which
// leave session state untouched.
type Extractor interface {
	Extract(ctx context.Context, text string, fields []schema.FieldSpec) (Result, error)
}
