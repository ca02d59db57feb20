package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arji-ai/arji/internal/schema"
	"github.com/arji-ai/arji/pkg/provider/llm"
)

const systemPrompt = `You are a form-filling assistant.
Extract only clearly mentioned information from the user's answer.
Return ONLY a valid JSON object. Do not add explanations.`

const (
	defaultTemperature = 0.15
	defaultMaxTokens   = 512

	// bareValueConfidence is assumed when the model returns a plain value
	// instead of a {value, confidence} object.
	bareValueConfidence = 0.9
)

// Option is a functional option for configuring an [LLM] extractor.
type Option func(*LLM)

// WithTemperature overrides the sampling temperature (default 0.15).
func WithTemperature(t float64) Option {
	return func(e *LLM) {
		e.temperature = t
	}
}

// WithMaxTokens caps the completion length (default 512).
func WithMaxTokens(n int) Option {
	return func(e *LLM) {
		e.maxTokens = n
	}
}

// LLM implements [Extractor] on top of an llm.Provider. It is stateless and
// safe for concurrent use.
type LLM struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// Compile-time interface assertion.
var _ Extractor = (*LLM)(nil)

// NewLLM creates an extractor backed by provider.
func NewLLM(provider llm.Provider, opts ...Option) *LLM {
	e := &LLM{
		provider:    provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract implements [Extractor]. Provider failures are returned as-is;
// unparseable model output yields an empty Result and a nil error.
func (e *LLM) Extract(ctx context.Context, text string, fields []schema.FieldSpec) (Result, error) {
	if strings.TrimSpace(text) == "" || len(fields) == 0 {
		return Result{}, nil
	}

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildInstruction(fields)},
			{Role: "user", Content: text},
		},
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: completion: %w", err)
	}

	result := parseModelOutput(resp.Content, fields)
	if len(result) == 0 && resp.Content != "" {
		slog.Debug("extraction produced no fields", "answer_len", len(text))
	}
	return result, nil
}

// buildInstruction renders the per-turn instruction listing exactly the
// target fields, their types, canonical options, and hints.
func buildInstruction(fields []schema.FieldSpec) string {
	var b strings.Builder
	b.WriteString("Extract the following fields from the user's answer.\n")
	b.WriteString("Return ONLY valid JSON of the shape ")
	b.WriteString(`{"<field>": {"value": "<string>", "confidence": <0.0-1.0>}}.` + "\n")
	b.WriteString("Omit fields the user did not mention. Never invent values.\n\nFields:\n")

	for _, f := range fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(" (")
		b.WriteString(string(f.Type))
		b.WriteString(")")
		if len(f.Options) > 0 {
			b.WriteString(" one of: ")
			b.WriteString(strings.Join(f.Options, " / "))
		}
		if f.Hint != "" {
			b.WriteString(" — ")
			b.WriteString(f.Hint)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseModelOutput extracts the first JSON object from content and converts
// it into a Result restricted to the requested fields. Anything unparseable
// is treated as an empty extraction.
func parseModelOutput(content string, fields []schema.FieldSpec) Result {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Result{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		slog.Debug("malformed extraction output", "err", err)
		return Result{}
	}

	wanted := make(map[string]bool, len(fields))
	for _, f := range fields {
		wanted[f.Name] = true
	}

	result := make(Result, len(raw))
	for name, msg := range raw {
		if !wanted[name] {
			continue
		}
		v, ok := parseValue(msg)
		if !ok {
			continue
		}
		result[name] = v
	}
	return result
}

// parseValue accepts either {"value": v, "confidence": c} or a bare scalar.
func parseValue(msg json.RawMessage) (Value, bool) {
	var v Value
	if err := json.Unmarshal(msg, &v); err == nil && meaningful(v.Value) {
		v.Confidence = clamp01(v.Confidence)
		if v.Confidence == 0 {
			v.Confidence = bareValueConfidence
		}
		v.Value = strings.TrimSpace(v.Value)
		return v, true
	}

	var s string
	if err := json.Unmarshal(msg, &s); err == nil && meaningful(s) {
		return Value{Value: strings.TrimSpace(s), Confidence: bareValueConfidence}, true
	}

	var n json.Number
	if err := json.Unmarshal(msg, &n); err == nil && n.String() != "" {
		return Value{Value: n.String(), Confidence: bareValueConfidence}, true
	}

	return Value{}, false
}

// meaningful filters the null-ish placeholders small models like to emit.
func meaningful(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a", "unknown":
		return false
	}
	return true
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
