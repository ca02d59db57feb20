// Package merge applies per-turn extraction results to a session's record
// under the acceptance policy: confidence gating, dependency gating, enum
// normalisation, validation, and correction-with-conflict semantics.
package merge

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/arji-ai/arji/internal/extract"
	"github.com/arji-ai/arji/internal/schema"
)

// FieldState tracks how far a single field has progressed.
type FieldState string

const (
	// StateUnconfirmed means no accepted value yet; the field is still asked.
	StateUnconfirmed FieldState = "unconfirmed"

	// StateConfirmed means an accepted, validated value is in the record.
	StateConfirmed FieldState = "confirmed"

	// StateSkipped means the user declined an optional field.
	StateSkipped FieldState = "skipped"
)

// Record holds the accepted value per field name.
type Record map[string]string

// Conflict records a correction: a confirmed field was overwritten with a
// different value. The new value wins; the conflict is surfaced so the caller
// can read the change back to the user.
type Conflict struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Result summarises one merge pass.
type Result struct {
	// Updated lists fields whose record value changed this pass.
	Updated []string `json:"updated"`

	// Conflicts lists confirmed fields that were overwritten.
	Conflicts []Conflict `json:"conflicts"`

	// ReAsk lists fields whose extracted value was rejected (low confidence,
	// failed validation, or no canonical enum match) and must be asked again.
	ReAsk []string `json:"re_ask"`
}

// enumMatchThreshold is the minimum Jaro-Winkler similarity for a fuzzy match
// against a canonical enum option.
const enumMatchThreshold = 0.84

// Merge applies extraction to rec and states in place and reports what
// changed. Only the given group fields are considered; extracted values for
// any other field are discarded. Fields are processed in the registry's
// dependency order, so a value and its prerequisite arriving in the same turn
// are accepted together. The caller must hold the session lock.
func Merge(reg *schema.Registry, rec Record, states map[string]FieldState, extraction extract.Result, groupFields []schema.FieldSpec, threshold float64) Result {
	var res Result
	if len(extraction) == 0 {
		return res
	}

	inGroup := make(map[string]bool, len(groupFields))
	for _, f := range groupFields {
		inGroup[f.Name] = true
	}

	for _, name := range reg.ApplyOrder() {
		if !inGroup[name] {
			continue
		}
		v, ok := extraction[name]
		if !ok {
			continue
		}
		spec, _ := reg.Field(name)

		if v.Confidence < threshold {
			res.ReAsk = append(res.ReAsk, name)
			continue
		}
		if spec.DependsOn != "" && states[spec.DependsOn] != StateConfirmed {
			continue
		}

		value := strings.TrimSpace(v.Value)
		if spec.Type == schema.TypeEnum {
			canonical, ok := NormalizeEnum(value, spec.Options)
			if !ok {
				res.ReAsk = append(res.ReAsk, name)
				continue
			}
			value = canonical
		}
		if err := spec.Validate(value); err != nil {
			res.ReAsk = append(res.ReAsk, name)
			continue
		}

		if states[name] == StateConfirmed {
			old := rec[name]
			if old == value {
				continue
			}
			res.Conflicts = append(res.Conflicts, Conflict{Field: name, Old: old, New: value})
		}
		rec[name] = value
		states[name] = StateConfirmed
		res.Updated = append(res.Updated, name)
	}
	return res
}

// NormalizeEnum maps a free-form value onto the canonical option list. Exact
// case-insensitive matches win outright; otherwise the best Jaro-Winkler
// score at or above 0.84 does. ok is false when nothing comes close.
func NormalizeEnum(value string, options []string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(value))
	if needle == "" {
		return "", false
	}

	for _, opt := range options {
		if strings.ToLower(opt) == needle {
			return opt, true
		}
	}

	best, bestScore := "", 0.0
	for _, opt := range options {
		if s := matchr.JaroWinkler(needle, strings.ToLower(opt), false); s > bestScore {
			best, bestScore = opt, s
		}
	}
	if bestScore >= enumMatchThreshold {
		return best, true
	}
	return "", false
}

// RequiredConfirmed reports whether every required field in specs is
// confirmed. Group advancement and fill readiness both hinge on it.
func RequiredConfirmed(specs []schema.FieldSpec, states map[string]FieldState) bool {
	for _, f := range specs {
		if f.Required && states[f.Name] != StateConfirmed {
			return false
		}
	}
	return true
}
