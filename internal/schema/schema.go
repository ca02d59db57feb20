// Package schema defines the form schema registry: the fields a form
// collects, the conversational question groups they are asked in, and the
// selector mapping used by form automation.
//
// A [Registry] is immutable after construction and shared read-only across
// sessions. Field dependencies form a DAG; the topological application order
// is computed once at construction time and reused by both the merge policy
// and the form-filling engine.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType describes the value domain of a form field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeEnum   FieldType = "enum"
	TypeDate   FieldType = "date"
	TypeNumber FieldType = "number"
)

// IsValid reports whether t is a recognised field type.
func (t FieldType) IsValid() bool {
	switch t {
	case TypeString, TypeEnum, TypeDate, TypeNumber:
		return true
	}
	return false
}

// Control selects how form automation drives the field's DOM element.
type Control string

const (
	// ControlText types the value into a text input.
	ControlText Control = "text"

	// ControlSelect picks an option from a dropdown by visible text.
	ControlSelect Control = "select"

	// ControlDate types a normalised date into a date input.
	ControlDate Control = "date"
)

// IsValid reports whether c is a recognised control kind.
func (c Control) IsValid() bool {
	return c == ControlText || c == ControlSelect || c == ControlDate
}

// dateLayouts are the input formats accepted for TypeDate fields.
var dateLayouts = []string{"02/01/2006", "02-01-2006", "2006-01-02"}

// FieldSpec describes a single form field.
type FieldSpec struct {
	// Name is the canonical field key used in records and extraction results.
	Name string `yaml:"name"`

	// Label is the human-readable name shown in previews.
	Label string `yaml:"label"`

	// Type is the value domain.
	Type FieldType `yaml:"type"`

	// Required marks fields that must be confirmed before the form can be
	// filled and that cannot be skipped.
	Required bool `yaml:"required"`

	// Options is the canonical value list for TypeEnum fields. Extracted
	// values are normalised against this list before acceptance.
	Options []string `yaml:"options"`

	// DependsOn names another field whose value must be confirmed before
	// this field may be accepted or applied. Empty means no dependency.
	DependsOn string `yaml:"depends_on"`

	// Selector is the CSS selector of the form control.
	Selector string `yaml:"selector"`

	// Control selects the DOM interaction used by form automation.
	Control Control `yaml:"control"`

	// Hint is extra guidance passed to the extraction model
	// (e.g. "number only, no commas").
	Hint string `yaml:"hint"`
}

// Validate checks value against the field's type. Enum values must already be
// normalised to a canonical option (see merge.NormalizeEnum).
func (f FieldSpec) Validate(value string) error {
	switch f.Type {
	case TypeEnum:
		for _, opt := range f.Options {
			if opt == value {
				return nil
			}
		}
		return fmt.Errorf("schema: field %q: %q is not one of the allowed options", f.Name, value)
	case TypeDate:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, value); err == nil {
				return nil
			}
		}
		return fmt.Errorf("schema: field %q: %q is not a recognised date", f.Name, value)
	case TypeNumber:
		if _, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64); err != nil {
			return fmt.Errorf("schema: field %q: %q is not a number", f.Name, value)
		}
		return nil
	default:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("schema: field %q: value is empty", f.Name)
		}
		return nil
	}
}

// QuestionGroup is an ordered batch of related fields presented together in
// one conversational turn.
type QuestionGroup struct {
	// Title is a short heading for the group.
	Title string `yaml:"title"`

	// Intro is the lead-in sentence spoken before the questions.
	Intro string `yaml:"intro"`

	// Fields lists the field names this group targets, in prompt order.
	Fields []string `yaml:"fields"`

	// Prompts holds one question line per field, in the same order as Fields.
	Prompts []string `yaml:"prompts"`
}

// Registry is the immutable form schema: fields, question groups, and the
// precomputed dependency order. Construct one with [New] or [LoadYAML].
type Registry struct {
	groups []QuestionGroup
	fields map[string]FieldSpec
	order  []string
}

// New validates the given groups and fields and builds a [Registry].
//
// It returns a joined error listing every problem found: unknown field
// references, duplicate or ungrouped field names, missing prompts, invalid
// types or controls, unknown or cyclic dependencies. Every declared field
// must be asked by exactly one group; an ungrouped field could never be
// collected or applied.
func New(groups []QuestionGroup, fields []FieldSpec) (*Registry, error) {
	var errs []error

	byName := make(map[string]FieldSpec, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("fields[%d].name is required", i))
			continue
		}
		if _, dup := byName[f.Name]; dup {
			errs = append(errs, fmt.Errorf("field %q is declared twice", f.Name))
			continue
		}
		if !f.Type.IsValid() {
			errs = append(errs, fmt.Errorf("field %q: type %q is invalid; valid values: string, enum, date, number", f.Name, f.Type))
		}
		if f.Control != "" && !f.Control.IsValid() {
			errs = append(errs, fmt.Errorf("field %q: control %q is invalid; valid values: text, select, date", f.Name, f.Control))
		}
		if f.Type == TypeEnum && len(f.Options) == 0 {
			errs = append(errs, fmt.Errorf("field %q: enum fields need at least one option", f.Name))
		}
		byName[f.Name] = f
	}

	for _, f := range fields {
		if f.DependsOn == "" {
			continue
		}
		if _, ok := byName[f.DependsOn]; !ok {
			errs = append(errs, fmt.Errorf("field %q depends on unknown field %q", f.Name, f.DependsOn))
		}
		if f.DependsOn == f.Name {
			errs = append(errs, fmt.Errorf("field %q depends on itself", f.Name))
		}
	}

	grouped := make(map[string]bool)
	for gi, g := range groups {
		if len(g.Prompts) != 0 && len(g.Prompts) != len(g.Fields) {
			errs = append(errs, fmt.Errorf("groups[%d] %q: %d prompts for %d fields", gi, g.Title, len(g.Prompts), len(g.Fields)))
		}
		for _, name := range g.Fields {
			if _, ok := byName[name]; !ok {
				errs = append(errs, fmt.Errorf("groups[%d] %q references unknown field %q", gi, g.Title, name))
			}
			if grouped[name] {
				errs = append(errs, fmt.Errorf("field %q appears in more than one group", name))
			}
			grouped[name] = true
		}
	}

	for _, f := range fields {
		if f.Name != "" && !grouped[f.Name] {
			errs = append(errs, fmt.Errorf("field %q is not asked by any group", f.Name))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("schema: %w", errors.Join(errs...))
	}

	order, err := topoOrder(groups, byName)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	return &Registry{groups: groups, fields: byName, order: order}, nil
}

// topoOrder returns all grouped fields sorted so that every field appears
// after its dependency. Ties keep group/prompt order (stable Kahn walk).
func topoOrder(groups []QuestionGroup, fields map[string]FieldSpec) ([]string, error) {
	var names []string
	for _, g := range groups {
		names = append(names, g.Fields...)
	}

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, n := range names {
		f := fields[n]
		if f.DependsOn != "" {
			indegree[n]++
			dependents[f.DependsOn] = append(dependents[f.DependsOn], n)
		}
	}

	var order []string
	ready := make(map[string]bool)
	for len(order) < len(names) {
		progressed := false
		for _, n := range names {
			if ready[n] || indegree[n] > 0 {
				continue
			}
			ready[n] = true
			order = append(order, n)
			for _, d := range dependents[n] {
				indegree[d]--
			}
			progressed = true
		}
		if !progressed {
			return nil, errors.New("field dependencies contain a cycle")
		}
	}
	return order, nil
}

// Groups returns the question groups in presentation order.
func (r *Registry) Groups() []QuestionGroup {
	return r.groups
}

// TotalGroups returns the number of question groups.
func (r *Registry) TotalGroups() int {
	return len(r.groups)
}

// Group returns the group at index i. ok is false when i is out of range.
func (r *Registry) Group(i int) (QuestionGroup, bool) {
	if i < 0 || i >= len(r.groups) {
		return QuestionGroup{}, false
	}
	return r.groups[i], true
}

// Field returns the spec for name. ok is false for unknown fields.
func (r *Registry) Field(name string) (FieldSpec, bool) {
	f, ok := r.fields[name]
	return f, ok
}

// GroupFields returns the field specs targeted by group i, in prompt order.
func (r *Registry) GroupFields(i int) []FieldSpec {
	g, ok := r.Group(i)
	if !ok {
		return nil
	}
	specs := make([]FieldSpec, 0, len(g.Fields))
	for _, name := range g.Fields {
		specs = append(specs, r.fields[name])
	}
	return specs
}

// ApplyOrder returns every field name in dependency order: a field always
// appears after the field it depends on. The slice is shared; callers must
// not modify it.
func (r *Registry) ApplyOrder() []string {
	return r.order
}

// AllFields returns every field spec in apply order.
func (r *Registry) AllFields() []FieldSpec {
	specs := make([]FieldSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.fields[name])
	}
	return specs
}
