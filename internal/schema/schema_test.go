package schema

import (
	"strings"
	"testing"
)

// twoGroupRegistry builds the small registry used across session and merge
// tests: group 0 asks name+gender, group 1 asks state+district where
// district depends on state.
func twoGroupRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(
		[]QuestionGroup{
			{Title: "Identity", Fields: []string{"name", "gender"}},
			{Title: "Location", Fields: []string{"state", "district"}},
		},
		[]FieldSpec{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "gender", Type: TypeEnum, Required: true, Options: []string{"Male", "Female", "Others"}},
			{Name: "state", Type: TypeString, Required: true},
			{Name: "district", Type: TypeString, Required: true, DependsOn: "state"},
		},
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return reg
}

func TestNew_ApplyOrderRespectsDependencies(t *testing.T) {
	t.Parallel()

	reg := twoGroupRegistry(t)

	order := reg.ApplyOrder()
	if len(order) != 4 {
		t.Fatalf("ApplyOrder() returned %d fields, want 4", len(order))
	}

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	if pos["district"] < pos["state"] {
		t.Errorf("district (pos %d) ordered before its dependency state (pos %d)", pos["district"], pos["state"])
	}
}

func TestNew_RejectsInvalidSchemas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		groups  []QuestionGroup
		fields  []FieldSpec
		wantErr string
	}{
		{
			name:    "unknown group field",
			groups:  []QuestionGroup{{Title: "g", Fields: []string{"ghost"}}},
			fields:  []FieldSpec{{Name: "name", Type: TypeString}},
			wantErr: "unknown field",
		},
		{
			name:   "duplicate field",
			groups: []QuestionGroup{{Title: "g", Fields: []string{"name"}}},
			fields: []FieldSpec{
				{Name: "name", Type: TypeString},
				{Name: "name", Type: TypeString},
			},
			wantErr: "declared twice",
		},
		{
			name:   "dependency cycle",
			groups: []QuestionGroup{{Title: "g", Fields: []string{"a", "b"}}},
			fields: []FieldSpec{
				{Name: "a", Type: TypeString, DependsOn: "b"},
				{Name: "b", Type: TypeString, DependsOn: "a"},
			},
			wantErr: "cycle",
		},
		{
			name:   "unknown dependency",
			groups: []QuestionGroup{{Title: "g", Fields: []string{"a"}}},
			fields: []FieldSpec{
				{Name: "a", Type: TypeString, DependsOn: "missing"},
			},
			wantErr: "unknown field",
		},
		{
			name:   "ungrouped field",
			groups: []QuestionGroup{{Title: "g", Fields: []string{"name"}}},
			fields: []FieldSpec{
				{Name: "name", Type: TypeString},
				{Name: "orphan", Type: TypeString},
			},
			wantErr: "not asked by any group",
		},
		{
			name:    "enum without options",
			groups:  []QuestionGroup{{Title: "g", Fields: []string{"a"}}},
			fields:  []FieldSpec{{Name: "a", Type: TypeEnum}},
			wantErr: "at least one option",
		},
		{
			name:   "prompt count mismatch",
			groups: []QuestionGroup{{Title: "g", Fields: []string{"a"}, Prompts: []string{"one", "two"}}},
			fields: []FieldSpec{{Name: "a", Type: TypeString}},
			wantErr: "prompts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.groups, tt.fields)
			if err == nil {
				t.Fatal("New() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_UngroupedDependencyTargetIsNotACycle(t *testing.T) {
	t.Parallel()

	// district's dependency is declared but never asked: the error must name
	// the ungrouped field, not claim a dependency cycle.
	_, err := New(
		[]QuestionGroup{{Title: "g", Fields: []string{"district"}}},
		[]FieldSpec{
			{Name: "state", Type: TypeString},
			{Name: "district", Type: TypeString, DependsOn: "state"},
		},
	)
	if err == nil {
		t.Fatal("New() succeeded, want error")
	}
	if strings.Contains(err.Error(), "cycle") {
		t.Errorf("New() error %q claims a cycle", err)
	}
	if !strings.Contains(err.Error(), `"state" is not asked by any group`) {
		t.Errorf("New() error %q does not name the ungrouped dependency target", err)
	}
}

func TestFieldSpec_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		field   FieldSpec
		value   string
		wantErr bool
	}{
		{"enum member", FieldSpec{Name: "g", Type: TypeEnum, Options: []string{"Male", "Female"}}, "Female", false},
		{"enum non-member", FieldSpec{Name: "g", Type: TypeEnum, Options: []string{"Male", "Female"}}, "Unknown", true},
		{"date slash", FieldSpec{Name: "dob", Type: TypeDate}, "15/08/2001", false},
		{"date dash", FieldSpec{Name: "dob", Type: TypeDate}, "15-08-2001", false},
		{"date iso", FieldSpec{Name: "dob", Type: TypeDate}, "2001-08-15", false},
		{"date nonsense", FieldSpec{Name: "dob", Type: TypeDate}, "someday", true},
		{"number plain", FieldSpec{Name: "income", Type: TypeNumber}, "360000", false},
		{"number with commas", FieldSpec{Name: "income", Type: TypeNumber}, "3,60,000", false},
		{"number text", FieldSpec{Name: "income", Type: TypeNumber}, "three lakh", true},
		{"string nonempty", FieldSpec{Name: "name", Type: TypeString}, "Asha", false},
		{"string empty", FieldSpec{Name: "name", Type: TypeString}, "  ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.field.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestScholarship_BuiltinIsCoherent(t *testing.T) {
	t.Parallel()

	reg := Scholarship()

	if got := reg.TotalGroups(); got != 4 {
		t.Fatalf("TotalGroups() = %d, want 4", got)
	}
	if got := len(reg.ApplyOrder()); got != 17 {
		t.Fatalf("len(ApplyOrder()) = %d, want 17", got)
	}

	roll, ok := reg.Field("competitive_roll_no")
	if !ok {
		t.Fatal("competitive_roll_no missing from registry")
	}
	if roll.DependsOn != "competitive_exam" {
		t.Errorf("competitive_roll_no.DependsOn = %q, want competitive_exam", roll.DependsOn)
	}

	// Every field must carry a selector for form automation.
	for _, f := range reg.AllFields() {
		if f.Selector == "" {
			t.Errorf("field %q has no selector", f.Name)
		}
		if !f.Control.IsValid() {
			t.Errorf("field %q has invalid control %q", f.Name, f.Control)
		}
	}

	// The fully optional last group is the only skippable one.
	for i := 0; i < reg.TotalGroups(); i++ {
		required := false
		for _, f := range reg.GroupFields(i) {
			if f.Required {
				required = true
			}
		}
		if i == 3 && required {
			t.Error("final group should contain only optional fields")
		}
		if i < 3 && !required {
			t.Errorf("group %d should contain at least one required field", i)
		}
	}
}

func TestLoadYAMLFromReader(t *testing.T) {
	t.Parallel()

	const doc = `
groups:
  - title: Identity
    intro: Who are you?
    fields: [name]
    prompts: ["What is your full name?"]
fields:
  - name: name
    label: Full Name
    type: string
    required: true
    selector: "#name"
    control: text
`
	reg, err := LoadYAMLFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadYAMLFromReader() error: %v", err)
	}
	if reg.TotalGroups() != 1 {
		t.Errorf("TotalGroups() = %d, want 1", reg.TotalGroups())
	}
	f, ok := reg.Field("name")
	if !ok || f.Selector != "#name" {
		t.Errorf("Field(name) = %+v, ok=%v", f, ok)
	}
}

func TestLoadYAMLFromReader_UnknownKey(t *testing.T) {
	t.Parallel()

	_, err := LoadYAMLFromReader(strings.NewReader("bogus: true"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}
