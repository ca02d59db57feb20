package merge

import (
	"slices"
	"testing"

	"github.com/arji-ai/arji/internal/extract"
	"github.com/arji-ai/arji/internal/schema"
)

// testRegistry mirrors the two-group conversational flow used across the
// session tests: identity first, then location with a dependent district.
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New(
		[]schema.QuestionGroup{
			{Title: "Identity", Fields: []string{"name", "gender"}},
			{Title: "Location", Fields: []string{"state", "district"}},
		},
		[]schema.FieldSpec{
			{Name: "name", Type: schema.TypeString, Required: true},
			{Name: "gender", Type: schema.TypeEnum, Required: true, Options: []string{"Male", "Female", "Others"}},
			{Name: "state", Type: schema.TypeString, Required: true},
			{Name: "district", Type: schema.TypeString, Required: true, DependsOn: "state"},
		},
	)
	if err != nil {
		t.Fatalf("schema.New() error: %v", err)
	}
	return reg
}

func freshStates() map[string]FieldState {
	return map[string]FieldState{}
}

func TestMerge_AcceptsConfidentValues(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	rec, states := Record{}, freshStates()

	res := Merge(reg, rec, states, extract.Result{
		"name":   {Value: " Asha ", Confidence: 0.95},
		"gender": {Value: "female", Confidence: 0.9},
	}, reg.GroupFields(0), 0.6)

	if rec["name"] != "Asha" {
		t.Errorf("name = %q, want trimmed Asha", rec["name"])
	}
	if rec["gender"] != "Female" {
		t.Errorf("gender = %q, want canonical Female", rec["gender"])
	}
	if states["name"] != StateConfirmed || states["gender"] != StateConfirmed {
		t.Errorf("states = %v, want both confirmed", states)
	}
	if len(res.Updated) != 2 || len(res.Conflicts) != 0 || len(res.ReAsk) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	rec, states := Record{}, freshStates()
	extraction := extract.Result{"name": {Value: "Asha", Confidence: 0.95}}

	Merge(reg, rec, states, extraction, reg.GroupFields(0), 0.6)
	res := Merge(reg, rec, states, extraction, reg.GroupFields(0), 0.6)

	if len(res.Updated) != 0 || len(res.Conflicts) != 0 {
		t.Errorf("identical resubmission must be a no-op, got %+v", res)
	}
	if rec["name"] != "Asha" {
		t.Errorf("name = %q after resubmission", rec["name"])
	}
}

func TestMerge_CorrectionOverwritesAndSurfacesConflict(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	rec := Record{"name": "Asha"}
	states := map[string]FieldState{"name": StateConfirmed}

	res := Merge(reg, rec, states, extract.Result{
		"name": {Value: "Asha Rao", Confidence: 0.92},
	}, reg.GroupFields(0), 0.6)

	if rec["name"] != "Asha Rao" {
		t.Fatalf("name = %q, want corrected value", rec["name"])
	}
	want := Conflict{Field: "name", Old: "Asha", New: "Asha Rao"}
	if len(res.Conflicts) != 1 || res.Conflicts[0] != want {
		t.Errorf("Conflicts = %+v, want [%+v]", res.Conflicts, want)
	}
}

func TestMerge_BelowThresholdReAsks(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	rec, states := Record{}, freshStates()

	res := Merge(reg, rec, states, extract.Result{
		"name": {Value: "Asha", Confidence: 0.4},
	}, reg.GroupFields(0), 0.6)

	if _, ok := rec["name"]; ok {
		t.Error("below-threshold value must not enter the record")
	}
	if !slices.Contains(res.ReAsk, "name") {
		t.Errorf("ReAsk = %v, want name listed", res.ReAsk)
	}
}

func TestMerge_OutOfGroupDiscarded(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	rec, states := Record{}, freshStates()

	res := Merge(reg, rec, states, extract.Result{
		"state": {Value: "Kerala", Confidence: 0.95},
	}, reg.GroupFields(0), 0.6)

	if _, ok := rec["state"]; ok {
		t.Error("state belongs to group 1 and must be discarded in group 0")
	}
	if len(res.ReAsk) != 0 {
		t.Errorf("discarded fields are not re-asked, got %v", res.ReAsk)
	}
}

func TestMerge_DependencyGate(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)

	t.Run("unconfirmed dependency discards", func(t *testing.T) {
		t.Parallel()
		rec, states := Record{}, freshStates()
		res := Merge(reg, rec, states, extract.Result{
			"district": {Value: "Kollam", Confidence: 0.95},
		}, reg.GroupFields(1), 0.6)
		if _, ok := rec["district"]; ok {
			t.Error("district accepted without a confirmed state")
		}
		if len(res.ReAsk) != 0 {
			t.Errorf("gated fields are discarded, not re-asked: %v", res.ReAsk)
		}
	})

	t.Run("same turn satisfies the gate in apply order", func(t *testing.T) {
		t.Parallel()
		rec, states := Record{}, freshStates()
		res := Merge(reg, rec, states, extract.Result{
			"district": {Value: "Kollam", Confidence: 0.9},
			"state":    {Value: "Kerala", Confidence: 0.9},
		}, reg.GroupFields(1), 0.6)
		if rec["state"] != "Kerala" || rec["district"] != "Kollam" {
			t.Errorf("record = %v, want both accepted in one pass", rec)
		}
		if !slices.Equal(res.Updated, []string{"state", "district"}) {
			t.Errorf("Updated = %v, want [state district] in dependency order", res.Updated)
		}
	})
}

func TestMerge_ValidationFailureReAsks(t *testing.T) {
	t.Parallel()

	reg, err := schema.New(
		[]schema.QuestionGroup{{Title: "Dates", Fields: []string{"dob"}}},
		[]schema.FieldSpec{{Name: "dob", Type: schema.TypeDate, Required: true}},
	)
	if err != nil {
		t.Fatalf("schema.New() error: %v", err)
	}

	rec, states := Record{}, freshStates()
	res := Merge(reg, rec, states, extract.Result{
		"dob": {Value: "sometime in May", Confidence: 0.9},
	}, reg.GroupFields(0), 0.6)

	if _, ok := rec["dob"]; ok {
		t.Error("invalid date must not enter the record")
	}
	if !slices.Contains(res.ReAsk, "dob") {
		t.Errorf("ReAsk = %v, want dob listed", res.ReAsk)
	}
}

func TestMerge_EnumWithoutCloseMatchReAsks(t *testing.T) {
	t.Parallel()

	reg := testRegistry(t)
	rec, states := Record{}, freshStates()

	res := Merge(reg, rec, states, extract.Result{
		"gender": {Value: "xyzzy", Confidence: 0.9},
	}, reg.GroupFields(0), 0.6)

	if _, ok := rec["gender"]; ok {
		t.Error("unmatchable enum value must not enter the record")
	}
	if !slices.Contains(res.ReAsk, "gender") {
		t.Errorf("ReAsk = %v, want gender listed", res.ReAsk)
	}
}

func TestNormalizeEnum(t *testing.T) {
	t.Parallel()

	states := []string{"Kerala", "Karnataka", "Tamil Nadu", "Telangana"}

	tests := []struct {
		name    string
		value   string
		options []string
		want    string
		ok      bool
	}{
		{"exact", "Kerala", states, "Kerala", true},
		{"case insensitive", "kerala", states, "Kerala", true},
		{"padded", "  KERALA ", states, "Kerala", true},
		{"close misspelling", "Keralla", states, "Kerala", true},
		{"fuzzy multiword", "tamilnadu", states, "Tamil Nadu", true},
		{"no match", "Atlantis", states, "", false},
		{"empty", "", states, "", false},
		{"yes no", "yes", []string{"Yes", "No"}, "Yes", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NormalizeEnum(tt.value, tt.options)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NormalizeEnum(%q) = (%q, %v), want (%q, %v)", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRequiredConfirmed(t *testing.T) {
	t.Parallel()

	specs := []schema.FieldSpec{
		{Name: "name", Required: true},
		{Name: "nickname"},
	}

	if RequiredConfirmed(specs, map[string]FieldState{}) {
		t.Error("no confirmations: want false")
	}
	if !RequiredConfirmed(specs, map[string]FieldState{"name": StateConfirmed}) {
		t.Error("required confirmed, optional open: want true")
	}
	if RequiredConfirmed(specs, map[string]FieldState{"name": StateSkipped}) {
		t.Error("skipped required field must not count as confirmed")
	}
}
