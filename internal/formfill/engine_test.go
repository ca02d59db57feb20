package formfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arji-ai/arji/internal/extract/mock"
	"github.com/arji-ai/arji/internal/merge"
	"github.com/arji-ai/arji/internal/schema"
	"github.com/arji-ai/arji/internal/session"
	"github.com/arji-ai/arji/pkg/browser"
	browsermock "github.com/arji-ai/arji/pkg/browser/mock"
)

const formURL = "https://forms.example/apply"

func fillRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.New(
		[]schema.QuestionGroup{
			{Title: "Identity", Fields: []string{"name", "gender"}},
			{Title: "Location", Fields: []string{"state", "district"}},
		},
		[]schema.FieldSpec{
			{Name: "name", Type: schema.TypeString, Required: true, Selector: "#name", Control: schema.ControlText},
			{Name: "gender", Type: schema.TypeEnum, Required: true, Options: []string{"Male", "Female", "Others"}, Selector: "#gender", Control: schema.ControlSelect},
			{Name: "state", Type: schema.TypeString, Required: true, Selector: "#state", Control: schema.ControlSelect},
			{Name: "district", Type: schema.TypeString, DependsOn: "state", Selector: "#district", Control: schema.ControlText},
		},
	)
	if err != nil {
		t.Fatalf("schema.New() error: %v", err)
	}
	return reg
}

// seedSession stores a session with the given confirmed record and returns
// the machine reading it.
func seedSession(t *testing.T, reg *schema.Registry, record merge.Record, states map[string]merge.FieldState) (*session.Machine, string) {
	t.Helper()

	store := session.NewMemStore()
	sess := &session.Session{
		ID:           "sess-1",
		Status:       session.StatusCompleted,
		GroupIndex:   reg.TotalGroups(),
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
		Record:       record,
		FieldStates:  states,
	}
	if err := store.Put(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session.NewMachine(store, reg, &mock.Extractor{}, nil), sess.ID
}

func completeStates() map[string]merge.FieldState {
	return map[string]merge.FieldState{
		"name":     merge.StateConfirmed,
		"gender":   merge.StateConfirmed,
		"state":    merge.StateConfirmed,
		"district": merge.StateConfirmed,
	}
}

func completeRecord() merge.Record {
	return merge.Record{
		"name":     "Asha Rao",
		"gender":   "Female",
		"state":    "Kerala",
		"district": "Kollam",
	}
}

// waitTerminal blocks on the job's done channel and returns the terminal
// snapshot.
func waitTerminal(t *testing.T, e *Engine, sessionID string) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.wait(ctx, sessionID); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
	job, err := e.Status(sessionID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !job.Status.Terminal() {
		t.Fatalf("job finished in non-terminal status %s", job.Status)
	}
	return job
}

func TestEngine_FillSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := fillRegistry(t)
	machine, id := seedSession(t, reg, completeRecord(), completeStates())
	src := &browsermock.Source{Automator: &browsermock.Automator{}}
	e := NewEngine(machine, reg, src, formURL)

	job, err := e.Fill(ctx, id, false)
	if err != nil {
		t.Fatalf("Fill() error: %v", err)
	}
	if job.Status.Terminal() {
		t.Fatalf("initial snapshot already terminal: %s", job.Status)
	}

	job = waitTerminal(t, e, id)
	if job.Status != StatusSucceeded {
		t.Fatalf("status = %s (%s), want succeeded", job.Status, job.Error)
	}

	applied := src.Automator.Applied()
	want := completeRecord()
	for field, selector := range map[string]string{"name": "#name", "gender": "#gender", "state": "#state", "district": "#district"} {
		if applied[selector] != want[field] {
			t.Errorf("applied[%s] = %q, want %q", selector, applied[selector], want[field])
		}
	}

	png, err := e.Screenshot(id)
	if err != nil || len(png) == 0 {
		t.Errorf("Screenshot() = (%d bytes, %v), want artifact", len(png), err)
	}
	if !src.Balanced() {
		t.Error("browser checkout was not released")
	}
}

func TestEngine_DependencyOrderedApply(t *testing.T) {
	t.Parallel()

	reg := fillRegistry(t)
	machine, id := seedSession(t, reg, completeRecord(), completeStates())
	src := &browsermock.Source{Automator: &browsermock.Automator{}}
	e := NewEngine(machine, reg, src, formURL)

	if _, err := e.Fill(context.Background(), id, false); err != nil {
		t.Fatalf("Fill() error: %v", err)
	}
	waitTerminal(t, e, id)

	var stateIdx, districtIdx int
	for i, act := range src.Automator.Actions {
		switch act.Selector {
		case "#state":
			stateIdx = i
		case "#district":
			districtIdx = i
		}
	}
	if districtIdx < stateIdx {
		t.Errorf("district applied at %d before its dependency state at %d", districtIdx, stateIdx)
	}
}

func TestEngine_DependentFieldSkippedWithoutPrerequisite(t *testing.T) {
	t.Parallel()

	reg := fillRegistry(t)
	states := completeStates()
	states["state"] = merge.StateSkipped
	record := completeRecord()
	delete(record, "state")

	machine, id := seedSession(t, reg, record, states)
	src := &browsermock.Source{Automator: &browsermock.Automator{}}
	e := NewEngine(machine, reg, src, formURL)

	if _, err := e.Fill(context.Background(), id, true); err != nil {
		t.Fatalf("Fill() error: %v", err)
	}
	job := waitTerminal(t, e, id)
	if job.Status != StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}

	applied := src.Automator.Applied()
	if _, ok := applied["#district"]; ok {
		t.Error("district applied although its prerequisite was never set")
	}
	if applied["#name"] != "Asha Rao" {
		t.Error("independent fields must still be applied")
	}
}

func TestEngine_CaptchaStopsAtManualStep(t *testing.T) {
	t.Parallel()

	reg := fillRegistry(t)
	machine, id := seedSession(t, reg, completeRecord(), completeStates())
	src := &browsermock.Source{Automator: &browsermock.Automator{
		Present: map[string]bool{"#captcha": true},
	}}
	e := NewEngine(machine, reg, src, formURL, WithCaptchaSelector("#captcha"))

	if _, err := e.Fill(context.Background(), id, false); err != nil {
		t.Fatalf("Fill() error: %v", err)
	}
	job := waitTerminal(t, e, id)
	if job.Status != StatusAwaitingManualStep {
		t.Fatalf("status = %s, want awaiting_manual_step", job.Status)
	}

	// All fields applied, artifact present, record untouched.
	if got := len(src.Automator.Applied()); got != 4 {
		t.Errorf("applied %d fields, want 4", got)
	}
	if png, err := e.Screenshot(id); err != nil || len(png) == 0 {
		t.Errorf("Screenshot() = (%d bytes, %v), want artifact", len(png), err)
	}
	data, err := machine.Data(context.Background(), id)
	if err != nil {
		t.Fatalf("Data() error: %v", err)
	}
	if data.Record["name"] != "Asha Rao" {
		t.Error("fill mutated the session record")
	}
}

func TestEngine_DOMFailureRecordsField(t *testing.T) {
	t.Parallel()

	reg := fillRegistry(t)
	machine, id := seedSession(t, reg, completeRecord(), completeStates())
	src := &browsermock.Source{Automator: &browsermock.Automator{FailSelector: "#gender"}}
	e := NewEngine(machine, reg, src, formURL)

	if _, err := e.Fill(context.Background(), id, false); err != nil {
		t.Fatalf("Fill() error: %v", err)
	}
	job := waitTerminal(t, e, id)

	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.FailedField != "gender" {
		t.Errorf("failed field = %q, want gender", job.FailedField)
	}
	if !src.Balanced() {
		t.Error("browser checkout leaked on failure")
	}
}

func TestEngine_IncompleteRecordRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := fillRegistry(t)
	states := completeStates()
	states["gender"] = merge.StateUnconfirmed
	machine, id := seedSession(t, reg, completeRecord(), states)
	src := &browsermock.Source{Automator: &browsermock.Automator{}}
	e := NewEngine(machine, reg, src, formURL)

	if _, err := e.Fill(ctx, id, false); !errors.Is(err, ErrIncompleteRecord) {
		t.Fatalf("Fill() error = %v, want ErrIncompleteRecord", err)
	}

	// Partial fill is an explicit opt-in.
	if _, err := e.Fill(ctx, id, true); err != nil {
		t.Fatalf("Fill(partial) error: %v", err)
	}
	job := waitTerminal(t, e, id)
	if job.Status != StatusSucceeded {
		t.Errorf("partial fill status = %s, want succeeded", job.Status)
	}
}

// blockingSource parks the fill in Navigate until released.
type blockingSource struct {
	browsermock.Source
	gate chan struct{}
}

type blockingAutomator struct {
	browsermock.Automator
	gate chan struct{}
}

func (b *blockingAutomator) Navigate(ctx context.Context, url string) error {
	select {
	case <-b.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.Automator.Navigate(ctx, url)
}

func (b *blockingSource) Acquire(ctx context.Context, id string) (browser.Automator, browser.ReleaseFunc, error) {
	_, release, err := b.Source.Acquire(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &blockingAutomator{gate: b.gate}, release, nil
}

func TestEngine_SingleFlightPerSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := fillRegistry(t)
	machine, id := seedSession(t, reg, completeRecord(), completeStates())
	src := &blockingSource{gate: make(chan struct{})}
	e := NewEngine(machine, reg, src, formURL)

	if _, err := e.Fill(ctx, id, false); err != nil {
		t.Fatalf("first Fill() error: %v", err)
	}

	// While the first job is parked, a second fill is rejected, not queued.
	deadline := time.Now().Add(time.Second)
	for {
		_, err := e.Fill(ctx, id, false)
		if errors.Is(err, ErrFillInProgress) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second Fill() error = %v, want ErrFillInProgress", err)
		}
		time.Sleep(time.Millisecond)
	}

	// No artifact while running.
	if _, err := e.Screenshot(id); !errors.Is(err, ErrNotReady) {
		t.Errorf("Screenshot() error = %v, want ErrNotReady", err)
	}

	close(src.gate)
	job := waitTerminal(t, e, id)
	if job.Status != StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}

	// A terminal job allows a fresh attempt.
	if _, err := e.Fill(ctx, id, false); err != nil {
		t.Errorf("Fill after terminal job error: %v", err)
	}
	waitTerminal(t, e, id)
}

func TestEngine_TimeoutFails(t *testing.T) {
	t.Parallel()

	reg := fillRegistry(t)
	machine, id := seedSession(t, reg, completeRecord(), completeStates())
	src := &blockingSource{gate: make(chan struct{})} // never released
	e := NewEngine(machine, reg, src, formURL, WithFillTimeout(20*time.Millisecond))

	if _, err := e.Fill(context.Background(), id, false); err != nil {
		t.Fatalf("Fill() error: %v", err)
	}
	job := waitTerminal(t, e, id)
	if job.Status != StatusFailed {
		t.Fatalf("status = %s, want failed on timeout", job.Status)
	}
	if job.Error == "" {
		t.Error("timeout failure carries no error detail")
	}
}

func TestEngine_UnknownJob(t *testing.T) {
	t.Parallel()

	reg := fillRegistry(t)
	machine, _ := seedSession(t, reg, completeRecord(), completeStates())
	e := NewEngine(machine, reg, &browsermock.Source{}, formURL)

	if _, err := e.Status("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status(unknown) = %v, want ErrNotFound", err)
	}
	if _, err := e.Screenshot("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Screenshot(unknown) = %v, want ErrNotFound", err)
	}
}

func TestEngine_Preview(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := fillRegistry(t)
	states := completeStates()
	states["district"] = merge.StateUnconfirmed
	record := completeRecord()
	delete(record, "district")
	machine, id := seedSession(t, reg, record, states)
	e := NewEngine(machine, reg, &browsermock.Source{}, formURL)

	p, err := e.Preview(ctx, id)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if !p.Ready {
		t.Error("Ready = false, want true (district is optional)")
	}
	byField := map[string]PreviewField{}
	for _, f := range p.Fields {
		byField[f.Field] = f
	}
	if got := byField["name"]; got.Value != "Asha Rao" || !got.Confirmed {
		t.Errorf("name preview = %+v", got)
	}
	if got := byField["district"]; got.Confirmed || got.Value != "" {
		t.Errorf("district preview = %+v, want unconfirmed and empty", got)
	}
	if byField["gender"].Control != schema.ControlSelect {
		t.Errorf("gender control = %q, want select", byField["gender"].Control)
	}
}
