package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arji-ai/arji/internal/extract"
	"github.com/arji-ai/arji/internal/merge"
	"github.com/arji-ai/arji/internal/observe"
	"github.com/arji-ai/arji/internal/schema"
	"github.com/arji-ai/arji/pkg/provider/stt"
)

const (
	defaultTimeout   = 30 * time.Minute
	defaultThreshold = 0.6
)

// MachineOption configures a [Machine].
type MachineOption func(*Machine)

// WithTimeout sets the session TTL (default 30 minutes).
func WithTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		m.timeout = d
	}
}

// WithThreshold sets the extraction confidence required to accept a value
// (default 0.6).
func WithThreshold(t float64) MachineOption {
	return func(m *Machine) {
		m.threshold = t
	}
}

// WithMetrics overrides the metrics instance (default [observe.DefaultMetrics]).
func WithMetrics(met *observe.Metrics) MachineOption {
	return func(m *Machine) {
		m.metrics = met
	}
}

// Machine is the session state machine. It is the only writer of session
// state: every mutating call locks the session's stripe first, so two
// submissions for the same session can never race a merge, while distinct
// sessions proceed in parallel.
type Machine struct {
	store     Store
	reg       *schema.Registry
	extractor extract.Extractor
	stt       stt.Provider
	metrics   *observe.Metrics
	timeout   time.Duration
	threshold float64

	locks sync.Map // session ID -> *sync.Mutex
}

// NewMachine wires a state machine over the given store, schema, and
// adapters. sttProvider may be nil when audio submission is disabled.
func NewMachine(store Store, reg *schema.Registry, extractor extract.Extractor, sttProvider stt.Provider, opts ...MachineOption) *Machine {
	m := &Machine{
		store:     store,
		reg:       reg,
		extractor: extractor,
		stt:       sttProvider,
		timeout:   defaultTimeout,
		threshold: defaultThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Question pairs a field with the prompt that asks for it.
type Question struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

// Questions is the conversational payload for the active group.
type Questions struct {
	GroupIndex  int        `json:"group_index"`
	TotalGroups int        `json:"total_groups"`
	Title       string     `json:"title"`
	Intro       string     `json:"intro"`
	Questions   []Question `json:"questions"`
}

// SubmitResult reports what one answer changed.
type SubmitResult struct {
	Transcript string       `json:"transcript,omitempty"`
	Merge      merge.Result `json:"merge"`
	GroupIndex int          `json:"group_index"`
	Status     Status       `json:"status"`
}

// Data is the full-record projection. Partial data is valid output.
type Data struct {
	Status      Status                      `json:"status"`
	GroupIndex  int                         `json:"group_index"`
	Record      merge.Record                `json:"record"`
	FieldStates map[string]merge.FieldState `json:"field_states"`
	Completion  float64                     `json:"completion"`
}

// Start creates a session at group 0.
func (m *Machine) Start(ctx context.Context) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		Status:       StatusActive,
		GroupIndex:   0,
		CreatedAt:    now,
		LastActivity: now,
		Record:       merge.Record{},
		FieldStates:  map[string]merge.FieldState{},
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started", "session_id", sess.ID)
	return sess, nil
}

// Get returns a session snapshot, applying lazy expiry.
func (m *Machine) Get(ctx context.Context, id string) (*Session, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return m.load(ctx, id)
}

// CurrentQuestions returns the prompts for the active group.
func (m *Machine) CurrentQuestions(ctx context.Context, id string) (*Questions, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}

	group, ok := m.reg.Group(sess.GroupIndex)
	if !ok {
		return nil, fmt.Errorf("session: group index %d out of range", sess.GroupIndex)
	}

	qs := &Questions{
		GroupIndex:  sess.GroupIndex,
		TotalGroups: m.reg.TotalGroups(),
		Title:       group.Title,
		Intro:       group.Intro,
	}
	for i, name := range group.Fields {
		q := Question{Field: name}
		if i < len(group.Prompts) {
			q.Prompt = group.Prompts[i]
		}
		qs.Questions = append(qs.Questions, q)
	}
	return qs, nil
}

// SubmitText runs one conversation turn: extract against the active group's
// fields, merge, log the turn, and advance the group when every required
// field in it is confirmed. Adapter failures leave the session untouched.
func (m *Machine) SubmitText(ctx context.Context, id, text string) (*SubmitResult, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return m.submit(ctx, id, text, "")
}

// SubmitAudio transcribes the audio and runs the same turn as [SubmitText].
// Transcription failure surfaces as [ErrTranscription] with state unchanged.
func (m *Machine) SubmitAudio(ctx context.Context, id string, audio []byte, format string) (*SubmitResult, error) {
	if m.stt == nil {
		return nil, fmt.Errorf("%w: no transcription provider configured", ErrTranscription)
	}

	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	// Validate the session before paying for transcription.
	if sess, err := m.load(ctx, id); err != nil {
		return nil, err
	} else if sess.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}

	start := time.Now()
	text, err := m.stt.Transcribe(ctx, audio, format)
	m.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	return m.submit(ctx, id, text, text)
}

// submit is the shared turn body. The caller holds the session lock.
func (m *Machine) submit(ctx context.Context, id, text, transcript string) (*SubmitResult, error) {
	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}

	groupFields := m.reg.GroupFields(sess.GroupIndex)

	start := time.Now()
	extraction, err := m.extractor.Extract(ctx, text, groupFields)
	m.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	res := merge.Merge(m.reg, sess.Record, sess.FieldStates, extraction, groupFields, m.threshold)
	if n := len(res.Conflicts); n > 0 {
		m.metrics.MergeConflicts.Add(ctx, int64(n))
	}

	delta := make(map[string]string, len(res.Updated))
	for _, name := range res.Updated {
		delta[name] = sess.Record[name]
	}
	sess.Log = append(sess.Log, Turn{Index: len(sess.Log), RawInput: text, Extracted: delta})
	sess.LastActivity = time.Now().UTC()

	m.advance(ctx, sess)

	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	slog.Info("turn processed",
		"session_id", sess.ID,
		"group_index", sess.GroupIndex,
		"updated", res.Updated,
		"re_ask", res.ReAsk,
		"conflicts", len(res.Conflicts),
	)
	return &SubmitResult{
		Transcript: transcript,
		Merge:      res,
		GroupIndex: sess.GroupIndex,
		Status:     sess.Status,
	}, nil
}

// Skip marks the active group's open fields skipped and advances. It fails
// with [ErrRequiredFieldSkip], leaving field states unchanged, when the group
// still has an unanswered required field.
func (m *Machine) Skip(ctx context.Context, id string) (*SubmitResult, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}

	groupFields := m.reg.GroupFields(sess.GroupIndex)
	for _, f := range groupFields {
		if f.Required && sess.FieldStates[f.Name] != merge.StateConfirmed {
			return nil, fmt.Errorf("%w: %s", ErrRequiredFieldSkip, f.Name)
		}
	}
	for _, f := range groupFields {
		if sess.FieldStates[f.Name] != merge.StateConfirmed {
			sess.FieldStates[f.Name] = merge.StateSkipped
		}
	}

	sess.LastActivity = time.Now().UTC()
	m.advance(ctx, sess)

	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	slog.Info("group skipped", "session_id", sess.ID, "group_index", sess.GroupIndex)
	return &SubmitResult{GroupIndex: sess.GroupIndex, Status: sess.Status}, nil
}

// Data returns the full record regardless of completion status.
func (m *Machine) Data(ctx context.Context, id string) (*Data, error) {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	confirmed := 0
	all := m.reg.AllFields()
	for _, f := range all {
		if sess.FieldStates[f.Name] == merge.StateConfirmed {
			confirmed++
		}
	}
	completion := 0.0
	if len(all) > 0 {
		completion = float64(confirmed) / float64(len(all)) * 100
	}

	return &Data{
		Status:      sess.Status,
		GroupIndex:  sess.GroupIndex,
		Record:      sess.Record,
		FieldStates: sess.FieldStates,
		Completion:  completion,
	}, nil
}

// Delete removes the session immediately. Idempotent.
func (m *Machine) Delete(ctx context.Context, id string) error {
	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if sess, err := m.store.Get(ctx, id); err == nil && sess.Status == StatusActive {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.locks.Delete(id)
	return nil
}

// RunSweeper periodically deletes sessions idle past the TTL, bounding store
// growth. It blocks until ctx is cancelled.
func (m *Machine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.Sweep(ctx, time.Now().UTC().Add(-m.timeout))
			if err != nil {
				slog.Warn("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				m.metrics.ExpiredSessions.Add(ctx, int64(n))
				slog.Info("swept idle sessions", "count", n)
			}
		}
	}
}

// load fetches the session and applies lazy expiry: an active session idle
// past the TTL is marked expired, persisted, and reported as [ErrExpired].
// Completed sessions never expire.
func (m *Machine) load(ctx context.Context, id string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusExpired {
		return nil, ErrExpired
	}
	if sess.Status == StatusActive && time.Since(sess.LastActivity) > m.timeout {
		sess.Status = StatusExpired
		if err := m.store.Put(ctx, sess); err != nil {
			return nil, err
		}
		m.metrics.ExpiredSessions.Add(ctx, 1)
		m.metrics.ActiveSessions.Add(ctx, -1)
		slog.Info("session expired", "session_id", id)
		return nil, ErrExpired
	}
	return sess, nil
}

// advance moves past the active group once every required field in it is
// confirmed, then past any further group with nothing left to ask. Past the
// last group the session completes. The index never decreases.
func (m *Machine) advance(ctx context.Context, sess *Session) {
	if !merge.RequiredConfirmed(m.reg.GroupFields(sess.GroupIndex), sess.FieldStates) {
		return
	}
	// The active group must have been presented at least once: a group of
	// only optional fields is trivially satisfied but still gets asked.
	if !m.groupAnswered(sess, sess.GroupIndex) {
		return
	}

	sess.GroupIndex++
	for sess.GroupIndex < m.reg.TotalGroups() && nothingToAsk(m.reg.GroupFields(sess.GroupIndex), sess.FieldStates) {
		sess.GroupIndex++
	}
	if sess.GroupIndex >= m.reg.TotalGroups() {
		sess.GroupIndex = m.reg.TotalGroups()
		sess.Status = StatusCompleted
		m.metrics.ActiveSessions.Add(ctx, -1)
		slog.Info("session completed", "session_id", sess.ID)
	}
}

// groupAnswered reports whether the group received any turn or skip: at least
// one of its fields left the unconfirmed state, or it has a required field
// (which can only be satisfied by an answer).
func (m *Machine) groupAnswered(sess *Session, idx int) bool {
	fields := m.reg.GroupFields(idx)
	for _, f := range fields {
		if f.Required {
			return true
		}
		if st := sess.FieldStates[f.Name]; st == merge.StateConfirmed || st == merge.StateSkipped {
			return true
		}
	}
	// All-optional group with no field touched yet: an empty group turn still
	// counts as presented once a log entry exists for it.
	return len(fields) == 0
}

// nothingToAsk reports whether every field in the group is already confirmed
// or skipped.
func nothingToAsk(specs []schema.FieldSpec, states map[string]merge.FieldState) bool {
	for _, f := range specs {
		st := states[f.Name]
		if st != merge.StateConfirmed && st != merge.StateSkipped {
			return false
		}
	}
	return true
}

func (m *Machine) lockFor(id string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
