package formfill

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arji-ai/arji/internal/merge"
	"github.com/arji-ai/arji/internal/observe"
	"github.com/arji-ai/arji/internal/schema"
	"github.com/arji-ai/arji/internal/session"
	"github.com/arji-ai/arji/pkg/browser"
)

const defaultFillTimeout = 2 * time.Minute

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithCaptchaSelector sets the selector probed for a manual verification
// widget after all fields are applied. Empty disables the probe.
func WithCaptchaSelector(sel string) Option {
	return func(e *Engine) {
		e.captchaSelector = sel
	}
}

// WithFillTimeout bounds one fill attempt end to end (default 2 minutes).
// Hitting the deadline transitions the job to failed, never hangs it.
func WithFillTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.fillTimeout = d
	}
}

// WithScreenshotDir additionally persists screenshots as
// <dir>/<session-id>.png.
func WithScreenshotDir(dir string) Option {
	return func(e *Engine) {
		e.screenshotDir = dir
	}
}

// WithMetrics overrides the metrics instance (default [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine owns form fill jobs. It reads records through the session machine,
// applies them in the registry's dependency order, and never retries a
// terminal job on its own.
type Engine struct {
	machine         *session.Machine
	reg             *schema.Registry
	source          browser.Source
	formURL         string
	captchaSelector string
	fillTimeout     time.Duration
	screenshotDir   string
	metrics         *observe.Metrics

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewEngine wires a fill engine for the form at formURL.
func NewEngine(machine *session.Machine, reg *schema.Registry, source browser.Source, formURL string, opts ...Option) *Engine {
	e := &Engine{
		machine:     machine,
		reg:         reg,
		source:      source,
		formURL:     formURL,
		fillTimeout: defaultFillTimeout,
		jobs:        make(map[string]*Job),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Fill starts an asynchronous fill for the session and returns the job
// snapshot immediately; progress is observed via [Engine.Status]. It rejects
// with [ErrFillInProgress] while a job is running and with
// [ErrIncompleteRecord] when required fields are unconfirmed and allowPartial
// is false. The record is never mutated by a fill.
func (e *Engine) Fill(ctx context.Context, sessionID string, allowPartial bool) (*Job, error) {
	sess, err := e.machine.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !allowPartial && !merge.RequiredConfirmed(e.reg.AllFields(), sess.FieldStates) {
		return nil, ErrIncompleteRecord
	}

	e.mu.Lock()
	if prev, ok := e.jobs[sessionID]; ok && !prev.Status.Terminal() {
		e.mu.Unlock()
		return nil, ErrFillInProgress
	}
	job := &Job{
		SessionID: sessionID,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	e.jobs[sessionID] = job
	snap := job.snapshot()
	e.mu.Unlock()

	go e.run(job, sess.Record, sess.FieldStates)
	return snap, nil
}

// Status returns the current job snapshot for the session.
func (e *Engine) Status(sessionID string) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.snapshot(), nil
}

// wait blocks until the session's current job closes its done channel or ctx
// ends. The HTTP surface polls [Engine.Status] instead; this exists for
// deterministic synchronisation in tests.
func (e *Engine) wait(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	job, ok := e.jobs[sessionID]
	e.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Screenshot returns the job's PNG artifact, or [ErrNotReady] before one
// exists.
func (e *Engine) Screenshot(sessionID string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(job.screenshot) == 0 {
		return nil, ErrNotReady
	}
	return job.screenshot, nil
}

// run executes one fill to a terminal state. The job runs detached from the
// triggering request, bounded by the engine's fill timeout.
func (e *Engine) run(job *Job, record merge.Record, states map[string]merge.FieldState) {
	ctx, cancel := context.WithTimeout(context.Background(), e.fillTimeout)
	defer cancel()
	defer close(job.done)

	start := time.Now()
	defer func() {
		e.metrics.FillDuration.Record(ctx, time.Since(start).Seconds())
	}()

	e.setStatus(job, StatusRunning)

	auto, release, err := e.source.Acquire(ctx, job.SessionID)
	if err != nil {
		e.fail(job, "", fmt.Errorf("formfill: acquire browser: %w", err))
		return
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("browser release failed", "session_id", job.SessionID, "err", err)
		}
	}()

	if err := auto.Navigate(ctx, e.formURL); err != nil {
		e.fail(job, "", fmt.Errorf("formfill: navigate: %w", err))
		return
	}

	applied := make(map[string]bool)
	for _, name := range e.reg.ApplyOrder() {
		if states[name] != merge.StateConfirmed {
			continue
		}
		value, ok := record[name]
		if !ok {
			continue
		}
		spec, _ := e.reg.Field(name)
		if spec.Selector == "" {
			continue
		}
		// A dependent field is only meaningful once its prerequisite value is
		// on the page.
		if spec.DependsOn != "" && !applied[spec.DependsOn] {
			continue
		}

		if err := applyField(ctx, auto, spec, value); err != nil {
			e.captureScreenshot(ctx, auto, job)
			e.fail(job, name, fmt.Errorf("formfill: apply %s: %w", name, err))
			return
		}
		applied[name] = true
	}

	e.captureScreenshot(ctx, auto, job)

	if e.captchaSelector != "" {
		blocked, err := auto.Exists(ctx, e.captchaSelector)
		if err != nil {
			e.fail(job, "", fmt.Errorf("formfill: captcha probe: %w", err))
			return
		}
		if blocked {
			e.metrics.ManualSteps.Add(ctx, 1)
			e.finish(job, StatusAwaitingManualStep)
			slog.Info("fill paused at manual step", "session_id", job.SessionID, "fields_applied", len(applied))
			return
		}
	}

	e.finish(job, StatusSucceeded)
	slog.Info("fill succeeded", "session_id", job.SessionID, "fields_applied", len(applied))
}

// applyField drives one DOM control according to its declared kind.
func applyField(ctx context.Context, auto browser.Automator, spec schema.FieldSpec, value string) error {
	if spec.Control == schema.ControlSelect {
		return auto.SelectOption(ctx, spec.Selector, value)
	}
	return auto.SetValue(ctx, spec.Selector, value)
}

// captureScreenshot is best-effort: a fill outcome never turns on whether the
// artifact could be taken.
func (e *Engine) captureScreenshot(ctx context.Context, auto browser.Automator, job *Job) {
	png, err := auto.Screenshot(ctx)
	if err != nil {
		slog.Warn("screenshot failed", "session_id", job.SessionID, "err", err)
		return
	}

	e.mu.Lock()
	job.screenshot = png
	e.mu.Unlock()

	if e.screenshotDir != "" {
		path := filepath.Join(e.screenshotDir, job.SessionID+".png")
		if err := os.WriteFile(path, png, 0o644); err != nil {
			slog.Warn("screenshot persist failed", "path", path, "err", err)
		}
	}
}

func (e *Engine) setStatus(job *Job, s JobStatus) {
	e.mu.Lock()
	job.Status = s
	e.mu.Unlock()
}

func (e *Engine) finish(job *Job, s JobStatus) {
	e.mu.Lock()
	job.Status = s
	job.FinishedAt = time.Now().UTC()
	e.mu.Unlock()
}

func (e *Engine) fail(job *Job, field string, err error) {
	e.mu.Lock()
	job.Status = StatusFailed
	job.FailedField = field
	job.Error = err.Error()
	job.FinishedAt = time.Now().UTC()
	e.mu.Unlock()
	slog.Warn("fill failed", "session_id", job.SessionID, "field", field, "err", err)
}
