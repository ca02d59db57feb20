// Package formfill drives a browser to map a session's record onto the live
// application form. A fill is a state machine owned exclusively by [Engine]:
// pending → running → succeeded | awaiting_manual_step | failed. One job per
// session at a time; a second fill while one runs is rejected, never queued.
package formfill

import (
	"errors"
	"time"
)

// Sentinel errors for the fill taxonomy.
var (
	// ErrNotFound is returned for a session with no fill job.
	ErrNotFound = errors.New("formfill: job not found")

	// ErrNotReady is returned before a job has produced a screenshot.
	ErrNotReady = errors.New("formfill: no artifact yet")

	// ErrFillInProgress rejects a fill while one is already running.
	ErrFillInProgress = errors.New("formfill: fill already in progress")

	// ErrIncompleteRecord rejects a fill before required fields are confirmed.
	ErrIncompleteRecord = errors.New("formfill: required fields not confirmed")
)

// JobStatus is the lifecycle state of one fill attempt.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"

	// StatusAwaitingManualStep means every field was applied but a manual
	// verification widget blocks submission. Terminal, and not a failure.
	StatusAwaitingManualStep JobStatus = "awaiting_manual_step"

	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusAwaitingManualStep || s == StatusFailed
}

// Job is one fill attempt. The screenshot is captured on every terminal path
// the page is still reachable on.
type Job struct {
	SessionID   string    `json:"session_id"`
	Status      JobStatus `json:"status"`
	FailedField string    `json:"failed_field,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`

	screenshot []byte
	done       chan struct{}
}

// snapshot returns a copy safe to hand out while the job keeps running.
func (j *Job) snapshot() *Job {
	c := *j
	c.done = nil
	return &c
}
