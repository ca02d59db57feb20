// Package session owns one applicant's conversational progress: the active
// question group, the accumulated record, per-field confirmation state, the
// conversation log, and the expiration clock. All mutation goes through
// [Machine], which serialises calls per session.
package session

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/arji-ai/arji/internal/merge"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive means the conversation is in progress.
	StatusActive Status = "active"

	// StatusCompleted means every question group has been answered.
	StatusCompleted Status = "completed"

	// StatusExpired means the TTL elapsed. Terminal except for deletion.
	StatusExpired Status = "expired"

	// StatusFailed marks a session abandoned after an unrecoverable error.
	StatusFailed Status = "failed"
)

// Sentinel errors for the session taxonomy. The API layer maps each to a
// stable HTTP status.
var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session: not found")

	// ErrExpired is returned when the session TTL has elapsed.
	ErrExpired = errors.New("session: expired")

	// ErrAlreadyCompleted is returned for conversation calls on a session
	// past its last group.
	ErrAlreadyCompleted = errors.New("session: already completed")

	// ErrRequiredFieldSkip is returned when skip would bypass an unanswered
	// required field.
	ErrRequiredFieldSkip = errors.New("session: cannot skip a required field")

	// ErrTranscription wraps speech-to-text failures. Session state is
	// unchanged; the caller may retry.
	ErrTranscription = errors.New("session: transcription failed")

	// ErrExtraction wraps extraction transport failures. Session state is
	// unchanged; the caller may retry.
	ErrExtraction = errors.New("session: extraction failed")
)

// Turn is one conversation log entry: what the user said and which field
// values that turn changed.
type Turn struct {
	Index     int               `json:"index"`
	RawInput  string            `json:"raw_input"`
	Extracted map[string]string `json:"extracted"`
}

// Session is the persisted conversation state. It is a plain data carrier;
// invariants are maintained by [Machine].
type Session struct {
	ID           string                      `json:"id"`
	Status       Status                      `json:"status"`
	GroupIndex   int                         `json:"group_index"`
	CreatedAt    time.Time                   `json:"created_at"`
	LastActivity time.Time                   `json:"last_activity"`
	Record       merge.Record                `json:"record"`
	FieldStates  map[string]merge.FieldState `json:"field_states"`
	Log          []Turn                      `json:"log"`
}

// Clone returns a deep copy, so stores can hand out snapshots without
// aliasing the maps.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Record = maps.Clone(s.Record)
	c.FieldStates = maps.Clone(s.FieldStates)
	c.Log = slices.Clone(s.Log)
	return &c
}
