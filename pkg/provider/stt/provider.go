// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider wraps an opaque transcription service (e.g., the Bhashini
// inference pipeline) behind a single blocking call: audio bytes in, plain
// text out. The conversational pipeline submits one recorded answer at a
// time, so no streaming session is needed.
//
// Transcription is at-most-once: a failed call is surfaced to the caller and
// never retried by the provider itself.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyTranscript is returned when the service answered successfully but
// recognised no speech in the audio.
var ErrEmptyTranscript = errors.New("stt: no speech recognised")

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts recorded audio to plain text. format is a hint
	// naming the container/codec of the bytes (e.g. "wav"). An empty
	// transcript is reported as [ErrEmptyTranscript].
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}
