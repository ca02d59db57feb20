// Package mock provides a scriptable stt.Provider implementation for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arji-ai/arji/pkg/provider/stt"
)

// Call records one Transcribe invocation.
type Call struct {
	Audio  []byte
	Format string
}

// Provider is a mock stt.Provider returning a fixed Text/Err pair.
// Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Text is the transcript returned on success.
	Text string

	// Err, when non-nil, is returned instead.
	Err error

	// Calls records every Transcribe invocation.
	Calls []Call
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, audio []byte, format string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Audio: audio, Format: format})
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}
