// Package mock provides a scriptable llm.Provider implementation for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arji-ai/arji/pkg/provider/llm"
)

// Provider is a mock llm.Provider. Configure either CompleteFunc for full
// control or Response/Err for a fixed result. All calls are recorded in
// Requests. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when non-nil, handles every Complete call.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Response is returned when CompleteFunc is nil.
	Response *llm.CompletionResponse

	// Err is returned when CompleteFunc is nil.
	Err error

	// Requests records every request passed to Complete.
	Requests []llm.CompletionRequest
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	fn := p.CompleteFunc
	resp, err := p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if resp == nil && err == nil {
		return &llm.CompletionResponse{Content: "{}"}, nil
	}
	return resp, err
}

// CallCount returns how many times Complete was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
