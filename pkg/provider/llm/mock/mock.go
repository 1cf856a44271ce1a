// Package mock provides a test double for the llm.Provider interface.
//
// Responses are served in order from Responses; once exhausted the last one
// repeats. Err, when set, is returned instead. Every request is recorded.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/replica/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls.
	Responses []string

	// Err, if non-nil, is returned from Complete.
	Err error

	// Model is returned by ModelID.
	Model string

	// Calls records every request passed to Complete, in order.
	Calls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete records req and returns the next canned response.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.Calls)
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	return &llm.CompletionResponse{Content: p.Responses[min(n, len(p.Responses)-1)]}, nil
}

// ModelID returns Model.
func (p *Provider) ModelID() string { return p.Model }

// CallCount returns how many times Complete was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
