// Package mock provides a test double for the nlu.Interpreter interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/replica/internal/nlu"
	"github.com/MrWong99/replica/pkg/types"
)

// Interpreter returns canned phrases keyed by the exact input text. Unknown
// texts are returned as plain phrases without an anchor.
type Interpreter struct {
	mu sync.Mutex

	// Phrases maps input text to the interpretation returned for it.
	Phrases map[string]types.Phrase

	// Err, if non-nil, is returned from every call.
	Err error

	// Calls records every text passed to Interpret.
	Calls []string
}

var _ nlu.Interpreter = (*Interpreter)(nil)

// Interpret records text and returns its canned interpretation.
func (m *Interpreter) Interpret(_ context.Context, text string) (types.Phrase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, text)
	if m.Err != nil {
		return types.Phrase{}, m.Err
	}
	if p, ok := m.Phrases[text]; ok {
		return p, nil
	}
	return types.PlainPhrase(text), nil
}

// CallCount returns how many times Interpret was called.
func (m *Interpreter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
