package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/replica/pkg/provider/llm"
	"github.com/MrWong99/replica/pkg/types"
)

// RelevanceAnswerer replies with the most relevant premise itself when its
// score reaches the threshold.
type RelevanceAnswerer struct {
	base      *Base
	threshold float64
}

var _ Answerer = (*RelevanceAnswerer)(nil)

// NewRelevanceAnswerer returns a RelevanceAnswerer over base.
func NewRelevanceAnswerer(base *Base, threshold float64) (*RelevanceAnswerer, error) {
	if base == nil {
		return nil, errors.New("facts: nil base")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("facts: threshold %.2f outside [0, 1]", threshold)
	}
	return &RelevanceAnswerer{base: base, threshold: threshold}, nil
}

// Answer implements [Answerer].
func (a *RelevanceAnswerer) Answer(ctx context.Context, p types.Phrase) (string, bool, error) {
	top, err := a.base.Rank(ctx, p.Text(), 1)
	if err != nil {
		return "", false, err
	}
	if top[0].Score < a.threshold {
		return "", false, nil
	}
	return top[0].Premise, true, nil
}

// NoAnswer is the reply the model is told to give when the premises do not
// contain the answer.
const NoAnswer = "NO_ANSWER"

const defaultLLMPrompt = `Ты отвечаешь на вопрос собеседника коротко и по-русски, опираясь только на факты ниже.
Если в фактах нет ответа, ответь ровно ` + NoAnswer + ` и больше ничего.

Факты:
`

// LLMAnswerer asks a language model to answer from the most relevant
// premises. A reply containing [NoAnswer], or an empty reply, declines.
type LLMAnswerer struct {
	base     *Base
	provider llm.Provider
	topK     int
	minScore float64
	prompt   string
}

var _ Answerer = (*LLMAnswerer)(nil)

// LLMOption configures an [LLMAnswerer].
type LLMOption func(*LLMAnswerer)

// WithTopK limits how many premises go into the prompt. Default 5.
func WithTopK(k int) LLMOption {
	return func(a *LLMAnswerer) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithMinScore drops premises scoring below s from the prompt. When no
// premise remains the model is not called.
func WithMinScore(s float64) LLMOption {
	return func(a *LLMAnswerer) { a.minScore = s }
}

// WithPrompt replaces the instruction placed before the premise list.
func WithPrompt(prompt string) LLMOption {
	return func(a *LLMAnswerer) { a.prompt = prompt }
}

// NewLLMAnswerer returns an LLMAnswerer over base.
func NewLLMAnswerer(base *Base, provider llm.Provider, opts ...LLMOption) (*LLMAnswerer, error) {
	if base == nil || provider == nil {
		return nil, errors.New("facts: llm answerer needs a base and a provider")
	}
	a := &LLMAnswerer{base: base, provider: provider, topK: 5, prompt: defaultLLMPrompt}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Answer implements [Answerer].
func (a *LLMAnswerer) Answer(ctx context.Context, p types.Phrase) (string, bool, error) {
	ranked, err := a.base.Rank(ctx, p.Text(), a.topK)
	if err != nil {
		return "", false, err
	}

	var sb strings.Builder
	sb.WriteString(a.prompt)
	n := 0
	for _, r := range ranked {
		if r.Score < a.minScore {
			break
		}
		sb.WriteString("- ")
		sb.WriteString(r.Premise)
		sb.WriteByte('\n')
		n++
	}
	if n == 0 {
		return "", false, nil
	}

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sb.String(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: p.Raw}},
		MaxTokens:    200,
	})
	if err != nil {
		return "", false, fmt.Errorf("facts: complete: %w", err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" || strings.Contains(answer, NoAnswer) {
		return "", false, nil
	}
	return answer, true, nil
}
