package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/MrWong99/replica/internal/session"
	"github.com/MrWong99/replica/internal/textmatch"
	"github.com/MrWong99/replica/pkg/provider/llm"
	"github.com/MrWong99/replica/pkg/types"
)

const (
	defaultTextThreshold = 0.85
	defaultHistoryTurns  = 10
	defaultSmalltalk     = "Ты дружелюбный собеседник. Отвечай по-русски одной короткой фразой."
)

// TemplateData is the value templates in "template" and "set" are executed
// with.
type TemplateData struct {
	Text    string
	Raw     string
	Slots   map[string]string
	Scratch map[string]string
	Groups  map[string]string
}

type trigger struct {
	any, all      []string
	re            *regexp.Regexp
	texts         []string
	textThreshold float64
	state         *StateSpec
}

type action struct {
	say       []string
	tmpl      *template.Template
	smalltalk bool
	set       map[string]*template.Template
}

type rule struct {
	name string
	trig trigger
	act  action
}

// Engine evaluates rules in file order. Rules are read-only after New; the
// random source and the language model are the only shared mutable parts.
//
// All methods are safe for concurrent use.
type Engine struct {
	rules     []rule
	greetings []string
	talk      SmalltalkSpec
	matcher   *textmatch.Matcher
	llm       llm.Provider

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLLM enables small-talk rules. Without a provider they always decline.
func WithLLM(p llm.Provider) Option {
	return func(e *Engine) { e.llm = p }
}

// WithSource replaces the random source used to pick among "say" phrases and
// greetings.
func WithSource(src rand.Source) Option {
	return func(e *Engine) { e.rnd = rand.New(src) }
}

// WithMatcher replaces the fuzzy matcher used by keyword and text triggers.
func WithMatcher(m *textmatch.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// New compiles f. Every invalid rule is reported.
func New(f File, opts ...Option) (*Engine, error) {
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		greetings: nonEmpty(f.Greetings),
		talk:      f.Smalltalk,
		matcher:   textmatch.New(),
		rnd:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, o := range opts {
		o(e)
	}
	if e.talk.Prompt == "" {
		e.talk.Prompt = defaultSmalltalk
	}
	if e.talk.HistoryTurns <= 0 {
		e.talk.HistoryTurns = defaultHistoryTurns
	}

	var errs []error
	names := map[string]bool{}
	for i, spec := range f.Rules {
		label := spec.Name
		if label == "" {
			label = fmt.Sprintf("rules[%d]", i)
		} else if names[label] {
			errs = append(errs, fmt.Errorf("rule %q: duplicate name", label))
		}
		names[label] = true

		r, err := compile(label, spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.rules = append(e.rules, r)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return e, nil
}

func compile(label string, spec RuleSpec) (rule, error) {
	var errs []error
	r := rule{name: label}

	t := spec.If
	if t.Anchor != "" {
		errs = append(errs, errors.New("anchor triggers are not supported; phrases with a recognised order are answered by order handlers"))
	}
	r.trig = trigger{
		texts:         nonEmpty(t.Text),
		textThreshold: t.TextThreshold,
		state:         t.State,
	}
	if r.trig.textThreshold == 0 {
		r.trig.textThreshold = defaultTextThreshold
	}
	if t.Keywords != nil {
		r.trig.any = nonEmpty(t.Keywords.Any)
		r.trig.all = nonEmpty(t.Keywords.All)
		if len(r.trig.any) == 0 && len(r.trig.all) == 0 {
			errs = append(errs, errors.New("keywords need an any or all list"))
		}
	}
	if t.Regex != "" {
		re, err := regexp.Compile(t.Regex)
		if err != nil {
			errs = append(errs, fmt.Errorf("regex: %w", err))
		}
		r.trig.re = re
	}
	if t.State != nil && t.State.Key == "" {
		errs = append(errs, errors.New("state needs a key"))
	}
	if t.Anchor == "" && t.Keywords == nil && t.Regex == "" && len(r.trig.texts) == 0 && t.State == nil {
		errs = append(errs, errors.New("no trigger condition"))
	}

	a := spec.Then
	replies := 0
	if len(a.Say) > 0 {
		replies++
		r.act.say = nonEmpty(a.Say)
		if len(r.act.say) == 0 {
			errs = append(errs, errors.New("say has only blank phrases"))
		}
	}
	if a.Template != "" {
		replies++
		tmpl, err := template.New(label).Option("missingkey=zero").Parse(a.Template)
		if err != nil {
			errs = append(errs, fmt.Errorf("template: %w", err))
		}
		r.act.tmpl = tmpl
	}
	if a.Smalltalk {
		replies++
		r.act.smalltalk = true
	}
	if replies != 1 {
		errs = append(errs, fmt.Errorf("exactly one of say, template, smalltalk is required, got %d", replies))
	}
	if len(a.Set) > 0 {
		r.act.set = make(map[string]*template.Template, len(a.Set))
		for k, v := range a.Set {
			tmpl, err := template.New(label + "." + k).Option("missingkey=zero").Parse(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("set %q: %w", k, err))
				continue
			}
			r.act.set[k] = tmpl
		}
	}

	if err := errors.Join(errs...); err != nil {
		return rule{}, fmt.Errorf("rule %q: %w", label, err)
	}
	return r, nil
}

// Len returns the number of rules.
func (e *Engine) Len() int { return len(e.rules) }

// Greeting returns one of the configured greetings, or ok == false when the
// file has none.
func (e *Engine) Greeting() (string, bool) {
	if len(e.greetings) == 0 {
		return "", false
	}
	return e.pick(e.greetings), true
}

// TryMatch evaluates the rules in order against p and returns the reply of
// the first rule that fires and produces one. A small-talk rule whose
// generation fails declines and evaluation continues. A non-nil error means
// a rule's template could not be executed.
func (e *Engine) TryMatch(ctx context.Context, sess *session.Session, p types.Phrase) (string, bool, error) {
	norm := p.Normalized
	if norm == "" {
		norm = textmatch.Normalize(p.Raw)
	}
	scratch := sess.ScratchSnapshot()

	for _, r := range e.rules {
		groups, ok := e.fires(r.trig, p, norm, scratch)
		if !ok {
			continue
		}
		data := TemplateData{
			Text:    norm,
			Raw:     p.Raw,
			Slots:   p.Slots(),
			Scratch: scratch,
			Groups:  groups,
		}

		reply, ok, err := e.reply(ctx, r, sess, p, data)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		updates := make(map[string]string, len(r.act.set))
		for _, k := range slices.Sorted(maps.Keys(r.act.set)) {
			v, err := render(r.act.set[k], data)
			if err != nil {
				return "", false, fmt.Errorf("rules: %s: set %q: %w", r.name, k, err)
			}
			updates[k] = v
		}
		for k, v := range updates {
			sess.SetScratch(k, v)
		}
		slog.Debug("rule fired", "rule", r.name, "user_id", sess.UserID())
		return reply, true, nil
	}
	return "", false, nil
}

func (e *Engine) fires(t trigger, p types.Phrase, norm string, scratch map[string]string) (map[string]string, bool) {
	if t.state != nil && scratch[t.state.Key] != t.state.Equals {
		return nil, false
	}
	if len(t.all) > 0 {
		for _, kw := range t.all {
			if !e.matcher.ContainsAll(norm, kw) {
				return nil, false
			}
		}
	}
	if len(t.any) > 0 {
		hit := false
		for _, kw := range t.any {
			if e.matcher.ContainsAll(norm, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return nil, false
		}
	}
	if len(t.texts) > 0 {
		hit := false
		for _, txt := range t.texts {
			if e.matcher.Similarity(norm, txt) >= t.textThreshold {
				hit = true
				break
			}
		}
		if !hit {
			return nil, false
		}
	}
	groups := map[string]string{}
	if t.re != nil {
		m := t.re.FindStringSubmatch(norm)
		if m == nil {
			return nil, false
		}
		for i, name := range t.re.SubexpNames() {
			if name != "" {
				groups[name] = m[i]
			}
		}
	}
	return groups, true
}

func (e *Engine) reply(ctx context.Context, r rule, sess *session.Session, p types.Phrase, data TemplateData) (string, bool, error) {
	switch {
	case len(r.act.say) > 0:
		return e.pick(r.act.say), true, nil
	case r.act.tmpl != nil:
		out, err := render(r.act.tmpl, data)
		if err != nil {
			return "", false, fmt.Errorf("rules: %s: %w", r.name, err)
		}
		out = strings.TrimSpace(out)
		return out, out != "", nil
	case r.act.smalltalk:
		return e.smalltalk(ctx, r.name, sess, p)
	}
	return "", false, nil
}

func (e *Engine) smalltalk(ctx context.Context, name string, sess *session.Session, p types.Phrase) (string, bool, error) {
	if e.llm == nil {
		return "", false, nil
	}
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: e.talk.Prompt,
		Messages:     conversation(sess.History(), p, e.talk.HistoryTurns),
		Temperature:  e.talk.Temperature,
		MaxTokens:    e.talk.MaxTokens,
	})
	if err != nil {
		slog.Warn("smalltalk generation failed", "rule", name, "user_id", sess.UserID(), "err", err)
		return "", false, nil
	}
	out := strings.TrimSpace(resp.Content)
	return out, out != "", nil
}

// conversation maps the tail of the session history to chat messages and
// makes sure the current phrase is the last user message.
func conversation(history []session.Entry, p types.Phrase, turns int) []llm.Message {
	if len(history) > turns {
		history = history[len(history)-turns:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		role := llm.RoleUser
		if h.Role == session.RoleBot {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: h.Text})
	}
	if n := len(msgs); n == 0 || msgs[n-1].Role != llm.RoleUser || msgs[n-1].Content != p.Raw {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: p.Raw})
	}
	return msgs
}

func (e *Engine) pick(pool []string) string {
	if len(pool) == 1 {
		return pool[0]
	}
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return pool[e.rnd.IntN(len(pool))]
}

func render(t *template.Template, data TemplateData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
