// Package engine implements the turn-resolution policy of replica.
//
// An [Engine] owns the user sessions and, for every pushed phrase, runs the
// configured strategies in a fixed order until one produces a reply:
//
//  1. order dispatch, when the interpreter recognised an anchor;
//  2. the FAQ;
//  3. the scripted rules;
//  4. the fact base;
//  5. the fallback pools.
//
// A recognised order is never reinterpreted: if its handler is missing or
// declines, the "order not understood" pool answers. With forced question
// answering the fact base is consulted before the rules instead of after.
//
// Replies are appended to the session outbox, which the front-end drains with
// [Engine.PopPhrase]. Turns for the same user are serialised; different users
// proceed concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/replica/internal/facts"
	"github.com/MrWong99/replica/internal/fallback"
	"github.com/MrWong99/replica/internal/faq"
	"github.com/MrWong99/replica/internal/nlu"
	"github.com/MrWong99/replica/internal/observe"
	"github.com/MrWong99/replica/internal/order"
	"github.com/MrWong99/replica/internal/session"
	"github.com/MrWong99/replica/internal/turnlog"
	"github.com/MrWong99/replica/pkg/types"
)

// ErrNoUser is returned when an operation is called with an empty user ID.
var ErrNoUser = errors.New("engine: empty user id")

// Stage names the strategy that resolved a turn.
type Stage string

const (
	StageOrder         Stage = "order"
	StageFAQ           Stage = "faq"
	StageRules         Stage = "rules"
	StageFacts         Stage = "facts"
	StageUnknownOrder  Stage = "fallback_unknown_order"
	StageNoInformation Stage = "fallback_no_information"
)

// Collaborator names used in metrics and logs.
const (
	collaboratorNLU     = "nlu"
	collaboratorFAQ     = "faq"
	collaboratorRules   = "rules"
	collaboratorFacts   = "facts"
	collaboratorHandler = "order_handler"
	collaboratorTurnLog = "turnlog"
)

// FAQ finds the answer to a known question. It is satisfied by *faq.Store
// and by the postgres-backed matcher.
type FAQ interface {
	BestMatch(ctx context.Context, p types.Phrase) (faq.Match, bool, error)
}

// Rules is the scripted stage. It is satisfied by *rules.Engine.
type Rules interface {
	// Greeting returns the opening phrase of a conversation.
	Greeting() (string, bool)

	TryMatch(ctx context.Context, sess *session.Session, p types.Phrase) (string, bool, error)
}

// Content is the swappable, read-only part of an engine: everything loaded
// from a persona's files. Nil collaborators disable their stage.
type Content struct {
	Interpreter nlu.Interpreter
	FAQ         FAQ
	Rules       Rules
	Facts       facts.Answerer

	// Fallback is required.
	Fallback *fallback.Responder

	// ForceFacts consults the fact base before the rules.
	ForceFacts bool
}

// Engine resolves turns.
//
// All methods are safe for concurrent use.
type Engine struct {
	sessions   *session.Manager
	dispatcher *order.Dispatcher
	extractor  order.Extractor
	recorder   turnlog.Recorder
	metrics    *observe.Metrics
	personaID  string
	now        func() time.Time

	sessionOpts []session.Option
	content     atomic.Pointer[Content]
}

var _ order.Bot = (*turnBot)(nil)

// Option configures an [Engine].
type Option func(*Engine)

// WithExtractor replaces the slot-based entity extractor.
func WithExtractor(x order.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithRecorder writes one turn log record per resolved turn.
func WithRecorder(r turnlog.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics records turn metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPersonaID tags turn log records.
func WithPersonaID(id string) Option {
	return func(e *Engine) { e.personaID = id }
}

// WithSessionOptions configures the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(e *Engine) { e.sessionOpts = append(e.sessionOpts, opts...) }
}

// New returns an Engine serving c with the handlers of d.
func New(d *order.Dispatcher, c Content, opts ...Option) (*Engine, error) {
	if d == nil {
		return nil, errors.New("engine: nil dispatcher")
	}
	e := &Engine{
		dispatcher: d,
		extractor:  order.SlotExtractor{},
		recorder:   turnlog.Nop{},
		metrics:    observe.Discard(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if err := e.Swap(c); err != nil {
		return nil, err
	}
	evicted := session.WithEvictHook(func(string) {
		e.metrics.ActiveSessions.Add(context.Background(), -1)
	})
	e.sessions = session.NewManager(append(e.sessionOpts, evicted)...)
	return e, nil
}

// Swap replaces the content served by subsequent turns. Turns already in
// progress finish with the content they started with.
func (e *Engine) Swap(c Content) error {
	if c.Fallback == nil {
		return errors.New("engine: content without fallback pools")
	}
	e.content.Store(&c)
	return nil
}

// Run evicts idle sessions until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.sessions.Run(ctx)
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int { return e.sessions.Len() }

// StartConversation creates the session of userID if needed and enqueues the
// greeting once per session.
func (e *Engine) StartConversation(ctx context.Context, userID string) error {
	sess, err := e.session(ctx, userID)
	if err != nil {
		return err
	}
	return sess.WithTurn(func() error {
		e.greet(sess, e.content.Load(), nil)
		return nil
	})
}

// EndConversation drops the session of userID together with its undrained
// replies.
func (e *Engine) EndConversation(userID string) error {
	if userID == "" {
		return ErrNoUser
	}
	if err := e.sessions.Delete(userID); err != nil {
		return fmt.Errorf("engine: end conversation: %w", err)
	}
	return nil
}

// PopPhrase removes and returns the oldest pending reply for userID, or ""
// when there is none. It never blocks and never creates a session.
func (e *Engine) PopPhrase(userID string) string {
	sess, ok := e.sessions.Get(userID)
	if !ok {
		return ""
	}
	reply, _ := sess.Pop()
	return reply
}

// Pending returns the number of undrained replies for userID.
func (e *Engine) Pending(userID string) int {
	sess, ok := e.sessions.Get(userID)
	if !ok {
		return 0
	}
	return sess.Pending()
}

// ExtractEntity returns the value filling role in p, or "".
func (e *Engine) ExtractEntity(role string, p types.Phrase) string {
	return e.extractor.Extract(role, p)
}

// Recent returns the latest turn records of userID, newest first.
func (e *Engine) Recent(ctx context.Context, userID string, limit int) ([]turnlog.Record, error) {
	return e.recorder.Recent(ctx, userID, limit)
}

// PushPhrase resolves text as the next turn of userID. Blank text is ignored.
// A session that was never started is greeted first.
func (e *Engine) PushPhrase(ctx context.Context, userID, text string) error {
	text = strings.TrimSpace(text)
	if userID != "" && text == "" {
		return nil
	}
	sess, err := e.session(ctx, userID)
	if err != nil {
		return err
	}
	return sess.WithTurn(func() error {
		e.turn(ctx, sess, text)
		return nil
	})
}

func (e *Engine) session(ctx context.Context, userID string) (*session.Session, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	sess, created := e.sessions.GetOrCreate(userID)
	if created {
		e.metrics.ActiveSessions.Add(ctx, 1)
	}
	return sess, nil
}

// turnBot is the [order.Bot] handed to handlers; it remembers what they say
// so the turn log sees every reply.
type turnBot struct {
	e       *Engine
	replies []string
}

func (b *turnBot) ExtractEntity(role string, p types.Phrase) string {
	return b.e.ExtractEntity(role, p)
}

func (b *turnBot) Say(sess *session.Session, text string) {
	if text = strings.TrimSpace(text); text != "" {
		sess.Enqueue(text)
		b.replies = append(b.replies, text)
	}
}

func (e *Engine) greet(sess *session.Session, c *Content, bot *turnBot) {
	if c.Rules == nil || !sess.MarkGreeted() {
		return
	}
	if g, ok := c.Rules.Greeting(); ok {
		if bot != nil {
			bot.Say(sess, g)
			return
		}
		sess.Enqueue(g)
	}
}

// turn runs with the session's turn lock held.
func (e *Engine) turn(ctx context.Context, sess *session.Session, text string) {
	start := e.now()
	c := e.content.Load()
	bot := &turnBot{e: e}

	ctx, span, log := observe.StartTurn(ctx, e.personaID, sess.UserID())
	defer span.End()

	e.greet(sess, c, bot)

	p := e.interpret(ctx, c, text)
	sess.AppendUser(p)

	stage, reply := e.resolve(ctx, c, sess, p, bot)
	bot.Say(sess, reply)

	d := e.now().Sub(start)
	span.SetAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("anchor", p.Anchor.String()),
		attribute.Int("replies", len(bot.replies)),
	)
	e.metrics.RecordTurn(ctx, string(stage), d)
	log.Debug("turn resolved",
		"stage", stage,
		"anchor", p.Anchor,
		"replies", len(bot.replies),
		"duration", d,
	)

	rec := turnlog.NewRecord()
	rec.PersonaID = e.personaID
	rec.UserID = sess.UserID()
	rec.Text = p.Raw
	rec.Anchor = p.Anchor.String()
	rec.Stage = string(stage)
	rec.Replies = bot.replies
	rec.At = start
	rec.Duration = d
	if err := e.recorder.Record(ctx, rec); err != nil {
		e.collaboratorFailed(ctx, collaboratorTurnLog, sess, err)
	}
}

func (e *Engine) interpret(ctx context.Context, c *Content, text string) types.Phrase {
	if c.Interpreter == nil {
		return types.PlainPhrase(text)
	}
	p, err := c.Interpreter.Interpret(ctx, text)
	if err != nil {
		e.collaboratorFailed(ctx, collaboratorNLU, nil, err)
		return types.PlainPhrase(text)
	}
	return p
}

// resolve returns the stage that answered and its reply. A handled order may
// return an empty reply only when the handler spoke through the bot;
// otherwise it counts as not understood.
func (e *Engine) resolve(ctx context.Context, c *Content, sess *session.Session, p types.Phrase, bot *turnBot) (Stage, string) {
	if p.HasAnchor() {
		said := len(bot.replies)
		res := e.dispatcher.Dispatch(ctx, order.Turn{
			Bot:     bot,
			Session: sess,
			UserID:  sess.UserID(),
			Phrase:  p,
		})
		e.metrics.RecordDispatch(ctx, p.Anchor.String(), res.Outcome.String())
		switch res.Outcome {
		case order.Handled:
			if strings.TrimSpace(res.Reply) != "" || len(bot.replies) > said {
				return StageOrder, res.Reply
			}
			observe.Logger(ctx).Warn("order handler reported success without a reply", "user_id", sess.UserID(), "anchor", p.Anchor)
		case order.Failed:
			e.collaboratorFailed(ctx, collaboratorHandler, sess, res.Err)
		}
		return StageUnknownOrder, c.Fallback.OrderNotUnderstood()
	}

	if c.FAQ != nil {
		m, ok, err := c.FAQ.BestMatch(ctx, p)
		switch {
		case err != nil:
			e.collaboratorFailed(ctx, collaboratorFAQ, sess, err)
		case ok:
			return StageFAQ, m.Entry.Answer
		}
	}

	if c.ForceFacts {
		if reply, ok := e.answer(ctx, c, sess, p); ok {
			return StageFacts, reply
		}
	}

	if c.Rules != nil {
		reply, ok, err := c.Rules.TryMatch(ctx, sess, p)
		switch {
		case err != nil:
			e.collaboratorFailed(ctx, collaboratorRules, sess, err)
		case ok:
			return StageRules, reply
		}
	}

	if !c.ForceFacts {
		if reply, ok := e.answer(ctx, c, sess, p); ok {
			return StageFacts, reply
		}
	}

	return StageNoInformation, c.Fallback.NoInformation()
}

func (e *Engine) answer(ctx context.Context, c *Content, sess *session.Session, p types.Phrase) (string, bool) {
	if c.Facts == nil {
		return "", false
	}
	reply, ok, err := c.Facts.Answer(ctx, p)
	if err != nil {
		e.collaboratorFailed(ctx, collaboratorFacts, sess, err)
		return "", false
	}
	return reply, ok && strings.TrimSpace(reply) != ""
}

// collaboratorFailed reports a failure that made a stage decline. sess may
// be nil.
func (e *Engine) collaboratorFailed(ctx context.Context, name string, sess *session.Session, err error) {
	e.metrics.RecordCollaboratorError(ctx, name)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, name)

	l := observe.Logger(ctx)
	if sess != nil {
		l = l.With("user_id", sess.UserID())
	}
	if name == collaboratorHandler {
		l.Error("order handler failed", "err", err)
		return
	}
	l.Warn("collaborator failed, stage declined", "collaborator", name, "err", err)
}
