// Package session holds per-user conversational state: a bounded history of
// phrases and replies, the FIFO outbox drained by front-ends, and a small
// scratch map that scripted rules use to carry state between turns.
//
// A [Session] is owned by a [Manager]. Turns for the same user are serialised
// with [Session.WithTurn]; different users never contend.
package session

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/MrWong99/replica/pkg/types"
)

// ErrUnknownSession is returned when an operation names a user that has no
// live session.
var ErrUnknownSession = errors.New("session: unknown session")

// defaultMaxHistory bounds the history when no explicit limit is given.
const defaultMaxHistory = 50

// Role identifies who produced a history entry.
type Role string

const (
	// RoleUser marks an utterance typed by the user.
	RoleUser Role = "user"

	// RoleBot marks a reply produced by the engine.
	RoleBot Role = "bot"
)

// Entry is one element of a session's history.
type Entry struct {
	Role   Role
	Text   string
	Anchor types.Anchor
	At     time.Time
}

// Session is the conversational state of a single user.
//
// All methods are safe for concurrent use.
type Session struct {
	userID     string
	maxHistory int
	now        func() time.Time

	// turn is held for the whole resolution of one pushed phrase.
	turn sync.Mutex

	mu         sync.Mutex
	history    []Entry
	outbox     []string
	scratch    map[string]string
	greeted    bool
	lastActive time.Time
}

func newSession(userID string, maxHistory int, now func() time.Time) *Session {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Session{
		userID:     userID,
		maxHistory: maxHistory,
		now:        now,
		scratch:    make(map[string]string),
		lastActive: now(),
	}
}

// UserID returns the identifier of the user owning the session.
func (s *Session) UserID() string { return s.userID }

// WithTurn runs fn while holding the session's turn lock. Concurrent calls for
// the same session run one after another, never interleaved.
func (s *Session) WithTurn(fn func() error) error {
	s.turn.Lock()
	defer s.turn.Unlock()
	s.touch()
	return fn()
}

// busy reports whether a turn is currently being resolved.
func (s *Session) busy() bool {
	if !s.turn.TryLock() {
		return true
	}
	s.turn.Unlock()
	return false
}

// AppendUser records a user utterance in the history.
func (s *Session) AppendUser(p types.Phrase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Entry{Role: RoleUser, Text: p.Raw, Anchor: p.Anchor, At: s.now()})
}

// Enqueue records reply in the history and appends it to the outbox.
func (s *Session) Enqueue(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Entry{Role: RoleBot, Text: reply, At: s.now()})
	s.outbox = append(s.outbox, reply)
}

// Pop removes and returns the oldest queued reply. It never blocks; ok is
// false when the outbox is empty.
func (s *Session) Pop() (reply string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outbox) == 0 {
		return "", false
	}
	reply = s.outbox[0]
	s.outbox[0] = ""
	s.outbox = s.outbox[1:]
	if len(s.outbox) == 0 {
		s.outbox = nil
	}
	s.lastActive = s.now()
	return reply, true
}

// Pending returns the number of replies waiting in the outbox.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// History returns a copy of the recorded history, oldest first.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// Scratch returns the scratch value stored under key.
func (s *Session) Scratch(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.scratch[key]
	return v, ok
}

// SetScratch stores value under key. An empty value deletes the key.
func (s *Session) SetScratch(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.scratch, key)
		return
	}
	s.scratch[key] = value
}

// ScratchSnapshot returns a copy of the whole scratch map.
func (s *Session) ScratchSnapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.scratch)
}

// MarkGreeted flags the session as greeted and reports whether this call was
// the first to do so.
func (s *Session) MarkGreeted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.greeted {
		return false
	}
	s.greeted = true
	return true
}

// LastActive returns the time of the most recent turn or pop.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

// appendLocked adds e to the history, dropping the oldest entries beyond
// maxHistory. Must be called with s.mu held.
func (s *Session) appendLocked(e Entry) {
	s.history = append(s.history, e)
	if over := len(s.history) - s.maxHistory; over > 0 {
		clear(s.history[:over])
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.lastActive = e.At
}
