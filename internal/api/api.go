// Package api serves conversations over HTTP.
//
// Routes:
//
//	POST   /v1/sessions/{user}/start    open a conversation, returns the greeting
//	POST   /v1/sessions/{user}/phrases  push {"text": ...}, returns the replies
//	GET    /v1/sessions/{user}/phrases  drain queued replies
//	GET    /v1/sessions/{user}/turns    recent turn log records (?limit=N)
//	DELETE /v1/sessions/{user}          end the conversation
//	GET    /v1/chat/{user}              websocket: text frames in, text frames out
//
// Replies are always returned as a JSON array, empty when nothing is queued.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/replica/internal/engine"
	"github.com/MrWong99/replica/internal/health"
	"github.com/MrWong99/replica/internal/observe"
	"github.com/MrWong99/replica/internal/session"
	"github.com/MrWong99/replica/internal/turnlog"
)

const (
	defaultMaxBody   = 64 << 10
	defaultTurnLimit = 20
	maxTurnLimit     = 500
)

// Conversations is what the API drives. It is satisfied by
// *persona.Persona.
type Conversations interface {
	StartConversation(ctx context.Context, userID string) error
	PushPhrase(ctx context.Context, userID, text string) error
	Drain(userID string) []string
	EndConversation(userID string) error
	Recent(ctx context.Context, userID string, limit int) ([]turnlog.Record, error)
}

// Server is the HTTP front-end.
type Server struct {
	conv        Conversations
	metrics     *observe.Metrics
	health      *health.Handler
	metricsPage http.Handler
	maxBody     int64
	origins     []string
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records request metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsPage = h }
}

// WithMaxBodyBytes limits request bodies. Default 64 KiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithOriginPatterns allows websocket connections from other origins.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// New returns a Server driving conv.
func New(conv Conversations, opts ...Option) *Server {
	s := &Server{
		conv:    conv,
		metrics: observe.Discard(),
		maxBody: defaultMaxBody,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions/{user}/start", s.handleStart)
	mux.HandleFunc("POST /v1/sessions/{user}/phrases", s.handlePush)
	mux.HandleFunc("GET /v1/sessions/{user}/phrases", s.handleDrain)
	mux.HandleFunc("GET /v1/sessions/{user}/turns", s.handleTurns)
	mux.HandleFunc("DELETE /v1/sessions/{user}", s.handleEnd)
	mux.HandleFunc("GET /v1/chat/{user}", s.handleChat)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsPage != nil {
		mux.Handle("GET /metrics", s.metricsPage)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type phraseRequest struct {
	Text string `json:"text"`
}

type repliesResponse struct {
	Replies []string `json:"replies"`
}

type turnResponse struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Anchor     string    `json:"anchor,omitempty"`
	Stage      string    `json:"stage"`
	Replies    []string  `json:"replies"`
	At         time.Time `json:"at"`
	DurationMS float64   `json:"duration_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if err := s.conv.StartConversation(r.Context(), user); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeReplies(w, user)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var req phraseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}
	if err := s.conv.PushPhrase(r.Context(), user, req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeReplies(w, user)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	s.writeReplies(w, r.PathValue("user"))
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	limit := defaultTurnLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxTurnLimit {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and " + strconv.Itoa(maxTurnLimit)})
			return
		}
		limit = n
	}
	recs, err := s.conv.Recent(r.Context(), r.PathValue("user"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]turnResponse, len(recs))
	for i, rec := range recs {
		out[i] = turnResponse{
			ID:         rec.ID,
			Text:       rec.Text,
			Anchor:     rec.Anchor,
			Stage:      rec.Stage,
			Replies:    rec.Replies,
			At:         rec.At,
			DurationMS: float64(rec.Duration.Microseconds()) / 1000,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.EndConversation(r.PathValue("user")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeReplies(w http.ResponseWriter, user string) {
	replies := s.conv.Drain(user)
	if replies == nil {
		replies = []string{}
	}
	writeJSON(w, http.StatusOK, repliesResponse{Replies: replies})
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrNoUser):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user id is required"})
	case errors.Is(err, session.ErrUnknownSession):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such session"})
	default:
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("api: marshal response", "err", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
