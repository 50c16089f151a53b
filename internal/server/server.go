// Package server exposes conversations, offline extraction and calendar
// export over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicbot/internal/articulation"
	"civicbot/internal/calendar"
	"civicbot/internal/logging"
	"civicbot/internal/perception"
	"civicbot/internal/sanitize"
	"civicbot/internal/session"
	"civicbot/internal/types"
)

const maxBodyBytes = 1 << 20

// Options wires a Server.
type Options struct {
	Controller   *session.Controller // nil disables the conversation endpoints
	Extractor    *articulation.Extractor
	Sanitizer    *sanitize.Sanitizer
	Documents    []types.KnownDocument
	CalendarName string
	Location     *time.Location

	// Registerer receives the HTTP metrics; Gatherer backs /metrics.
	// Both default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server is the civicbot HTTP surface.
type Server struct {
	opts     Options
	handler  http.Handler
	duration *prometheus.HistogramVec

	docsMu sync.RWMutex
	docs   []types.KnownDocument
}

// New builds the server and registers its metrics.
func New(opts Options) (*Server, error) {
	if opts.Extractor == nil {
		opts.Extractor = articulation.NewExtractor(nil)
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = sanitize.New(sanitize.Options{})
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{opts: opts, docs: opts.Documents}
	s.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "civicbot",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code",
		Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
	}, []string{"handler", "code", "method"})
	if err := opts.Registerer.Register(s.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
		s.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/conversations", "create_conversation", s.handleCreateConversation)
	s.route(mux, "POST /api/conversations/{id}/messages", "message", s.handleMessage)
	s.route(mux, "POST /api/conversations/{id}/more", "more_events", s.handleMoreEvents)
	s.route(mux, "DELETE /api/conversations/{id}", "reset_conversation", s.handleReset)
	s.route(mux, "POST /api/extract", "extract", s.handleExtract)
	s.route(mux, "POST /api/calendar", "calendar", s.handleCalendar)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.handler = logRequests(mux)
	return s, nil
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	curried := s.duration.MustCurryWith(prometheus.Labels{"handler": name})
	mux.Handle(pattern, promhttp.InstrumentHandlerDuration(curried, h))
}

// SetDocuments replaces the known documents /api/extract resolves against.
func (s *Server) SetDocuments(docs []types.KnownDocument) {
	s.docsMu.Lock()
	s.docs = docs
	s.docsMu.Unlock()
}

func (s *Server) documents() []types.KnownDocument {
	s.docsMu.RLock()
	defer s.docsMu.RUnlock()
	return s.docs
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	log := logging.Get(logging.CategoryServer)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

type createConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type extractRequest struct {
	Text     string `json:"text"`
	Question string `json:"question,omitempty"`
}

type calendarRequest struct {
	Name   string              `json:"name,omitempty"`
	Events []types.EventEntity `json:"events"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	writeJSON(w, http.StatusCreated, createConversationResponse{ConversationID: session.NewConversationID()})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	turn, err := s.opts.Controller.Ask(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		s.turnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn.Message)
}

func (s *Server) handleMoreEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	turn, err := s.opts.Controller.MoreEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.turnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn.Message)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	if err := s.opts.Controller.Reset(r.Context(), r.PathValue("id")); err != nil {
		logging.Get(logging.CategoryServer).Error("reset failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not reset conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExtract runs extraction and sanitization on text the caller already
// has, without a model call or a conversation ledger.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, _ := perception.DetectTemporalWindow(req.Question)
	ex := s.opts.Extractor.Extract(req.Text, s.documents())
	res := s.opts.Sanitizer.Sanitize(r.Context(), ex, nil, kind)
	writeJSON(w, http.StatusOK, res.Message)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := req.Name
	if name == "" {
		name = s.opts.CalendarName
	}
	w.Header().Set("Content-Type", calendar.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	err := calendar.Encode(w, req.Events, calendar.Options{Name: name, Location: s.opts.Location})
	if errors.Is(err, calendar.ErrNoEvents) {
		w.Header().Del("Content-Disposition")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logging.Get(logging.CategoryServer).Error("calendar export failed: %v", err)
	}
}

func (s *Server) requireController(w http.ResponseWriter) bool {
	if s.opts.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations are not configured")
		return false
	}
	return true
}

func (s *Server) turnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "the assistant took too long to answer")
	default:
		logging.Get(logging.CategoryServer).Error("turn failed: %v", err)
		writeError(w, http.StatusBadGateway, "the assistant is unavailable")
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryServer).Warn("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Get(logging.CategoryServer).Debug("%s %s -> %d in %v",
			r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
