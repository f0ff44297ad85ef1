// Package web serves the latest cycle report of the watch mode over HTTP,
// with server-sent events for every new check.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ritzau/refcycles/pkg/logging"
	"github.com/ritzau/refcycles/pkg/model"
	"github.com/ritzau/refcycles/pkg/pubsub"
)

// Server represents the web server
type Server struct {
	router    *mux.Router
	publisher *pubsub.SSEPublisher

	mu     sync.RWMutex
	report *model.Report
	text   string
	run    int
}

// NewServer creates a new web server
func NewServer() *Server {
	ssePublisher := pubsub.NewSSEPublisher()

	// New subscribers only need the current state
	ssePublisher.ConfigureTopic(pubsub.TopicCheckStatus, pubsub.TopicConfig{BufferSize: 10})
	ssePublisher.ConfigureTopic(pubsub.TopicReport, pubsub.TopicConfig{BufferSize: 1})

	s := &Server{
		router:    mux.NewRouter(),
		publisher: ssePublisher,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// CheckStarted publishes that a check of fixture has started
func (s *Server) CheckStarted(fixture string) error {
	s.mu.Lock()
	s.run++
	run := s.run
	s.mu.Unlock()

	return s.publisher.Publish(pubsub.TopicCheckStatus, "checking", pubsub.CheckStatus{
		State:   "checking",
		Message: "Checking " + fixture,
		Fixture: fixture,
		Run:     run,
	})
}

// CheckFailed publishes that a check could not complete
func (s *Server) CheckFailed(fixture string, err error) error {
	s.mu.RLock()
	run := s.run
	s.mu.RUnlock()

	return s.publisher.Publish(pubsub.TopicCheckStatus, "failed", pubsub.CheckStatus{
		State:   "failed",
		Message: err.Error(),
		Fixture: fixture,
		Run:     run,
	})
}

// SetReport stores the result of a completed check and its rendered text,
// and publishes it to subscribers
func (s *Server) SetReport(report *model.Report, text string) error {
	s.mu.Lock()
	s.report = report
	s.text = text
	run := s.run
	s.mu.Unlock()

	state := "clean"
	message := "No reference cycles found"
	if report.HasCycles() {
		state = "cycles"
		message = fmt.Sprintf("%d reference cycle(s), %d object(s)",
			report.Components.Len(), report.Components.Objects())
	}

	if err := s.publisher.Publish(pubsub.TopicCheckStatus, state, pubsub.CheckStatus{
		State:   state,
		Message: message,
		Fixture: report.Fixture,
		Run:     run,
	}); err != nil {
		return err
	}
	return s.publisher.Publish(pubsub.TopicReport, state, report)
}

func (s *Server) setupRoutes() {
	s.router.Use(requestLogger)

	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	s.router.HandleFunc("/api/report", s.handleReport).Methods("GET")
	s.router.HandleFunc("/", s.handleText).Methods("GET")
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]

	// Browsers send the id of the last event they saw when reconnecting
	lastSeen, _ := strconv.Atoi(r.Header.Get("Last-Event-ID"))

	sub, err := s.publisher.Resume(r.Context(), topic, lastSeen)
	switch {
	case errors.Is(err, pubsub.ErrUnknownTopic):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush(w)

	// Stream events until the client leaves or the publisher closes
	for event := range sub.Events() {
		if err := pubsub.WriteSSE(w, event); err != nil {
			logging.DebugContext(r.Context(), "SSE client gone", "topic", topic, "error", err)
			return
		}
		flush(w)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.report
	s.mu.RUnlock()

	if report == nil {
		http.Error(w, "no check has completed yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logging.ErrorContext(r.Context(), "failed to encode report", "error", err)
	}
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	text := s.text
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if text == "" {
		text = "No check has completed yet\n"
	}
	_, _ = io.WriteString(w, text)
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start serves on addr until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Ends open event streams so Shutdown does not wait for them
		s.publisher.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("web server shutdown", "error", err)
		}
	}()

	logging.Info("serving reports", "url", "http://"+listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger tags each request with an ID and logs it at debug level
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(wrapped, r)

		logging.DebugContext(r.Context(), "request",
			"id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"durationMs", time.Since(start).Milliseconds(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
