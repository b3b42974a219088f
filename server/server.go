package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"soulagent/core"
	"soulagent/factories"
	"soulagent/storage"
	"soulagent/transports/livekit"
	wstransport "soulagent/transports/websocket"
)

const shutdownTimeout = 10 * time.Second

// SessionRunner runs one client session to completion.
type SessionRunner interface {
	Run(job factories.Job, ctx context.Context) error
}

// Records reads what sessions left behind.
type Records interface {
	Transcript(ctx context.Context, sessionID string) ([]storage.Message, error)
	Biodata(ctx context.Context, sessionID string) (*storage.Biodata, error)
}

type TokenIssuer interface {
	URL() string
	Issue(identity, room string) (string, livekit.Grant, error)
	Verify(token string) (livekit.Grant, error)
}

type HTTPMetrics interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

type Config struct {
	Addr string
	// LogDir receives one <session>.jsonl file per session when set.
	LogDir string
	// InputFormat is assumed for client audio until it sends audio_format.
	InputFormat wstransport.AudioFormat
}

// Server is the HTTP surface of the agent. A session is one WebSocket on
// /session; everything else is read-only.
type Server struct {
	config   Config
	sessions SessionRunner
	logger   *core.Logger
	upgrader websocket.Upgrader

	records        Records
	tokens         TokenIssuer
	events         http.Handler
	metrics        HTTPMetrics
	metricsHandler http.Handler

	ctx    context.Context
	active sync.WaitGroup

	// live holds the ids of running sessions; an id runs at most once.
	liveMu sync.Mutex
	live   map[string]struct{}
}

func New(config Config, sessions SessionRunner, logger *core.Logger) *Server {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.InputFormat.SampleRate == 0 {
		config.InputFormat = wstransport.DefaultAudioFormat()
	}
	return &Server{
		config:   config,
		sessions: sessions,
		logger:   logger.With(map[string]any{"component": "server"}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:  context.Background(),
		live: make(map[string]struct{}),
	}
}

func (s *Server) WithRecords(records Records) *Server {
	s.records = records
	return s
}

// WithTokens enables /token and token-authenticated sessions.
func (s *Server) WithTokens(tokens TokenIssuer) *Server {
	s.tokens = tokens
	return s
}

// WithEvents mounts the observer socket on /events.
func (s *Server) WithEvents(events http.Handler) *Server {
	s.events = events
	return s
}

// WithMetrics records every request in m and serves handler on /metrics.
func (s *Server) WithMetrics(m HTTPMetrics, handler http.Handler) *Server {
	s.metrics = m
	s.metricsHandler = handler
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("GET /token", s.handleToken)
	mux.HandleFunc("GET /sessions/{id}/biodata", s.handleBiodata)
	mux.HandleFunc("GET /sessions/{id}/messages", s.handleMessages)
	if s.events != nil {
		mux.Handle("GET /events", s.events)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	if s.metrics == nil {
		return mux
	}
	return s.instrument(mux)
}

// ListenAndServe serves until ctx is cancelled, then stops accepting
// connections and waits for running sessions to drain.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.ctx = ctx
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.With(map[string]any{"addr": s.config.Addr}).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.With(map[string]any{"error": err}).Warn("http shutdown")
	}
	// Hijacked session sockets are not tracked by http.Server.
	s.Wait()
	return nil
}

// Wait blocks until every running session has returned.
func (s *Server) Wait() {
	s.active.Wait()
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID, status, err := s.sessionID(r)
	if err != nil {
		writeError(w, status, err)
		return
	}
	if !s.claim(sessionID) {
		writeError(w, http.StatusConflict, fmt.Errorf("session %s is already running", sessionID))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release(sessionID)
		s.logger.With(map[string]any{"error": err}).Warn("upgrade failed")
		return
	}

	s.active.Add(1)
	defer s.active.Done()
	defer s.release(sessionID)

	ctx := s.ctx
	logger := s.logger.With(map[string]any{"session_id": sessionID})
	if s.config.LogDir != "" {
		writer, err := core.NewSessionLogWriter(s.config.LogDir, sessionID, r.RemoteAddr)
		if err != nil {
			logger.With(map[string]any{"error": err}).Warn("session log disabled")
		} else {
			defer writer.Close()
			logger = core.NewSessionLogger(logger, writer)
			ctx = core.ContextWithSessionLogger(ctx, logger)
		}
	}

	logger.With(map[string]any{"remote": r.RemoteAddr}).Info("session opened")
	transport := wstransport.NewWebSocketService(conn, s.config.InputFormat, logger)
	err = s.sessions.Run(factories.Job{SessionID: sessionID, Transport: transport}, ctx)
	if err != nil {
		logger.With(map[string]any{"error": err}).Warn("session ended with error")
	}
	// Sessions that failed before their transport was started still own the
	// socket.
	_ = transport.Cleanup()
	logger.Info("session closed")
}

func (s *Server) claim(sessionID string) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if _, ok := s.live[sessionID]; ok {
		return false
	}
	s.live[sessionID] = struct{}{}
	return true
}

func (s *Server) release(sessionID string) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	delete(s.live, sessionID)
}

// sessionID resolves the session a /session request belongs to: the room of
// a valid token, or an explicit session_id.
func (s *Server) sessionID(r *http.Request) (string, int, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		if s.tokens == nil {
			return "", http.StatusUnauthorized, errors.New("token authentication is not configured")
		}
		grant, err := s.tokens.Verify(token)
		if err != nil {
			return "", http.StatusUnauthorized, err
		}
		return grant.Room, 0, nil
	}
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id, 0, nil
	}
	return "", http.StatusUnauthorized, errors.New("token or session_id required")
}

type tokenResponse struct {
	Token     string `json:"token"`
	URL       string `json:"url,omitempty"`
	Identity  string `json:"identity"`
	Room      string `json:"room"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("token issuing is not configured"))
		return
	}
	room := r.URL.Query().Get("room")
	if room == "" {
		room = "interview-" + uuid.NewString()
	}
	token, grant, err := s.tokens.Issue(r.URL.Query().Get("identity"), room)
	if err != nil {
		s.logger.With(map[string]any{"error": err}).Error("issue token")
		writeError(w, http.StatusInternalServerError, errors.New("could not issue token"))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		URL:       s.tokens.URL(),
		Identity:  grant.Identity,
		Room:      grant.Room,
		SessionID: grant.Room,
	})
}

func (s *Server) handleBiodata(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("storage is not configured"))
		return
	}
	b, err := s.records.Biodata(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.logger.With(map[string]any{"error": err}).Error("read biodata")
		writeError(w, http.StatusInternalServerError, errors.New("could not read biodata"))
	default:
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("storage is not configured"))
		return
	}
	msgs, err := s.records.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.With(map[string]any{"error": err}).Error("read transcript")
		writeError(w, http.StatusInternalServerError, errors.New("could not read transcript"))
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
