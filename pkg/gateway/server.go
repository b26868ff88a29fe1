package gateway

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

	"github.com/gorilla/websocket"
	"github.com/harun/sigap/internal/observability"
	"github.com/harun/sigap/internal/tracing"
	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/engine"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes    = 1 << 20
	maxClockSkew    = 5 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// Config holds server configuration
type Config struct {
	Host              string
	Port              int
	SharedSecret      string
	Engine            Executor
	Turns             TurnStore
	Status            StatusFunc
	RequestsPerMinute int
	MaxConcurrent     int
	Logger            zerolog.Logger
}

// Server exposes the execution core over HTTP and websocket
type Server struct {
	addr     string
	engine   Executor
	turns    TurnStore
	status   StatusFunc
	auth     *Authenticator
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	// baseCtx parents every request; Run cancels it on shutdown
	baseCtx context.Context
	cancel  context.CancelFunc

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
	closing   bool
	connected sync.WaitGroup
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		baseCtx: baseCtx,
		cancel:  cancel,
		clients: make(map[*websocket.Conn]struct{}),
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		engine:  cfg.Engine,
		turns:   cfg.Turns,
		status:  cfg.Status,
		auth:    NewAuthenticator(cfg.SharedSecret),
		limiter: NewRateLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		logger:  cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Clients authenticate with signatures
			},
		},
	}
	if !s.auth.Enabled() {
		s.logger.Warn().Msg("Gateway shared secret is empty, request signing disabled")
	}
	return s, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/execute", s.handleExecute)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Starting gateway server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.cancel()
		if ok {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down gateway server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown
	s.closeClients()

	err := server.Shutdown(shutdownCtx)
	// Anything still running past the deadline is cancelled
	s.cancel()
	if err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if s.waitClients(shutdownCtx) {
		s.logger.Info().Msg("All in-flight requests completed")
	} else {
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// track registers a websocket connection; it fails once shutdown started
func (s *Server) track(conn *websocket.Conn) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.closing {
		return false
	}
	s.clients[conn] = struct{}{}
	s.connected.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	s.connected.Done()
}

// closeClients refuses new websocket clients and closes the open ones, which
// cancels their running requests
func (s *Server) closeClients() {
	s.clientsMu.Lock()
	s.closing = true
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clientsMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
}

// waitClients waits for every websocket handler to return
func (s *Server) waitClients(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.connected.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "failed to read request body"})
		return
	}
	if !s.auth.Verify(body, r.Header.Get(SignatureHeader)) {
		writeJSON(w, http.StatusUnauthorized, ErrorBody{Error: "unauthorized"})
		return
	}

	var req agent.AgentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid request", Reason: err.Error()})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid request", Reason: "user_id is required"})
		return
	}

	release, reason := s.limiter.Acquire(req.UserID)
	if release == nil {
		writeJSON(w, http.StatusTooManyRequests, ErrorBody{Error: "rate limited", Reason: reason})
		return
	}
	defer release()

	ctx := r.Context()
	if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
		ctx = tracing.WithTraceID(ctx, traceID)
	}

	status, payload := s.execute(ctx, req)
	writeJSON(w, status, payload)
}

// execute runs req and maps the outcome to an HTTP status and body
func (s *Server) execute(ctx context.Context, req agent.AgentRequest) (int, interface{}) {
	resp, err := s.engine.Execute(ctx, req)

	var rejected *engine.RejectedError
	switch {
	case errors.As(err, &rejected):
		return http.StatusTooManyRequests, ErrorBody{Error: "rejected", Reason: err.Error(), Answer: resp.Answer}
	case errors.Is(err, engine.ErrEmptyQuery):
		return http.StatusBadRequest, ErrorBody{Error: "invalid request", Reason: err.Error()}
	case err != nil:
		s.logger.Error().Err(err).Msg("Execute failed")
		return http.StatusInternalServerError, ErrorBody{Error: "internal error"}
	}

	s.recordTurns(ctx, req, resp)
	return http.StatusOK, resp
}

func (s *Server) recordTurns(ctx context.Context, req agent.AgentRequest, resp engine.Response) {
	if s.turns == nil || req.ConversationID == "" || ctx.Err() != nil {
		return
	}
	err := s.turns.AppendTurns(context.WithoutCancel(ctx), req.ConversationID, req.UserID,
		agent.Turn{Role: agent.RoleUser, Content: req.Query},
		agent.Turn{Role: agent.RoleAssistant, Content: resp.Answer},
	)
	if err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("Failed to record conversation turns")
	}
}

// handleWebSocket authenticates with the signed ts query parameter. The
// signature comes from the header or, for browsers, the sig parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.auth.Enabled() {
		ts := r.URL.Query().Get("ts")
		sig := r.Header.Get(SignatureHeader)
		if sig == "" {
			sig = r.URL.Query().Get("sig")
		}
		if !s.auth.Verify([]byte(ts), sig) || !freshTimestamp(ts, time.Now()) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	clientID, _ := gonanoid.New()
	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	s.handleClient(conn, clientID)
}

// handleClient serves one connection. Requests run concurrently; closing the
// connection or shutting the server down cancels the ones still running.
func (s *Server) handleClient(conn *websocket.Conn, clientID string) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	var writeMu sync.Mutex
	var running sync.WaitGroup

	defer func() {
		cancel()
		running.Wait()
		conn.Close()
		s.logger.Info().Str("client_id", clientID).Msg("Client disconnected")
	}()

	send := func(f Frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(f); err != nil {
			s.logger.Debug().Err(err).Str("client_id", clientID).Msg("Failed to send frame")
		}
	}

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", clientID).Msg("WebSocket error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			send(Frame{Type: FrameError, Error: "invalid request", Reason: err.Error()})
			continue
		}
		if req.UserID == "" {
			send(Frame{Type: FrameError, ID: req.ID, Error: "invalid request", Reason: "user_id is required"})
			continue
		}

		release, reason := s.limiter.Acquire(req.UserID)
		if release == nil {
			send(Frame{Type: FrameError, ID: req.ID, Error: "rate limited", Reason: reason})
			continue
		}

		running.Add(1)
		go func(req WSRequest) {
			defer running.Done()
			defer release()

			status, payload := s.execute(ctx, req.AgentRequest)
			switch body := payload.(type) {
			case engine.Response:
				send(Frame{Type: FrameResponse, ID: req.ID, Response: &body})
			case ErrorBody:
				frameType := FrameError
				if status == http.StatusTooManyRequests {
					frameType = FrameRejected
				}
				send(Frame{Type: frameType, ID: req.ID, Error: body.Error, Reason: body.Reason, Answer: body.Answer})
			}
		}(req)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if s.status != nil {
		for k, v := range s.status(r.Context()) {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// freshTimestamp accepts unix seconds within maxClockSkew of now
func freshTimestamp(ts string, now time.Time) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	d := now.Sub(time.Unix(sec, 0))
	return d < maxClockSkew && d > -maxClockSkew
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
