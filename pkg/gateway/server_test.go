package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/engine"
	"github.com/harun/sigap/pkg/governor"
	"github.com/harun/sigap/pkg/routing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeEngine struct {
	fn func(ctx context.Context, req agent.AgentRequest) (engine.Response, error)
}

func (f fakeEngine) Execute(ctx context.Context, req agent.AgentRequest) (engine.Response, error) {
	return f.fn(ctx, req)
}

func answering(answer string) fakeEngine {
	return fakeEngine{fn: func(ctx context.Context, req agent.AgentRequest) (engine.Response, error) {
		if strings.TrimSpace(req.Query) == "" {
			return engine.Response{}, engine.ErrEmptyQuery
		}
		return engine.Response{Answer: answer, Mode: routing.ModeDirect}, nil
	}}
}

type recordingTurns struct {
	mu    sync.Mutex
	turns map[string][]agent.Turn
}

func (r *recordingTurns) AppendTurns(ctx context.Context, conversationID, userID string, turns ...agent.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turns == nil {
		r.turns = make(map[string][]agent.Turn)
	}
	r.turns[conversationID] = append(r.turns[conversationID], turns...)
	return nil
}

func newTestServer(t *testing.T, exec Executor, mutate ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{SharedSecret: testSecret, Engine: exec, Logger: zerolog.Nop()}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postExecute(t *testing.T, url string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/v1/execute", bytes.NewReader(body))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{})
	assert.ErrorContains(t, err, "engine")

	_, err = NewServer(Config{Engine: answering("x"), Port: 70000})
	assert.ErrorContains(t, err, "invalid port")
}

func TestExecute_HTTP(t *testing.T) {
	turns := &recordingTurns{}
	_, ts := newTestServer(t, answering("Halo."), func(c *Config) { c.Turns = turns })

	body := []byte(`{"user_id":"u1","conversation_id":"c1","query":"halo"}`)
	resp := postExecute(t, ts.URL, body, computeHMAC(body, testSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out engine.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Halo.", out.Answer)
	assert.Equal(t, routing.ModeDirect, out.Mode)

	turns.mu.Lock()
	defer turns.mu.Unlock()
	require.Len(t, turns.turns["c1"], 2)
	assert.Equal(t, agent.RoleUser, turns.turns["c1"][0].Role)
	assert.Equal(t, "Halo.", turns.turns["c1"][1].Content)
}

func TestExecute_HTTPErrors(t *testing.T) {
	rejecting := fakeEngine{fn: func(ctx context.Context, req agent.AgentRequest) (engine.Response, error) {
		err := fmt.Errorf("react budget (10/10): %w", governor.ErrResourceExhausted)
		return engine.Response{Answer: engine.BusyAnswer}, &engine.RejectedError{Kind: governor.KindReAct, Err: err}
	}}

	tests := []struct {
		name      string
		exec      Executor
		body      string
		sign      bool
		status    int
		wantError string
	}{
		{"missing signature", answering("x"), `{"user_id":"u1","query":"q"}`, false, http.StatusUnauthorized, "unauthorized"},
		{"invalid json", answering("x"), `{"user_id":`, true, http.StatusBadRequest, "invalid request"},
		{"missing user", answering("x"), `{"query":"q"}`, true, http.StatusBadRequest, "invalid request"},
		{"empty query", answering("x"), `{"user_id":"u1","query":" "}`, true, http.StatusBadRequest, "invalid request"},
		{"rejected", rejecting, `{"user_id":"u1","query":"3 + 4"}`, true, http.StatusTooManyRequests, "rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, tt.exec)
			body := []byte(tt.body)
			sig := ""
			if tt.sign {
				sig = computeHMAC(body, testSecret)
			}
			resp := postExecute(t, ts.URL, body, sig)
			assert.Equal(t, tt.status, resp.StatusCode)

			var out ErrorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, tt.wantError, out.Error)
			if tt.status == http.StatusTooManyRequests {
				assert.Contains(t, out.Reason, "capacity exceeded")
				assert.Equal(t, engine.BusyAnswer, out.Answer)
			}
		})
	}

	_, ts := newTestServer(t, answering("x"))
	resp, err := http.Get(ts.URL + "/v1/execute")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestExecute_RateLimited(t *testing.T) {
	_, ts := newTestServer(t, answering("x"), func(c *Config) { c.RequestsPerMinute = 1 })

	body := []byte(`{"user_id":"u1","query":"q"}`)
	sig := computeHMAC(body, testSecret)
	assert.Equal(t, http.StatusOK, postExecute(t, ts.URL, body, sig).StatusCode)

	resp := postExecute(t, ts.URL, body, sig)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var out ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "rate limited", out.Error)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, answering("x"), func(c *Config) {
		c.Status = func(ctx context.Context) map[string]interface{} {
			return map[string]interface{}{"react_active": 2}
		}
	})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["react_active"])

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server, ts64 int64, secret string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	stamp := strconv.FormatInt(ts64, 10)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?ts=" + stamp
	header := http.Header{}
	header.Set(SignatureHeader, computeHMAC([]byte(stamp), secret))
	return websocket.DefaultDialer.Dial(url, header)
}

func TestWebSocket_Execute(t *testing.T) {
	_, ts := newTestServer(t, answering("Halo dari ws."))

	conn, _, err := dialWS(t, ts, time.Now().Unix(), testSecret)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": "r1", "user_id": "u1", "query": "halo"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": "r2", "query": "tanpa user"}))

	frames := map[string]Frame{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(frames) < 2 {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		frames[f.ID] = f
	}

	assert.Equal(t, FrameResponse, frames["r1"].Type)
	require.NotNil(t, frames["r1"].Response)
	assert.Equal(t, "Halo dari ws.", frames["r1"].Response.Answer)
	assert.Equal(t, FrameError, frames["r2"].Type)
	assert.Contains(t, frames["r2"].Reason, "user_id")
}

func TestWebSocket_Rejected(t *testing.T) {
	rejecting := fakeEngine{fn: func(ctx context.Context, req agent.AgentRequest) (engine.Response, error) {
		return engine.Response{Answer: engine.BusyAnswer}, &engine.RejectedError{Kind: governor.KindWorkflow, Err: governor.ErrResourceExhausted}
	}}
	_, ts := newTestServer(t, rejecting)

	conn, _, err := dialWS(t, ts, time.Now().Unix(), testSecret)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": "r1", "user_id": "u1", "query": "q"}))
	var f Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameRejected, f.Type)
	assert.Equal(t, engine.BusyAnswer, f.Answer)
}

func TestWebSocket_Auth(t *testing.T) {
	_, ts := newTestServer(t, answering("x"))

	_, resp, err := dialWS(t, ts, time.Now().Unix(), "wrong-secret")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialWS(t, ts, time.Now().Add(-time.Hour).Unix(), testSecret)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "stale timestamps are refused")
}

func TestWebSocket_CloseCancelsRunningRequests(t *testing.T) {
	cancelled := make(chan struct{})
	entered := make(chan struct{})
	blocking := fakeEngine{fn: func(ctx context.Context, req agent.AgentRequest) (engine.Response, error) {
		close(entered)
		<-ctx.Done()
		close(cancelled)
		return engine.Response{}, nil
	}}
	_, ts := newTestServer(t, blocking)

	conn, _, err := dialWS(t, ts, time.Now().Unix(), testSecret)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": "r1", "user_id": "u1", "query": "q"}))

	<-entered
	conn.Close()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("request was not cancelled when the connection closed")
	}
}

func TestWebSocket_ShutdownClosesClients(t *testing.T) {
	cancelled := make(chan struct{})
	entered := make(chan struct{})
	blocking := fakeEngine{fn: func(ctx context.Context, req agent.AgentRequest) (engine.Response, error) {
		close(entered)
		<-ctx.Done()
		close(cancelled)
		return engine.Response{}, nil
	}}
	s, ts := newTestServer(t, blocking)

	conn, _, err := dialWS(t, ts, time.Now().Unix(), testSecret)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": "r1", "user_id": "u1", "query": "q"}))
	<-entered

	s.closeClients()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("running request was not cancelled on shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.True(t, s.waitClients(ctx), "every client handler returned")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// New clients are turned away once shutdown started
	late, _, err := dialWS(t, ts, time.Now().Unix(), testSecret)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}

func TestRun_ShutdownCancelsRequests(t *testing.T) {
	s, err := NewServer(Config{Port: 0, Host: "127.0.0.1", Engine: answering("x"), Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Error(t, s.baseCtx.Err(), "request base context is cancelled")
}

func TestFreshTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.True(t, freshTimestamp("1700000000", now))
	assert.True(t, freshTimestamp("1699999900", now))
	assert.False(t, freshTimestamp("1699990000", now))
	assert.False(t, freshTimestamp("soon", now))
}
