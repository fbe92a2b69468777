package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daasalpha/alphahunter/internal/backtest"
	"github.com/daasalpha/alphahunter/internal/cache"
	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/persistence"
	"github.com/daasalpha/alphahunter/internal/provider"
	"github.com/daasalpha/alphahunter/internal/service"
	"github.com/daasalpha/alphahunter/internal/telemetry"
)

// stubStore serves canned run lookups without a database.
type stubStore struct {
	runs map[string]persistence.Run
}

func (s *stubStore) SaveRun(context.Context, persistence.Run) error { return nil }
func (s *stubStore) SaveTrades(context.Context, string, []backtest.Trade) error {
	return nil
}
func (s *stubStore) SaveEquityCurve(context.Context, string, []backtest.EquityPoint) error {
	return nil
}
func (s *stubStore) GetRun(_ context.Context, id string) (*persistence.Run, error) {
	if run, ok := s.runs[id]; ok {
		return &run, nil
	}
	return nil, nil
}
func (s *stubStore) ListRuns(_ context.Context, limit int) ([]persistence.Run, error) {
	out := make([]persistence.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if len(out) == limit {
			break
		}
		out = append(out, run)
	}
	return out, nil
}
func (s *stubStore) Close() error { return nil }

func newTestServer(t *testing.T, store persistence.Store) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	metrics := telemetry.New()
	client := provider.NewClient(cfg.Provider, cache.NewMemory())
	hub := NewHub()
	backtests := service.NewBacktestService(cfg, client, store, metrics, hub)
	screens := service.NewScreenService(cfg, client, metrics)

	s := NewServer(cfg.Server, backtests, screens, store, metrics, hub)
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	var health struct {
		Status  string             `json:"status"`
		Metrics map[string]float64 `json:"metrics"`
	}
	resp := getJSON(t, srv.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Contains(t, health.Metrics, "runs_total")
	assert.Len(t, resp.Header.Get("X-Request-ID"), 8)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	srv := newTestServer(t, nil)

	var body struct {
		Error string `json:"error"`
	}
	resp := getJSON(t, srv.URL+"/nope", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", body.Error)
}

func TestGetRunWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)

	var body struct {
		Error string `json:"error"`
	}
	resp := getJSON(t, srv.URL+"/api/backtest/abc", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "persistence disabled", body.Error)
}

func TestListRunsWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)

	var runs []json.RawMessage
	resp := getJSON(t, srv.URL+"/api/backtest", &runs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, runs)
}

func TestGetRunFromStore(t *testing.T) {
	store := &stubStore{runs: map[string]persistence.Run{
		"run-1": {ID: "run-1", Success: true, TotalTrades: 3},
	}}
	srv := newTestServer(t, store)

	var run persistence.Run
	resp := getJSON(t, srv.URL+"/api/backtest/run-1", &run)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, 3, run.TotalTrades)

	var body struct {
		Error string `json:"error"`
	}
	resp = getJSON(t, srv.URL+"/api/backtest/missing", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "run not found", body.Error)
}

func TestRunBacktestRejectsBadBody(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/backtest", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunBacktestInvalidRange(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"from":"2024-03-01T00:00:00Z","to":"2024-01-01T00:00:00Z"}`
	resp, err := http.Post(srv.URL+"/api/backtest", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var result service.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid range")
	assert.NotEmpty(t, result.RunID)
}

func TestScreenRejectsBadBody(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/screen", "application/json", strings.NewReader("["))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversProgressEvents(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.handleSubscribe))
	defer srv.Close()

	conn := dialHub(t, srv)

	// Registration happens just after the handshake, so keep publishing
	// until the event lands.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ev := service.ProgressEvent{RunID: "run-7", Day: 3, TotalDays: 10}
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				hub.Publish(ev)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got service.ProgressEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "run-7", got.RunID)
	assert.Equal(t, 3, got.Day)
	assert.Equal(t, 10, got.TotalDays)
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.handleSubscribe))
	defer srv.Close()

	conn := dialHub(t, srv)

	// Confirm the subscriber is registered before closing.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				hub.Publish(service.ProgressEvent{RunID: "warm"})
			}
		}
	}()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev service.ProgressEvent
	require.NoError(t, conn.ReadJSON(&ev))
	close(stop)

	hub.Close()

	// The write loop drains buffered events then sends a normal close frame.
	for {
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				"expected normal closure, got %v", err)
			return
		}
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	// Must not block or panic with nobody listening.
	hub.Publish(service.ProgressEvent{RunID: "solo"})
}

func TestHubRejectsAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(hub.handleSubscribe))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		// The upgrade itself may succeed; the server closes immediately after.
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, readErr := conn.ReadMessage()
		assert.Error(t, readErr)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
