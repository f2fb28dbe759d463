package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/browser"
	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/metrics"
	"github.com/xkilldash9x/consentscope/internal/orchestrator"
	"github.com/xkilldash9x/consentscope/internal/store"
)

var _ Analyzer = (*orchestrator.Orchestrator)(nil)

type fakeAnalyzer struct {
	mu    sync.Mutex
	full  int
	quick int
	err   error
}

func (f *fakeAnalyzer) run(mode schemas.AnalysisMode, target string, listener orchestrator.StepListener) (*schemas.AnalysisResult, error) {
	f.mu.Lock()
	n := f.full + f.quick
	err := f.err
	f.mu.Unlock()

	if listener != nil {
		listener(schemas.AuditStep{Step: "crawl", Status: schemas.StepRunning, Timestamp: time.Now()})
		listener(schemas.AuditStep{Step: "crawl", Status: schemas.StepCompleted, Timestamp: time.Now()})
	}
	if err != nil {
		return nil, err
	}
	return &schemas.AnalysisResult{
		ID:        fmt.Sprintf("a%d", n),
		URL:       target,
		Mode:      mode,
		Timestamp: time.Now().UTC(),
		Score:     schemas.ScoreBreakdown{Total: 42},
	}, nil
}

func (f *fakeAnalyzer) Analyze(_ context.Context, target string, l orchestrator.StepListener) (*schemas.AnalysisResult, error) {
	res, err := f.run(schemas.ModeFull, target, l)
	f.mu.Lock()
	f.full++
	f.mu.Unlock()
	return res, err
}

func (f *fakeAnalyzer) AnalyzeQuick(_ context.Context, target string, l orchestrator.StepListener) (*schemas.AnalysisResult, error) {
	res, err := f.run(schemas.ModeQuick, target, l)
	f.mu.Lock()
	f.quick++
	f.mu.Unlock()
	return res, err
}

func newTestServer(t *testing.T, a Analyzer, repo store.Repository, m *metrics.Metrics) *httptest.Server {
	t.Helper()
	cfg := config.ServerConfig{CacheTTL: time.Minute, RequestTimeout: 10 * time.Second}
	s := New(cfg, a, repo, m, zaptest.NewLogger(t))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postAnalyze(t *testing.T, ts *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{}, nil, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyzeFullAndFetchByID(t *testing.T) {
	a := &fakeAnalyzer{}
	ts := newTestServer(t, a, nil, nil)

	resp, body := postAnalyze(t, ts, `{"url":"example.de"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res schemas.AnalysisResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "https://example.de", res.URL)
	assert.Equal(t, schemas.ModeFull, res.Mode)
	assert.Equal(t, 1, a.full)

	get, err := http.Get(ts.URL + "/api/v1/analyses/" + res.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)

	missing, err := http.Get(ts.URL + "/api/v1/analyses/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestQuickResultsAreCached(t *testing.T) {
	a := &fakeAnalyzer{}
	m := metrics.New()
	ts := newTestServer(t, a, nil, m)

	for i := 0; i < 3; i++ {
		resp, body := postAnalyze(t, ts, `{"url":"https://example.de","quick":true}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	assert.Equal(t, 1, a.quick)

	// Full runs never come from the cache.
	postAnalyze(t, ts, `{"url":"https://example.de"}`)
	postAnalyze(t, ts, `{"url":"https://example.de"}`)
	assert.Equal(t, 2, a.full)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "consentscope_quick_cache_hits_total 2")
	assert.Contains(t, string(b), `route="/api/v1/analyze"`)
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"url":`, nil, http.StatusBadRequest},
		{"invalid url", `{"url":"ftp://example.de"}`, nil, http.StatusBadRequest},
		{"navigation timeout", `{"url":"example.de"}`, browser.ErrNavigationTimeout, http.StatusBadGateway},
		{"deadline", `{"url":"example.de"}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeAnalyzer{err: tt.err}, nil, nil)
			resp, body := postAnalyze(t, ts, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestResultsArePersisted(t *testing.T) {
	repo, err := store.OpenSQLite(context.Background(), store.MemoryPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ts := newTestServer(t, &fakeAnalyzer{}, repo, nil)
	resp, body := postAnalyze(t, ts, `{"url":"https://example.de"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res schemas.AnalysisResult
	require.NoError(t, json.Unmarshal(body, &res))

	stored, err := repo.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, stored.Score.Total)

	// A fresh server without cache falls back to the repository.
	other := newTestServer(t, &fakeAnalyzer{}, repo, nil)
	get, err := http.Get(other.URL + "/api/v1/analyses/" + res.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
}

func dialStream(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/v1/analyze?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readStream(t *testing.T, conn *websocket.Conn) []StreamMessage {
	t.Helper()
	var msgs []StreamMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			return msgs
		}
		var m StreamMessage
		require.NoError(t, json.Unmarshal(b, &m))
		msgs = append(msgs, m)
	}
}

func TestStreamSendsStepsThenResult(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{}, nil, metrics.New())
	msgs := readStream(t, dialStream(t, ts, "url=example.de&quick=true"))

	require.Len(t, msgs, 3)
	assert.Equal(t, MsgStep, msgs[0].Type)
	assert.Equal(t, schemas.StepRunning, msgs[0].Step.Status)
	assert.Equal(t, schemas.StepCompleted, msgs[1].Step.Status)
	assert.Equal(t, MsgResult, msgs[2].Type)
	require.NotNil(t, msgs[2].Result)
	assert.Equal(t, schemas.ModeQuick, msgs[2].Result.Mode)
}

func TestStreamReportsErrors(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{err: errors.New("browser gone")}, nil, nil)
	msgs := readStream(t, dialStream(t, ts, "url=example.de"))

	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, MsgError, last.Type)
	assert.Equal(t, "browser gone", last.Error)
}

func TestStreamRejectsInvalidURL(t *testing.T) {
	a := &fakeAnalyzer{}
	ts := newTestServer(t, a, nil, nil)
	msgs := readStream(t, dialStream(t, ts, "url="))

	require.Len(t, msgs, 1)
	assert.Equal(t, MsgError, msgs[0].Type)
	assert.Contains(t, msgs[0].Error, "invalid target url")
	assert.Zero(t, a.full+a.quick)
}
