package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/orchestrator"
)

var _ orchestrator.Recorder = (*Metrics)(nil)

func TestRecorderCounters(t *testing.T) {
	m := New()
	m.AnalysisFinished(schemas.ModeFull, "success", 12*time.Second)
	m.AnalysisFinished(schemas.ModeFull, "success", 20*time.Second)
	m.AnalysisFinished(schemas.ModeQuick, "error", time.Second)
	m.ConsentArmFinished("reject", "reclassified")
	m.ExtractorAnomaly("tcf")
	m.ExtractorAnomaly("tcf")
	m.CacheHit()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.analyses.WithLabelValues("full", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("quick", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consentArms.WithLabelValues("reject", "reclassified")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.anomalies.WithLabelValues("tcf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 2, testutil.CollectAndCount(m.analysisSeconds))
}

func TestTrackInflight(t *testing.T) {
	m := New()
	done := m.Track()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/analyses/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/v1/analyses/{id}", "GET", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "consentscope_http_requests_total"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
