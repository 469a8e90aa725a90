package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordSearch("semantic", "semantic", 10*time.Millisecond)
	m.RecordSearch("semantic", "keyword_fallback", 5*time.Millisecond)
	m.RecordSearch("semantic", "keyword_fallback", 5*time.Millisecond)
	m.RecordProviderFailure("create")
	m.RecordDegradedWrite()
	m.RecordReembed("updated")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Searches.WithLabelValues("semantic", "semantic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Searches.WithLabelValues("semantic", "keyword_fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFailures.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedWrites))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reembedded.WithLabelValues("updated")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSearch("keyword", "keyword", time.Second)
		m.RecordProviderFailure("search")
		m.RecordDegradedWrite()
		m.RecordReembed("failed")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordDegradedWrite()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "projectsearch_projects_degraded_writes_total 1")
}
