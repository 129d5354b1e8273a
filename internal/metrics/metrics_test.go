package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.AddCheckout(OutcomeAcquired)
	m.AddCheckout(OutcomeAcquired)
	m.AddCheckout(OutcomeConflict)
	m.AddCommitRecorded()
	m.AddLedgerDivergence()
	m.ObserveReaperRun(3, time.Millisecond)
	m.ObserveHTTPRequest(http.MethodPost, "/projects/{id}/checkout", http.StatusOK, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkoutsTotal.WithLabelValues(OutcomeAcquired)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkoutsTotal.WithLabelValues(OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitsRecordedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerDivergenceTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.leasesReapedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodPost, "/projects/{id}/checkout", "200")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "apex_ledger_divergence_total 1")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddCheckout(OutcomeAcquired)
		m.AddCommitRecorded()
		m.AddLedgerDivergence()
		m.ObserveReaperRun(1, time.Second)
		m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Second)
	})
}
