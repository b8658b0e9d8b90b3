package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangescan/internal/core/ranges"
	"rangescan/internal/infrastructure/storage/postgres"
)

func TestRecorder(t *testing.T) {
	m := New("test")

	m.Allocated("2626")
	m.Allocated("2626")
	m.Resolved("2626", ranges.AttemptFound, 120*time.Millisecond)
	m.Resolved("2626", ranges.AttemptNotFound, 80*time.Millisecond)
	m.Completed("2626")
	m.Interrupted()
	m.CycleFailed("STORE_UNAVAILABLE")
	m.ChangeDetected("added")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Allocations.WithLabelValues("2626")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("2626", "found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RangesCompleted.WithLabelValues("2626")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Interrupts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CycleErrors.WithLabelValues("STORE_UNAVAILABLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalChanges.WithLabelValues("added")))
}

func TestHandler(t *testing.T) {
	m := New("test")
	m.WatchPool("test", func() postgres.PoolStats { return postgres.PoolStats{TotalConns: 3, MaxConns: 8} })
	m.Allocated("77")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `test_allocations_total{range_key="77"} 1`)
	assert.Contains(t, body, "test_db_pool_total_conns 3")
	assert.Contains(t, body, "test_db_pool_max_conns 8")
}
