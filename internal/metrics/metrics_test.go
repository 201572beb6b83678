package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry(), "test")

	c.EventReduced("stoppage-added", "applied")
	c.EventReduced("stoppage-added", "applied")
	c.EventReduced("production-update", "ignored")
	c.WriteCompleted("assignment", nil)
	c.WriteCompleted("stoppage", errors.New("rejected"))
	c.RefreshCompleted(20*time.Millisecond, nil)
	c.RefreshScheduled()
	c.StaleResponseDiscarded()
	c.EventPublished("machine-state-update")
	c.ViewsOpen(2)
	c.ViewsOpen(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("stoppage-added", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("production-update", "ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.writes.WithLabelValues("stoppage", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.debounces))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleResponses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.viewsOpen))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector(nil, "")
	c.EventPublished("stoppage-updated")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `prodtimeline_events_published_total{event="stoppage-updated"} 1`))
}

func TestNopDoesNotPanic(t *testing.T) {
	var r Recorder = Nop{}
	assert.NotPanics(t, func() {
		r.EventReduced("x", "y")
		r.RefreshCompleted(time.Second, nil)
		r.RefreshScheduled()
		r.StaleResponseDiscarded()
		r.WriteCompleted("x", nil)
		r.EventPublished("x")
		r.ViewsOpen(1)
	})
}
