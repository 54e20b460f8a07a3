package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_TaskCounters(t *testing.T) {
	m := NewMetrics("test")

	m.RecordDispatch("TRANSFER_TOKEN", 3)
	m.RecordAttempt("TRANSFER_TOKEN")
	m.RecordAttempt("TRANSFER_TOKEN")
	m.RecordCompletion("TRANSFER_TOKEN", nil, time.Second)
	m.RecordCompletion("DEPLOY_TOKEN", errors.New("boom"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksDispatched.WithLabelValues("TRANSFER_TOKEN")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskAttempts.WithLabelValues("TRANSFER_TOKEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksCompleted.WithLabelValues("TRANSFER_TOKEN", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksCompleted.WithLabelValues("DEPLOY_TOKEN", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordDispatch("X", 1)
	m.RecordAttempt("X")
	m.RecordCompletion("X", nil, time.Millisecond)
	m.RecordNotification()
	m.RecordDelta()
	m.RecordDrop("no_twin")
	m.RecordDiscovery("WALLET", true, "")
	m.ObserveRPC("getSlot", time.Millisecond, nil)
	m.SetQueueDepth(0)
	m.SetActiveSubscriptions(0)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordDrop("no_twin")
	m.ObserveRPC("getSlot", 10*time.Millisecond, errors.New("timeout"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `test_reconciler_events_dropped_total{reason="no_twin"} 1`))
	assert.True(t, strings.Contains(body, `test_solana_rpc_call_errors_total{method="getSlot"} 1`))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics("dup")
	b := NewMetrics("dup")
	a.RecordNotification()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.NotificationsReceived))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.NotificationsReceived))
}
