package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/srahul3/lineage-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBatch(t *testing.T) {
	m := New()

	m.ObserveBatch(model.PhaseNodeSync, 500, 20*time.Millisecond, nil)
	m.ObserveBatch(model.PhaseNodeSync, 120, 10*time.Millisecond, nil)
	m.ObserveBatch(model.PhaseNodeSync, 500, 30*time.Millisecond, errors.New("boom"))
	m.ObserveBatch(model.PhaseRelationshipSync, 7, time.Millisecond, nil)

	assert.Equal(t, 620.0, testutil.ToFloat64(m.rows.WithLabelValues("node_sync")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.rows.WithLabelValues("relationship_sync")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchFailures.WithLabelValues("node_sync")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.batchDuration))
}

func TestObserveRun(t *testing.T) {
	m := New()
	now := time.Unix(1700000000, 0)

	m.ObserveRun(3*time.Second, model.StateFailed, now)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.runDuration))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastSuccess))

	m.ObserveRun(2*time.Second, model.StateDone, now)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.runDuration))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastSuccess))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBatch(model.PhaseNodeSync, 1, time.Second, nil)
		m.ObserveRun(time.Second, model.StateDone, time.Now())
	})
	assert.NoError(t, m.Push("http://unused", "job"))
	assert.Nil(t, m.Registry())
}

func TestPush(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.ObserveRun(time.Second, model.StateDone, time.Now())
	require.NoError(t, m.Push(srv.URL, "lineage_sync"))
	assert.Equal(t, []string{"PUT /metrics/job/lineage_sync"}, paths)

	assert.NoError(t, New().Push("", "lineage_sync"))
}
