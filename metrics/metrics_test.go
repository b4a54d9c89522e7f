package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/testbot/envcache"
)

func TestObserveJob(t *testing.T) {
	m := New()
	m.ObserveJob("docker", "SUCCESS", "", 2*time.Second)
	m.ObserveJob("docker", "FAILURE", "TimeoutError", time.Second)
	m.ObserveJob("docker", "FAILURE", "TimeoutError", time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(m.jobs.WithLabelValues("docker", "SUCCESS")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.jobs.WithLabelValues("docker", "FAILURE")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.errors.WithLabelValues("docker", "TimeoutError")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestObserveCache(t *testing.T) {
	m := New()
	var obs envcache.Observer = m
	obs.ObserveCache(envcache.EventHit)
	obs.ObserveCache(envcache.EventHit)
	obs.ObserveCache(envcache.EventMiss)

	assert.InDelta(t, 2, testutil.ToFloat64(m.cache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cache.WithLabelValues("miss")), 0)
}

func TestServer(t *testing.T) {
	m := New()
	m.ObserveJob("run-script", "SUCCESS", "", time.Second)

	s := NewServer("127.0.0.1:0", m, zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `testbot_jobs_total{final_state="SUCCESS",kind="run-script"} 1`)
}

func TestServerDisabled(t *testing.T) {
	s := NewServer("", New(), zaptest.NewLogger(t))
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(context.Background()))
}
