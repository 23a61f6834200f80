// SPDX-License-Identifier: MIT

package httpx

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// otelhttp and net/http keep background pollers alive across tests.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newTestCaller(t *testing.T) *Caller {
	t.Helper()
	c := New(Options{HealthInterval: 10 * time.Millisecond})
	t.Cleanup(c.Close)
	return c
}

func TestDoRecordsHostCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestCaller(t)
	u, _ := url.Parse(srv.URL)

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := c.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	attempts, successes, failures, reuse, lastUsed := c.Stats(u.Hostname())
	assert.EqualValues(t, 3, attempts)
	assert.EqualValues(t, 3, successes)
	assert.EqualValues(t, 0, failures)
	assert.EqualValues(t, 3, reuse)
	assert.WithinDuration(t, time.Now(), lastUsed, time.Minute)
}

func TestDoCountsTransportFailures(t *testing.T) {
	c := newTestCaller(t)

	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	req, err := http.NewRequest(http.MethodGet, addr, nil)
	require.NoError(t, err)
	_, err = c.Do(req)
	require.Error(t, err)

	u, _ := url.Parse(addr)
	attempts, successes, failures, _, _ := c.Stats(u.Hostname())
	assert.EqualValues(t, 1, attempts)
	assert.EqualValues(t, 0, successes)
	assert.EqualValues(t, 1, failures)
}

func TestUnhealthyHostPolicy(t *testing.T) {
	c := New(Options{HealthInterval: time.Hour, ReuseThreshold: 5})
	defer c.Close()

	// Below ten attempts the success-rate rule must not trigger.
	c.hosts["a.example"] = &hostStats{attempts: 5, successes: 0, failures: 5, lastUsed: time.Now()}
	host, _ := c.unhealthyHost()
	assert.Empty(t, host)

	c.hosts["a.example"] = &hostStats{attempts: 10, successes: 5, failures: 5, lastUsed: time.Now()}
	host, reason := c.unhealthyHost()
	assert.Equal(t, "a.example", host)
	assert.Equal(t, "success_rate", reason)

	delete(c.hosts, "a.example")
	c.hosts["b.example"] = &hostStats{attempts: 1, successes: 1, reuseCount: 5, lastUsed: time.Now()}
	host, reason = c.unhealthyHost()
	assert.Equal(t, "b.example", host)
	assert.Equal(t, "reuse_threshold", reason)
}

func TestRecycleResetsCounters(t *testing.T) {
	c := New(Options{HealthInterval: time.Hour})
	defer c.Close()

	c.hosts["x.example"] = &hostStats{attempts: 20, successes: 2, failures: 18, reuseCount: 20, lastUsed: time.Now()}
	c.recycle("x.example", "success_rate")

	attempts, _, _, reuse, _ := c.Stats("x.example")
	assert.Zero(t, attempts)
	assert.Zero(t, reuse)
}
