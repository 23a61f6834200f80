// SPDX-License-Identifier: MIT

// Package httpx provides the shared outbound HTTP client: pooled
// connections, HTTP/2, per-host health accounting and a recycling policy
// that rebuilds the transport when a host's connections degrade.
package httpx

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/tubescribe/tubescribe/internal/log"
)

// Options tunes the caller. Zero values take defaults.
type Options struct {
	MaxConns        int           // total pooled connections
	MaxConnsPerHost int           // keepalive connections per host
	IdleTimeout     time.Duration // idle connection lifetime
	ReuseThreshold  int64         // requests per host before recycling
	MaxHostIdle     time.Duration // host inactivity before recycling
	HealthInterval  time.Duration // health loop period
	PerHostRPS      rate.Limit    // outbound pacing per host; 0 disables
}

func (o *Options) defaults() {
	if o.MaxConns <= 0 {
		o.MaxConns = 100
	}
	if o.MaxConnsPerHost <= 0 {
		o.MaxConnsPerHost = 10
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 90 * time.Second
	}
	if o.ReuseThreshold <= 0 {
		o.ReuseThreshold = 1000
	}
	if o.MaxHostIdle <= 0 {
		o.MaxHostIdle = 5 * time.Minute
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
}

// hostStats tracks outcome counters for one host.
type hostStats struct {
	attempts   int64
	successes  int64
	failures   int64
	reuseCount int64
	lastUsed   time.Time
	limiter    *rate.Limiter
}

func (h *hostStats) successRate() float64 {
	if h.attempts == 0 {
		return 1
	}
	return float64(h.successes) / float64(h.attempts)
}

// Caller is the pooled HTTP client shared by every outbound component.
// Callers supply their own timeouts via request contexts and their own
// headers; Caller owns only the transport.
type Caller struct {
	opts Options

	mu     sync.Mutex
	client *http.Client
	hosts  map[string]*hostStats

	stop   context.CancelFunc
	stopWG sync.WaitGroup
}

// New builds a Caller and starts its health loop.
func New(opts Options) *Caller {
	opts.defaults()
	c := &Caller{
		opts:  opts,
		hosts: make(map[string]*hostStats),
	}
	c.client = &http.Client{Transport: c.newTransport()}

	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	c.stopWG.Add(1)
	go c.healthLoop(ctx)
	return c
}

func (c *Caller) newTransport() http.RoundTripper {
	t := &http.Transport{
		MaxIdleConns:        c.opts.MaxConns,
		MaxIdleConnsPerHost: c.opts.MaxConnsPerHost,
		MaxConnsPerHost:     c.opts.MaxConnsPerHost * 2,
		IdleConnTimeout:     c.opts.IdleTimeout,
		ForceAttemptHTTP2:   true,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		log.WithComponent("httpx").Warn().Err(err).Msg("http2 configuration failed, staying on h1")
	}
	return otelhttp.NewTransport(t)
}

// Do submits the request, recording per-host outcome counters. A response
// with any status counts as a transport success; counters feed the
// recycling policy, not error classification.
func (c *Caller) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	stats := c.hostFor(host)

	if stats.limiter != nil {
		if err := stats.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("httpx: pacing wait for %s: %w", host, err)
		}
	}

	c.mu.Lock()
	client := c.client
	stats.attempts++
	stats.reuseCount++
	stats.lastUsed = time.Now()
	c.mu.Unlock()

	resp, err := client.Do(req)

	c.mu.Lock()
	if err != nil {
		stats.failures++
	} else {
		stats.successes++
	}
	c.mu.Unlock()

	return resp, err
}

func (c *Caller) hostFor(host string) *hostStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.hosts[host]
	if !ok {
		s = &hostStats{lastUsed: time.Now()}
		if c.opts.PerHostRPS > 0 {
			s.limiter = rate.NewLimiter(c.opts.PerHostRPS, int(c.opts.PerHostRPS)+1)
		}
		c.hosts[host] = s
	}
	return s
}

// healthLoop periodically inspects host counters and recycles the client
// when any host trips the policy.
func (c *Caller) healthLoop(ctx context.Context) {
	defer c.stopWG.Done()
	ticker := time.NewTicker(c.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if host, reason := c.unhealthyHost(); host != "" {
				c.recycle(host, reason)
			}
		}
	}
}

// unhealthyHost returns the first host violating the recycling policy.
func (c *Caller) unhealthyHost() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for host, s := range c.hosts {
		switch {
		case s.reuseCount >= c.opts.ReuseThreshold:
			return host, "reuse_threshold"
		case s.attempts > 0 && now.Sub(s.lastUsed) > c.opts.MaxHostIdle:
			return host, "idle"
		case s.attempts >= 10 && s.successRate() < 0.8:
			return host, "success_rate"
		}
	}
	return "", ""
}

// recycle swaps in a fresh transport and resets the offending host's
// counters. In-flight requests keep the old client until they finish.
func (c *Caller) recycle(host, reason string) {
	c.mu.Lock()
	old := c.client
	c.client = &http.Client{Transport: c.newTransport()}
	if s, ok := c.hosts[host]; ok {
		limiter := s.limiter
		c.hosts[host] = &hostStats{lastUsed: time.Now(), limiter: limiter}
	}
	c.mu.Unlock()

	old.CloseIdleConnections()
	log.WithComponent("httpx").Info().Str("host", host).Str("reason", reason).Msg("recycled http client")
}

// Stats returns a copy of the counters for one host. Exposed for health
// surfaces and tests.
func (c *Caller) Stats(host string) (attempts, successes, failures, reuse int64, lastUsed time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.hosts[host]; ok {
		return s.attempts, s.successes, s.failures, s.reuseCount, s.lastUsed
	}
	return 0, 0, 0, 0, time.Time{}
}

// Close stops the health loop and releases pooled connections.
func (c *Caller) Close() {
	c.stop()
	c.stopWG.Wait()
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	client.CloseIdleConnections()
}
