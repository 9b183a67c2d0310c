// Package proxymgr rotates outbound yt-dlp calls across the configured proxies
// and keeps failing ones out of rotation for a growing backoff.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"nagare/internal/config"
	"nagare/internal/errs"
	"nagare/internal/observability"
)

// State is the rotation state of a proxy.
type State int

const (
	// StateAvailable indicates the proxy is handed out by Next.
	StateAvailable State = iota
	// StateBackoff indicates the proxy failed too often and waits out its backoff.
	StateBackoff
)

func (s State) String() string {
	if s == StateBackoff {
		return "backoff"
	}

	return "available"
}

const (
	dialTimeout = 10 * time.Second
	maxBackoff  = time.Hour

	defaultSOCKSPort = "1080"
	defaultHTTPPort  = "8080"
)

type proxyInfo struct {
	url          string
	state        State
	failures     int
	lastFailure  time.Time
	backoffUntil time.Time
}

// Stats is a snapshot of one proxy.
type Stats struct {
	URL          string    `json:"url"`
	State        string    `json:"state"`
	Failures     int       `json:"failures"`
	LastFailure  time.Time `json:"lastFailure,omitzero"`
	BackoffUntil time.Time `json:"backoffUntil,omitzero"`
}

// Manager hands out proxies round robin.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics

	mu      sync.Mutex
	proxies []*proxyInfo
	next    int
}

// New creates a Manager over cfg.Proxies. An empty list is valid: Next then
// always returns "" and no error.
func New(log *slog.Logger, cfg config.Proxy, metrics *observability.Metrics) *Manager {
	m := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		proxies: make([]*proxyInfo, 0, len(cfg.Proxies)),
	}

	for _, p := range cfg.Proxies {
		m.proxies = append(m.proxies, &proxyInfo{url: p})
	}

	m.metrics.SetProxiesAvailable(len(m.proxies))

	return m
}

// HasProxies reports whether any proxy is configured.
func (m *Manager) HasProxies() bool {
	return len(m.proxies) > 0
}

// Next returns the next available proxy. With no proxies configured it
// returns "". When every proxy is backing off it returns ErrNoProxiesAvailable.
func (m *Manager) Next() (string, error) {
	if !m.HasProxies() {
		return "", nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for range len(m.proxies) {
		info := m.proxies[m.next]
		m.next = (m.next + 1) % len(m.proxies)

		if info.state == StateBackoff && now.Before(info.backoffUntil) {
			continue
		}

		m.metrics.RecordProxyRequest(info.url)

		return info.url, nil
	}

	return "", errs.ErrNoProxiesAvailable
}

// MarkFailed records a failure. Once a proxy reaches MaxFailures it is taken
// out of rotation for FailureBackoff, doubled for every further failure.
func (m *Manager) MarkFailed(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.find(proxyURL)
	if info == nil {
		return
	}

	m.metrics.RecordProxyFailure(proxyURL)

	info.failures++
	info.lastFailure = time.Now()

	maxFailures := max(1, m.cfg.MaxFailures)
	if info.failures < maxFailures {
		return
	}

	backoff := min(maxBackoff, m.cfg.FailureBackoff<<min(info.failures-maxFailures, 16))

	info.state = StateBackoff
	info.backoffUntil = info.lastFailure.Add(backoff)

	m.metrics.SetProxiesAvailable(m.availableLocked())

	m.log.Warn("proxy backing off",
		slog.String("proxy", proxyURL),
		slog.Int("failures", info.failures),
		slog.Duration("backoff", backoff))
}

// MarkSuccess puts the proxy back into rotation and resets its failure count.
func (m *Manager) MarkSuccess(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.find(proxyURL)
	if info == nil {
		return
	}

	info.state = StateAvailable
	info.failures = 0
	info.backoffUntil = time.Time{}

	m.metrics.SetProxiesAvailable(m.availableLocked())
}

// AvailableCount returns the number of proxies Next may currently return.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.availableLocked()
}

// Stats returns a snapshot of every proxy in configuration order.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stats, 0, len(m.proxies))
	for _, info := range m.proxies {
		out = append(out, Stats{
			URL:          info.url,
			State:        info.state.String(),
			Failures:     info.failures,
			LastFailure:  info.lastFailure,
			BackoffUntil: info.backoffUntil,
		})
	}

	return out
}

// HealthCheck dials the proxy host and records the outcome.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}

	addr, err := dialAddress(u)
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.MarkSuccess(proxyURL)

	return nil
}

// CheckAll health checks every proxy and returns the failures keyed by URL.
func (m *Manager) CheckAll(ctx context.Context) map[string]error {
	failed := make(map[string]error)

	for _, info := range m.proxies {
		if ctx.Err() != nil {
			break
		}

		if err := m.HealthCheck(ctx, info.url); err != nil {
			failed[info.url] = err
		}
	}

	return failed
}

func (m *Manager) find(proxyURL string) *proxyInfo {
	for _, info := range m.proxies {
		if info.url == proxyURL {
			return info
		}
	}

	return nil
}

func (m *Manager) availableLocked() int {
	now := time.Now()
	n := 0

	for _, info := range m.proxies {
		if info.state == StateAvailable || !now.Before(info.backoffUntil) {
			n++
		}
	}

	return n
}

// dialAddress adds the scheme's default port when the URL has none.
func dialAddress(u *url.URL) (string, error) {
	if u.Port() != "" {
		return u.Host, nil
	}

	switch u.Scheme {
	case "socks5", "socks5h", "socks4", "socks4a":
		return net.JoinHostPort(u.Hostname(), defaultSOCKSPort), nil
	case "http", "https":
		return net.JoinHostPort(u.Hostname(), defaultHTTPPort), nil
	default:
		return "", fmt.Errorf("proxy %q: unsupported scheme %q", u.Redacted(), u.Scheme)
	}
}
