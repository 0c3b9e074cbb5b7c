// Package netmon produces the single authoritative NetworkStatus. It combines
// a coarse connectivity signal reported by the host shell with an active probe
// against the server's health endpoint, which catches links that are nominally
// up but unusable.
package netmon

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"kasirsync/agent/internal/domain"
)

// Prober measures reachability and round-trip time of the remote server.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// HTTPProber issues a lightweight GET against a health endpoint. Any 2xx
// counts as reachable.
type HTTPProber struct {
	url    string
	client *http.Client
}

func NewHTTPProber(healthURL string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url:    healthURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &UnreachableError{StatusCode: resp.StatusCode}
	}
	return time.Since(start), nil
}

type UnreachableError struct {
	StatusCode int
}

func (e *UnreachableError) Error() string {
	return "health endpoint answered status " + http.StatusText(e.StatusCode)
}

// Listener receives the status once immediately on subscribe and then on every
// change. Listeners run on the notification goroutine and must not block.
type Listener func(domain.NetworkStatus)

type notification struct {
	listeners []Listener
	status    domain.NetworkStatus
}

type Monitor struct {
	prober        Prober
	probeInterval time.Duration
	slowThreshold time.Duration
	now           func() time.Time

	mu             sync.Mutex
	status         domain.NetworkStatus
	connected      bool
	connectionType string
	subs           map[int]Listener
	nextSubID      int
	// pending holds notifications in transition order; notifying marks the one
	// goroutine currently draining it.
	pending   []notification
	notifying bool
}

// New starts from the optimistic assumption that the link is up; the first
// probe or host signal replaces it.
func New(prober Prober, probeInterval time.Duration, slowThreshold time.Duration) *Monitor {
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	if slowThreshold <= 0 {
		slowThreshold = 3 * time.Second
	}
	return &Monitor{
		prober:        prober,
		probeInterval: probeInterval,
		slowThreshold: slowThreshold,
		now:           time.Now,
		connected:     true,
		status:        domain.NetworkStatus{IsOnline: true},
		subs:          make(map[int]Listener),
	}
}

// SetNow replaces the clock, for deterministic tests.
func (m *Monitor) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Monitor) Status() domain.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetConnected ingests the coarse signal from the host (the UI shell reports
// the platform's own online flag). connectionType may be empty.
func (m *Monitor) SetConnected(online bool, connectionType string) {
	m.mu.Lock()
	m.connected = online
	m.connectionType = connectionType
	next := m.rebuildLocked(m.status.IsSlowConnection, m.status.LatencyMS)
	m.applyLocked(next)
	m.mu.Unlock()

	m.dispatch()
}

// ProbeNow runs one probe immediately and folds the result into the status.
func (m *Monitor) ProbeNow(ctx context.Context) {
	latency, err := m.prober.Probe(ctx)

	m.mu.Lock()
	slow := err != nil || latency > m.slowThreshold
	latencyMS := latency.Milliseconds()
	if err != nil {
		latencyMS = 0
	}
	next := m.rebuildLocked(slow, latencyMS)
	m.applyLocked(next)
	m.mu.Unlock()

	if err != nil {
		log.Printf("[netmon] probe failed: %v", err)
	}
	m.dispatch()
}

// rebuildLocked composes a fresh NetworkStatus; the struct is rebuilt on every
// observation, never patched field by field.
func (m *Monitor) rebuildLocked(slow bool, latencyMS int64) domain.NetworkStatus {
	next := domain.NetworkStatus{
		IsOnline:         m.connected,
		IsSlowConnection: slow,
		ConnectionType:   m.connectionType,
		LatencyMS:        latencyMS,
		LastOnlineTime:   m.status.LastOnlineTime,
		LastOfflineTime:  m.status.LastOfflineTime,
	}
	if next.IsOnline && !m.status.IsOnline {
		at := m.now().UTC()
		next.LastOnlineTime = &at
	}
	if !next.IsOnline && m.status.IsOnline {
		at := m.now().UTC()
		next.LastOfflineTime = &at
	}
	return next
}

// applyLocked installs the status and, when it materially changed, queues a
// notification for the current subscribers.
func (m *Monitor) applyLocked(next domain.NetworkStatus) {
	prev := m.status
	m.status = next
	if prev.IsOnline == next.IsOnline &&
		prev.IsSlowConnection == next.IsSlowConnection &&
		prev.ConnectionType == next.ConnectionType {
		return
	}
	listeners := make([]Listener, 0, len(m.subs))
	for _, l := range m.subs {
		listeners = append(listeners, l)
	}
	m.pending = append(m.pending, notification{listeners: listeners, status: next})
}

// dispatch drains queued notifications. A single goroutine drains at a time,
// so listeners observe transitions in the order they were applied even when
// signals race.
func (m *Monitor) dispatch() {
	m.mu.Lock()
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true
	for len(m.pending) > 0 {
		n := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		notify(n.listeners, n.status)
		m.mu.Lock()
	}
	m.notifying = false
	m.mu.Unlock()
}

// Subscribe registers a listener and invokes it once with the current status
// before returning. The returned function unsubscribes.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = l
	current := m.status
	m.mu.Unlock()

	notify([]Listener{l}, current)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// notify runs listeners sequentially, isolating panics so one broken listener
// cannot starve the rest.
func notify(listeners []Listener, status domain.NetworkStatus) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[netmon] listener panic: %v", r)
				}
			}()
			l(status)
		}()
	}
}

// Run probes once immediately, then on the configured interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.ProbeNow(ctx)

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeNow(ctx)
		}
	}
}
