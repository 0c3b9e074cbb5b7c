package netmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kasirsync/agent/internal/domain"
)

type fakeProber struct {
	latency time.Duration
	err     error
}

func (p *fakeProber) Probe(_ context.Context) (time.Duration, error) {
	return p.latency, p.err
}

func TestFreshMonitorReportsOnline(t *testing.T) {
	m := New(&fakeProber{latency: 20 * time.Millisecond}, time.Minute, 3*time.Second)

	status := m.Status()
	if !status.IsOnline {
		t.Fatalf("a fresh monitor must report online until an observation says otherwise: %+v", status)
	}
	if status.IsSlowConnection {
		t.Fatalf("a fresh monitor must not start slow: %+v", status)
	}
}

func TestSubscribeInvokesListenerImmediately(t *testing.T) {
	m := New(&fakeProber{latency: 20 * time.Millisecond}, time.Minute, 3*time.Second)

	var got []domain.NetworkStatus
	unsubscribe := m.Subscribe(func(status domain.NetworkStatus) {
		got = append(got, status)
	})
	defer unsubscribe()

	if len(got) != 1 {
		t.Fatalf("expected one immediate invocation, got %d", len(got))
	}
	if !got[0].IsOnline {
		t.Fatalf("expected the optimistic initial status, got %+v", got[0])
	}
}

func TestConnectivityTransitionsRecordTimestamps(t *testing.T) {
	m := New(&fakeProber{latency: 20 * time.Millisecond}, time.Minute, 3*time.Second)
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	m.SetNow(func() time.Time { return now })

	m.SetConnected(false, "")
	status := m.Status()
	if status.IsOnline {
		t.Fatalf("expected offline after disconnected signal")
	}
	if status.LastOfflineTime == nil || !status.LastOfflineTime.Equal(now) {
		t.Fatalf("expected last offline time %v, got %v", now, status.LastOfflineTime)
	}

	now = now.Add(time.Minute)
	m.SetConnected(true, "wifi")
	status = m.Status()
	if !status.IsOnline {
		t.Fatalf("expected online after connected signal")
	}
	if status.LastOnlineTime == nil || !status.LastOnlineTime.Equal(now) {
		t.Fatalf("expected last online time %v, got %v", now, status.LastOnlineTime)
	}
	if status.ConnectionType != "wifi" {
		t.Fatalf("expected connection type wifi, got %q", status.ConnectionType)
	}
	if status.LastOfflineTime == nil {
		t.Fatalf("expected last offline time to be carried forward")
	}
}

func TestListenersSeeEveryTransition(t *testing.T) {
	m := New(&fakeProber{latency: 20 * time.Millisecond}, time.Minute, 3*time.Second)

	var got []bool
	unsubscribe := m.Subscribe(func(status domain.NetworkStatus) {
		got = append(got, status.IsOnline)
	})
	defer unsubscribe()

	m.SetConnected(false, "")
	m.SetConnected(true, "")
	m.SetConnected(false, "")

	want := []bool{true, false, true, false}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notification %d: expected online=%v, got %v", i, want[i], got[i])
		}
	}
}

func TestRepeatedSignalDoesNotRenotify(t *testing.T) {
	m := New(&fakeProber{latency: 20 * time.Millisecond}, time.Minute, 3*time.Second)

	count := 0
	unsubscribe := m.Subscribe(func(domain.NetworkStatus) { count++ })
	defer unsubscribe()

	m.SetConnected(false, "")
	m.SetConnected(false, "")
	m.SetConnected(false, "")

	if count != 2 { // immediate + one transition
		t.Fatalf("expected 2 notifications, got %d", count)
	}
}

func TestConcurrentSignalsNotifyInOrder(t *testing.T) {
	m := New(&fakeProber{latency: 20 * time.Millisecond}, time.Minute, 3*time.Second)

	var mu sync.Mutex
	var seen []bool
	unsubscribe := m.Subscribe(func(status domain.NetworkStatus) {
		mu.Lock()
		seen = append(seen, status.IsOnline)
		mu.Unlock()
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.SetConnected(false, "")
		}()
		go func() {
			defer wg.Done()
			m.SetConnected(true, "")
		}()
	}
	wg.Wait()

	// Transitions only fire on change, so a correctly ordered delivery is a
	// strict online/offline alternation starting from the initial online.
	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 {
		t.Fatalf("expected at least one transition, got %d notifications", len(seen))
	}
	if !seen[0] {
		t.Fatalf("expected the immediate invocation to report online")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Fatalf("notifications delivered out of order at %d: %v", i, seen)
		}
	}
}

func TestSlowClassification(t *testing.T) {
	prober := &fakeProber{latency: 100 * time.Millisecond}
	m := New(prober, time.Minute, 3*time.Second)

	m.ProbeNow(context.Background())
	if status := m.Status(); status.IsSlowConnection {
		t.Fatalf("fast probe should not be classified slow: %+v", status)
	}

	prober.latency = 5 * time.Second
	m.ProbeNow(context.Background())
	if status := m.Status(); !status.IsSlowConnection {
		t.Fatalf("expected slow classification above threshold: %+v", status)
	}
}

func TestFailedProbeWhileConnectedIsSlowNotOffline(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	m := New(prober, time.Minute, 3*time.Second)

	m.ProbeNow(context.Background())

	status := m.Status()
	if !status.IsOnline {
		t.Fatalf("probe failure must not flip the platform online flag")
	}
	if !status.IsSlowConnection {
		t.Fatalf("expected the online-but-unusable case to classify as slow")
	}
}

func TestPanickingListenerDoesNotBreakOthers(t *testing.T) {
	m := New(&fakeProber{latency: time.Millisecond}, time.Minute, 3*time.Second)

	unsubscribeBad := m.Subscribe(func(domain.NetworkStatus) { panic("broken listener") })
	defer unsubscribeBad()

	calls := 0
	unsubscribe := m.Subscribe(func(domain.NetworkStatus) { calls++ })
	defer unsubscribe()

	m.SetConnected(false, "")

	if calls != 2 { // immediate + transition
		t.Fatalf("expected surviving listener to see 2 notifications, got %d", calls)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m := New(&fakeProber{latency: time.Millisecond}, time.Minute, 3*time.Second)

	count := 0
	unsubscribe := m.Subscribe(func(domain.NetworkStatus) { count++ })
	unsubscribe()

	m.SetConnected(false, "")
	if count != 1 { // only the immediate invocation
		t.Fatalf("expected no notifications after unsubscribe, got %d", count)
	}
}
