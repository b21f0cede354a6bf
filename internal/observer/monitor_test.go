package observer

import (
	"sync"
	"testing"
	"time"

	"github.com/invigil/capture/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advanceTo(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func testMonitor() (*Monitor, *clock) {
	clk := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := NewMonitor(3*time.Second, 10*time.Second, 3*time.Second, nil)
	m.now = clk.now
	return m, clk
}

func TestMonitor_classifiesByFrameAge(t *testing.T) {
	m, clk := testMonitor()
	start := clk.now()
	m.ObserveFrame("sess-1", 1, start)

	cases := []struct {
		after time.Duration
		want  Health
	}{
		{1 * time.Second, HealthGood},
		{4 * time.Second, HealthFair},
		{11 * time.Second, HealthPoor},
	}
	for _, tc := range cases {
		clk.advanceTo(start.Add(tc.after))
		m.recompute()
		if got := m.Health("sess-1"); got != tc.want {
			t.Errorf("at +%v: health = %s, want %s", tc.after, got, tc.want)
		}
	}
}

func TestMonitor_unknownSessionIsDisconnected(t *testing.T) {
	m, _ := testMonitor()
	if got := m.Health("never-seen"); got != HealthDisconnected {
		t.Errorf("health = %s, want disconnected", got)
	}
}

func TestMonitor_frameReceiptRestoresGood(t *testing.T) {
	m, clk := testMonitor()
	start := clk.now()
	m.ObserveFrame("sess-1", 1, start)

	clk.advanceTo(start.Add(12 * time.Second))
	m.recompute()
	if got := m.Health("sess-1"); got != HealthPoor {
		t.Fatalf("setup: health = %s, want poor", got)
	}

	m.ObserveFrame("sess-1", 2, clk.now())
	if got := m.Health("sess-1"); got != HealthGood {
		t.Errorf("health after frame = %s, want good", got)
	}
}

func TestMonitor_onInactiveFiresOncePerTransition(t *testing.T) {
	m, clk := testMonitor()
	var fired []domain.SessionID
	m.SetOnInactive(func(id domain.SessionID) { fired = append(fired, id) })

	start := clk.now()
	m.ObserveFrame("sess-1", 1, start)

	clk.advanceTo(start.Add(11 * time.Second))
	m.recompute()
	clk.advanceTo(start.Add(14 * time.Second))
	m.recompute()

	if len(fired) != 1 || fired[0] != "sess-1" {
		t.Fatalf("onInactive fired %v, want exactly once for sess-1", fired)
	}

	// Recovery and a second decay fires it again.
	m.ObserveFrame("sess-1", 2, clk.now())
	clk.advanceTo(start.Add(30 * time.Second))
	m.recompute()
	if len(fired) != 2 {
		t.Errorf("onInactive fired %d times after second decay, want 2", len(fired))
	}
}

func TestMonitor_outOfOrderFrameStillCountsAsActivity(t *testing.T) {
	m, clk := testMonitor()
	start := clk.now()
	m.ObserveFrame("sess-1", 5, start)

	clk.advanceTo(start.Add(4 * time.Second))
	m.recompute()
	if got := m.Health("sess-1"); got != HealthFair {
		t.Fatalf("setup: health = %s, want fair", got)
	}

	// A late frame with an older sequence number still proves liveness.
	m.ObserveFrame("sess-1", 3, clk.now())
	clk.advanceTo(start.Add(5 * time.Second))
	m.recompute()
	if got := m.Health("sess-1"); got != HealthGood {
		t.Errorf("health = %s, want good after late frame", got)
	}
}

func TestMonitor_snapshotCoversAllSessions(t *testing.T) {
	m, clk := testMonitor()
	start := clk.now()
	m.ObserveFrame("sess-1", 1, start)
	m.ObserveFrame("sess-2", 1, start.Add(-20*time.Second))

	// sess-2's frame is old but receipt set it good; only recompute decays.
	clk.advanceTo(start.Add(time.Second))
	m.recompute()

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d sessions, want 2", len(snap))
	}
	if snap["sess-1"] != HealthGood {
		t.Errorf("sess-1 = %s, want good", snap["sess-1"])
	}
	if snap["sess-2"] != HealthPoor {
		t.Errorf("sess-2 = %s, want poor", snap["sess-2"])
	}
}
