// Package observer implements the proctor-side view of live capture
// sessions: stream-health classification and fanout to viewer connections.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/domain"
	"github.com/invigil/capture/internal/platform/metrics"
)

// Health classifies a session's live stream from time since its last frame.
type Health string

const (
	HealthDisconnected Health = "disconnected"
	HealthGood         Health = "good"
	HealthFair         Health = "fair"
	HealthPoor         Health = "poor"
)

type sessionState struct {
	lastSeen time.Time
	lastSeq  uint64
	health   Health
}

// Monitor derives per-session stream health purely from frame inter-arrival
// time. Classification runs on a fixed poll timer rather than per arrival,
// bounding CPU cost with many observed sessions.
type Monitor struct {
	fairAfter time.Duration
	poorAfter time.Duration
	pollEvery time.Duration

	// onInactive fires once per good/fair→poor transition; poor is treated
	// as an implicit disconnect.
	onInactive func(id domain.SessionID)
	mx         *metrics.Metrics
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionState
}

func NewMonitor(fairAfter, poorAfter, pollEvery time.Duration, mx *metrics.Metrics) *Monitor {
	if fairAfter <= 0 {
		fairAfter = 3 * time.Second
	}
	if poorAfter <= 0 {
		poorAfter = 10 * time.Second
	}
	if pollEvery <= 0 {
		pollEvery = 3 * time.Second
	}
	return &Monitor{
		fairAfter: fairAfter,
		poorAfter: poorAfter,
		pollEvery: pollEvery,
		mx:        mx,
		now:       time.Now,
		sessions:  make(map[domain.SessionID]*sessionState),
	}
}

// SetOnInactive registers the stream-inactive callback. Must be called
// before Run.
func (m *Monitor) SetOnInactive(fn func(id domain.SessionID)) { m.onInactive = fn }

// ObserveFrame records a received live frame. Receipt returns the session to
// good regardless of its previous state. Sequence gaps are expected: the
// channel is best-effort, at-most-once.
func (m *Monitor) ObserveFrame(id domain.SessionID, seq uint64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[id]
	if !ok {
		st = &sessionState{health: HealthDisconnected}
		m.sessions[id] = st
	}
	if seq < st.lastSeq {
		// Late delivery of an older frame still proves the link is alive.
		log.Debug().
			Str("module", "observer.monitor").
			Str("session", string(id)).
			Uint64("seq", seq).
			Uint64("last_seq", st.lastSeq).
			Msg("out-of-order live frame")
	} else {
		st.lastSeq = seq
	}
	st.lastSeen = at
	st.health = HealthGood
}

// Health reports the current classification for a session.
func (m *Monitor) Health(id domain.SessionID) Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.sessions[id]; ok {
		return st.health
	}
	return HealthDisconnected
}

// Snapshot returns the health of every observed session.
func (m *Monitor) Snapshot() map[domain.SessionID]Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.SessionID]Health, len(m.sessions))
	for id, st := range m.sessions {
		out[id] = st.health
	}
	return out
}

// Run recomputes classifications on the poll timer until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recompute()
		}
	}
}

func (m *Monitor) recompute() {
	now := m.now()
	var inactive []domain.SessionID
	counts := map[Health]int{}

	m.mu.Lock()
	for id, st := range m.sessions {
		if st.health != HealthDisconnected {
			elapsed := now.Sub(st.lastSeen)
			switch {
			case elapsed >= m.poorAfter:
				if st.health != HealthPoor {
					inactive = append(inactive, id)
				}
				st.health = HealthPoor
			case elapsed >= m.fairAfter:
				st.health = HealthFair
			}
		}
		counts[st.health]++
	}
	m.mu.Unlock()

	for _, h := range []Health{HealthGood, HealthFair, HealthPoor, HealthDisconnected} {
		m.mx.SetSessionsByHealth(string(h), counts[h])
	}
	for _, id := range inactive {
		log.Warn().
			Str("module", "observer.monitor").
			Str("session", string(id)).
			Msg("stream inactive")
		if m.onInactive != nil {
			m.onInactive(id)
		}
	}
}
