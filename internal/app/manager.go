package app

import (
	"sync"

	"github.com/invigil/capture/internal/config"
	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
)

// Manager tracks the pipeline for each active session.
type Manager struct {
	mu        sync.RWMutex
	pipelines map[domain.SessionID]*Pipeline
	cfg       *config.Config
	deps      Deps
}

func NewManager(cfg *config.Config, deps Deps) *Manager {
	return &Manager{
		pipelines: make(map[domain.SessionID]*Pipeline),
		cfg:       cfg,
		deps:      deps,
	}
}

// GetOrCreate returns the session's pipeline, building one around acq on
// first sight. The acquirer is per-session: it owns that participant's
// inbound connection.
func (m *Manager) GetOrCreate(session domain.CaptureSession, acq core.Acquirer) *Pipeline {
	m.mu.RLock()
	p, ok := m.pipelines[session.ID]
	m.mu.RUnlock()
	if ok {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.pipelines[session.ID]; ok {
		return p
	}
	deps := m.deps
	deps.Acquirer = acq
	p = NewPipeline(session, m.cfg, deps)
	m.pipelines[session.ID] = p
	return p
}

func (m *Manager) Get(id domain.SessionID) (*Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	return p, ok
}

func (m *Manager) Remove(id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipelines, id)
}

func (m *Manager) List() []PipelineStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PipelineStats, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		out = append(out, p.Stats())
	}
	return out
}

// StopAll signals every pipeline and waits for each to finish.
func (m *Manager) StopAll() {
	m.mu.RLock()
	all := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		all = append(all, p)
	}
	m.mu.RUnlock()
	for _, p := range all {
		p.Stop()
	}
	for _, p := range all {
		<-p.Done()
	}
}
