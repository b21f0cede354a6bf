package app

import (
	"testing"

	"github.com/invigil/capture/internal/domain"
)

func TestManager_getOrCreateIsStable(t *testing.T) {
	m := NewManager(testPipelineConfig(), Deps{})
	session := domain.CaptureSession{ID: "sess-1", DisplayName: "Ada"}

	pair, _, _ := newFakePair(128, 72, 32, 24)
	a := m.GetOrCreate(session, &fakeAcquirer{pair: pair})
	b := m.GetOrCreate(session, &fakeAcquirer{})
	if a != b {
		t.Error("same session must map to the same pipeline")
	}

	other := domain.CaptureSession{ID: "sess-2", DisplayName: "Grace"}
	if c := m.GetOrCreate(other, &fakeAcquirer{}); c == a {
		t.Error("distinct sessions must get distinct pipelines")
	}

	if got := len(m.List()); got != 2 {
		t.Errorf("List() has %d entries, want 2", got)
	}

	m.Remove(session.ID)
	if _, ok := m.Get(session.ID); ok {
		t.Error("removed session still resolvable")
	}
}
