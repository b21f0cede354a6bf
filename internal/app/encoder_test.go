package app

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/invigil/capture/internal/core"
)

func testEncoderConfig() core.EncoderConfig {
	return core.EncoderConfig{Width: 1280, Height: 720, FrameRate: 30, VideoBitrate: 2_500_000, AudioBitrate: 128_000}
}

func TestNewRecorder_prefersVP9(t *testing.T) {
	rec, err := NewRecorder(fakeFactory(&fakeMediaEncoder{}), testEncoderConfig(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if rec.Codec() != core.CodecVP9 {
		t.Errorf("codec = %s, want vp9", rec.Codec())
	}
}

func TestNewRecorder_fallsBackToVP8(t *testing.T) {
	rec, err := NewRecorder(vp8OnlyFactory(&fakeMediaEncoder{}), testEncoderConfig(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if rec.Codec() != core.CodecVP8 {
		t.Errorf("codec = %s, want vp8 fallback", rec.Codec())
	}
}

func TestNewRecorder_noCodecAvailable(t *testing.T) {
	factory := func(cfg core.EncoderConfig) (core.MediaEncoder, error) {
		return nil, core.ErrCodecUnsupported
	}
	if _, err := NewRecorder(factory, testEncoderConfig(), time.Second, nil); !errors.Is(err, core.ErrCodecUnsupported) {
		t.Fatalf("expected ErrCodecUnsupported, got %v", err)
	}
}

func TestRecorder_chunksAreOrdered(t *testing.T) {
	enc := &fakeMediaEncoder{}
	rec, err := NewRecorder(fakeFactory(enc), testEncoderConfig(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	for i := 1; i <= 6; i++ {
		if err := rec.PushFrame(core.Frame{Seq: uint64(i)}); err != nil {
			t.Fatalf("PushFrame: %v", err)
		}
		if i%2 == 0 {
			if err := rec.flush(); err != nil {
				t.Fatalf("flush: %v", err)
			}
		}
	}

	chunks, err := rec.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != uint64(i+1) {
			t.Errorf("chunk %d has seq %d", i, c.Seq)
		}
	}
	if got := core.AssembleChunks(chunks); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("assembled = %v, want pushed frame order", got)
	}
}

func TestRecorder_emptyFlushProducesNoChunk(t *testing.T) {
	enc := &fakeMediaEncoder{}
	rec, err := NewRecorder(fakeFactory(enc), testEncoderConfig(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := rec.ChunkCount(); n != 0 {
		t.Errorf("expected no chunks after empty flush, got %d", n)
	}
}

func TestRecorder_finalizeIsIdempotent(t *testing.T) {
	enc := &fakeMediaEncoder{tail: []byte{0xff}}
	rec, err := NewRecorder(fakeFactory(enc), testEncoderConfig(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	_ = rec.PushFrame(core.Frame{Seq: 1})

	first, err := rec.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	second, err := rec.Finalize()
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if len(first) != len(second) {
		t.Errorf("second Finalize changed the sequence: %d vs %d chunks", len(first), len(second))
	}
	if !enc.closed {
		t.Error("encoder not closed")
	}
}

func TestRecorder_pushErrorTaggedAsEncodingFailure(t *testing.T) {
	enc := &fakeMediaEncoder{pushErr: errors.New("codec crashed")}
	rec, err := NewRecorder(fakeFactory(enc), testEncoderConfig(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.PushFrame(core.Frame{Seq: 1}); !errors.Is(err, core.ErrEncodingFailed) {
		t.Fatalf("expected ErrEncodingFailed, got %v", err)
	}
}

func TestSelectAudioSource_policy(t *testing.T) {
	mkPair := func(primaryAudio, overlayAudio bool) *core.SourcePair {
		ps := monitorSettings(1920, 1080)
		ps.HasAudio = primaryAudio
		os := cameraSettings(640, 480)
		os.HasAudio = overlayAudio
		return &core.SourcePair{
			Primary: newFakeSource(core.RolePrimary, ps),
			Overlay: newFakeSource(core.RoleOverlay, os),
		}
	}

	if src := SelectAudioSource(mkPair(true, true)); src == nil || src.Role() != core.RolePrimary {
		t.Error("primary audio should win when both carry audio")
	}
	if src := SelectAudioSource(mkPair(false, true)); src == nil || src.Role() != core.RoleOverlay {
		t.Error("overlay audio should be the fallback")
	}
	if src := SelectAudioSource(mkPair(false, false)); src != nil {
		t.Error("no audio anywhere should select nothing")
	}
}
