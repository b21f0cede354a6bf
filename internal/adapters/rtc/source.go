package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/core"
)

const audioBuffer = 64

// trackSource adapts one declared stream (video track plus optional audio
// track) into a core.MediaSource. Frames come out of the decoder; audio
// packets are forwarded as-is since the muxer consumes Opus directly.
type trackSource struct {
	id   string
	meta SourceMeta

	mu    sync.Mutex
	video *webrtc.TrackRemote
	audio *webrtc.TrackRemote
	dec   FrameDecoder

	audioCh  chan core.AudioSample
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

func newTrackSource(id string, meta SourceMeta) *trackSource {
	return &trackSource{
		id:   id,
		meta: meta,
		done: make(chan struct{}),
	}
}

func (s *trackSource) attachVideo(track *webrtc.TrackRemote, dec FrameDecoder) {
	s.mu.Lock()
	s.video = track
	s.dec = dec
	s.mu.Unlock()
}

func (s *trackSource) attachAudio(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.audio = track
	if s.audioCh == nil {
		s.audioCh = make(chan core.AudioSample, audioBuffer)
	}
	s.mu.Unlock()
}

func (s *trackSource) ID() string            { return s.id }
func (s *trackSource) Role() core.SourceRole { return s.meta.Role }

func (s *trackSource) Settings() core.SourceSettings {
	return core.SourceSettings{
		Width:     s.meta.Width,
		Height:    s.meta.Height,
		FrameRate: float64(s.meta.FrameRate),
		Surface:   s.meta.Surface,
		HasAudio:  s.meta.HasAudio,
	}
}

func (s *trackSource) Frames() <-chan core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec == nil {
		return nil
	}
	return s.dec.Frames()
}

func (s *trackSource) Audio() <-chan core.AudioSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioCh
}

func (s *trackSource) Done() <-chan struct{} { return s.done }

func (s *trackSource) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		dec := s.dec
		s.mu.Unlock()
		if dec != nil {
			dec.Close()
		}
		s.markDone()
	})
}

func (s *trackSource) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// readVideo pumps RTP from the remote track into the decoder until the
// track ends. The decoder owns depacketization and frame delivery.
func (s *trackSource) readVideo(ctx context.Context) {
	s.mu.Lock()
	track, dec := s.video, s.dec
	s.mu.Unlock()
	if track == nil || dec == nil {
		return
	}
	defer s.markDone()

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc.source").Str("stream_id", s.id).Msg("video track ended")
			return
		}
		if err := dec.PushRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "rtc.source").Str("stream_id", s.id).Msg("decoder rejected packet")
			return
		}
	}
}

// readAudio forwards Opus payloads. A full buffer drops the packet rather
// than stalling the RTP reader.
func (s *trackSource) readAudio(ctx context.Context) {
	s.mu.Lock()
	track, out := s.audio, s.audioCh
	s.mu.Unlock()
	if track == nil || out == nil {
		return
	}

	var basePTS uint32
	var started bool
	clockRate := track.Codec().ClockRate
	if clockRate == 0 {
		clockRate = 48000
	}

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc.source").Str("stream_id", s.id).Msg("audio track ended")
			return
		}
		if !started {
			basePTS = pkt.Timestamp
			started = true
		}
		sample := core.AudioSample{
			Data: pkt.Payload,
			PTS:  time.Duration(pkt.Timestamp-basePTS) * time.Second / time.Duration(clockRate),
		}
		select {
		case out <- sample:
		default:
		}
	}
}
