// Package rtc accepts participant media over WebRTC. The participant's
// browser publishes its screen and camera tracks in a single ingest offer;
// the answer carries no media back, so the agent only ever receives.
package rtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
)

// SourceMeta describes one published track group. It travels alongside the
// SDP offer, keyed by the WebRTC stream id, because SDP alone cannot say
// whether a video track is a monitor grab or a browser tab.
type SourceMeta struct {
	Role      core.SourceRole  `json:"role"`
	Surface   core.SurfaceType `json:"surface"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	FrameRate int              `json:"frame_rate"`
	HasAudio  bool             `json:"has_audio"`
}

// FrameDecoder turns depacketized RTP video into raw frames.
type FrameDecoder interface {
	PushRTP(pkt *rtp.Packet) error
	Frames() <-chan core.Frame
	Close()
}

// DecoderFactory builds a decoder for one inbound track.
type DecoderFactory func(codec core.VideoCodec, meta SourceMeta) (FrameDecoder, error)

// OfferRequest is the ingest payload POSTed by the participant.
type OfferRequest struct {
	SDP     string                `json:"sdp"`
	Sources map[string]SourceMeta `json:"sources"`
}

// Ingest owns the inbound PeerConnection for one session and implements
// core.Acquirer: Acquire blocks until both video roles are live, the
// participant reports a denied permission prompt, or ctx expires.
type Ingest struct {
	session    domain.SessionID
	conn       *WebRTCConnection
	newDecoder DecoderFactory

	mu      sync.Mutex
	meta    map[string]SourceMeta
	sources map[core.SourceRole]*trackSource

	readyOnce  sync.Once
	ready      chan struct{}
	deniedOnce sync.Once
	denied     chan struct{}
}

func NewIngest(session domain.SessionID, newDecoder DecoderFactory) (*Ingest, error) {
	conn, err := NewWebRTCConnection(DefaultWebRTCConfig(), session)
	if err != nil {
		return nil, err
	}
	i := &Ingest{
		session:    session,
		conn:       conn,
		newDecoder: newDecoder,
		meta:       make(map[string]SourceMeta),
		sources:    make(map[core.SourceRole]*trackSource),
		ready:      make(chan struct{}),
		denied:     make(chan struct{}),
	}
	conn.OnTrack(i.handleTrack)
	return i, nil
}

// HandleOffer applies the participant's offer and returns the gathered
// answer. Tracks arrive asynchronously afterwards; Acquire picks them up.
func (i *Ingest) HandleOffer(ctx context.Context, req OfferRequest) (*webrtc.SessionDescription, error) {
	if req.SDP == "" {
		return nil, fmt.Errorf("empty sdp")
	}
	i.mu.Lock()
	for streamID, meta := range req.Sources {
		i.meta[streamID] = meta
	}
	i.mu.Unlock()

	if err := i.conn.Start(ctx); err != nil {
		return nil, err
	}
	return i.conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	})
}

// ReportDenied records that the participant declined a capture permission
// prompt. Any pending or future Acquire fails with ErrPermissionDenied.
func (i *Ingest) ReportDenied() {
	i.deniedOnce.Do(func() { close(i.denied) })
}

// Acquire implements core.Acquirer.
func (i *Ingest) Acquire(ctx context.Context) (*core.SourcePair, error) {
	select {
	case <-i.denied:
		i.Close()
		return nil, fmt.Errorf("participant declined capture: %w", core.ErrPermissionDenied)
	case <-ctx.Done():
		i.Close()
		return nil, ctx.Err()
	case <-i.ready:
	}

	i.mu.Lock()
	pair := &core.SourcePair{Primary: i.sources[core.RolePrimary], Overlay: i.sources[core.RoleOverlay]}
	i.mu.Unlock()
	return pair, nil
}

// Close tears down the PeerConnection and every track source.
func (i *Ingest) Close() {
	i.mu.Lock()
	sources := make([]*trackSource, 0, len(i.sources))
	for _, s := range i.sources {
		sources = append(sources, s)
	}
	i.mu.Unlock()
	for _, s := range sources {
		s.Stop()
	}
	i.conn.Close()
}

func (i *Ingest) handleTrack(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	i.mu.Lock()
	meta, ok := i.meta[track.StreamID()]
	i.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "rtc.ingest").Str("session", string(i.session)).
			Str("stream_id", track.StreamID()).Msg("track without declared source, ignoring")
		return
	}

	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		i.attachVideo(ctx, track, meta)
	case webrtc.RTPCodecTypeAudio:
		i.attachAudio(ctx, track, meta)
	}
}

func (i *Ingest) attachVideo(ctx context.Context, track *webrtc.TrackRemote, meta SourceMeta) {
	codec, err := codecFromMime(track.Codec().MimeType)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc.ingest").Str("session", string(i.session)).Msg("unsupported video track")
		return
	}
	dec, err := i.newDecoder(codec, meta)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc.ingest").Str("session", string(i.session)).Msg("decoder setup failed")
		return
	}

	src := i.sourceFor(track.StreamID(), meta)
	src.attachVideo(track, dec)
	go src.readVideo(ctx)

	i.mu.Lock()
	haveBoth := i.sources[core.RolePrimary] != nil && i.sources[core.RoleOverlay] != nil
	i.mu.Unlock()
	if haveBoth {
		i.readyOnce.Do(func() { close(i.ready) })
	}
}

func (i *Ingest) attachAudio(ctx context.Context, track *webrtc.TrackRemote, meta SourceMeta) {
	src := i.sourceFor(track.StreamID(), meta)
	src.attachAudio(track)
	go src.readAudio(ctx)
}

func (i *Ingest) sourceFor(streamID string, meta SourceMeta) *trackSource {
	i.mu.Lock()
	defer i.mu.Unlock()
	if src, ok := i.sources[meta.Role]; ok {
		return src
	}
	src := newTrackSource(streamID, meta)
	i.sources[meta.Role] = src
	return src
}

func codecFromMime(mime string) (core.VideoCodec, error) {
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP9):
		return core.CodecVP9, nil
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		return core.CodecVP8, nil
	default:
		return "", fmt.Errorf("mime %q: %w", mime, core.ErrCodecUnsupported)
	}
}
