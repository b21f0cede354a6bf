package gst

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/invigil/capture/internal/core"
)

const eosWait = 5 * time.Second

// WebMEncoder containerizes RGBA frames plus Opus packets into a streamable
// WebM byte stream. Implements core.MediaEncoder.
//
// Two appsrcs feed encoder branches that meet in webmmux; an appsink on the
// mux output accumulates containerized bytes until Drain.
type WebMEncoder struct {
	pipeline *gst.Pipeline
	videoSrc *app.Source
	audioSrc *app.Source

	mu     sync.Mutex
	out    bytes.Buffer
	closed bool
	failed error
}

// NewWebMEncoder builds the encode pipeline for cfg. A missing codec
// element surfaces as ErrCodecUnsupported so callers can fall back.
func NewWebMEncoder(cfg core.EncoderConfig) (*WebMEncoder, error) {
	ensureInit()

	var encName string
	switch cfg.Codec {
	case core.CodecVP9:
		encName = "vp9enc"
	case core.CodecVP8:
		encName = "vp8enc"
	default:
		return nil, fmt.Errorf("encode %q: %w", cfg.Codec, core.ErrCodecUnsupported)
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	fps := int(cfg.FrameRate + 0.5)
	if fps <= 0 {
		fps = 30
	}

	videoSrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("create video appsrc: %w", err)
	}
	videoSrc.SetProperty("format", 3) // GST_FORMAT_TIME
	videoSrc.SetProperty("is-live", true)
	videoSrc.SetProperty("do-timestamp", true)
	videoSrc.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, fps)))

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}

	enc, err := gst.NewElement(encName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", encName, core.ErrCodecUnsupported)
	}
	enc.SetProperty("target-bitrate", cfg.VideoBitrate)
	enc.SetProperty("deadline", int64(1)) // realtime
	enc.SetProperty("keyframe-max-dist", fps*2)

	videoQueue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	mux, err := gst.NewElement("webmmux")
	if err != nil {
		return nil, fmt.Errorf("create webmmux: %w", err)
	}
	mux.SetProperty("streamable", true)

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)

	pipeline.AddMany(videoSrc.Element, convert, enc, videoQueue, mux, sink.Element)
	if err := gst.ElementLinkMany(videoSrc.Element, convert, enc, videoQueue, mux); err != nil {
		return nil, fmt.Errorf("link video branch: %w", err)
	}
	if err := mux.Link(sink.Element); err != nil {
		return nil, fmt.Errorf("link mux to sink: %w", err)
	}

	audioSrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("create audio appsrc: %w", err)
	}
	audioSrc.SetProperty("format", 3)
	audioSrc.SetProperty("is-live", true)
	audioSrc.SetProperty("do-timestamp", true)
	audioSrc.SetCaps(gst.NewCapsFromString("audio/x-opus,channel-mapping-family=0"))

	opusparse, err := gst.NewElement("opusparse")
	if err != nil {
		return nil, fmt.Errorf("create opusparse: %w", err)
	}
	audioQueue, err := gst.NewElement("queue")
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	pipeline.AddMany(audioSrc.Element, opusparse, audioQueue)
	if err := gst.ElementLinkMany(audioSrc.Element, opusparse, audioQueue); err != nil {
		return nil, fmt.Errorf("link audio branch: %w", err)
	}
	if err := audioQueue.Link(mux); err != nil {
		return nil, fmt.Errorf("link audio to mux: %w", err)
	}

	e := &WebMEncoder{
		pipeline: pipeline,
		videoSrc: videoSrc,
		audioSrc: audioSrc,
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: e.onNewSample,
	})
	return e, nil
}

// Factory adapts NewWebMEncoder to core.EncoderFactory.
func Factory() core.EncoderFactory {
	return func(cfg core.EncoderConfig) (core.MediaEncoder, error) {
		return NewWebMEncoder(cfg)
	}
}

func (e *WebMEncoder) Start(ctx context.Context) error {
	if err := e.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("start encode pipeline: %w", err)
	}
	return nil
}

func (e *WebMEncoder) PushFrame(f core.Frame) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("encoder closed")
	}
	if e.failed != nil {
		err := e.failed
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if ret := e.videoSrc.PushBuffer(gst.NewBufferFromBytes(f.Data)); ret != gst.FlowOK {
		return e.setFailed(fmt.Errorf("push frame: flow %v", ret))
	}
	return nil
}

func (e *WebMEncoder) PushAudio(s core.AudioSample) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("encoder closed")
	}
	if e.failed != nil {
		err := e.failed
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if ret := e.audioSrc.PushBuffer(gst.NewBufferFromBytes(s.Data)); ret != gst.FlowOK {
		return e.setFailed(fmt.Errorf("push audio: flow %v", ret))
	}
	return nil
}

// Drain returns the containerized bytes accumulated since the last Drain.
func (e *WebMEncoder) Drain() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed != nil {
		return nil, e.failed
	}
	if e.out.Len() == 0 {
		return nil, nil
	}
	data := make([]byte, e.out.Len())
	copy(data, e.out.Bytes())
	e.out.Reset()
	return data, nil
}

// Close sends EOS, waits for the muxer to flush, and returns trailing bytes.
func (e *WebMEncoder) Close() ([]byte, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil
	}
	e.closed = true
	failed := e.failed
	e.mu.Unlock()

	if failed == nil {
		e.videoSrc.EndStream()
		e.audioSrc.EndStream()
		e.waitEOS()
	}
	if err := e.pipeline.SetState(gst.StateNull); err != nil {
		log.Warn().Err(err).Str("module", "gst.encode").Msg("pipeline teardown error")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed != nil {
		return nil, e.failed
	}
	data := make([]byte, e.out.Len())
	copy(data, e.out.Bytes())
	e.out.Reset()
	return data, nil
}

func (e *WebMEncoder) waitEOS() {
	bus := e.pipeline.GetPipelineBus()
	deadline := time.Now().Add(eosWait)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(time.Second)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return
		case gst.MessageError:
			log.Warn().Str("module", "gst.encode").Str("gst_error", msg.String()).Msg("error while flushing")
			return
		}
	}
	log.Warn().Str("module", "gst.encode").Msg("timed out waiting for EOS")
}

func (e *WebMEncoder) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	raw := mapInfo.Bytes()
	if len(raw) > 0 {
		e.mu.Lock()
		e.out.Write(raw)
		e.mu.Unlock()
	}
	buffer.Unmap()
	return gst.FlowOK
}

func (e *WebMEncoder) setFailed(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed == nil {
		e.failed = err
	}
	return e.failed
}
