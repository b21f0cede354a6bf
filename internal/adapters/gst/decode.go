// Package gst backs the media-heavy edges of the pipeline with GStreamer:
// decoding inbound RTP video to raw frames and encoding composited frames
// into WebM.
package gst

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/invigil/capture/internal/core"
)

const decodeFrameBuffer = 4

var initOnce sync.Once

func ensureInit() {
	initOnce.Do(func() { gst.Init(nil) })
}

// VideoDecoder runs appsrc → depay → decoder → videoconvert → appsink and
// emits RGBA frames. Sends never block; when the consumer lags, the newest
// frame wins.
type VideoDecoder struct {
	pipeline *gst.Pipeline
	src      *app.Source

	width  int
	height int

	seq     uint64
	dropped uint64

	frames chan core.Frame

	mu     sync.Mutex
	closed bool
}

// NewVideoDecoder builds a decode pipeline for one inbound track. width and
// height are the publisher-declared dimensions, used when the negotiated
// caps omit them.
func NewVideoDecoder(codec core.VideoCodec, width, height int) (*VideoDecoder, error) {
	ensureInit()

	var depayName, decName, encodingName string
	switch codec {
	case core.CodecVP8:
		depayName, decName, encodingName = "rtpvp8depay", "vp8dec", "VP8"
	case core.CodecVP9:
		depayName, decName, encodingName = "rtpvp9depay", "vp9dec", "VP9"
	default:
		return nil, fmt.Errorf("decode %q: %w", codec, core.ErrCodecUnsupported)
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("create appsrc: %w", err)
	}
	src.SetProperty("format", 3) // GST_FORMAT_TIME
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)
	src.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"application/x-rtp,media=video,clock-rate=90000,encoding-name=%s", encodingName)))

	depay, err := gst.NewElement(depayName)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", depayName, err)
	}
	dec, err := gst.NewElement(decName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", decName, core.ErrCodecUnsupported)
	}
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("create videoconvert: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGBA"))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src.Element, depay, dec, convert, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src.Element, depay, dec, convert, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("link decode pipeline: %w", err)
	}

	d := &VideoDecoder{
		pipeline: pipeline,
		src:      src,
		width:    width,
		height:   height,
		frames:   make(chan core.Frame, decodeFrameBuffer),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start decode pipeline: %w", err)
	}
	return d, nil
}

// PushRTP feeds one serialized RTP packet into the pipeline.
func (d *VideoDecoder) PushRTP(pkt *rtp.Packet) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("decoder closed")
	}
	d.mu.Unlock()

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	if ret := d.src.PushBuffer(gst.NewBufferFromBytes(raw)); ret != gst.FlowOK {
		return fmt.Errorf("push rtp buffer: flow %v", ret)
	}
	return nil
}

func (d *VideoDecoder) Frames() <-chan core.Frame { return d.frames }

func (d *VideoDecoder) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.src.EndStream()
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		log.Warn().Err(err).Str("module", "gst.decode").Msg("pipeline teardown error")
	}

	// The sink callback checks closed under the same lock before sending,
	// so closing here cannot race a send.
	d.mu.Lock()
	close(d.frames)
	d.mu.Unlock()
}

func (d *VideoDecoder) onNewSample(sink *app.Sink) gst.FlowReturn {
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
	if len(raw) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	data := make([]byte, len(raw))
	copy(data, raw)
	buffer.Unmap()

	w, h := d.dimensions(len(data))
	frame := core.Frame{
		Seq:       atomic.AddUint64(&d.seq, 1),
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      data,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gst.FlowEOS
	}
	select {
	case d.frames <- frame:
	default:
		atomic.AddUint64(&d.dropped, 1)
	}
	return gst.FlowOK
}

// dimensions falls back to publisher-declared size and, when the byte count
// disagrees, derives height from the RGBA stride.
func (d *VideoDecoder) dimensions(byteLen int) (int, int) {
	w, h := d.width, d.height
	if w > 0 && h > 0 && byteLen == w*h*4 {
		return w, h
	}
	if w > 0 && byteLen%(w*4) == 0 {
		return w, byteLen / (w * 4)
	}
	return w, h
}

// Dropped reports frames discarded because the consumer lagged.
func (d *VideoDecoder) Dropped() uint64 { return atomic.LoadUint64(&d.dropped) }
