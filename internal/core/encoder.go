package core

import "context"

type VideoCodec string

const (
	// CodecVP9 is preferred for its higher compression.
	CodecVP9 VideoCodec = "vp9"
	// CodecVP8 is the universal fallback.
	CodecVP8 VideoCodec = "vp8"
)

type EncoderConfig struct {
	Width        int
	Height       int
	FrameRate    float64
	VideoBitrate int
	AudioBitrate int
	Codec        VideoCodec
}

// MediaEncoder turns raw composited frames plus encoded audio into a
// containerized byte stream.
//
// Push calls must be bounded (no long blocking); containerized bytes
// accumulate internally until Drain. Any returned error is terminal for the
// current recording.
type MediaEncoder interface {
	Start(ctx context.Context) error
	PushFrame(f Frame) error
	PushAudio(s AudioSample) error
	// Drain returns the bytes containerized since the previous Drain.
	Drain() ([]byte, error)
	// Close finalizes the container and returns any trailing bytes.
	// Idempotent.
	Close() ([]byte, error)
}

// EncoderFactory builds an encoder for cfg, returning ErrCodecUnsupported
// when the runtime lacks the requested codec.
type EncoderFactory func(cfg EncoderConfig) (MediaEncoder, error)
