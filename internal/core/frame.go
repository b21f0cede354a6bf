package core

import (
	"image"
	"time"
)

// Frame is a single raw RGBA frame.
// Data is 4*Width*Height bytes and MUST NOT be modified after handoff.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// RGBA wraps the frame data as an image without copying.
func (f Frame) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Data,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// AudioSample is one encoded (Opus) audio packet with its presentation time.
type AudioSample struct {
	Data []byte
	PTS  time.Duration
}
