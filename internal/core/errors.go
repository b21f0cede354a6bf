package core

import (
	"errors"
	"fmt"
)

// Stage identifies which part of the pipeline raised a failure.
type Stage string

const (
	StageAcquire   Stage = "acquire"
	StageComposite Stage = "composite"
	StageEncode    Stage = "encode"
	StageUpload    Stage = "upload"
	StageBroadcast Stage = "broadcast"
)

var (
	// ErrPermissionDenied: the participant declined a capture source.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidSurface: the primary capture is not an entire display.
	ErrInvalidSurface = errors.New("invalid capture surface")
	// ErrSourceEnded: a source's track ended mid-session (hardware or
	// permission revoked). External in origin, still fatal to the run.
	ErrSourceEnded = errors.New("media source ended")
	// ErrEncodingFailed: encoder-level error, terminal for the recording.
	ErrEncodingFailed = errors.New("encoding failed")
	// ErrArtifactTooLarge: artifact exceeds the configured ceiling. Not retryable.
	ErrArtifactTooLarge = errors.New("artifact too large")
	// ErrUploadFailed: upload retries exhausted. Recoverable: the artifact
	// and checksum stay in memory.
	ErrUploadFailed = errors.New("upload failed")
	// ErrCodecUnsupported: the runtime lacks the requested encoder element.
	ErrCodecUnsupported = errors.New("codec unsupported")
)

// PipelineError tags a failure with the stage it originated from.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Fail wraps err with its originating stage.
func Fail(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Stage: stage, Err: err}
}

// StageOf reports the stage a pipeline error originated from.
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}
