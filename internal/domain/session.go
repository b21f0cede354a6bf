// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type SessionID string

// CaptureSession identifies one proctoring session. It is owned by the
// surrounding application; the pipeline receives it as an immutable input.
type CaptureSession struct {
	ID                 SessionID `json:"id"`
	DisplayName        string    `json:"display_name"`
	MandatoryRecording bool      `json:"mandatory_recording"`
}

// NewCaptureSession is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewCaptureSession(displayName string, mandatory bool) (*CaptureSession, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &CaptureSession{
		ID:                 SessionID(uuid.NewString()),
		DisplayName:        displayName,
		MandatoryRecording: mandatory,
	}, nil
}

// NewCaptureSessionWithID builds a session under an externally assigned id,
// typically minted by the exam platform.
func NewCaptureSessionWithID(id SessionID, displayName string, mandatory bool) (*CaptureSession, error) {
	s, err := NewCaptureSession(displayName, mandatory)
	if err != nil {
		return nil, err
	}
	if id != "" {
		s.ID = id
	}
	return s, nil
}
