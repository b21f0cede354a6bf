package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestFail_wrapsWithStage(t *testing.T) {
	err := Fail(StageUpload, fmt.Errorf("giving up: %w", ErrUploadFailed))
	if !errors.Is(err, ErrUploadFailed) {
		t.Error("sentinel lost through stage wrapping")
	}
	stage, ok := StageOf(err)
	if !ok || stage != StageUpload {
		t.Errorf("StageOf = (%q, %v), want upload", stage, ok)
	}
}

func TestFail_nilPassesThrough(t *testing.T) {
	if err := Fail(StageEncode, nil); err != nil {
		t.Errorf("Fail(nil) = %v", err)
	}
}

func TestStageOf_untaggedError(t *testing.T) {
	if _, ok := StageOf(errors.New("plain")); ok {
		t.Error("plain error should not report a stage")
	}
}
