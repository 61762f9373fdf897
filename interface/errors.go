package iface

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConfig            = errors.New("invalid configuration")
	ErrDeviceOpen        = errors.New("device open failed")
	ErrFormatNegotiation = errors.New("format negotiation failed")
	ErrSegmentation      = errors.New("segmentation failed")
	ErrShapeMismatch     = errors.New("shape mismatch")
	ErrComposite         = errors.New("composite failed")
	ErrSinkWrite         = errors.New("sink write failed")
	ErrCaptureRead       = errors.New("capture read failed")
)

const (
	StageCapture   = "capture"
	StageSegment   = "segment"
	StageComposite = "composite"
	StageSink      = "sink"
	StagePreview   = "preview"
	StageConfig    = "config"
)

// StageError carries the failing stage, the error kind and the underlying cause.
// errors.Is matches the kind, errors.Unwrap yields the cause.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError whose cause is the formatted message.
func NewStageError(stage string, kind error, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: errors.Errorf(format, args...)}
}

// WrapStageError attaches a stage and kind to an existing cause.
func WrapStageError(stage string, kind error, cause error, msg string) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: errors.Wrap(cause, msg)}
}

// StageOf returns the stage recorded in err, or "" when err carries none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
