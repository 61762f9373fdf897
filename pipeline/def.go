package pipeline

import (
	iface "BlurCam/interface"
	"fmt"
	"image"

	"github.com/pkg/errors"
)

type State int32

const (
	Init        State = 0x0101
	Capturing   State = 0x0102
	Segmenting  State = 0x0103
	Compositing State = 0x0104
	Emitting    State = 0x0105
	Stopped     State = 0x0106
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Capturing:
		return "capturing"
	case Segmenting:
		return "segmenting"
	case Compositing:
		return "compositing"
	case Emitting:
		return "emitting"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("0x%04x", int32(s))
}

const (
	ReasonInit      = "init failed"
	ReasonCancelled = "cancelled"
	ReasonRequested = "stop requested"
	ReasonKey       = "stop key pressed"
	ReasonCapture   = "capture ended"
	ReasonSegment   = "segmentation failed"
	ReasonComposite = "composite failed"
	ReasonSink      = "sink write failed"
)

// Options is everything the loop needs that is fixed for the whole run.
type Options struct {
	Width      int
	Height     int
	Layout     iface.PixelLayout
	ROI        image.Rectangle
	Iterations int
	KeyDelayMs int
}

func (o Options) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return errors.Wrapf(iface.ErrConfig, "frame size %dx%d", o.Width, o.Height)
	}
	if o.Iterations < 1 {
		return errors.Wrapf(iface.ErrConfig, "iterations %d", o.Iterations)
	}
	if o.ROI.Empty() || !o.ROI.In(image.Rect(0, 0, o.Width, o.Height)) {
		return errors.Wrapf(iface.ErrConfig, "roi %v outside %dx%d", o.ROI, o.Width, o.Height)
	}
	if o.KeyDelayMs < 1 {
		return errors.Wrapf(iface.ErrConfig, "key delay %dms", o.KeyDelayMs)
	}
	return nil
}

// Stages are the collaborators the loop drives. Preview may be nil.
type Stages struct {
	Source     iface.FrameSource
	Segmenter  iface.Segmenter
	Compositor iface.Compositor
	Sink       iface.FrameSink
	Preview    iface.Preview
}

// Report describes how a run ended. Err is nil for a clean stop.
type Report struct {
	State      State
	Iterations uint64
	Emitted    uint64
	Err        error
	Reason     string
}

const (
	ExitOK            = 0
	ExitConfig        = 1
	ExitCaptureOpen   = 2
	ExitSinkOpen      = 3
	ExitNegotiation   = 4
	ExitSinkWrite     = 5
	ExitSegmentation  = 6
	ExitShapeMismatch = 7
)

// ExitCode maps the error a run stopped with to the process exit status.
// A camera that stops producing frames ends the run normally.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, iface.ErrCaptureRead):
		return ExitOK
	case errors.Is(err, iface.ErrConfig):
		return ExitConfig
	case errors.Is(err, iface.ErrDeviceOpen):
		if iface.StageOf(err) == iface.StageSink {
			return ExitSinkOpen
		}
		return ExitCaptureOpen
	case errors.Is(err, iface.ErrFormatNegotiation):
		return ExitNegotiation
	case errors.Is(err, iface.ErrSinkWrite):
		return ExitSinkWrite
	case errors.Is(err, iface.ErrSegmentation):
		return ExitSegmentation
	}
	return ExitShapeMismatch
}
