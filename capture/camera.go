package capture

import (
	iface "BlurCam/interface"
	"BlurCam/logger"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Camera adapts a gocv VideoCapture to a fixed size BGR frame source. The
// device string is an index ("0"), a path (/dev/video0), a file or a URL.
type Camera struct {
	Device string
	Frames uint64

	vc      *gocv.VideoCapture
	raw     gocv.Mat
	size    image.Point
	resized bool
}

func NewCamera(device string) *Camera {
	return &Camera{Device: device}
}

// Open opens the device and asks for width x height. Cameras that ignore the
// request still work: Read scales their frames.
func (c *Camera) Open(width, height int) error {
	vc, err := gocv.OpenVideoCapture(c.Device)
	if err != nil {
		return iface.WrapStageError(iface.StageCapture, iface.ErrDeviceOpen, err, "open "+c.Device)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return iface.NewStageError(iface.StageCapture, iface.ErrDeviceOpen, "%s did not open", c.Device)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	c.vc = vc
	c.raw = gocv.NewMat()
	c.size = image.Pt(width, height)
	logger.Stage(iface.StageCapture).Info("camera opened",
		zap.String("device", c.Device),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Float64("deviceWidth", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("deviceHeight", vc.Get(gocv.VideoCaptureFrameHeight)))
	return nil
}

func readErr(format string, args ...any) error {
	return iface.NewStageError(iface.StageCapture, iface.ErrCaptureRead, format, args...)
}

// Read grabs the next frame into dst at the configured size.
func (c *Camera) Read(dst *gocv.Mat) error {
	if c.vc == nil {
		return readErr("camera %s is not open", c.Device)
	}
	if ok := c.vc.Read(&c.raw); !ok || c.raw.Empty() {
		return readErr("camera %s stopped producing frames after %d", c.Device, c.Frames)
	}
	if c.raw.Type() != gocv.MatTypeCV8UC3 {
		return readErr("camera %s delivered %d channel frames", c.Device, c.raw.Channels())
	}
	if c.raw.Cols() == c.size.X && c.raw.Rows() == c.size.Y {
		if err := c.raw.CopyTo(dst); err != nil {
			return iface.WrapStageError(iface.StageCapture, iface.ErrCaptureRead, err, "copy frame")
		}
	} else {
		if !c.resized {
			logger.Stage(iface.StageCapture).Warn("camera ignored requested size, scaling frames",
				zap.Int("gotWidth", c.raw.Cols()),
				zap.Int("gotHeight", c.raw.Rows()))
			c.resized = true
		}
		if err := gocv.Resize(c.raw, dst, c.size, 0, 0, gocv.InterpolationLinear); err != nil {
			return iface.WrapStageError(iface.StageCapture, iface.ErrCaptureRead, err, "resize")
		}
	}
	c.Frames++
	return nil
}

func (c *Camera) Close() error {
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	_ = c.raw.Close()
	c.vc = nil
	return err
}
