package sink

import (
	iface "BlurCam/interface"
	"BlurCam/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Writer streams composited frames into a virtual camera. The format and the
// encoder are fixed by Negotiate; every write after that is exactly one frame.
type Writer struct {
	open   Opener
	dev    Device
	mirror bool

	format     iface.SinkFormat
	negotiated bool
	encode     func(src gocv.Mat) ([]byte, error)

	scratch gocv.Mat
	flipped gocv.Mat
	buf     []byte

	Frames uint64
	Bytes  uint64
}

func NewWriter(open Opener, mirror bool) *Writer {
	return &Writer{
		open:    open,
		mirror:  mirror,
		scratch: gocv.NewMat(),
		flipped: gocv.NewMat(),
	}
}

func negErr(format string, args ...any) error {
	return iface.NewStageError(iface.StageSink, iface.ErrFormatNegotiation, format, args...)
}

// Negotiate opens the device on first use, reads its current output format,
// overwrites size, layout and field, pushes it back and checks the device kept it.
// A failed call leaves the writer unnegotiated.
func (w *Writer) Negotiate(width, height int, layout iface.PixelLayout) (iface.SinkFormat, error) {
	w.negotiated = false
	w.encode = nil
	w.format = iface.SinkFormat{}
	bpp := layout.BytesPerPixel()
	if width <= 0 || height <= 0 {
		return iface.SinkFormat{}, negErr("frame size %dx%d must be positive", width, height)
	}
	if bpp == 0 {
		return iface.SinkFormat{}, negErr("pixel layout %s is not supported", layout)
	}
	if layout == iface.LayoutYUYV && width%2 != 0 {
		return iface.SinkFormat{}, negErr("YUYV needs an even width, got %d", width)
	}
	if w.dev == nil {
		dev, err := w.open()
		if err != nil {
			return iface.SinkFormat{}, iface.WrapStageError(iface.StageSink, iface.ErrDeviceOpen, err, "open sink")
		}
		w.dev = dev
	}

	cur, err := w.dev.QueryFormat()
	if err != nil {
		return iface.SinkFormat{}, iface.WrapStageError(iface.StageSink, iface.ErrFormatNegotiation, err, "query format")
	}
	want := cur
	want.Width = uint32(width)
	want.Height = uint32(height)
	want.PixelFormat = uint32(layout)
	want.Field = FieldNone
	want.BytesPerLine = uint32(width * bpp)
	want.SizeImage = uint32(width * height * bpp)

	got, err := w.dev.ApplyFormat(want)
	if err != nil {
		return iface.SinkFormat{}, iface.WrapStageError(iface.StageSink, iface.ErrFormatNegotiation, err, "set format")
	}
	if got.Width != want.Width || got.Height != want.Height || got.PixelFormat != want.PixelFormat {
		return iface.SinkFormat{}, negErr("device answered %dx%d %s, wanted %dx%d %s",
			got.Width, got.Height, iface.PixelLayout(got.PixelFormat), width, height, layout)
	}

	w.format = iface.SinkFormat{
		Width:         width,
		Height:        height,
		Layout:        layout,
		BytesPerLine:  width * bpp,
		BytesPerFrame: width * height * bpp,
	}
	w.encode = w.encoderFor(layout)
	w.negotiated = true
	logger.Stage(iface.StageSink).Info("sink format negotiated",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Stringer("layout", layout),
		zap.Int("bytesPerFrame", w.format.BytesPerFrame),
		zap.Uint32("deviceSizeImage", got.SizeImage))
	return w.format, nil
}

// WriteFrame encodes a BGR frame into the negotiated layout and writes it.
func (w *Writer) WriteFrame(frame gocv.Mat) error {
	if !w.negotiated {
		return iface.NewStageError(iface.StageSink, iface.ErrSinkWrite, "sink format not negotiated")
	}
	if frame.Cols() != w.format.Width || frame.Rows() != w.format.Height || frame.Type() != gocv.MatTypeCV8UC3 {
		return iface.NewStageError(iface.StageSink, iface.ErrSinkWrite,
			"frame %dx%d with %d channels does not fill a %dx%d %s frame",
			frame.Cols(), frame.Rows(), frame.Channels(), w.format.Width, w.format.Height, w.format.Layout)
	}
	src := frame
	if w.mirror {
		if err := gocv.Flip(frame, &w.flipped, 1); err != nil {
			return iface.WrapStageError(iface.StageSink, iface.ErrSinkWrite, err, "mirror")
		}
		src = w.flipped
	}
	data, err := w.encode(src)
	if err != nil {
		return iface.WrapStageError(iface.StageSink, iface.ErrSinkWrite, err, "encode "+w.format.Layout.String())
	}
	return w.WriteRaw(data)
}

// WriteRaw writes one already encoded frame. Anything but a full frame
// accepted in a single write is an error; nothing is retried.
func (w *Writer) WriteRaw(data []byte) error {
	if !w.negotiated {
		return iface.NewStageError(iface.StageSink, iface.ErrSinkWrite, "sink format not negotiated")
	}
	if len(data) != w.format.BytesPerFrame {
		return iface.NewStageError(iface.StageSink, iface.ErrSinkWrite,
			"buffer holds %d bytes, sink expects %d", len(data), w.format.BytesPerFrame)
	}
	n, err := w.dev.Write(data)
	if err != nil {
		return iface.WrapStageError(iface.StageSink, iface.ErrSinkWrite, err, "write")
	}
	if n != len(data) {
		return iface.NewStageError(iface.StageSink, iface.ErrSinkWrite, "short write %d of %d bytes", n, len(data))
	}
	w.Frames++
	w.Bytes += uint64(n)
	return nil
}

func (w *Writer) Close() error {
	_ = w.scratch.Close()
	_ = w.flipped.Close()
	w.negotiated = false
	if w.dev == nil {
		return nil
	}
	err := w.dev.Close()
	w.dev = nil
	return err
}
