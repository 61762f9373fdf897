package sink

import (
	"fmt"
	"io"
	"os"
)

// DeviceFormat has the memory layout of struct v4l2_pix_format.
type DeviceFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// FieldNone is V4L2_FIELD_NONE (progressive frames).
const FieldNone = 1

// Device is the byte-stream end of a virtual camera.
type Device interface {
	QueryFormat() (DeviceFormat, error)
	// ApplyFormat pushes f and returns what the device actually accepted.
	ApplyFormat(f DeviceFormat) (DeviceFormat, error)
	io.Writer
	io.Closer
}

// Opener defers opening the device until negotiation.
type Opener func() (Device, error)

// NewOpener picks the device kind from configuration.
func NewOpener(kind, path string) (Opener, error) {
	switch kind {
	case "v4l2":
		return func() (Device, error) { return OpenV4L2(path) }, nil
	case "file":
		return func() (Device, error) { return OpenFile(path) }, nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", kind)
}

// fileDevice writes raw frames to a regular file or FIFO, e.g. for
// `ffplay -f rawvideo`. It accepts any format.
type fileDevice struct {
	f      *os.File
	format DeviceFormat
}

func OpenFile(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileDevice{f: f}, nil
}

func (d *fileDevice) QueryFormat() (DeviceFormat, error) {
	return d.format, nil
}

func (d *fileDevice) ApplyFormat(f DeviceFormat) (DeviceFormat, error) {
	d.format = f
	return f, nil
}

func (d *fileDevice) Write(b []byte) (int, error) {
	return d.f.Write(b)
}

func (d *fileDevice) Close() error {
	return d.f.Close()
}
