package sink

import (
	iface "BlurCam/interface"
	"BlurCam/pipeline"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fakeDevice struct {
	format   DeviceFormat
	queryErr error
	applyErr error
	writeErr error
	adjust   func(DeviceFormat) DeviceFormat
	short    int
	writes   [][]byte
	applied  []DeviceFormat
	closed   bool
}

func (d *fakeDevice) QueryFormat() (DeviceFormat, error) {
	return d.format, d.queryErr
}

func (d *fakeDevice) ApplyFormat(f DeviceFormat) (DeviceFormat, error) {
	if d.applyErr != nil {
		return DeviceFormat{}, d.applyErr
	}
	d.applied = append(d.applied, f)
	if d.adjust != nil {
		f = d.adjust(f)
	}
	d.format = f
	return f, nil
}

func (d *fakeDevice) Write(b []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	n := len(b) - d.short
	d.writes = append(d.writes, append([]byte(nil), b[:n]...))
	return n, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func writerFor(dev *fakeDevice, mirror bool) (*Writer, *int) {
	opened := 0
	return NewWriter(func() (Device, error) {
		opened++
		return dev, nil
	}, mirror), &opened
}

func TestNegotiate(t *testing.T) {
	t.Run("Test RGB24", func(t *testing.T) {
		dev := &fakeDevice{format: DeviceFormat{Width: 320, Height: 240, Colorspace: 8, Field: 4}}
		w, opened := writerFor(dev, false)
		defer w.Close()

		format, err := w.Negotiate(640, 480, iface.LayoutRGB24)
		require.NoError(t, err)
		assert.Equal(t, 921600, format.BytesPerFrame)
		assert.Equal(t, 1920, format.BytesPerLine)
		assert.Equal(t, iface.LayoutRGB24, format.Layout)
		assert.Equal(t, 1, *opened)

		require.Len(t, dev.applied, 1)
		set := dev.applied[0]
		assert.Equal(t, uint32(640), set.Width)
		assert.Equal(t, uint32(480), set.Height)
		assert.Equal(t, uint32(iface.LayoutRGB24), set.PixelFormat)
		assert.Equal(t, uint32(FieldNone), set.Field)
		assert.Equal(t, uint32(921600), set.SizeImage)
		assert.Equal(t, uint32(8), set.Colorspace)
	})

	t.Run("Test Idempotent", func(t *testing.T) {
		dev := &fakeDevice{}
		w, opened := writerFor(dev, false)
		defer w.Close()

		first, err := w.Negotiate(640, 480, iface.LayoutYUYV)
		require.NoError(t, err)
		second, err := w.Negotiate(640, 480, iface.LayoutYUYV)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 614400, second.BytesPerFrame)
		assert.Equal(t, 1, *opened)
		assert.Equal(t, dev.applied[0], dev.applied[1])
	})

	t.Run("Test Open Failure", func(t *testing.T) {
		w := NewWriter(func() (Device, error) { return nil, errors.New("ENOENT") }, false)
		defer w.Close()
		_, err := w.Negotiate(640, 480, iface.LayoutRGB24)
		assert.True(t, errors.Is(err, iface.ErrDeviceOpen))
		assert.Equal(t, iface.StageSink, iface.StageOf(err))
	})

	t.Run("Test Rejected", func(t *testing.T) {
		cases := map[string]*fakeDevice{
			"query":  {queryErr: errors.New("EINVAL")},
			"set":    {applyErr: errors.New("EBUSY")},
			"adjust": {adjust: func(f DeviceFormat) DeviceFormat { f.Width = 320; return f }},
			"fourcc": {adjust: func(f DeviceFormat) DeviceFormat { f.PixelFormat = uint32(iface.LayoutYUYV); return f }},
		}
		for name, dev := range cases {
			w, _ := writerFor(dev, false)
			_, err := w.Negotiate(640, 480, iface.LayoutRGB24)
			assert.True(t, errors.Is(err, iface.ErrFormatNegotiation), name)
			assert.True(t, errors.Is(w.WriteRaw(make([]byte, 921600)), iface.ErrSinkWrite), name)
			_ = w.Close()
		}
	})

	t.Run("Test Failed Renegotiation", func(t *testing.T) {
		dev := &fakeDevice{}
		w, _ := writerFor(dev, false)
		defer w.Close()
		_, err := w.Negotiate(640, 480, iface.LayoutRGB24)
		require.NoError(t, err)
		require.NoError(t, w.WriteRaw(make([]byte, 921600)))

		dev.applyErr = errors.New("EBUSY")
		_, err = w.Negotiate(320, 240, iface.LayoutYUYV)
		require.True(t, errors.Is(err, iface.ErrFormatNegotiation))
		err = w.WriteRaw(make([]byte, 921600))
		assert.True(t, errors.Is(err, iface.ErrSinkWrite))
		assert.Contains(t, err.Error(), "not negotiated")
		assert.Len(t, dev.writes, 1)

		dev.applyErr = nil
		_, err = w.Negotiate(0, 480, iface.LayoutRGB24)
		require.Error(t, err)
		frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
		defer frame.Close()
		assert.True(t, errors.Is(w.WriteFrame(frame), iface.ErrSinkWrite))
		assert.Len(t, dev.writes, 1)
	})

	t.Run("Test Bad Request", func(t *testing.T) {
		w, opened := writerFor(&fakeDevice{}, false)
		defer w.Close()
		_, err := w.Negotiate(0, 480, iface.LayoutRGB24)
		assert.True(t, errors.Is(err, iface.ErrFormatNegotiation))
		_, err = w.Negotiate(640, 480, iface.PixelLayout(0))
		assert.True(t, errors.Is(err, iface.ErrFormatNegotiation))
		_, err = w.Negotiate(641, 480, iface.LayoutYUYV)
		assert.True(t, errors.Is(err, iface.ErrFormatNegotiation))
		assert.Equal(t, 0, *opened)
	})
}

func TestWriteRaw(t *testing.T) {
	dev := &fakeDevice{}
	w, _ := writerFor(dev, false)
	defer w.Close()

	assert.True(t, errors.Is(w.WriteRaw(make([]byte, 921600)), iface.ErrSinkWrite))

	_, err := w.Negotiate(640, 480, iface.LayoutRGB24)
	require.NoError(t, err)

	for _, size := range []int{0, 921599, 921601, 640 * 480 * 4} {
		err := w.WriteRaw(make([]byte, size))
		assert.True(t, errors.Is(err, iface.ErrSinkWrite), "size %d", size)
	}
	assert.Empty(t, dev.writes)

	require.NoError(t, w.WriteRaw(make([]byte, 921600)))
	assert.Len(t, dev.writes, 1)
	assert.Equal(t, uint64(1), w.Frames)
	assert.Equal(t, uint64(921600), w.Bytes)

	dev.short = 1
	assert.True(t, errors.Is(w.WriteRaw(make([]byte, 921600)), iface.ErrSinkWrite))
	dev.short = 0
	dev.writeErr = errors.New("EIO")
	err = w.WriteRaw(make([]byte, 921600))
	assert.True(t, errors.Is(err, iface.ErrSinkWrite))
	assert.Contains(t, err.Error(), "EIO")
	assert.Equal(t, uint64(1), w.Frames)

	require.NoError(t, w.Close())
	assert.True(t, dev.closed)
}

func TestWriteFrame(t *testing.T) {
	bgr := gocv.NewScalar(10, 20, 30, 0)

	t.Run("Test Channel Order", func(t *testing.T) {
		want := map[iface.PixelLayout][]byte{
			iface.LayoutRGB24: {30, 20, 10},
			iface.LayoutBGR24: {10, 20, 30},
		}
		for layout, px := range want {
			dev := &fakeDevice{}
			w, _ := writerFor(dev, false)
			_, err := w.Negotiate(4, 2, layout)
			require.NoError(t, err)

			frame := gocv.NewMatWithSizeFromScalar(bgr, 2, 4, gocv.MatTypeCV8UC3)
			require.NoError(t, w.WriteFrame(frame))
			require.Len(t, dev.writes, 1)
			require.Len(t, dev.writes[0], 24)
			for i := 0; i < 24; i += 3 {
				assert.Equal(t, px, dev.writes[0][i:i+3], layout.String())
			}
			_ = frame.Close()
			_ = w.Close()
		}
	})

	t.Run("Test Mirror", func(t *testing.T) {
		dev := &fakeDevice{}
		w, _ := writerFor(dev, true)
		defer w.Close()
		_, err := w.Negotiate(2, 1, iface.LayoutBGR24)
		require.NoError(t, err)

		frame, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC3, []byte{1, 2, 3, 4, 5, 6})
		require.NoError(t, err)
		defer frame.Close()
		require.NoError(t, w.WriteFrame(frame))
		assert.Equal(t, []byte{4, 5, 6, 1, 2, 3}, dev.writes[0])
	})

	t.Run("Test YUYV", func(t *testing.T) {
		dev := &fakeDevice{}
		w, _ := writerFor(dev, false)
		defer w.Close()
		_, err := w.Negotiate(2, 1, iface.LayoutYUYV)
		require.NoError(t, err)

		frame, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC3, []byte{255, 255, 255, 0, 0, 0})
		require.NoError(t, err)
		defer frame.Close()
		require.NoError(t, w.WriteFrame(frame))
		assert.Equal(t, []byte{235, 128, 16, 128}, dev.writes[0])
	})

	t.Run("Test Shape", func(t *testing.T) {
		dev := &fakeDevice{}
		w, _ := writerFor(dev, false)
		defer w.Close()
		_, err := w.Negotiate(4, 2, iface.LayoutRGB24)
		require.NoError(t, err)
		frame := gocv.NewMatWithSizeFromScalar(bgr, 4, 4, gocv.MatTypeCV8UC3)
		defer frame.Close()
		err = w.WriteFrame(frame)
		assert.True(t, errors.Is(err, iface.ErrSinkWrite))
		assert.Equal(t, pipeline.ExitSinkWrite, pipeline.ExitCode(err))
		assert.Empty(t, dev.writes)
	})

	t.Run("Test Four Channels", func(t *testing.T) {
		dev := &fakeDevice{}
		w, _ := writerFor(dev, false)
		defer w.Close()
		_, err := w.Negotiate(640, 480, iface.LayoutRGB24)
		require.NoError(t, err)
		frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC4)
		defer frame.Close()
		err = w.WriteFrame(frame)
		assert.True(t, errors.Is(err, iface.ErrSinkWrite))
		assert.Equal(t, iface.StageSink, iface.StageOf(err))
		assert.Equal(t, pipeline.ExitSinkWrite, pipeline.ExitCode(err))
		assert.Empty(t, dev.writes)
	})

	t.Run("Test Mirror Every Frame", func(t *testing.T) {
		dev := &fakeDevice{}
		w, _ := writerFor(dev, true)
		defer w.Close()
		_, err := w.Negotiate(2, 1, iface.LayoutBGR24)
		require.NoError(t, err)
		for _, px := range [][]byte{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10, 11, 12}} {
			frame, err := gocv.NewMatFromBytes(1, 2, gocv.MatTypeCV8UC3, px)
			require.NoError(t, err)
			require.NoError(t, w.WriteFrame(frame))
			_ = frame.Close()
		}
		require.Len(t, dev.writes, 2)
		assert.Equal(t, []byte{10, 11, 12, 7, 8, 9}, dev.writes[1], "second frame is mirrored, not the first again")
	})
}

func TestPackYUYV(t *testing.T) {
	dst := make([]byte, 4)
	// pure red then pure blue, BGR order
	PackYUYV([]byte{0, 0, 255, 255, 0, 0}, dst)
	assert.Equal(t, byte(82), dst[0])
	assert.Equal(t, byte(41), dst[2])
	// U: (90+240)/2, V: (240+110)/2, rounded up
	assert.Equal(t, byte(165), dst[1])
	assert.Equal(t, byte(175), dst[3])
}

func TestFileDevice(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.raw")
	open, err := NewOpener("file", p)
	require.NoError(t, err)
	w := NewWriter(open, false)

	format, err := w.Negotiate(8, 4, iface.LayoutBGR24)
	require.NoError(t, err)
	frame := gocv.NewMatWithSize(4, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()
	require.NoError(t, w.WriteFrame(frame))
	require.NoError(t, w.WriteFrame(frame))
	require.NoError(t, w.Close())

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, int64(2*format.BytesPerFrame), info.Size())

	_, err = NewOpener("rtmp", p)
	assert.Error(t, err)
}
