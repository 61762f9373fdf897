//go:build linux && (amd64 || arm64 || riscv64 || ppc64le || loong64)

package sink

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const v4l2BufTypeVideoOutput = 2

// v4l2Format is struct v4l2_format on 64-bit targets: the fmt union is 8-byte
// aligned and 200 bytes long.
type v4l2Format struct {
	Type uint32
	_    uint32
	Pix  DeviceFormat
	_    [200 - unsafe.Sizeof(DeviceFormat{})]byte
}

func iowr(nr, size uintptr) uintptr {
	return 3<<30 | size<<16 | uintptr('V')<<8 | nr
}

var (
	vidiocGFmt = iowr(4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt = iowr(5, unsafe.Sizeof(v4l2Format{}))
)

// v4l2Device is an output node of v4l2loopback.
type v4l2Device struct {
	fd   int
	path string
}

func OpenV4L2(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &v4l2Device{fd: fd, path: path}, nil
}

func (d *v4l2Device) ioctl(req uintptr, f *v4l2Format) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(unsafe.Pointer(f)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *v4l2Device) QueryFormat() (DeviceFormat, error) {
	f := v4l2Format{Type: v4l2BufTypeVideoOutput}
	if err := d.ioctl(vidiocGFmt, &f); err != nil {
		return DeviceFormat{}, err
	}
	return f.Pix, nil
}

func (d *v4l2Device) ApplyFormat(pix DeviceFormat) (DeviceFormat, error) {
	f := v4l2Format{Type: v4l2BufTypeVideoOutput, Pix: pix}
	if err := d.ioctl(vidiocSFmt, &f); err != nil {
		return DeviceFormat{}, err
	}
	return f.Pix, nil
}

func (d *v4l2Device) Write(b []byte) (int, error) {
	return unix.Write(d.fd, b)
}

func (d *v4l2Device) Close() error {
	return unix.Close(d.fd)
}
