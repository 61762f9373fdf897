package compositor

import (
	iface "BlurCam/interface"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Compositor keeps the output and scratch Mats alive across frames so each
// Compose only fills them.
type Compositor struct {
	kernel  image.Point
	border  gocv.BorderType
	blurred gocv.Mat
	out     gocv.Mat
	fgBytes []byte
	bgBytes []byte
}

// ParseBorder accepts only edge policies that do not darken the frame edges.
func ParseBorder(name string) (gocv.BorderType, error) {
	switch name {
	case "", "reflect101":
		return gocv.BorderReflect101, nil
	case "reflect":
		return gocv.BorderReflect, nil
	case "replicate":
		return gocv.BorderReplicate, nil
	}
	return 0, fmt.Errorf("unsupported border policy %q", name)
}

func New(kernelSize int, border string) (*Compositor, error) {
	if kernelSize <= 0 || kernelSize%2 == 0 {
		return nil, fmt.Errorf("blur kernel must be odd and positive, got %d", kernelSize)
	}
	bt, err := ParseBorder(border)
	if err != nil {
		return nil, err
	}
	return &Compositor{
		kernel:  image.Pt(kernelSize, kernelSize),
		border:  bt,
		blurred: gocv.NewMat(),
		out:     gocv.NewMat(),
	}, nil
}

// Compose writes frame pixels where the mask says foreground and blurred pixels
// everywhere else. The returned Mat belongs to c and is overwritten by the next call.
func (c *Compositor) Compose(frame gocv.Mat, mask gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() || mask.Empty() || frame.Rows() != mask.Rows() || frame.Cols() != mask.Cols() {
		return gocv.Mat{}, iface.NewStageError(iface.StageComposite, iface.ErrShapeMismatch,
			"frame %dx%d vs mask %dx%d", frame.Cols(), frame.Rows(), mask.Cols(), mask.Rows())
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return gocv.Mat{}, iface.NewStageError(iface.StageComposite, iface.ErrShapeMismatch, "mask must be single channel")
	}

	labels := mask.ToBytes()
	c.fgBytes, c.bgBytes = SplitMaskInto(labels, c.fgBytes, c.bgBytes)
	fg, err := gocv.NewMatFromBytes(mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1, c.fgBytes)
	if err != nil {
		return gocv.Mat{}, iface.WrapStageError(iface.StageComposite, iface.ErrShapeMismatch, err, "foreground mask")
	}
	defer fg.Close()
	bg, err := gocv.NewMatFromBytes(mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1, c.bgBytes)
	if err != nil {
		return gocv.Mat{}, iface.WrapStageError(iface.StageComposite, iface.ErrShapeMismatch, err, "background mask")
	}
	defer bg.Close()

	if c.out.Rows() != frame.Rows() || c.out.Cols() != frame.Cols() || c.out.Type() != frame.Type() {
		_ = c.out.Close()
		c.out = gocv.NewMatWithSize(frame.Rows(), frame.Cols(), frame.Type())
	}

	if err := copyUnder(frame, &c.out, fg); err != nil {
		return gocv.Mat{}, err
	}
	if err := c.Blur(frame, &c.blurred); err != nil {
		return gocv.Mat{}, err
	}
	if err := copyUnder(c.blurred, &c.out, bg); err != nil {
		return gocv.Mat{}, err
	}
	return c.out, nil
}

// copyUnder copies the pixels of src selected by sel into dst.
func copyUnder(src gocv.Mat, dst *gocv.Mat, sel gocv.Mat) error {
	if err := src.CopyToWithMask(dst, sel); err != nil {
		return iface.WrapStageError(iface.StageComposite, iface.ErrShapeMismatch, err, "masked copy")
	}
	return nil
}

// Blur applies the separable Gaussian with c's kernel and edge policy.
func (c *Compositor) Blur(src gocv.Mat, dst *gocv.Mat) error {
	if err := gocv.GaussianBlur(src, dst, c.kernel, 0, 0, c.border); err != nil {
		return iface.WrapStageError(iface.StageComposite, iface.ErrComposite, err, "gaussian blur")
	}
	return nil
}

func (c *Compositor) Close() {
	_ = c.blurred.Close()
	_ = c.out.Close()
}

// SplitMask derives the 255/0 foreground and background selectors from a
// trimap. Each pixel is selected by exactly one of them.
func SplitMask(labels []byte) (fg, bg []byte) {
	return SplitMaskInto(labels, nil, nil)
}

// SplitMaskInto is SplitMask reusing fg and bg when they have room.
func SplitMaskInto(labels, fg, bg []byte) ([]byte, []byte) {
	if cap(fg) < len(labels) {
		fg = make([]byte, len(labels))
	}
	if cap(bg) < len(labels) {
		bg = make([]byte, len(labels))
	}
	fg, bg = fg[:len(labels)], bg[:len(labels)]
	for i, v := range labels {
		if iface.Label(v).IsForeground() {
			fg[i], bg[i] = 255, 0
		} else {
			fg[i], bg[i] = 0, 255
		}
	}
	return fg, bg
}
