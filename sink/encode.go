package sink

import (
	iface "BlurCam/interface"

	"gocv.io/x/gocv"
)

func (w *Writer) encoderFor(layout iface.PixelLayout) func(gocv.Mat) ([]byte, error) {
	switch layout {
	case iface.LayoutRGB24:
		return w.encodeRGB
	case iface.LayoutYUYV:
		w.buf = make([]byte, w.format.BytesPerFrame)
		return w.encodeYUYV
	}
	return encodeBGR
}

func encodeBGR(src gocv.Mat) ([]byte, error) {
	return src.ToBytes(), nil
}

func (w *Writer) encodeRGB(src gocv.Mat) ([]byte, error) {
	if err := gocv.CvtColor(src, &w.scratch, gocv.ColorBGRToRGB); err != nil {
		return nil, err
	}
	return w.scratch.ToBytes(), nil
}

func (w *Writer) encodeYUYV(src gocv.Mat) ([]byte, error) {
	PackYUYV(src.ToBytes(), w.buf)
	return w.buf, nil
}

// PackYUYV converts packed BGR rows into YUYV 4:2:2 using BT.601 limited range.
// Chroma is the average of each horizontal pixel pair, so rows must have an
// even width.
func PackYUYV(bgr []byte, dst []byte) {
	pixels := len(bgr) / 3
	for p := 0; p+1 < pixels; p += 2 {
		y0, u0, v0 := bt601(bgr[p*3+2], bgr[p*3+1], bgr[p*3])
		y1, u1, v1 := bt601(bgr[p*3+5], bgr[p*3+4], bgr[p*3+3])
		o := p * 2
		dst[o] = y0
		dst[o+1] = byte((int(u0) + int(u1) + 1) / 2)
		dst[o+2] = y1
		dst[o+3] = byte((int(v0) + int(v1) + 1) / 2)
	}
}

func bt601(r8, g8, b8 byte) (y, u, v byte) {
	r, g, b := int(r8), int(g8), int(b8)
	y = byte(16 + (66*r+129*g+25*b+128)>>8)
	u = byte(128 + (-38*r-74*g+112*b+128)>>8)
	v = byte(128 + (112*r-94*g-18*b+128)>>8)
	return
}
