package iface

import (
	"fmt"
)

// Label is one trimap value. The numbering follows OpenCV's GrabCut classes so a
// mask Mat can be handed to gocv.GrabCut without translation.
type Label uint8

const (
	GCBgd   Label = 0
	GCFgd   Label = 1
	GCPrBgd Label = 2
	GCPrFgd Label = 3
)

// IsForeground reports whether the label belongs to the foreground set
// (definite or probable foreground).
func (l Label) IsForeground() bool {
	return l&1 == 1
}

// Valid reports whether l is one of the four trimap values.
func (l Label) Valid() bool {
	return l <= GCPrFgd
}

func (l Label) String() string {
	switch l {
	case GCBgd:
		return "BGD"
	case GCFgd:
		return "FGD"
	case GCPrBgd:
		return "PR_BGD"
	case GCPrFgd:
		return "PR_FGD"
	}
	return fmt.Sprintf("Label(%d)", uint8(l))
}

// PixelLayout is a V4L2 fourcc.
type PixelLayout uint32

func fourcc(a, b, c, d byte) PixelLayout {
	return PixelLayout(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	LayoutRGB24 = fourcc('R', 'G', 'B', '3')
	LayoutBGR24 = fourcc('B', 'G', 'R', '3')
	LayoutYUYV  = fourcc('Y', 'U', 'Y', 'V')
)

// ParseLayout maps a configuration name to its fourcc.
func ParseLayout(name string) (PixelLayout, error) {
	switch name {
	case "RGB24", "RGB3", "rgb24":
		return LayoutRGB24, nil
	case "BGR24", "BGR3", "bgr24":
		return LayoutBGR24, nil
	case "YUYV", "yuyv":
		return LayoutYUYV, nil
	}
	return 0, fmt.Errorf("unsupported pixel layout %q", name)
}

// BytesPerPixel returns 0 for layouts this module cannot produce.
func (p PixelLayout) BytesPerPixel() int {
	switch p {
	case LayoutRGB24, LayoutBGR24:
		return 3
	case LayoutYUYV:
		return 2
	}
	return 0
}

func (p PixelLayout) String() string {
	return string([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
}

// SinkFormat is the descriptor agreed with the virtual camera at startup.
type SinkFormat struct {
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	Layout        PixelLayout `json:"layout"`
	BytesPerLine  int         `json:"bytesPerLine"`
	BytesPerFrame int         `json:"bytesPerFrame"`
}
