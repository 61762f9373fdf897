package engine

import (
	iface "BlurCam/interface"
	"fmt"

	"gocv.io/x/gocv"
)

const UNSEEDED = 0x0001
const SEEDED = 0x0002
const FAILED = 0x0003

const (
	SeedRect = "rect"
	SeedMask = "mask"
)

// Segmenter runs GrabCut on every frame against the mask owned by the caller.
// The GMM buffers are scratch unless PersistModel is set, in which case they
// carry the colour statistics from one frame to the next.
type Segmenter struct {
	SeedMode     string
	PersistModel bool
	State        int
	Calls        uint64
	ErrorMessage string

	bgdModel gocv.Mat
	fgdModel gocv.Mat
	hasModel bool
}

func New(seedMode string, persistModel bool) (*Segmenter, error) {
	switch seedMode {
	case SeedRect, SeedMask:
	default:
		return nil, fmt.Errorf("unknown seed mode %q", seedMode)
	}
	return &Segmenter{
		SeedMode:     seedMode,
		PersistModel: persistModel,
		State:        UNSEEDED,
		bgdModel:     gocv.NewMat(),
		fgdModel:     gocv.NewMat(),
	}, nil
}

func (s *Segmenter) Destroy() {
	_ = s.bgdModel.Close()
	_ = s.fgdModel.Close()
	s.hasModel = false
	s.State = UNSEEDED
}

func stateName(state int) string {
	switch state {
	case UNSEEDED:
		return "unseeded"
	case SEEDED:
		return "seeded"
	case FAILED:
		return "failed"
	}
	return fmt.Sprintf("0x%04x", state)
}

func (s *Segmenter) String() string {
	return fmt.Sprintf("Segmenter(%s, persist=%v, %s, calls=%d)", s.SeedMode, s.PersistModel, stateName(s.State), s.Calls)
}

// NewMask allocates a trimap of the given size with every pixel probable background.
func NewMask(width, height int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(iface.GCPrBgd), 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
}
