package engine

import (
	iface "BlurCam/interface"
	"image"

	"gocv.io/x/gocv"
)

func segErr(format string, args ...any) error {
	return iface.NewStageError(iface.StageSegment, iface.ErrSegmentation, format, args...)
}

// Refine runs iterations rounds of GrabCut on frame and commits the result into
// mask. On any failure mask is left exactly as it was.
func (s *Segmenter) Refine(frame gocv.Mat, roi image.Rectangle, mask *gocv.Mat, iterations int) error {
	if err := checkInput(frame, roi, mask, iterations); err != nil {
		s.fail(err)
		return err
	}
	prior := mask.ToBytes()
	hasFgd, err := scanLabels(prior, mask.Cols(), roi)
	if err != nil {
		s.fail(err)
		return err
	}

	mode := gocv.GCInitWithRect
	if s.State == SEEDED && hasFgd {
		switch {
		case s.PersistModel && s.hasModel:
			mode = gocv.GCEval
		case s.SeedMode == SeedMask:
			mode = gocv.GCInitWithMask
		}
	}

	var work gocv.Mat
	if mode == gocv.GCInitWithRect {
		work = mask.Clone()
	} else {
		clampOutside(prior, mask.Cols(), roi)
		seeded, err := gocv.NewMatFromBytes(mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1, prior)
		if err != nil {
			s.fail(err)
			return iface.WrapStageError(iface.StageSegment, iface.ErrSegmentation, err, "seed mask")
		}
		work = seeded.Clone()
		_ = seeded.Close()
	}
	defer work.Close()

	bgd, fgd := s.models()
	kept := false
	defer func() {
		if !kept {
			_ = bgd.Close()
			_ = fgd.Close()
		}
	}()

	if err := gocv.GrabCut(frame, &work, roi, &bgd, &fgd, iterations, mode); err != nil {
		s.fail(err)
		return iface.WrapStageError(iface.StageSegment, iface.ErrSegmentation, err, "grabcut")
	}
	if _, err := scanLabels(work.ToBytes(), work.Cols(), roi); err != nil {
		s.fail(err)
		return err
	}

	if err := work.CopyTo(mask); err != nil {
		s.fail(err)
		return iface.WrapStageError(iface.StageSegment, iface.ErrSegmentation, err, "commit mask")
	}
	if s.PersistModel {
		_ = s.bgdModel.Close()
		_ = s.fgdModel.Close()
		s.bgdModel, s.fgdModel = bgd, fgd
		s.hasModel = true
		kept = true
	}
	s.State = SEEDED
	s.ErrorMessage = ""
	s.Calls++
	return nil
}

// models hands out the GMM buffers for one call. Persisted models are cloned so
// a failed call cannot corrupt them.
func (s *Segmenter) models() (gocv.Mat, gocv.Mat) {
	if s.PersistModel && s.hasModel {
		return s.bgdModel.Clone(), s.fgdModel.Clone()
	}
	return gocv.NewMat(), gocv.NewMat()
}

func (s *Segmenter) fail(err error) {
	s.State = FAILED
	s.ErrorMessage = err.Error()
}

func checkInput(frame gocv.Mat, roi image.Rectangle, mask *gocv.Mat, iterations int) error {
	if iterations < 1 {
		return segErr("iterations must be >= 1, got %d", iterations)
	}
	if frame.Empty() || frame.Type() != gocv.MatTypeCV8UC3 {
		return segErr("frame must be a non-empty 8-bit 3-channel image")
	}
	if mask == nil || mask.Empty() || mask.Type() != gocv.MatTypeCV8UC1 {
		return segErr("mask must be a non-empty 8-bit single channel image")
	}
	if mask.Rows() != frame.Rows() || mask.Cols() != frame.Cols() {
		return segErr("mask %dx%d does not match frame %dx%d", mask.Cols(), mask.Rows(), frame.Cols(), frame.Rows())
	}
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	if roi.Empty() || !roi.In(bounds) {
		return segErr("roi %v is empty or outside %v", roi, bounds)
	}
	if roi.Eq(bounds) {
		return segErr("roi %v covers the whole frame, no background to learn from", roi)
	}
	return nil
}

// scanLabels verifies every byte is a trimap label and reports whether any
// foreground label sits inside roi.
func scanLabels(labels []byte, cols int, roi image.Rectangle) (bool, error) {
	hasFgd := false
	for i, v := range labels {
		l := iface.Label(v)
		if !l.Valid() {
			return false, segErr("label %d at pixel (%d,%d) is not a trimap value", v, i%cols, i/cols)
		}
		if !hasFgd && l.IsForeground() && image.Pt(i%cols, i/cols).In(roi) {
			hasFgd = true
		}
	}
	return hasFgd, nil
}

// clampOutside marks every pixel outside roi as definite background.
func clampOutside(labels []byte, cols int, roi image.Rectangle) {
	rows := len(labels) / cols
	for y := 0; y < rows; y++ {
		row := labels[y*cols : (y+1)*cols]
		if y < roi.Min.Y || y >= roi.Max.Y {
			for x := range row {
				row[x] = byte(iface.GCBgd)
			}
			continue
		}
		for x := 0; x < roi.Min.X; x++ {
			row[x] = byte(iface.GCBgd)
		}
		for x := roi.Max.X; x < cols; x++ {
			row[x] = byte(iface.GCBgd)
		}
	}
}
