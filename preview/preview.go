package preview

import (
	"time"

	"gocv.io/x/gocv"
)

const (
	KeyEscape = 27
	KeyQuit   = 'q'
)

// IsStopKey reports whether a polled key asks the pipeline to stop.
func IsStopKey(key int) bool {
	return key == KeyEscape || key == KeyQuit
}

// Window shows frames in a highgui window. It must be driven from the thread
// that created it.
type Window struct {
	win *gocv.Window
}

func NewWindow(name string) *Window {
	return &Window{win: gocv.NewWindow(name)}
}

func (w *Window) Show(frame gocv.Mat) {
	w.win.IMShow(frame)
}

func (w *Window) PollKey(delayMs int) int {
	return w.win.WaitKey(delayMs)
}

func (w *Window) Close() error {
	return w.win.Close()
}

// Headless keeps the frame pacing of the window preview without a display.
type Headless struct {
	sleep func(time.Duration)
}

func NewHeadless() *Headless {
	return &Headless{sleep: time.Sleep}
}

func (h *Headless) Show(gocv.Mat) {}

func (h *Headless) PollKey(delayMs int) int {
	h.sleep(time.Duration(delayMs) * time.Millisecond)
	return -1
}

func (h *Headless) Close() error {
	return nil
}
