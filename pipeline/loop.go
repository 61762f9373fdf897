package pipeline

import (
	"BlurCam/engine"
	iface "BlurCam/interface"
	"BlurCam/logger"
	"BlurCam/monitor"
	"BlurCam/preview"
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Loop drives capture, segmentation, compositing and emission for one frame
// at a time. Run must be called from a single goroutine; Status and
// RequestStop may be called from anywhere.
type Loop struct {
	opts   Options
	stages Stages
	id     string

	state      atomic.Int32
	iterations atomic.Uint64
	emitted    atomic.Uint64
	stop       atomic.Bool
	lastErr    atomic.Value
	format     atomic.Pointer[iface.SinkFormat]
	started    atomic.Int64
}

func New(opts Options, stages Stages) (*Loop, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if stages.Source == nil || stages.Segmenter == nil || stages.Compositor == nil || stages.Sink == nil {
		return nil, errors.Wrap(iface.ErrConfig, "pipeline needs a source, a segmenter, a compositor and a sink")
	}
	l := &Loop{opts: opts, stages: stages, id: uuid.NewString()}
	l.setState(Init)
	return l, nil
}

func (l *Loop) ID() string {
	return l.id
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	monitor.PipelineState.Set(float64(s))
}

// RequestStop makes the loop stop before its next capture.
func (l *Loop) RequestStop() {
	l.stop.Store(true)
}

func (l *Loop) Status() iface.PipelineStatus {
	status := iface.PipelineStatus{
		ID:         l.id,
		State:      l.State().String(),
		Iterations: l.iterations.Load(),
		Emitted:    l.emitted.Load(),
	}
	if msg, ok := l.lastErr.Load().(string); ok {
		status.LastError = msg
	}
	if f := l.format.Load(); f != nil {
		status.Format = *f
	}
	if started := l.started.Load(); started != 0 {
		status.UptimeMs = time.Since(time.Unix(0, started)).Milliseconds()
	}
	return status
}

// Run opens the devices, then loops until cancellation, a stop key, a stop
// request or the first stage error. Every device is closed before it returns.
func (l *Loop) Run(ctx context.Context) Report {
	log := logger.Log().With(zap.String("pipeline", l.id))
	l.started.Store(time.Now().UnixNano())
	l.setState(Init)

	mask := engine.NewMask(l.opts.Width, l.opts.Height)
	frame := gocv.NewMat()
	defer func() {
		_ = frame.Close()
		_ = mask.Close()
	}()
	defer l.shutdown(log)

	if err := l.open(log); err != nil {
		return l.halt(log, ReasonInit, err)
	}

	for {
		l.setState(Capturing)
		if reason := l.pending(ctx); reason != "" {
			return l.halt(log, reason, nil)
		}
		start := time.Now()
		if err := l.stages.Source.Read(&frame); err != nil {
			return l.halt(log, ReasonCapture, err)
		}
		monitor.ObserveStage(iface.StageCapture, time.Since(start))
		monitor.FramesCaptured.Inc()
		l.iterations.Add(1)

		l.setState(Segmenting)
		start = time.Now()
		if err := l.stages.Segmenter.Refine(frame, l.opts.ROI, &mask, l.opts.Iterations); err != nil {
			return l.halt(log, ReasonSegment, err)
		}
		monitor.ObserveStage(iface.StageSegment, time.Since(start))

		l.setState(Compositing)
		start = time.Now()
		out, err := l.stages.Compositor.Compose(frame, mask)
		if err != nil {
			return l.halt(log, ReasonComposite, err)
		}
		monitor.ObserveStage(iface.StageComposite, time.Since(start))

		l.setState(Emitting)
		start = time.Now()
		if err := l.stages.Sink.WriteFrame(out); err != nil {
			return l.halt(log, ReasonSink, err)
		}
		monitor.ObserveStage(iface.StageSink, time.Since(start))
		monitor.FramesEmitted.Inc()
		if f := l.format.Load(); f != nil {
			monitor.SinkBytes.Add(float64(f.BytesPerFrame))
		}
		l.emitted.Add(1)

		if l.stages.Preview != nil {
			l.stages.Preview.Show(out)
			if preview.IsStopKey(l.stages.Preview.PollKey(l.opts.KeyDelayMs)) {
				return l.halt(log, ReasonKey, nil)
			}
		}
	}
}

func (l *Loop) open(log *zap.Logger) error {
	if err := l.stages.Source.Open(l.opts.Width, l.opts.Height); err != nil {
		return err
	}
	format, err := l.stages.Sink.Negotiate(l.opts.Width, l.opts.Height, l.opts.Layout)
	if err != nil {
		return err
	}
	l.format.Store(&format)
	log.Info("pipeline started",
		zap.Int("width", l.opts.Width),
		zap.Int("height", l.opts.Height),
		zap.String("layout", format.Layout.String()),
		zap.Int("bytesPerFrame", format.BytesPerFrame),
		zap.Stringer("roi", l.opts.ROI),
		zap.Int("iterations", l.opts.Iterations))
	return nil
}

func (l *Loop) pending(ctx context.Context) string {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	if l.stop.Load() {
		return ReasonRequested
	}
	return ""
}

func (l *Loop) halt(log *zap.Logger, reason string, err error) Report {
	l.setState(Stopped)
	report := Report{
		State:      Stopped,
		Iterations: l.iterations.Load(),
		Emitted:    l.emitted.Load(),
		Err:        err,
		Reason:     reason,
	}
	if err == nil {
		log.Info("pipeline stopped", zap.String("reason", reason), zap.Uint64("emitted", report.Emitted))
		return report
	}
	l.lastErr.Store(err.Error())
	stage := iface.StageOf(err)
	monitor.StageErrors.WithLabelValues(stage).Inc()
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.String("stage", stage),
		zap.Uint64("emitted", report.Emitted),
		zap.Error(err),
	}
	if errors.Is(err, iface.ErrCaptureRead) {
		log.Warn("pipeline stopped", fields...)
	} else {
		log.Error("pipeline stopped", fields...)
	}
	return report
}

func (l *Loop) shutdown(log *zap.Logger) {
	if err := l.stages.Source.Close(); err != nil {
		log.Warn("close source", zap.Error(err))
	}
	if err := l.stages.Sink.Close(); err != nil {
		log.Warn("close sink", zap.Error(err))
	}
	if l.stages.Preview != nil {
		if err := l.stages.Preview.Close(); err != nil {
			log.Warn("close preview", zap.Error(err))
		}
	}
	l.stages.Compositor.Close()
}
