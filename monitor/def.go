package monitor

import (
	"BlurCam/logger"
	"context"
	"math"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	FramesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blurcam_frames_captured_total",
		Help: "Frames read from the camera",
	})
	FramesEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blurcam_frames_emitted_total",
		Help: "Frames written to the virtual camera",
	})
	SinkBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blurcam_sink_bytes_total",
		Help: "Bytes written to the virtual camera",
	})
	StageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blurcam_stage_seconds",
		Help:    "Time spent per pipeline stage",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"stage"})
	StageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blurcam_stage_errors_total",
		Help: "Errors that stopped the pipeline, by stage",
	}, []string{"stage"})
	PreviewDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blurcam_preview_dropped_total",
		Help: "Preview frames skipped for viewers that were not keeping up",
	})
	PipelineState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blurcam_pipeline_state",
		Help: "Current pipeline state code",
	})
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
)

// NewRegistry returns a registry holding every pipeline and process metric.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(FramesCaptured, FramesEmitted, SinkBytes, StageSeconds, StageErrors, PreviewDropped, PipelineState, memUsage, cpuUsage)
	return registry
}

func ObserveStage(stage string, d time.Duration) {
	StageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// CheckProcessInfo samples RSS and CPU of p into the process gauges.
func CheckProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon samples the current process every interval until ctx is done.
func StartMon(ctx context.Context, interval time.Duration) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("process monitor disabled", zap.Error(err))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			CheckProcessInfo(p)
		}
	}
}
