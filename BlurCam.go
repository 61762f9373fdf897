package main

import (
	adhoc "BlurCam/Adhoc"
	"BlurCam/capture"
	"BlurCam/compositor"
	"BlurCam/config"
	"BlurCam/engine"
	"BlurCam/logger"
	"BlurCam/monitor"
	"BlurCam/pipeline"
	"BlurCam/preview"
	"BlurCam/sink"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func init() {
	// highgui and the capture backend expect every call from the main thread.
	runtime.LockOSThread()
}

func banner(cfg config.Config) {
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println(" Camera :", cfg.Capture.Device, fmt.Sprintf("%dx%d", cfg.Capture.Width, cfg.Capture.Height))
	fmt.Println(" Sink   :", cfg.Sink.Kind, cfg.Sink.Device, cfg.Layout())
	fmt.Println(" ROI    :", cfg.ROI(), "iterations", cfg.Segmentation.Iterations, "seed", cfg.Segmentation.SeedMode)
	fmt.Println(" Blur   :", fmt.Sprintf("%dx%d", cfg.Compositor.BlurKernel, cfg.Compositor.BlurKernel), cfg.Compositor.Border)
	fmt.Println(" Preview:", cfg.Preview.Mode)
	if cfg.Monitor.Port > 0 {
		fmt.Println(" Monitor:", cfg.Monitor.Port)
	}
	fmt.Println(strings.Repeat("#", 64))
}

// build turns the validated configuration into the pipeline stages.
func build(cfg config.Config) (pipeline.Stages, *engine.Segmenter, *monitor.WebPreview, error) {
	var stages pipeline.Stages
	seg, err := engine.New(cfg.Segmentation.SeedMode, cfg.Segmentation.PersistModel)
	if err != nil {
		return stages, nil, nil, err
	}
	comp, err := compositor.New(cfg.Compositor.BlurKernel, cfg.Compositor.Border)
	if err != nil {
		seg.Destroy()
		return stages, nil, nil, err
	}
	open, err := sink.NewOpener(cfg.Sink.Kind, cfg.Sink.Device)
	if err != nil {
		seg.Destroy()
		comp.Close()
		return stages, nil, nil, err
	}
	stages = pipeline.Stages{
		Source:     capture.NewCamera(cfg.Capture.Device),
		Segmenter:  seg,
		Compositor: comp,
		Sink:       sink.NewWriter(open, cfg.Sink.Mirror),
	}
	var web *monitor.WebPreview
	switch cfg.Preview.Mode {
	case "window":
		stages.Preview = preview.NewWindow(cfg.Preview.WindowName)
	case "web":
		web = monitor.NewWebPreview()
		stages.Preview = web
	default:
		stages.Preview = preview.NewHeadless()
	}
	return stages, seg, web, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := logger.InitProduction(); err != nil {
		fmt.Println("Failed to init logger:", err)
		return pipeline.ExitConfig
	}
	defer logger.Sync()

	path := config.Path(os.Args)
	cfg, err := config.Load(path)
	if err != nil {
		logger.Log().Error("configuration rejected", zap.String("path", path), zap.Error(err))
		return pipeline.ExitConfig
	}
	if err := logger.Init(cfg.Log.Mode, cfg.Log.Level); err != nil {
		logger.Log().Error("logger configuration rejected", zap.Error(err))
		return pipeline.ExitConfig
	}
	banner(cfg)

	stages, seg, web, err := build(cfg)
	if err != nil {
		logger.Log().Error("pipeline setup failed", zap.Error(err))
		return pipeline.ExitConfig
	}
	defer seg.Destroy()

	loop, err := pipeline.New(pipeline.Options{
		Width:      cfg.Capture.Width,
		Height:     cfg.Capture.Height,
		Layout:     cfg.Layout(),
		ROI:        cfg.ROI(),
		Iterations: cfg.Segmentation.Iterations,
		KeyDelayMs: cfg.Preview.KeyDelayMs,
	}, stages)
	if err != nil {
		stages.Compositor.Close()
		logger.Log().Error("pipeline setup failed", zap.Error(err))
		return pipeline.ExitCode(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup
	if cfg.Monitor.Port > 0 {
		registry := monitor.NewRegistry()
		wg.Add(2)
		go func() {
			defer wg.Done()
			monitor.Serve(ctx, cfg.Monitor.Port, monitor.NewRouter(loop, registry, web))
		}()
		go func() {
			defer wg.Done()
			monitor.StartMon(ctx, time.Second)
		}()
	}
	if cfg.Registry.Enabled {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			logger.Log().Warn("outbound address unknown, registering loopback", zap.Error(err))
			ip = "127.0.0.1"
		}
		reg := adhoc.RegServerConfig{Interval: time.Duration(cfg.Registry.IntervalSeconds) * time.Second}
		reg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
		wg.Add(1)
		go adhoc.SendAliveMessage(ctx, reg, ip, cfg.Monitor.Port, loop.Status, &wg)
	} else {
		fmt.Println("registry disabled, skipping registration")
	}

	report := loop.Run(ctx)
	stop()
	wg.Wait()

	code := pipeline.ExitCode(report.Err)
	if report.Err != nil && !errors.Is(report.Err, context.Canceled) {
		fmt.Printf("Stopped (%s): %v\n", report.Reason, report.Err)
	}
	fmt.Printf("Emitted %d frames, exit %d\n", report.Emitted, code)
	return code
}
