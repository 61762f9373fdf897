package config

import (
	iface "BlurCam/interface"
	"fmt"
	"image"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config.yaml"
	ConfigPathEnv     = "BLURCAM_CONFIG"
)

type CaptureConfig struct {
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

type SinkConfig struct {
	Kind        string `yaml:"kind"`
	Device      string `yaml:"device"`
	PixelFormat string `yaml:"pixelFormat"`
	Mirror      bool   `yaml:"mirror"`
}

type SegmentationConfig struct {
	Iterations   int    `yaml:"iterations"`
	RoiWidth     int    `yaml:"roiWidth"`
	RoiHeight    int    `yaml:"roiHeight"`
	RoiX         *int   `yaml:"roiX"`
	RoiY         *int   `yaml:"roiY"`
	SeedMode     string `yaml:"seedMode"`
	PersistModel bool   `yaml:"persistModel"`
}

type CompositorConfig struct {
	BlurKernel int    `yaml:"blurKernel"`
	Border     string `yaml:"border"`
}

type PreviewConfig struct {
	Mode       string `yaml:"mode"`
	WindowName string `yaml:"windowName"`
	KeyDelayMs int    `yaml:"keyDelayMs"`
}

type MonitorConfig struct {
	Port int `yaml:"port"`
}

type RegistryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	IntervalSeconds int    `yaml:"intervalSeconds"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// Config is read once at startup; nothing in it changes while the loop runs.
type Config struct {
	Capture      CaptureConfig      `yaml:"capture"`
	Sink         SinkConfig         `yaml:"sink"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Compositor   CompositorConfig   `yaml:"compositor"`
	Preview      PreviewConfig      `yaml:"preview"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Registry     RegistryConfig     `yaml:"registry"`
	Log          LogConfig          `yaml:"log"`

	roi    image.Rectangle
	layout iface.PixelLayout
}

// Default mirrors the constants the camera blur tool was built with.
func Default() Config {
	return Config{
		Capture: CaptureConfig{Device: "/dev/video0", Width: 640, Height: 480},
		Sink:    SinkConfig{Kind: "v4l2", Device: "/dev/video6", PixelFormat: "RGB24"},
		Segmentation: SegmentationConfig{
			Iterations: 1,
			RoiWidth:   200,
			RoiHeight:  150,
			SeedMode:   "rect",
		},
		Compositor: CompositorConfig{BlurKernel: 201, Border: "reflect101"},
		Preview:    PreviewConfig{Mode: "window", WindowName: "result", KeyDelayMs: 10},
		Registry:   RegistryConfig{IntervalSeconds: 5},
		Log:        LogConfig{Mode: "production"},
	}
}

// Path resolves the configuration file: first CLI argument, then env, then default.
func Path(args []string) string {
	if len(args) > 1 && args[1] != "" {
		return args[1]
	}
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, iface.WrapStageError(iface.StageConfig, iface.ErrConfig, err, "read "+path)
	}
	return Parse(data)
}

// Parse overlays data on Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, iface.WrapStageError(iface.StageConfig, iface.ErrConfig, err, "parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return iface.NewStageError(iface.StageConfig, iface.ErrConfig, format, args...)
}

// Validate checks every start-time invariant and derives the ROI and layout.
func (c *Config) Validate() error {
	w, h := c.Capture.Width, c.Capture.Height
	if w <= 0 || h <= 0 {
		return invalid("frame size %dx%d must be positive", w, h)
	}
	if c.Capture.Device == "" {
		return invalid("capture device is empty")
	}
	if c.Sink.Device == "" {
		return invalid("sink device is empty")
	}
	switch c.Sink.Kind {
	case "v4l2", "file":
	default:
		return invalid("unknown sink kind %q", c.Sink.Kind)
	}
	layout, err := iface.ParseLayout(c.Sink.PixelFormat)
	if err != nil {
		return invalid("%v", err)
	}
	if layout == iface.LayoutYUYV && w%2 != 0 {
		return invalid("YUYV needs an even frame width, got %d", w)
	}
	c.layout = layout

	s := c.Segmentation
	if s.Iterations < 1 {
		return invalid("segmentation iterations must be >= 1, got %d", s.Iterations)
	}
	switch s.SeedMode {
	case "rect", "mask":
	default:
		return invalid("unknown seed mode %q", s.SeedMode)
	}
	if s.RoiWidth <= 0 || s.RoiHeight <= 0 {
		return invalid("roi size %dx%d must be positive", s.RoiWidth, s.RoiHeight)
	}
	x := w/2 - s.RoiWidth/2
	y := h/2 - s.RoiHeight
	if s.RoiX != nil {
		x = *s.RoiX
	}
	if s.RoiY != nil {
		y = *s.RoiY
	}
	roi := image.Rect(x, y, x+s.RoiWidth, y+s.RoiHeight)
	if !roi.In(image.Rect(0, 0, w, h)) {
		return invalid("roi %v lies outside the %dx%d frame", roi, w, h)
	}
	c.roi = roi

	k := c.Compositor.BlurKernel
	if k <= 0 || k%2 == 0 {
		return invalid("blur kernel must be odd and positive, got %d", k)
	}
	switch c.Compositor.Border {
	case "reflect101", "reflect", "replicate":
	default:
		return invalid("border policy %q is not reflect101, reflect or replicate", c.Compositor.Border)
	}

	switch c.Preview.Mode {
	case "window", "web", "none":
	default:
		return invalid("unknown preview mode %q", c.Preview.Mode)
	}
	if c.Preview.KeyDelayMs <= 0 {
		return invalid("preview keyDelayMs must be positive, got %d", c.Preview.KeyDelayMs)
	}
	if c.Preview.Mode == "web" && c.Monitor.Port <= 0 {
		return invalid("web preview needs monitor.port")
	}
	if c.Registry.Enabled {
		if c.Registry.Host == "" || c.Registry.Port <= 0 {
			return invalid("registry enabled without host/port")
		}
		if c.Registry.IntervalSeconds <= 0 {
			return invalid("registry intervalSeconds must be positive")
		}
	}
	return nil
}

// ROI is only meaningful after Validate succeeded.
func (c *Config) ROI() image.Rectangle {
	return c.roi
}

func (c *Config) Layout() iface.PixelLayout {
	return c.layout
}

func (c *Config) String() string {
	return fmt.Sprintf("%dx%d %s -> %s(%s, %s) roi=%v iter=%d kernel=%d",
		c.Capture.Width, c.Capture.Height, c.Capture.Device,
		c.Sink.Kind, c.Sink.Device, c.layout, c.roi,
		c.Segmentation.Iterations, c.Compositor.BlurKernel)
}
