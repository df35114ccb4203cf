// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/siteshot/internal/shot"
)

// EnvPrefix scopes environment overrides, e.g. SITESHOT_SERVER_PORT.
const EnvPrefix = "SITESHOT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Composite CompositeConfig `mapstructure:"composite"`
	Video     VideoConfig     `mapstructure:"video"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level is a zap level name; empty keeps the mode's default.
	Level string `mapstructure:"level"`
}

// CaptureConfig configures the headless browser.
type CaptureConfig struct {
	ViewportWidth     int     `mapstructure:"viewport_width"`
	ViewportHeight    int     `mapstructure:"viewport_height"`
	DeviceScaleFactor float64 `mapstructure:"device_scale_factor"`
	// DefaultMode applies when a request names no mode and needs no full page.
	DefaultMode   string `mapstructure:"default_mode"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleMs      int    `mapstructure:"settle_ms"`
	FrameSettleMs int    `mapstructure:"frame_settle_ms"`
	ChromePath    string `mapstructure:"chrome_path"`
	UserAgent     string `mapstructure:"user_agent"`
}

// CompositeConfig configures the collage.
type CompositeConfig struct {
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	Background   string `mapstructure:"background"`
	Direction    string `mapstructure:"direction"`
	Anchor       string `mapstructure:"anchor"`
	RegionWidth  int    `mapstructure:"region_width"`
	RegionHeight int    `mapstructure:"region_height"`
	RegionTop    int    `mapstructure:"region_top"`
	FramePad     int    `mapstructure:"frame_pad"`
	// FrameAlpha is the opacity of the white frame around the screenshot; 0 hides it.
	FrameAlpha uint8 `mapstructure:"frame_alpha"`
	// Caption draws the page host under the screenshot.
	Caption     bool    `mapstructure:"caption"`
	CaptionSize float64 `mapstructure:"caption_size"`
}

// VideoConfig configures the scrolling video.
type VideoConfig struct {
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	FPS             int    `mapstructure:"fps"`
	DurationSeconds int    `mapstructure:"duration_seconds"`
	Strategy        string `mapstructure:"strategy"`
	Preset          string `mapstructure:"preset"`
	CRF             int    `mapstructure:"crf"`
	FFmpegPath      string `mapstructure:"ffmpeg_path"`
	StderrTailBytes int    `mapstructure:"stderr_tail_bytes"`
}

// PipelineConfig controls job execution.
type PipelineConfig struct {
	WorkDir           string `mapstructure:"work_dir"`
	CleanupGraceMs    int    `mapstructure:"cleanup_grace_ms"`
	JobTimeoutSeconds int    `mapstructure:"job_timeout_seconds"`
}

// MemoryConfig configures the admission memory gate.
type MemoryConfig struct {
	// Threshold rejects jobs when used/limit exceeds it.
	Threshold float64 `mapstructure:"threshold"`
	// LimitBytes overrides the detected limit when > 0.
	LimitBytes uint64 `mapstructure:"limit_bytes"`
	CgroupRoot string `mapstructure:"cgroup_root"`
	ProcRoot   string `mapstructure:"proc_root"`
}

// ProgressConfig sizes the job event pipeline.
type ProgressConfig struct {
	BufferSize  int `mapstructure:"buffer_size"`
	HistorySize int `mapstructure:"history_size"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional .env file, an optional config file, and the
// environment, in increasing order of precedence for the latter two.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads .env from the working directory when present. Variables already set in
// the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 180)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("capture.viewport_width", 1280)
	v.SetDefault("capture.viewport_height", 720)
	v.SetDefault("capture.device_scale_factor", 1.0)
	v.SetDefault("capture.default_mode", string(shot.ModeViewport))
	v.SetDefault("capture.nav_timeout_seconds", 60)
	v.SetDefault("capture.settle_ms", 2000)
	v.SetDefault("capture.frame_settle_ms", 0)
	v.SetDefault("capture.chrome_path", "")
	v.SetDefault("capture.user_agent", "")
	v.SetDefault("composite.width", 1080)
	v.SetDefault("composite.height", 1920)
	v.SetDefault("composite.background", string(shot.BackgroundGradient))
	v.SetDefault("composite.direction", string(shot.DiagonalDown))
	v.SetDefault("composite.anchor", string(shot.AnchorTop))
	v.SetDefault("composite.region_width", 920)
	v.SetDefault("composite.region_height", 1400)
	v.SetDefault("composite.region_top", 200)
	v.SetDefault("composite.frame_pad", 24)
	v.SetDefault("composite.frame_alpha", 96)
	v.SetDefault("composite.caption", false)
	v.SetDefault("composite.caption_size", 44.0)
	v.SetDefault("video.width", 1280)
	v.SetDefault("video.height", 720)
	v.SetDefault("video.fps", 30)
	v.SetDefault("video.duration_seconds", 10)
	v.SetDefault("video.strategy", string(shot.StrategyPan))
	v.SetDefault("video.preset", "ultrafast")
	v.SetDefault("video.crf", 0)
	v.SetDefault("video.ffmpeg_path", "ffmpeg")
	v.SetDefault("video.stderr_tail_bytes", 8192)
	v.SetDefault("pipeline.work_dir", "")
	v.SetDefault("pipeline.cleanup_grace_ms", 200)
	v.SetDefault("pipeline.job_timeout_seconds", 170)
	v.SetDefault("memory.threshold", 0.8)
	v.SetDefault("memory.limit_bytes", 0)
	v.SetDefault("memory.cgroup_root", "/sys/fs/cgroup")
	v.SetDefault("memory.proc_root", "/proc")
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.history_size", 200)
	v.SetDefault("telemetry.service_name", "siteshot")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(c.Server.RequestTimeoutSeconds > 0, "server.request_timeout_seconds must be > 0")
	check(!c.Auth.Enabled || c.Auth.APIKey != "", "auth.api_key must be set when auth is enabled")
	if c.Logging.Level != "" {
		_, err := zapcore.ParseLevel(c.Logging.Level)
		check(err == nil, "logging.level %q is not a zap level", c.Logging.Level)
	}

	check(c.Capture.ViewportWidth > 0 && c.Capture.ViewportHeight > 0, "capture viewport must be positive")
	check(c.Capture.DeviceScaleFactor > 0, "capture.device_scale_factor must be > 0")
	check(c.Capture.NavTimeoutSec > 0, "capture.nav_timeout_seconds must be > 0")
	check(c.Capture.SettleMs >= 0 && c.Capture.FrameSettleMs >= 0, "capture settle delays must be >= 0")
	mode, err := shot.ParseCaptureMode(c.Capture.DefaultMode)
	check(err == nil && mode != "", "capture.default_mode must be viewport or full-page")

	check(c.Composite.Width > 0 && c.Composite.Height > 0, "composite canvas must be positive")
	check(c.Composite.RegionWidth > 0 && c.Composite.RegionWidth <= c.Composite.Width,
		"composite.region_width must be in (0, width]")
	check(c.Composite.RegionHeight > 0 && c.Composite.RegionTop+c.Composite.RegionHeight <= c.Composite.Height,
		"composite region must fit the canvas height")
	check(c.Composite.FramePad >= 0, "composite.frame_pad must be >= 0")
	switch shot.BackgroundStyle(c.Composite.Background) {
	case shot.BackgroundSolid, shot.BackgroundGradient:
	default:
		check(false, "composite.background must be solid or gradient")
	}
	switch shot.GradientDirection(c.Composite.Direction) {
	case shot.DiagonalDown, shot.DiagonalUp, shot.Vertical:
	default:
		check(false, "composite.direction %q is not supported", c.Composite.Direction)
	}
	switch shot.Anchor(c.Composite.Anchor) {
	case shot.AnchorTop, shot.AnchorCenter:
	default:
		check(false, "composite.anchor must be top or center")
	}

	check(c.Video.Width > 0 && c.Video.Height > 0 && c.Video.Width%2 == 0 && c.Video.Height%2 == 0,
		"video size must be positive and even")
	check(c.Video.FPS > 0 && c.Video.FPS <= 120, "video.fps must be in (0, 120]")
	check(c.Video.DurationSeconds > 0, "video.duration_seconds must be > 0")
	switch shot.VideoStrategy(c.Video.Strategy) {
	case shot.StrategyPan, shot.StrategyFrames:
	default:
		check(false, "video.strategy must be pan or frames")
	}
	check(c.Video.CRF >= 0 && c.Video.CRF <= 51, "video.crf must be in [0, 51]")

	check(c.Pipeline.CleanupGraceMs >= 0, "pipeline.cleanup_grace_ms must be >= 0")
	check(c.Pipeline.JobTimeoutSeconds > 0, "pipeline.job_timeout_seconds must be > 0")
	check(c.Memory.Threshold > 0 && c.Memory.Threshold <= 1, "memory.threshold must be in (0, 1]")
	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1, "telemetry.sample_ratio must be in [0, 1]")

	return errors.Join(errs...)
}

// Viewport returns the configured browser viewport.
func (c CaptureConfig) Viewport() shot.Viewport {
	return shot.Viewport{Width: c.ViewportWidth, Height: c.ViewportHeight, DeviceScaleFactor: c.DeviceScaleFactor}
}

// NavTimeout returns the navigation bound.
func (c CaptureConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Settle returns the post-load pause.
func (c CaptureConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// FrameSettle returns the pause between a scroll step and its screenshot.
func (c CaptureConfig) FrameSettle() time.Duration {
	return time.Duration(c.FrameSettleMs) * time.Millisecond
}

// Mode returns the parsed default capture mode.
func (c CaptureConfig) Mode() shot.CaptureMode {
	mode, err := shot.ParseCaptureMode(c.DefaultMode)
	if err != nil || mode == "" {
		return shot.ModeViewport
	}
	return mode
}

// Spec converts the config into a composite spec.
func (c CompositeConfig) Spec() shot.CompositeSpec {
	return shot.CompositeSpec{
		Width:  c.Width,
		Height: c.Height,
		Background: shot.Background{
			Style:     shot.BackgroundStyle(c.Background),
			Direction: shot.GradientDirection(c.Direction),
		},
		Placement: shot.Placement{
			RegionWidth:  c.RegionWidth,
			RegionHeight: c.RegionHeight,
			Top:          c.RegionTop,
			Anchor:       shot.Anchor(c.Anchor),
			FramePad:     c.FramePad,
			FrameColor:   color.RGBA{R: c.FrameAlpha, G: c.FrameAlpha, B: c.FrameAlpha, A: c.FrameAlpha},
		},
		CaptionSize: c.CaptionSize,
		CaptionRGB:  shot.RGB{R: 0xff, G: 0xff, B: 0xff},
	}
}

// Spec converts the config into a video spec.
func (c VideoConfig) Spec() shot.VideoSpec {
	return shot.VideoSpec{
		Width:    c.Width,
		Height:   c.Height,
		FPS:      c.FPS,
		Duration: time.Duration(c.DurationSeconds) * time.Second,
		Strategy: shot.VideoStrategy(c.Strategy),
	}
}

// CleanupGrace returns the delay before a job workspace is removed.
func (c PipelineConfig) CleanupGrace() time.Duration {
	return time.Duration(c.CleanupGraceMs) * time.Millisecond
}

// JobTimeout returns the hard bound on a single job.
func (c PipelineConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler bound.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
