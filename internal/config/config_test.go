package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteshot/internal/shot"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, shot.Viewport{Width: 1280, Height: 720, DeviceScaleFactor: 1}, cfg.Capture.Viewport())
	require.Equal(t, shot.ModeViewport, cfg.Capture.Mode())
	require.Equal(t, 60*time.Second, cfg.Capture.NavTimeout())
	require.Equal(t, 2*time.Second, cfg.Capture.Settle())
	require.Equal(t, 200*time.Millisecond, cfg.Pipeline.CleanupGrace())
	require.InDelta(t, 0.8, cfg.Memory.Threshold, 1e-9)

	video := cfg.Video.Spec()
	require.Equal(t, 1280, video.Width)
	require.Equal(t, 720, video.Height)
	require.Equal(t, 30, video.FPS)
	require.Equal(t, 10*time.Second, video.Duration)
	require.Equal(t, shot.StrategyPan, video.Strategy)
	require.Equal(t, 300, video.Frames())

	comp := cfg.Composite.Spec()
	require.Equal(t, 1080, comp.Width)
	require.Equal(t, 1920, comp.Height)
	require.Equal(t, shot.AnchorTop, comp.Placement.Anchor)
	require.EqualValues(t, 96, comp.Placement.FrameColor.A)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
capture:
  default_mode: full-page
  nav_timeout_seconds: 30
  settle_ms: 500
composite:
  background: solid
  anchor: center
  caption: true
video:
  fps: 24
  duration_seconds: 6
  strategy: frames
  preset: veryfast
pipeline:
  cleanup_grace_ms: 0
memory:
  threshold: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, shot.ModeFullPage, cfg.Capture.Mode())
	require.Equal(t, 500*time.Millisecond, cfg.Capture.Settle())
	require.Equal(t, shot.BackgroundSolid, cfg.Composite.Spec().Background.Style)
	require.True(t, cfg.Composite.Caption)
	require.Equal(t, shot.StrategyFrames, cfg.Video.Spec().Strategy)
	require.Equal(t, 144, cfg.Video.Spec().Frames())
	require.Equal(t, "veryfast", cfg.Video.Preset)
	require.Zero(t, cfg.Pipeline.CleanupGrace())
	require.InDelta(t, 0.9, cfg.Memory.Threshold, 1e-9)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SITESHOT_SERVER_PORT", "7070")
	t.Setenv("SITESHOT_VIDEO_FPS", "60")
	t.Setenv("SITESHOT_MEMORY_THRESHOLD", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 60, cfg.Video.FPS)
	require.InDelta(t, 0.5, cfg.Memory.Threshold, 1e-9)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SITESHOT_SERVER_PORT=6060\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { _ = os.Unsetenv("SITESHOT_SERVER_PORT") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 6060, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"mode", func(c *Config) { c.Capture.DefaultMode = "sideways" }},
		{"odd video width", func(c *Config) { c.Video.Width = 1279 }},
		{"fps", func(c *Config) { c.Video.FPS = 0 }},
		{"strategy", func(c *Config) { c.Video.Strategy = "zoom" }},
		{"threshold", func(c *Config) { c.Memory.Threshold = 1.5 }},
		{"region overflow", func(c *Config) { c.Composite.RegionTop = 1000 }},
		{"anchor", func(c *Config) { c.Composite.Anchor = "bottom" }},
		{"background", func(c *Config) { c.Composite.Background = "plaid" }},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, base.Validate())
}
