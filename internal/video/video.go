package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/shot"
)

const (
	// OutputName is the encoded file written into the job directory.
	OutputName = "scroll-video.mp4"
	sourceName = "pan-source.png"

	defaultPreset = "ultrafast"
)

// Config controls encoder flags.
type Config struct {
	Preset string
	// CRF is passed as -crf when > 0.
	CRF int
}

// Renderer implements shot.VideoRenderer on top of a Runner.
type Renderer struct {
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// NewRenderer builds a Renderer.
func NewRenderer(runner Runner, cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Preset == "" {
		cfg.Preset = defaultPreset
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{runner: runner, cfg: cfg, logger: logger}
}

// Render encodes src into dir/OutputName and returns the file's bytes. Encoder failures carry
// ffmpeg's stderr tail in the error's Diagnostics.
func (r *Renderer) Render(ctx context.Context, src shot.VideoSource, spec shot.VideoSpec, dir string) ([]byte, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	output := filepath.Join(dir, OutputName)

	var args []string
	switch {
	case src.Frames != nil:
		if src.Frames.Count == 0 {
			return nil, shot.Errorf(shot.EncodeFailed, "frame sequence is empty")
		}
		args = FrameArgs(*src.Frames, spec, r.cfg, output)
	case src.Image != nil:
		input, err := r.panInput(*src.Image, dir)
		if err != nil {
			return nil, err
		}
		args = PanArgs(input, src.Image.Width, src.Image.Height, spec, r.cfg, output)
	default:
		return nil, shot.Errorf(shot.InvalidInput, "video source has neither an image nor frames")
	}

	total := spec.Frames()
	start := time.Now()
	report := progressFrom(ctx)
	onProgress := func(p Progress) {
		if report != nil {
			report(p)
		}
		r.logger.Debug("encoding",
			zap.Int("frame", p.Frame),
			zap.Int("frames", total),
			zap.Duration("out_time", p.OutTime),
			zap.String("speed", p.Speed),
		)
	}
	if err := r.runner.Run(ctx, args, onProgress); err != nil {
		return nil, &shot.Error{
			Kind:        shot.EncodeFailed,
			Message:     "video encode failed",
			Diagnostics: Diagnostics(err),
			Err:         err,
		}
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, shot.Wrap(shot.EncodeFailed, err, "read encoded video")
	}
	if len(data) == 0 {
		return nil, shot.Errorf(shot.EncodeFailed, "encoder produced an empty file")
	}
	r.logger.Debug("video encoded",
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)),
	)
	return data, nil
}

// panInput returns a file path for the still image, spilling it into dir when needed.
func (r *Renderer) panInput(img shot.CapturedImage, dir string) (string, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return "", shot.Errorf(shot.EncodeFailed, "source image has no dimensions")
	}
	if img.Path != "" {
		return img.Path, nil
	}
	if len(img.Data) == 0 {
		return "", shot.Errorf(shot.EncodeFailed, "source image is empty")
	}
	path := filepath.Join(dir, sourceName)
	if err := os.WriteFile(path, img.Data, 0o600); err != nil {
		return "", shot.Wrap(shot.EncodeFailed, err, "write pan source")
	}
	return path, nil
}

func validateSpec(spec shot.VideoSpec) error {
	switch {
	case spec.Width <= 0 || spec.Height <= 0:
		return shot.Errorf(shot.InvalidInput, "video size %dx%d must be positive", spec.Width, spec.Height)
	case spec.Width%2 != 0 || spec.Height%2 != 0:
		return shot.Errorf(shot.InvalidInput, "video size %dx%d must be even for yuv420p", spec.Width, spec.Height)
	case spec.FPS <= 0:
		return shot.Errorf(shot.InvalidInput, "video fps must be > 0")
	case spec.Duration <= 0:
		return shot.Errorf(shot.InvalidInput, "video duration must be > 0")
	}
	return nil
}

// PanDistance is how far the crop window travels down the source image.
func PanDistance(srcHeight int, spec shot.VideoSpec) int {
	return max(0, srcHeight-spec.Height)
}

// PanFilter builds the filter graph over the unscaled source: pad it up to the output size
// when it is narrower or shorter, then move an output-sized crop window from the top to the
// bottom. A source no taller than the output gets a static crop.
func PanFilter(srcWidth, srcHeight int, spec shot.VideoSpec) string {
	filter := ""
	if srcWidth < spec.Width || srcHeight < spec.Height {
		filter = fmt.Sprintf("pad=%d:%d:(ow-iw)/2:0:color=white,",
			max(srcWidth, spec.Width), max(srcHeight, spec.Height))
	}
	distance := PanDistance(srcHeight, spec)
	if distance == 0 {
		return filter + fmt.Sprintf("crop=w=%d:h=%d:x=(iw-ow)/2:y=0,setsar=1", spec.Width, spec.Height)
	}
	secs := strconv.FormatFloat(spec.Duration.Seconds(), 'f', -1, 64)
	return filter + fmt.Sprintf("crop=w=%d:h=%d:x=(iw-ow)/2:y='min(%d,%d*t/%s)',setsar=1",
		spec.Width, spec.Height, distance, distance, secs)
}

// PanArgs builds the ffmpeg command line for the pan strategy.
func PanArgs(input string, srcWidth, srcHeight int, spec shot.VideoSpec, cfg Config, output string) []string {
	secs := strconv.FormatFloat(spec.Duration.Seconds(), 'f', -1, 64)
	args := []string{
		"-hide_banner", "-y",
		"-loop", "1",
		"-framerate", strconv.Itoa(spec.FPS),
		"-t", secs,
		"-i", input,
		"-vf", PanFilter(srcWidth, srcHeight, spec),
		"-r", strconv.Itoa(spec.FPS),
	}
	return append(args, encodeArgs(cfg, output)...)
}

// FrameArgs builds the ffmpeg command line for a numbered frame sequence.
func FrameArgs(seq shot.FrameSequence, spec shot.VideoSpec, cfg Config, output string) []string {
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=white,setsar=1",
		spec.Width, spec.Height, spec.Width, spec.Height,
	)
	args := []string{
		"-hide_banner", "-y",
		"-framerate", strconv.Itoa(spec.FPS),
		"-start_number", "0",
		"-i", filepath.Join(seq.Dir, seq.Pattern),
		"-frames:v", strconv.Itoa(seq.Count),
		"-vf", filter,
	}
	return append(args, encodeArgs(cfg, output)...)
}

func encodeArgs(cfg Config, output string) []string {
	args := []string{
		"-c:v", "libx264",
		"-preset", cfg.Preset,
	}
	if cfg.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(cfg.CRF))
	}
	return append(args,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-an",
		"-progress", "pipe:1",
		"-nostats",
		output,
	)
}

