package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultStderrTail = 8 << 10

// Progress is one block of ffmpeg's -progress output.
type Progress struct {
	Frame   int
	OutTime time.Duration
	Speed   string
	Done    bool
}

// Runner executes the encoder. onProgress may be nil.
type Runner interface {
	Run(ctx context.Context, args []string, onProgress func(Progress)) error
}

// ExitError is returned when the encoder exits unsuccessfully. Stderr holds the tail of its
// diagnostic output.
type ExitError struct {
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// FFmpegRunner runs the ffmpeg binary as a child process bound to the caller's context.
type FFmpegRunner struct {
	binary     string
	stderrTail int
	logger     *zap.Logger
}

// NewFFmpegRunner returns a runner for binary ("ffmpeg" when empty).
func NewFFmpegRunner(binary string, stderrTail int, logger *zap.Logger) *FFmpegRunner {
	if binary == "" {
		binary = "ffmpeg"
	}
	if stderrTail <= 0 {
		stderrTail = defaultStderrTail
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegRunner{binary: binary, stderrTail: stderrTail, logger: logger}
}

// Available reports whether the binary can be found on PATH.
func (r *FFmpegRunner) Available() error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("locate %s: %w", r.binary, err)
	}
	return nil
}

// Run starts ffmpeg and waits for it. Canceling ctx kills the process.
func (r *FFmpegRunner) Run(ctx context.Context, args []string, onProgress func(Progress)) error {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	tail := newTailBuffer(r.stderrTail)
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &ExitError{Err: fmt.Errorf("start: %w", err)}
	}
	// The pipe must be drained before Wait.
	parseProgress(stdout, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%w)", ctxErr, err)
		}
		return &ExitError{Err: err, Stderr: tail.String()}
	}
	r.logger.Debug("ffmpeg finished", zap.Duration("took", time.Since(start)))
	return nil
}

// parseProgress reads key=value lines; each "progress=" line closes a block.
func parseProgress(rd io.Reader, onProgress func(Progress)) {
	scanner := bufio.NewScanner(rd)
	var cur Progress
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			if n, err := strconv.Atoi(value); err == nil {
				cur.Frame = n
			}
		case "out_time_us", "out_time_ms":
			// out_time_ms is also in microseconds.
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.OutTime = time.Duration(n) * time.Microsecond
			}
		case "speed":
			cur.Speed = value
		case "progress":
			cur.Done = value == "end"
			if onProgress != nil {
				onProgress(cur)
			}
			cur = Progress{}
		}
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, rd)
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.buf))
}

// Diagnostics extracts the encoder's stderr tail from err, if any.
func Diagnostics(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Stderr
	}
	return ""
}
