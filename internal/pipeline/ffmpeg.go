package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lapseforge/lapseforge/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	defaultProbeTimeout   = 30 * time.Second
	defaultExtractTimeout = 60 * time.Second
)

// Config holds the tool locations and logging options.
type Config struct {
	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	DebugPaths   bool // if true, log full file paths; otherwise sanitise
}

// FFmpeg is the production implementation of the encoder, extractor and
// prober contracts used by export and import.
type FFmpeg struct {
	cfg Config
}

func New(cfg Config) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	cfg.Logger = logging.WithComponent(cfg.Logger, "ffmpeg")
	return &FFmpeg{cfg: cfg}
}

// Probe inspects path with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	res := f.exec(ctx, f.cfg.FFprobePath, nil, &stdout,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json",
		"--", path,
	)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w: %s: %s", ErrProbe, f.safePath(path), res.describe())
	}
	return parseProbe(stdout.Bytes())
}

// ExtractFrame decodes the frame at exactly t seconds and returns it as jpeg.
func (f *FFmpeg) ExtractFrame(ctx context.Context, src string, t float64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultExtractTimeout)
	defer cancel()

	var stdout bytes.Buffer
	res := f.exec(ctx, f.cfg.FFmpegPath, nil, &stdout,
		"-hide_banner", "-loglevel", "error",
		"-accurate_seek",
		"-ss", formatSeconds(t),
		"-i", src,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w at %ss: %s", ErrExtract, formatSeconds(t), res.describe())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w at %ss: empty output", ErrExtract, formatSeconds(t))
	}
	return stdout.Bytes(), nil
}

// exec is the core subprocess execution helper.
func (f *FFmpeg) exec(ctx context.Context, binary string, stdin io.Reader, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, binary, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdin = stdin
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	f.cfg.Logger.Debug("executing command", "binary", filepath.Base(binary), "args", len(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		} else {
			exitCode = -1
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && exitCode != 0 {
		err = ctxErr
	}

	res := RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
		Err:        err,
	}

	if !res.IsSuccess() {
		f.cfg.Logger.Warn("command failed",
			"binary", filepath.Base(binary),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(res.StderrTail, 512),
			"error", err,
		)
	} else {
		f.cfg.Logger.Debug("command succeeded",
			"binary", filepath.Base(binary),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return res
}

func (r RunResult) describe() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	tail := strings.TrimSpace(r.StderrTail)
	if tail == "" {
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return fmt.Sprintf("exit status %d: %s", r.ExitCode, truncate(tail, 512))
}

func (f *FFmpeg) safePath(path string) string {
	if f.cfg.DebugPaths {
		return path
	}
	return logging.SanitizePath(path)
}

type probeJSON struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		Duration     string `json:"duration"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw probeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", ErrProbe, err)
	}

	res := &ProbeResult{Duration: parseFloat(raw.Format.Duration)}
	for _, s := range raw.Streams {
		if !strings.EqualFold(s.CodecType, "video") {
			continue
		}
		res.VideoStreams++
		if res.VideoStreams > 1 {
			continue
		}
		res.Width = s.Width
		res.Height = s.Height
		res.Codec = s.CodecName
		res.FrameRate = parseRate(s.AvgFrameRate)
		if res.FrameRate == 0 {
			res.FrameRate = parseRate(s.RFrameRate)
		}
		if res.Duration == 0 {
			res.Duration = parseFloat(s.Duration)
		}
	}
	return res, nil
}

// parseRate parses ffprobe rationals such as "30000/1001". Unknown rates
// ("0/0", "N/A") yield 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(num)
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func formatSeconds(t float64) string {
	return strconv.FormatFloat(t, 'f', 6, 64)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
