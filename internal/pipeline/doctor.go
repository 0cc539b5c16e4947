package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Doctor probes the host for the tools export and import need.
type Doctor interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// RunDoctor checks that ffmpeg and ffprobe run and that ffmpeg ships the
// libx264 and mjpeg encoders.
func (f *FFmpeg) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:  f.toolInfo(ctx, f.cfg.FFmpegPath),
		FFprobe: f.toolInfo(ctx, f.cfg.FFprobePath),
	}

	if caps.FFmpeg.Available {
		var out bytes.Buffer
		res := f.exec(ctx, f.cfg.FFmpegPath, nil, &out, "-hide_banner", "-encoders")
		if res.IsSuccess() {
			caps.HasH264 = hasEncoder(out.Bytes(), "libx264")
			caps.HasMJPEG = hasEncoder(out.Bytes(), "mjpeg")
		}
	}
	caps.ProbedAt = time.Now()

	f.cfg.Logger.Info("doctor probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffprobe", caps.FFprobe.Available,
		"h264", caps.HasH264,
		"mjpeg", caps.HasMJPEG,
	)
	return caps, nil
}

func (f *FFmpeg) toolInfo(ctx context.Context, binary string) DepInfo {
	path, err := exec.LookPath(binary)
	if err != nil {
		return DepInfo{Error: err.Error()}
	}
	var out bytes.Buffer
	res := f.exec(ctx, path, nil, &out, "-hide_banner", "-version")
	if !res.IsSuccess() {
		return DepInfo{Path: path, Error: res.describe()}
	}
	return DepInfo{Available: true, Path: path, Version: parseVersion(out.String())}
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// hasEncoder scans `ffmpeg -encoders` output, whose rows look like
// " V....D libx264  libx264 H.264 / AVC ...".
func hasEncoder(out []byte, name string) bool {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// CachedDoctor wraps a Doctor to cache probe results with a configurable TTL.
// This avoids spawning ffmpeg on every status request.
type CachedDoctor struct {
	doctor Doctor
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(doctor Doctor, ttl time.Duration, logger *slog.Logger) *CachedDoctor {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedDoctor{
		doctor: doctor,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last probe result without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. On failure a stale result is preferred over an error.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.doctor.RunDoctor(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("doctor probe failed", "error", err)
		}
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
