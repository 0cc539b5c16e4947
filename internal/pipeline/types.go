// Package pipeline drives the ffmpeg and ffprobe binaries: probing sources,
// exact-seek frame extraction, chunk encoding and concatenation.
package pipeline

import (
	"errors"
	"time"
)

var (
	// ErrEncode covers output creation, rejected codec settings and writer failures.
	ErrEncode = errors.New("encode failed")
	// ErrConcat covers failures while joining chunk files.
	ErrConcat = errors.New("concatenation failed")
	// ErrNoVideoTrack means a file has no video stream.
	ErrNoVideoTrack = errors.New("no video track")
	// ErrProbe means ffprobe could not inspect a file.
	ErrProbe = errors.New("probe failed")
	// ErrExtract means no frame could be decoded at the requested time.
	ErrExtract = errors.New("frame extraction failed")
)

// ProbeResult is the subset of ffprobe output the import and concat steps use.
type ProbeResult struct {
	Duration     float64 `json:"duration"`
	FrameRate    float64 `json:"frame_rate"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Codec        string  `json:"codec"`
	VideoStreams int     `json:"video_streams"`
}

func (p ProbeResult) HasVideo() bool {
	return p.VideoStreams > 0
}

// RunResult is the structured outcome of executing an ffmpeg subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 && r.Err == nil }

// Capabilities reports which tools the host provides.
type Capabilities struct {
	FFmpeg   DepInfo   `json:"ffmpeg"`
	FFprobe  DepInfo   `json:"ffprobe"`
	HasH264  bool      `json:"has_h264"`
	HasMJPEG bool      `json:"has_mjpeg"`
	ProbedAt time.Time `json:"probed_at"`
}

// CanExport reports whether chunk encoding and concatenation will work.
func (c Capabilities) CanExport() bool {
	return c.FFmpeg.Available && c.FFprobe.Available && c.HasH264
}

// CanImport reports whether frames can be extracted from a source video.
func (c Capabilities) CanImport() bool {
	return c.FFmpeg.Available && c.FFprobe.Available && c.HasMJPEG
}

// DepInfo represents the availability status of a single executable.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}
