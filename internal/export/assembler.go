package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lapseforge/lapseforge/internal/framestore"
	"github.com/lapseforge/lapseforge/internal/logging"
)

const (
	DefaultFPS       = 30
	DefaultChunkSize = 10
)

var (
	// ErrDecode means a frame's bytes could not be decoded.
	ErrDecode = errors.New("frame decode failed")
	// ErrFrameCountMismatch means a chunk produced fewer images than frame times.
	ErrFrameCountMismatch = errors.New("decoded frame count mismatch")
	// ErrNoFrames means the project timeline yields no frame to encode.
	ErrNoFrames = errors.New("nothing to export")
)

// FrameSource resolves timeline times to frames and decodes them.
type FrameSource interface {
	Duration() float64
	FrameAt(t float64) (framestore.Frame, bool)
	Image(f framestore.Frame) (image.Image, error)
	Size(f framestore.Frame) (int, int, error)
}

// Encoder turns decoded frames into video files.
type Encoder interface {
	EncodeChunk(ctx context.Context, dst string, frames []*image.RGBA, fps int) error
	Concat(ctx context.Context, parts []string, dst string, progress func(done, total int)) error
}

// Scratch hands out temporary directories for intermediate parts.
type Scratch interface {
	ScratchDir(name string) (string, error)
}

// Options tune the assembler. Zero values select the defaults.
type Options struct {
	FPS       int
	ChunkSize int
}

// Result describes a finished export.
type Result struct {
	Output  string        `json:"output"`
	Frames  int           `json:"frames"`
	Chunks  int           `json:"chunks"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
	Elapsed time.Duration `json:"elapsed"`
}

// Assembler renders a frame timeline into a single H.264 file by encoding
// fixed-size chunks one after another and concatenating the parts.
type Assembler struct {
	encoder Encoder
	scratch Scratch
	opts    Options
	logger  *slog.Logger
}

func NewAssembler(encoder Encoder, scratch Scratch, opts Options, logger *slog.Logger) *Assembler {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Assembler{
		encoder: encoder,
		scratch: scratch,
		opts:    opts,
		logger:  logging.WithComponent(logger, "assembler"),
	}
}

// FrameTimes returns i/fps for i in [0, floor(total×fps)).
func FrameTimes(total float64, fps int) []float64 {
	if total <= 0 || fps <= 0 {
		return nil
	}
	n := int(math.Floor(total * float64(fps)))
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / float64(fps)
	}
	return times
}

// Chunk splits items into consecutive groups of at most size.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Export writes src to outPath. Chunks are encoded sequentially; any failure
// aborts the export and leaves already encoded parts in scratch.
func (a *Assembler) Export(ctx context.Context, src FrameSource, outPath string, tr *Tracker) (res Result, err error) {
	start := time.Now()
	tr.Begin(StateExporting)
	defer func() {
		if err != nil {
			tr.Fail(err)
		}
	}()

	times := FrameTimes(src.Duration(), a.opts.FPS)
	if len(times) == 0 {
		return Result{}, ErrNoFrames
	}

	refs := make([]*framestore.Frame, len(times))
	resolved := 0
	for i, t := range times {
		if f, ok := src.FrameAt(t); ok {
			refs[i] = &f
			resolved++
		}
	}
	if resolved == 0 {
		return Result{}, ErrNoFrames
	}

	w, h, err := canvasSize(src, refs)
	if err != nil {
		return Result{}, err
	}

	workDir, err := a.scratch.ScratchDir("export-" + uuid.NewString())
	if err != nil {
		return Result{}, fmt.Errorf("prepare scratch: %w", err)
	}

	chunks := Chunk(refs, a.opts.ChunkSize)
	a.logger.Info("export started",
		"frames", len(times),
		"chunks", len(chunks),
		"fps", a.opts.FPS,
		"width", w,
		"height", h,
	)

	var (
		parts    = make([]string, 0, len(chunks))
		progress float64
		cache    frameCache
	)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		images, err := a.decodeChunk(src, chunk, w, h, &cache)
		if err != nil {
			return Result{}, fmt.Errorf("chunk %d: %w", i, err)
		}

		part := filepath.Join(workDir, fmt.Sprintf("part-%04d.mp4", i))
		if err := a.encoder.EncodeChunk(ctx, part, images, a.opts.FPS); err != nil {
			return Result{}, fmt.Errorf("chunk %d: %w", i, err)
		}
		parts = append(parts, part)

		progress += 1 / float64(len(chunks))
		tr.ExportProgress(progress)
	}

	tr.UnifyProgress(0)
	err = a.encoder.Concat(ctx, parts, outPath, func(done, total int) {
		tr.UnifyProgress(float64(done) / float64(total))
	})
	if err != nil {
		return Result{}, err
	}

	if err := os.RemoveAll(workDir); err != nil {
		a.logger.Warn("failed to remove export parts", "error", err)
	}

	res = Result{
		Output:  outPath,
		Frames:  len(times),
		Chunks:  len(chunks),
		Width:   w,
		Height:  h,
		Elapsed: time.Since(start),
	}
	a.logger.Info("export completed",
		"output", logging.SanitizePath(outPath),
		"duration_ms", res.Elapsed.Milliseconds(),
	)
	tr.Complete(outPath)
	return res, nil
}

// decodeChunk decodes every frame of chunk onto a w×h canvas. The decoded
// count must equal the requested count.
func (a *Assembler) decodeChunk(src FrameSource, chunk []*framestore.Frame, w, h int, cache *frameCache) ([]*image.RGBA, error) {
	images := make([]*image.RGBA, 0, len(chunk))
	var firstErr error
	for _, ref := range chunk {
		if ref == nil {
			if firstErr == nil {
				firstErr = framestore.ErrMissingFrame
			}
			continue
		}
		if img, ok := cache.get(ref.Key()); ok {
			images = append(images, img)
			continue
		}
		img, err := src.Image(*ref)
		if err != nil {
			a.logger.Warn("frame decode failed", "capture_id", ref.CaptureID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", ErrDecode, err)
			}
			continue
		}
		fitted := framestore.Fit(img, w, h)
		cache.put(ref.Key(), fitted)
		images = append(images, fitted)
	}
	if len(images) != len(chunk) {
		return nil, fmt.Errorf("%w: decoded %d of %d frames: %w", ErrFrameCountMismatch, len(images), len(chunk), firstErr)
	}
	return images, nil
}

// canvasSize is the largest oriented width and height among the distinct
// frames, rounded up to even for yuv420p.
func canvasSize(src FrameSource, refs []*framestore.Frame) (int, int, error) {
	seen := make(map[string]bool)
	var w, h int
	for _, ref := range refs {
		if ref == nil || seen[ref.Key()] {
			continue
		}
		seen[ref.Key()] = true
		fw, fh, err := src.Size(*ref)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		w = max(w, fw)
		h = max(h, fh)
	}
	if w == 0 || h == 0 {
		return 0, 0, ErrNoFrames
	}
	return w + w%2, h + h%2, nil
}

// frameCache holds the most recently decoded frame; consecutive frame times
// usually land on the same capture.
type frameCache struct {
	key string
	img *image.RGBA
}

func (c *frameCache) get(key string) (*image.RGBA, bool) {
	if c.img != nil && c.key == key {
		return c.img, true
	}
	return nil, false
}

func (c *frameCache) put(key string, img *image.RGBA) {
	c.key = key
	c.img = img
}
