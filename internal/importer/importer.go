// Package importer rebuilds a frame sequence from an existing video by
// extracting frames concurrently and restoring their temporal order.
package importer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/lapseforge/lapseforge/internal/framestore"
	"github.com/lapseforge/lapseforge/internal/lapse"
	"github.com/lapseforge/lapseforge/internal/logging"
	"github.com/lapseforge/lapseforge/internal/pipeline"
)

// ErrNothingExtracted means every frame of an import failed.
var ErrNothingExtracted = errors.New("no frames extracted")

type Prober interface {
	Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error)
}

type Extractor interface {
	ExtractFrame(ctx context.Context, src string, t float64) ([]byte, error)
}

type FrameSaver interface {
	Save(data []byte, owner lapse.FrameOwner) (framestore.FrameHandle, error)
}

// Source describes a video to import from.
type Source struct {
	Path        string  `json:"path"`
	Duration    float64 `json:"duration"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
}

// Inspect loads duration and nominal frame rate. Sources that report no
// frame rate, such as variable-frame-rate files, are treated as 1 fps.
func Inspect(ctx context.Context, prober Prober, path string) (Source, error) {
	probe, err := prober.Probe(ctx, path)
	if err != nil {
		return Source{}, err
	}
	if !probe.HasVideo() {
		return Source{}, fmt.Errorf("%s: %w", logging.SanitizePath(path), pipeline.ErrNoVideoTrack)
	}
	return NewSource(path, probe.Duration, probe.FrameRate), nil
}

func NewSource(path string, duration, fps float64) Source {
	if fps <= 0 {
		fps = 1.0
	}
	total := max(1, int(math.Round(fps*duration)))
	return Source{Path: path, Duration: duration, FPS: fps, TotalFrames: total}
}

// Plan is the uniform-by-count sampling of a source.
type Plan struct {
	Count int `json:"count"`
	Step  int `json:"step"`
}

// Plan samples requested frames evenly: the count is clamped to
// [1, TotalFrames] and every step-th native frame is taken.
func (s Source) Plan(requested int) Plan {
	k := min(max(requested, 1), s.TotalFrames)
	return Plan{Count: k, Step: max(1, s.TotalFrames/k)}
}

// SampleTime is the timestamp of the i-th extracted frame.
func (s Source) SampleTime(p Plan, i int) float64 {
	return float64(i*p.Step) / s.FPS
}

// Estimate projects the processing time of plan from a per-frame cost.
func (p Plan) Estimate(perFrame time.Duration, workers int) time.Duration {
	workers = max(workers, 1)
	rounds := (p.Count + workers - 1) / workers
	return time.Duration(rounds) * perFrame
}

// Progress is reported after every finished frame.
type Progress struct {
	Extracted int           `json:"extracted"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
	Elapsed   time.Duration `json:"elapsed"`
	ETA       time.Duration `json:"eta"`
}

// Done is the number of frames that finished either way.
func (p Progress) Done() int {
	return p.Extracted + p.Failed
}

// Options tune the importer. Zero values select the defaults.
type Options struct {
	Workers int
}

// Importer runs extraction on a fixed-size worker pool.
type Importer struct {
	extractor Extractor
	saver     FrameSaver
	workers   int
	logger    *slog.Logger
}

func New(extractor Extractor, saver FrameSaver, opts Options, logger *slog.Logger) *Importer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Importer{
		extractor: extractor,
		saver:     saver,
		workers:   opts.Workers,
		logger:    logging.WithComponent(logger, "importer"),
	}
}

type result struct {
	index  int
	handle framestore.FrameHandle
	err    error
}

// Import extracts count frames from src into a new generated sequence.
// Frames that fail are logged and dropped. Cancelling ctx stops handing out
// new frames; extractions already running finish and their results are
// discarded.
func (im *Importer) Import(ctx context.Context, src Source, count int, progress func(Progress)) (*lapse.GeneratedSequence, error) {
	plan := src.Plan(count)
	gen := lapse.NewGeneratedSequence()
	start := time.Now()

	im.logger.Info("import started",
		"source", logging.SanitizePath(src.Path),
		"frames", plan.Count,
		"step", plan.Step,
		"workers", im.workers,
	)

	jobs := make(chan int)
	results := make(chan result, im.workers)
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for w := 0; w < im.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- im.extractOne(work, gen, src, plan, i)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < plan.Count; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]result, 0, plan.Count)
	var p Progress
	p.Total = plan.Count
	for r := range results {
		if r.err != nil {
			p.Failed++
			im.logger.Warn("frame extraction failed", "index", r.index, "error", r.err)
		} else {
			p.Extracted++
			collected = append(collected, r)
		}
		p.Elapsed = time.Since(start)
		p.ETA = eta(p.Elapsed, p.Extracted, plan.Count-p.Done())
		if progress != nil {
			progress(p)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(collected) == 0 {
		return nil, ErrNothingExtracted
	}

	slices.SortFunc(collected, func(a, b result) int {
		return cmp.Compare(a.index, b.index)
	})
	for _, r := range collected {
		gen.Add(r.handle.ID, r.index)
	}

	im.logger.Info("import completed",
		"extracted", p.Extracted,
		"failed", p.Failed,
		"duration_ms", p.Elapsed.Milliseconds(),
	)
	return gen, nil
}

func (im *Importer) extractOne(ctx context.Context, gen *lapse.GeneratedSequence, src Source, plan Plan, i int) result {
	data, err := im.extractor.ExtractFrame(ctx, src.Path, src.SampleTime(plan, i))
	if err != nil {
		return result{index: i, err: err}
	}
	h, err := im.saver.Save(data, gen)
	if err != nil {
		return result{index: i, err: err}
	}
	return result{index: i, handle: h}
}

// eta estimates the remaining time as elapsed × remaining / extracted.
func eta(elapsed time.Duration, extracted, remaining int) time.Duration {
	if extracted == 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(float64(elapsed) * float64(remaining) / float64(extracted))
}
