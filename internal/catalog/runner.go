package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/framestore"
	"github.com/lapseforge/lapseforge/internal/importer"
	"github.com/lapseforge/lapseforge/internal/lapse"
	"github.com/lapseforge/lapseforge/internal/logging"
	"github.com/lapseforge/lapseforge/internal/pipeline"
)

// Media is the ffmpeg surface jobs need.
type Media interface {
	export.Encoder
	importer.Prober
	importer.Extractor
}

// Frames is the frame store surface jobs need.
type Frames interface {
	export.Scratch
	importer.FrameSaver
	Source(p *lapse.Project) *framestore.ProjectSource
}

// RunnerConfig wires the runner. Zero numeric values select defaults.
type RunnerConfig struct {
	Service       *Service
	Repo          Repository
	Media         Media
	Frames        Frames
	Doctor        *pipeline.CachedDoctor
	Hub           *export.Hub
	ExportsDir    string
	FPS           int
	ChunkSize     int
	ImportWorkers int
	PollInterval  time.Duration
	Logger        *slog.Logger
}

// Runner executes pending export and import jobs one at a time.
type Runner struct {
	cfg          RunnerConfig
	service      *Service
	repo         Repository
	hub          *export.Hub
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool

	mu        sync.Mutex
	currentID string
	cancelJob context.CancelFunc
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Hub == nil {
		cfg.Hub = export.NewHub(cfg.Logger)
	}
	return &Runner{
		cfg:          cfg,
		service:      cfg.Service,
		repo:         cfg.Repo,
		hub:          cfg.Hub,
		logger:       logging.WithComponent(cfg.Logger, "runner"),
		pollInterval: cfg.PollInterval,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) Hub() *export.Hub {
	return r.hub
}

// CurrentJobID is the id of the job being executed, if any.
func (r *Runner) CurrentJobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID
}

// Cancel stops the running job with id, or cancels it while still pending.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.currentID == id && r.cancelJob != nil {
		r.cancelJob()
		r.mu.Unlock()
		r.logger.Info("job cancellation requested", "job_id", id)
		return nil
	}
	r.mu.Unlock()
	return r.service.CancelJob(ctx, id)
}

// RunNext executes the oldest pending job, if any, and reports whether one ran.
func (r *Runner) RunNext(ctx context.Context) bool {
	return r.processNextJob(ctx)
}

func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}

	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.currentID = job.ID
	r.cancelJob = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		r.currentID = ""
		r.cancelJob = nil
		r.mu.Unlock()
	}()

	switch job.Type {
	case JobTypeExport:
		r.run(jobCtx, job, export.KindExport, r.processExportJob)
	case JobTypeImport:
		r.run(jobCtx, job, export.KindImport, r.processImportJob)
	default:
		r.logger.Warn("unknown job type", "type", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "unknown job type")
	}
	return true
}

type jobFunc func(ctx context.Context, job *Job, tr *export.Tracker) (string, error)

// run drives one job through running to a terminal status and mirrors hub
// progress into the jobs table.
func (r *Runner) run(ctx context.Context, job *Job, kind string, fn jobFunc) {
	persist := context.WithoutCancel(ctx)
	r.repo.UpdateJobStatus(persist, job.ID, JobStatusRunning, "")

	updates, unsubscribe := r.hub.Subscribe(job.ID)
	mirrored := make(chan struct{})
	go func() {
		defer close(mirrored)
		r.mirrorProgress(persist, job.ID, updates)
	}()

	tr := r.hub.Track(job.ID, kind)
	output, err := fn(ctx, job, tr)

	r.hub.Flush()
	unsubscribe()
	<-mirrored

	switch {
	case err == nil:
		if output != "" {
			r.repo.SetJobOutput(persist, job.ID, output)
		}
		r.repo.UpdateJobProgress(persist, job.ID, 100)
		r.repo.UpdateJobStatus(persist, job.ID, JobStatusCompleted, "")
		r.logger.Info("job completed", "job_id", job.ID, "type", job.Type)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		tr.Fail(err)
		r.repo.UpdateJobStatus(persist, job.ID, JobStatusCancelled, "")
		r.logger.Info("job cancelled", "job_id", job.ID)
	default:
		tr.Fail(err)
		r.repo.UpdateJobStatus(persist, job.ID, JobStatusFailed, truncateStr(err.Error(), 512))
		r.logger.Error("job failed", "job_id", job.ID, "type", job.Type, "error", err)
	}
}

func (r *Runner) mirrorProgress(ctx context.Context, jobID string, updates <-chan export.Status) {
	last := -1
	for s := range updates {
		p := Percent(s)
		if p == last {
			continue
		}
		last = p
		if err := r.repo.UpdateJobProgress(ctx, jobID, p); err != nil {
			r.logger.Warn("failed to persist job progress", "job_id", jobID, "error", err)
		}
	}
}

// Percent maps a status to 0..100. Exports weigh encoding at 90 and
// unification at 10.
func Percent(s export.Status) int {
	var p float64
	switch s.Kind {
	case export.KindImport:
		p = s.ImportProgress
	default:
		p = 0.9*s.ExportProgress + 0.1*s.UnifyProgress
	}
	return min(100, max(0, int(p*100)))
}

func (r *Runner) checkCapability(ctx context.Context, need func(pipeline.Capabilities) bool) error {
	if r.cfg.Doctor == nil {
		return nil
	}
	caps, err := r.cfg.Doctor.Get(ctx)
	if err != nil {
		return fmt.Errorf("doctor probe failed: %w", err)
	}
	if !need(*caps) {
		return errors.New("required ffmpeg capabilities are unavailable")
	}
	return nil
}

func (r *Runner) processExportJob(ctx context.Context, job *Job, tr *export.Tracker) (string, error) {
	if r.cfg.Media == nil || r.cfg.Frames == nil {
		return "", errors.New("export pipeline not configured")
	}
	var req export.Request
	if err := json.Unmarshal([]byte(job.Input), &req); err != nil {
		return "", fmt.Errorf("decode export request: %w", err)
	}
	if err := r.checkCapability(ctx, pipeline.Capabilities.CanExport); err != nil {
		return "", err
	}

	p, err := r.service.GetProject(ctx, req.ProjectID)
	if err != nil {
		return "", err
	}

	dir := req.OutputDir
	if dir == "" {
		dir = r.cfg.ExportsDir
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create exports dir: %w", err)
		}
	}
	out, err := export.OutputPath(dir, req.OutputName, p.Title)
	if err != nil {
		return "", err
	}

	opts := export.Options{FPS: r.cfg.FPS, ChunkSize: r.cfg.ChunkSize}
	if req.FPS > 0 {
		opts.FPS = req.FPS
	}
	if req.ChunkSize > 0 {
		opts.ChunkSize = req.ChunkSize
	}

	logger := logging.WithJobID(r.cfg.Logger, job.ID)
	asm := export.NewAssembler(r.cfg.Media, r.cfg.Frames, opts, logging.WithProjectID(logger, p.ID))
	res, err := asm.Export(ctx, r.cfg.Frames.Source(p), out, tr)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

func (r *Runner) processImportJob(ctx context.Context, job *Job, tr *export.Tracker) (string, error) {
	if r.cfg.Media == nil || r.cfg.Frames == nil {
		return "", errors.New("import pipeline not configured")
	}
	var req ImportRequest
	if err := json.Unmarshal([]byte(job.Input), &req); err != nil {
		return "", fmt.Errorf("decode import request: %w", err)
	}
	if err := r.checkCapability(ctx, pipeline.Capabilities.CanImport); err != nil {
		return "", err
	}
	if _, err := r.service.GetProject(ctx, req.ProjectID); err != nil {
		return "", err
	}

	tr.Begin(export.StateImporting)
	src, err := importer.Inspect(ctx, r.cfg.Media, req.Path)
	if err != nil {
		return "", err
	}

	logger := logging.WithJobID(r.cfg.Logger, job.ID)
	im := importer.New(r.cfg.Media, r.cfg.Frames, importer.Options{Workers: r.cfg.ImportWorkers}, logger)
	gen, err := im.Import(ctx, src, req.Frames, func(p importer.Progress) {
		tr.ImportProgress(p.Extracted, p.Failed, p.Total, p.ETA.Seconds())
	})
	if err != nil {
		return "", err
	}

	seq, err := r.service.SaveGenerated(ctx, req.ProjectID, gen, req.Title, req.Duration)
	if err != nil {
		return "", err
	}
	tr.Complete(seq.ID)
	return seq.ID, nil
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
