package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/framestore"
	"github.com/lapseforge/lapseforge/internal/lapse"
	"github.com/lapseforge/lapseforge/internal/logging"
)

var (
	// ErrInvalid wraps request values the service refuses.
	ErrInvalid = errors.New("invalid argument")
	// ErrBusy means an operation conflicts with a running job.
	ErrBusy = errors.New("jobs are running")
)

// FrameStore is the part of the frame store the service writes through.
type FrameStore interface {
	Save(data []byte, owner lapse.FrameOwner) (framestore.FrameHandle, error)
	RemoveFrame(dirName, frameID string) error
	RemoveDirectory(dirName string) error
	RemoveOrphans(projects []*lapse.Project) framestore.SweepResult
}

type CatalogService interface {
	CreateProject(ctx context.Context, title string) (*lapse.Project, error)
	ListProjects(ctx context.Context) ([]*lapse.Project, error)
	GetProject(ctx context.Context, id string) (*lapse.Project, error)
	RenameProject(ctx context.Context, id, title string) error
	DeleteProject(ctx context.Context, id string) error

	AddSequence(ctx context.Context, projectID, title string) (*lapse.Sequence, error)
	GetSequence(ctx context.Context, id string) (*lapse.Sequence, error)
	UpdateSequence(ctx context.Context, id string, u SequenceUpdate) (*lapse.Sequence, error)
	RotateSequence(ctx context.Context, id string) (*lapse.Sequence, error)
	MoveSequence(ctx context.Context, projectID, sequenceID string, to int) (*lapse.Project, error)
	DeleteSequence(ctx context.Context, id string) error

	AppendFrame(ctx context.Context, sequenceID string, data []byte) (*lapse.Capture, error)
	RemoveCapture(ctx context.Context, sequenceID, captureID string) error
	SaveGenerated(ctx context.Context, projectID string, gen *lapse.GeneratedSequence, title string, duration float64) (*lapse.Sequence, error)

	CreateExportJob(ctx context.Context, req export.Request) (*Job, error)
	CreateImportJob(ctx context.Context, req ImportRequest) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	CancelJob(ctx context.Context, id string) error

	Sweep(ctx context.Context) (framestore.SweepResult, error)
}

// SequenceUpdate carries the editable sequence fields. Nil fields are left
// unchanged.
type SequenceUpdate struct {
	Title            *string  `json:"title,omitempty"`
	ExpectedDuration *float64 `json:"expected_duration,omitempty"`
	Reversed         *bool    `json:"reversed,omitempty"`
	Rotation         *int     `json:"rotation,omitempty"`
	IntervalValue    *float64 `json:"interval_value,omitempty"`
	IntervalUnit     string   `json:"interval_unit,omitempty"`
}

type Service struct {
	repo   Repository
	frames FrameStore
	logger *slog.Logger

	// seqLocks serializes load-modify-save cycles on one sequence so
	// capture indices stay dense under concurrent requests.
	seqLocks keyedMutex
}

func NewService(repo Repository, frames FrameStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, frames: frames, logger: logging.WithComponent(logger, "catalog")}
}

// CreateProject stores a new project. An empty title takes the first free
// "Project N".
func (s *Service) CreateProject(ctx context.Context, title string) (*lapse.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		existing, err := s.repo.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		titles := make([]string, len(existing))
		for i, p := range existing {
			titles[i] = p.Title
		}
		title = lapse.NextAvailableTitle(titles)
	}

	p := lapse.NewProject(title)
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", p.ID, "title", p.Title)
	return p, nil
}

// ListProjects returns every project with its sequences loaded.
func (s *Service) ListProjects(ctx context.Context) ([]*lapse.Project, error) {
	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if err := s.loadSequences(ctx, p); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*lapse.Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err := s.loadSequences(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) loadSequences(ctx context.Context, p *lapse.Project) error {
	seqs, err := s.repo.ListSequences(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load sequences of %s: %w", p.ID, err)
	}
	p.Sequences = seqs
	p.SortByPosition()
	return nil
}

func (s *Service) RenameProject(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", ErrInvalid)
	}
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	return s.repo.UpdateProjectTitle(ctx, id, title)
}

// DeleteProject removes the project and the frame directories of all its
// sequences. Directory removal failures are logged; the sweep picks them up.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return err
	}
	for _, seq := range p.Sequences {
		s.removeDirectory(seq)
	}
	s.logger.Info("project deleted", "project_id", id, "sequences", len(p.Sequences))
	return nil
}

// AddSequence appends an empty sequence to the end of the project.
func (s *Service) AddSequence(ctx context.Context, projectID, title string) (*lapse.Sequence, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("Sequence %d", len(p.Sequences)+1)
	}
	seq := lapse.NewSequence(p.ID, title)
	p.AppendSequence(seq)
	if err := s.repo.SaveSequence(ctx, seq); err != nil {
		return nil, err
	}
	s.logger.Info("sequence added", "project_id", p.ID, "sequence_id", seq.ID)
	return seq, nil
}

func (s *Service) GetSequence(ctx context.Context, id string) (*lapse.Sequence, error) {
	seq, err := s.repo.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}
	if seq == nil {
		return nil, fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	return seq, nil
}

func (s *Service) UpdateSequence(ctx context.Context, id string, u SequenceUpdate) (*lapse.Sequence, error) {
	defer s.seqLocks.Lock(id)()

	seq, err := s.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Title != nil {
		seq.Title = strings.TrimSpace(*u.Title)
	}
	if u.ExpectedDuration != nil {
		if *u.ExpectedDuration < 0 {
			return nil, fmt.Errorf("%w: expected duration %v is negative", ErrInvalid, *u.ExpectedDuration)
		}
		seq.ExpectedDuration = *u.ExpectedDuration
	}
	if u.Reversed != nil {
		seq.Reversed = *u.Reversed
	}
	if u.Rotation != nil {
		rot, err := lapse.ParseRotation(*u.Rotation)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		seq.Rotation = rot
	}
	if u.IntervalValue != nil {
		unit, err := lapse.ParseTimeUnit(u.IntervalUnit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		interval, err := unit.Interval(*u.IntervalValue)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		seq.CaptureInterval = interval
	}

	if err := s.repo.SaveSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// RotateSequence advances the rotation a quarter turn clockwise.
func (s *Service) RotateSequence(ctx context.Context, id string) (*lapse.Sequence, error) {
	defer s.seqLocks.Lock(id)()

	seq, err := s.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}
	seq.Rotate()
	if err := s.repo.SaveSequence(ctx, seq); err != nil {
		return nil, err
	}
	s.logger.Debug("sequence rotated", "sequence_id", id, "rotation", seq.Rotation.Degrees())
	return seq, nil
}

// MoveSequence places a sequence at position to and rewrites every position
// in the project densely.
func (s *Service) MoveSequence(ctx context.Context, projectID, sequenceID string, to int) (*lapse.Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.Sequence(sequenceID); !ok {
		return nil, fmt.Errorf("sequence %s: %w", sequenceID, ErrNotFound)
	}
	if err := p.MoveSequence(sequenceID, to); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.repo.UpdateSequencePositions(ctx, p.Sequences); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeleteSequence(ctx context.Context, id string) error {
	defer s.seqLocks.Lock(id)()

	seq, err := s.GetSequence(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSequence(ctx, id); err != nil {
		return err
	}
	s.removeDirectory(seq)

	p, err := s.GetProject(ctx, seq.ProjectID)
	if err != nil {
		return err
	}
	for i, other := range p.Sequences {
		other.Position = i
	}
	return s.repo.UpdateSequencePositions(ctx, p.Sequences)
}

func (s *Service) removeDirectory(seq *lapse.Sequence) {
	if err := s.frames.RemoveDirectory(seq.DirectoryName()); err != nil {
		s.logger.Warn("failed to remove sequence frames", "sequence_id", seq.ID, "error", err)
	}
}

// AppendFrame stores data as a new frame at the end of the sequence.
func (s *Service) AppendFrame(ctx context.Context, sequenceID string, data []byte) (*lapse.Capture, error) {
	defer s.seqLocks.Lock(sequenceID)()

	seq, err := s.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}

	h, err := s.frames.Save(data, seq)
	if err != nil {
		return nil, err
	}

	c := lapse.NewCapture(h.ID, seq.ID)
	seq.AddCapture(c)
	if err := s.repo.AddCapture(ctx, c); err != nil {
		if rmErr := s.frames.RemoveFrame(seq.DirectoryName(), h.ID); rmErr != nil {
			s.logger.Warn("failed to remove unsaved frame", "frame_id", h.ID, "error", rmErr)
		}
		return nil, err
	}
	return c, nil
}

// RemoveCapture drops a capture, closes the index gap and deletes its file.
func (s *Service) RemoveCapture(ctx context.Context, sequenceID, captureID string) error {
	defer s.seqLocks.Lock(sequenceID)()

	seq, err := s.GetSequence(ctx, sequenceID)
	if err != nil {
		return err
	}
	if !seq.RemoveCapture(&lapse.Capture{ID: captureID}) {
		return fmt.Errorf("capture %s: %w", captureID, ErrNotFound)
	}
	if err := s.repo.SaveSequence(ctx, seq); err != nil {
		return err
	}
	if err := s.frames.RemoveFrame(seq.DirectoryName(), captureID); err != nil {
		s.logger.Warn("failed to remove frame file", "sequence_id", seq.ID, "frame_id", captureID, "error", err)
	}
	return nil
}

// SaveGenerated persists an import result as a new sequence at the end of
// the project.
func (s *Service) SaveGenerated(ctx context.Context, projectID string, gen *lapse.GeneratedSequence, title string, duration float64) (*lapse.Sequence, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("Sequence %d", len(p.Sequences)+1)
	}
	seq := gen.ToSequence(p.ID, title, duration)
	p.AppendSequence(seq)
	if err := s.repo.SaveSequence(ctx, seq); err != nil {
		return nil, err
	}
	s.logger.Info("generated sequence saved",
		"project_id", p.ID,
		"sequence_id", seq.ID,
		"frames", seq.FrameCount(),
	)
	return seq, nil
}

func (s *Service) CreateExportJob(ctx context.Context, req export.Request) (*Job, error) {
	p, err := s.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if p.TotalDuration() <= 0 {
		return nil, fmt.Errorf("%w: project %s has no duration", ErrInvalid, p.ID)
	}
	if req.FPS < 0 || req.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: fps and chunk size must not be negative", ErrInvalid)
	}
	if req.OutputDir != "" {
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return s.createJob(ctx, JobTypeExport, p.ID, req)
}

func (s *Service) CreateImportJob(ctx context.Context, req ImportRequest) (*Job, error) {
	if _, err := s.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.Frames < 1 {
		return nil, fmt.Errorf("%w: frame count must be at least 1", ErrInvalid)
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalid, abs)
	}
	req.Path = abs
	return s.createJob(ctx, JobTypeImport, req.ProjectID, req)
}

func (s *Service) createJob(ctx context.Context, jobType, projectID string, input any) (*Job, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      jobType,
		Status:    JobStatusPending,
		ProjectID: projectID,
		Input:     string(raw),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", job.ID, "type", jobType, "project_id", projectID)
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// CancelJob cancels a pending job. Running jobs are cancelled through the
// runner.
func (s *Service) CancelJob(ctx context.Context, id string) error {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != JobStatusPending {
		return fmt.Errorf("%w: job %s is %s", ErrInvalid, id, j.Status)
	}
	return s.repo.UpdateJobStatus(ctx, id, JobStatusCancelled, "")
}

// Sweep deletes frames and directories no project references. It refuses to
// run while a job is active since an import writes into a directory that is
// not referenced until it finishes.
func (s *Service) Sweep(ctx context.Context) (framestore.SweepResult, error) {
	if n, err := s.ActiveJobCount(ctx); err != nil {
		return framestore.SweepResult{}, err
	} else if n > 0 {
		return framestore.SweepResult{}, fmt.Errorf("%w: %d active", ErrBusy, n)
	}

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return framestore.SweepResult{}, err
	}
	return s.frames.RemoveOrphans(projects), nil
}

// ActiveJobCount counts jobs that are running.
func (s *Service) ActiveJobCount(ctx context.Context) (int, error) {
	return s.repo.CountJobs(ctx, JobStatusRunning)
}
