package api

import (
	"time"

	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/lapse"
	"github.com/lapseforge/lapseforge/internal/pipeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string                `json:"state"`
	Paused       bool                  `json:"paused"`
	LastError    string                `json:"last_error,omitempty"`
	Projects     int                   `json:"projects"`
	JobsRunning  int                   `json:"jobs_running"`
	JobsPending  int                   `json:"jobs_pending"`
	ActiveJob    *JobResponse          `json:"active_job,omitempty"`
	Live         *export.Status        `json:"live,omitempty"`
	Capabilities *CapabilitiesResponse `json:"capabilities,omitempty"`
}

type CapabilitiesResponse struct {
	FFmpeg      pipeline.DepInfo `json:"ffmpeg"`
	FFprobe     pipeline.DepInfo `json:"ffprobe"`
	CanExport   bool             `json:"can_export"`
	CanImport   bool             `json:"can_import"`
	LastProbeAt string           `json:"last_probe_at"`
}

func CapabilitiesToResponse(c *pipeline.Capabilities) *CapabilitiesResponse {
	return &CapabilitiesResponse{
		FFmpeg:      c.FFmpeg,
		FFprobe:     c.FFprobe,
		CanExport:   c.CanExport(),
		CanImport:   c.CanImport(),
		LastProbeAt: c.ProbedAt.Format(time.RFC3339),
	}
}

type ProjectResponse struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	CreatedAt     string             `json:"created_at"`
	Duration      float64            `json:"duration"`
	DurationClock string             `json:"duration_clock"`
	Sequences     []SequenceResponse `json:"sequences"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type SequenceResponse struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	Title            string  `json:"title"`
	Position         int     `json:"position"`
	ExpectedDuration float64 `json:"expected_duration"`
	Reversed         bool    `json:"reversed"`
	Rotation         int     `json:"rotation"`
	CaptureInterval  float64 `json:"capture_interval,omitempty"`
	FrameCount       int     `json:"frame_count"`
	Playable         bool    `json:"playable"`
	CreatedAt        string  `json:"created_at"`
}

type CaptureResponse struct {
	ID         string `json:"id"`
	SequenceID string `json:"sequence_id"`
	Index      int    `json:"index"`
	Kind       string `json:"kind"`
	CreatedAt  string `json:"created_at"`
}

type CapturesResponse struct {
	Captures []CaptureResponse `json:"captures"`
}

type ThumbnailsResponse struct {
	Slots    int               `json:"slots"`
	Captures []CaptureResponse `json:"captures"`
}

type JobResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	ProjectID   string  `json:"project_id,omitempty"`
	Progress    int     `json:"progress"`
	Output      string  `json:"output,omitempty"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type JobCreatedResponse struct {
	JobID string `json:"job_id"`
}

type SweepResponse struct {
	RemovedDirs  int `json:"removed_dirs"`
	RemovedFiles int `json:"removed_files"`
	Failures     int `json:"failures"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type CreateProjectRequest struct {
	Title string `json:"title"`
}

type RenameProjectRequest struct {
	Title string `json:"title"`
}

type AddSequenceRequest struct {
	Title string `json:"title"`
}

type MoveSequenceRequest struct {
	Position *int `json:"position"`
}

type ExportRequest struct {
	OutputName string `json:"output_name,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
}

type ImportRequest struct {
	Path     string  `json:"path"`
	Frames   int     `json:"frames"`
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func ProjectToResponse(p *lapse.Project) ProjectResponse {
	resp := ProjectResponse{
		ID:            p.ID,
		Title:         p.Title,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		Duration:      p.TotalDuration(),
		DurationClock: lapse.FormatClock(p.TotalDuration()),
		Sequences:     make([]SequenceResponse, len(p.Sequences)),
	}
	for i, s := range p.Sequences {
		resp.Sequences[i] = SequenceToResponse(s)
	}
	return resp
}

func SequenceToResponse(s *lapse.Sequence) SequenceResponse {
	return SequenceResponse{
		ID:               s.ID,
		ProjectID:        s.ProjectID,
		Title:            s.Title,
		Position:         s.Position,
		ExpectedDuration: s.ExpectedDuration,
		Reversed:         s.Reversed,
		Rotation:         s.Rotation.Degrees(),
		CaptureInterval:  s.CaptureInterval,
		FrameCount:       s.FrameCount(),
		Playable:         s.Playable(),
		CreatedAt:        s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func CaptureToResponse(c *lapse.Capture) CaptureResponse {
	return CaptureResponse{
		ID:         c.ID,
		SequenceID: c.SequenceID,
		Index:      c.Index,
		Kind:       c.Kind.String(),
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func CapturesToResponse(captures []*lapse.Capture) []CaptureResponse {
	out := make([]CaptureResponse, len(captures))
	for i, c := range captures {
		out[i] = CaptureToResponse(c)
	}
	return out
}

func JobToResponse(j *catalog.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		ProjectID: j.ProjectID,
		Progress:  j.Progress,
		Output:    j.Output,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		s := j.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}
