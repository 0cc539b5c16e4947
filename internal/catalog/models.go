package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by service lookups for ids that do not exist.
var ErrNotFound = errors.New("not found")

// Job is a persisted export or import run.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	ProjectID   string     `json:"project_id,omitempty"`
	Input       string     `json:"input,omitempty"`
	Output      string     `json:"output,omitempty"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) Finished() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

const (
	JobTypeExport = "export"
	JobTypeImport = "import"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ImportRequest is the input of an import job.
type ImportRequest struct {
	ProjectID string  `json:"project_id"`
	Path      string  `json:"path"`
	Frames    int     `json:"frames"`
	Title     string  `json:"title,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
}

type ConfigEntry struct {
	Key   string
	Value string
}

const ConfigKeyAuthToken = "auth_token"

func NewID() string {
	return uuid.NewString()
}
