package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lapseforge/lapseforge/internal/lapse"
)

// timeLayout keeps stored timestamps lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type Repository interface {
	CreateProject(ctx context.Context, p *lapse.Project) error
	GetProject(ctx context.Context, id string) (*lapse.Project, error)
	ListProjects(ctx context.Context) ([]*lapse.Project, error)
	UpdateProjectTitle(ctx context.Context, id, title string) error
	DeleteProject(ctx context.Context, id string) error

	SaveSequence(ctx context.Context, s *lapse.Sequence) error
	GetSequence(ctx context.Context, id string) (*lapse.Sequence, error)
	ListSequences(ctx context.Context, projectID string) ([]*lapse.Sequence, error)
	DeleteSequence(ctx context.Context, id string) error
	UpdateSequencePositions(ctx context.Context, seqs []*lapse.Sequence) error
	AddCapture(ctx context.Context, c *lapse.Capture) error

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	CountJobs(ctx context.Context, status string) (int, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	SetJobOutput(ctx context.Context, id, output string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *lapse.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, created_at) VALUES (?, ?, ?)
	`, p.ID, p.Title, formatTime(p.CreatedAt))
	return err
}

// GetProject loads the project row only; sequences are loaded separately.
func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*lapse.Project, error) {
	var p lapse.Project
	var createdAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, created_at FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*lapse.Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, created_at FROM projects ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*lapse.Project
	for rows.Next() {
		var p lapse.Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Title, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) UpdateProjectTitle(ctx context.Context, id, title string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE projects SET title = ? WHERE id = ?", title, id)
	return err
}

// DeleteProject removes the project; sequences and captures cascade.
func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

// SaveSequence upserts the sequence row and replaces its captures in one
// transaction.
func (r *SQLiteRepository) SaveSequence(ctx context.Context, s *lapse.Sequence) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sequences (id, project_id, title, position, expected_duration, reversed, rotation, capture_interval, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			position = excluded.position,
			expected_duration = excluded.expected_duration,
			reversed = excluded.reversed,
			rotation = excluded.rotation,
			capture_interval = excluded.capture_interval
	`, s.ID, s.ProjectID, s.Title, s.Position, s.ExpectedDuration, boolToInt(s.Reversed),
		s.Rotation.Degrees(), s.CaptureInterval, formatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM captures WHERE sequence_id = ?", s.ID); err != nil {
		return fmt.Errorf("clear captures: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO captures (id, sequence_id, idx, created_at) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range s.Frames() {
		if _, err := stmt.ExecContext(ctx, c.ID, s.ID, c.Index, formatTime(c.CreatedAt)); err != nil {
			return fmt.Errorf("insert capture %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetSequence(ctx context.Context, id string) (*lapse.Sequence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, title, position, expected_duration, reversed, rotation, capture_interval, created_at
		FROM sequences WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	seqs, err := r.scanSequences(rows)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	if err := r.loadCaptures(ctx, seqs[0]); err != nil {
		return nil, err
	}
	return seqs[0], nil
}

// ListSequences returns the project's sequences in playback order with their
// captures loaded.
func (r *SQLiteRepository) ListSequences(ctx context.Context, projectID string) ([]*lapse.Sequence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, title, position, expected_duration, reversed, rotation, capture_interval, created_at
		FROM sequences WHERE project_id = ? ORDER BY position ASC, created_at ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	seqs, err := r.scanSequences(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range seqs {
		if err := r.loadCaptures(ctx, s); err != nil {
			return nil, err
		}
	}
	return seqs, nil
}

func (r *SQLiteRepository) scanSequences(rows *sql.Rows) ([]*lapse.Sequence, error) {
	defer rows.Close()

	var seqs []*lapse.Sequence
	for rows.Next() {
		s := &lapse.Sequence{}
		var reversed, rotation int
		var createdAt string
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Title, &s.Position, &s.ExpectedDuration,
			&reversed, &rotation, &s.CaptureInterval, &createdAt); err != nil {
			return nil, err
		}
		rot, err := lapse.ParseRotation(rotation)
		if err != nil {
			return nil, fmt.Errorf("sequence %s: %w", s.ID, err)
		}
		s.Reversed = reversed != 0
		s.Rotation = rot
		s.CreatedAt = parseTime(createdAt)
		seqs = append(seqs, s)
	}
	return seqs, rows.Err()
}

func (r *SQLiteRepository) loadCaptures(ctx context.Context, s *lapse.Sequence) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, idx, created_at FROM captures WHERE sequence_id = ? ORDER BY idx ASC
	`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var captures []*lapse.Capture
	for rows.Next() {
		c := lapse.NewCapture("", s.ID)
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Index, &createdAt); err != nil {
			return err
		}
		c.CreatedAt = parseTime(createdAt)
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.SetCaptures(captures)
	return nil
}

func (r *SQLiteRepository) DeleteSequence(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sequences WHERE id = ?", id)
	return err
}

// UpdateSequencePositions writes each sequence's current position.
func (r *SQLiteRepository) UpdateSequencePositions(ctx context.Context, seqs []*lapse.Sequence) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range seqs {
		if _, err := tx.ExecContext(ctx, "UPDATE sequences SET position = ? WHERE id = ?", s.Position, s.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) AddCapture(ctx context.Context, c *lapse.Capture) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO captures (id, sequence_id, idx, created_at) VALUES (?, ?, ?, ?)
	`, c.ID, c.SequenceID, c.Index, formatTime(c.CreatedAt))
	return err
}

const jobColumns = `id, type, status, project_id, input, output, progress, error, created_at, updated_at, started_at, completed_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, project_id, input, output, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.ProjectID), nullString(j.Input), nullString(j.Output),
		j.Progress, nullString(j.Error), formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CountJobs counts every job with the given status.
func (r *SQLiteRepository) CountJobs(ctx context.Context, status string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var projectID, input, output, errMsg, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Type, &j.Status, &projectID, &input, &output, &j.Progress, &errMsg,
		&createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	j.ProjectID = projectID.String
	j.Input = input.String
	j.Output = output.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.StartedAt = parseNullTime(startedAt)
	j.CompletedAt = parseNullTime(completedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus stamps started_at on the move to running and completed_at
// on any terminal status.
func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?,
			error = ?,
			updated_at = ?,
			started_at = CASE WHEN ? = 'running' THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed', 'failed', 'cancelled') THEN ? ELSE completed_at END
		WHERE id = ?
	`, status, nullString(errorMsg), now, status, now, status, now, id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) SetJobOutput(ctx context.Context, id, output string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET output = ?, updated_at = ? WHERE id = ?
	`, nullString(output), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
