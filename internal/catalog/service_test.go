package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lapseforge/lapseforge/internal/db"
	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/framestore"
	"github.com/lapseforge/lapseforge/internal/lapse"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())
	return database, repo
}

func setupService(t *testing.T) (*Service, Repository, *framestore.Store) {
	t.Helper()
	_, repo := setupTestDB(t)
	dir := t.TempDir()
	store := framestore.New(filepath.Join(dir, "frames"), filepath.Join(dir, "scratch"), nil)
	return NewService(repo, store, nil), repo, store
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestService_CreateProject_Titles(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	first, err := svc.CreateProject(ctx, "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if first.Title != "Project 1" {
		t.Errorf("first title = %q, want Project 1", first.Title)
	}

	named, err := svc.CreateProject(ctx, "  Garden  ")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if named.Title != "Garden" {
		t.Errorf("named title = %q, want Garden", named.Title)
	}

	second, err := svc.CreateProject(ctx, "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if second.Title != "Project 2" {
		t.Errorf("second title = %q, want Project 2", second.Title)
	}

	projects, err := svc.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 3 {
		t.Errorf("ListProjects() = %d projects, want 3", len(projects))
	}
}

func TestService_GetProject_NotFound(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.GetProject(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject() error = %v, want ErrNotFound", err)
	}
}

func TestService_AppendAndRemoveFrames(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	seq, err := svc.AddSequence(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("AddSequence() error = %v", err)
	}
	if seq.Title != "Sequence 1" {
		t.Errorf("sequence title = %q, want Sequence 1", seq.Title)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		c, err := svc.AppendFrame(ctx, seq.ID, jpegBytes(t, 8, 8))
		if err != nil {
			t.Fatalf("AppendFrame(%d) error = %v", i, err)
		}
		if c.Index != i {
			t.Errorf("capture %d index = %d", i, c.Index)
		}
		ids = append(ids, c.ID)
	}

	if err := svc.RemoveCapture(ctx, seq.ID, ids[1]); err != nil {
		t.Fatalf("RemoveCapture() error = %v", err)
	}

	got, err := svc.GetSequence(ctx, seq.ID)
	if err != nil {
		t.Fatalf("GetSequence() error = %v", err)
	}
	frames := got.Frames()
	if len(frames) != 2 {
		t.Fatalf("frame count = %d, want 2", len(frames))
	}
	if frames[0].ID != ids[0] || frames[1].ID != ids[2] {
		t.Errorf("frame order = [%s %s], want [%s %s]", frames[0].ID, frames[1].ID, ids[0], ids[2])
	}
	if frames[1].Index != 1 {
		t.Errorf("index after removal = %d, want 1", frames[1].Index)
	}
	if _, err := os.Stat(store.FramePath(seq.DirectoryName(), ids[1])); !os.IsNotExist(err) {
		t.Errorf("removed frame file still present, stat err = %v", err)
	}

	if err := svc.RemoveCapture(ctx, seq.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveCapture(missing) error = %v, want ErrNotFound", err)
	}
}

func assertDenseIndices(t *testing.T, seq *lapse.Sequence, want int) {
	t.Helper()
	frames := seq.Frames()
	if len(frames) != want {
		t.Fatalf("frame count = %d, want %d", len(frames), want)
	}
	for i, c := range frames {
		if c.Index != i {
			t.Errorf("frames[%d].Index = %d, want %d", i, c.Index, i)
		}
		if got, ok := seq.CaptureAt(i); !ok || got.ID != c.ID {
			t.Errorf("CaptureAt(%d) missing or mismatched", i)
		}
	}
}

func TestService_AppendFrame_Concurrent(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	seq, err := svc.AddSequence(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("AddSequence() error = %v", err)
	}

	const n = 20
	frame := jpegBytes(t, 8, 8)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AppendFrame(ctx, seq.ID, frame); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AppendFrame() error = %v", err)
	}

	got, err := svc.GetSequence(ctx, seq.ID)
	if err != nil {
		t.Fatalf("GetSequence() error = %v", err)
	}
	assertDenseIndices(t, got, n)
}

func TestService_AppendAndRemove_Concurrent(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	seq, _ := svc.AddSequence(ctx, p.ID, "")
	frame := jpegBytes(t, 8, 8)

	var initial []string
	for i := 0; i < 10; i++ {
		c, err := svc.AppendFrame(ctx, seq.ID, frame)
		if err != nil {
			t.Fatalf("AppendFrame(%d) error = %v", i, err)
		}
		initial = append(initial, c.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, err := svc.AppendFrame(ctx, seq.ID, frame); err != nil {
				t.Errorf("AppendFrame() error = %v", err)
			}
		}()
		go func(id string) {
			defer wg.Done()
			if err := svc.RemoveCapture(ctx, seq.ID, id); err != nil {
				t.Errorf("RemoveCapture(%s) error = %v", id, err)
			}
		}(initial[i*2])
		go func() {
			defer wg.Done()
			if _, err := svc.RotateSequence(ctx, seq.ID); err != nil {
				t.Errorf("RotateSequence() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := svc.GetSequence(ctx, seq.ID)
	if err != nil {
		t.Fatalf("GetSequence() error = %v", err)
	}
	assertDenseIndices(t, got, 10)
	for _, c := range got.Frames() {
		if _, err := os.Stat(store.FramePath(seq.DirectoryName(), c.ID)); err != nil {
			t.Errorf("capture %s has no frame file: %v", c.ID, err)
		}
	}
}

func TestService_UpdateSequence(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	seq, _ := svc.AddSequence(ctx, p.ID, "Dawn")

	duration := 4.5
	reversed := true
	interval := 2.0
	updated, err := svc.UpdateSequence(ctx, seq.ID, SequenceUpdate{
		ExpectedDuration: &duration,
		Reversed:         &reversed,
		IntervalValue:    &interval,
		IntervalUnit:     "min",
	})
	if err != nil {
		t.Fatalf("UpdateSequence() error = %v", err)
	}
	if updated.ExpectedDuration != 4.5 || !updated.Reversed || updated.CaptureInterval != 120 {
		t.Errorf("updated = {%v %v %v}, want {4.5 true 120}",
			updated.ExpectedDuration, updated.Reversed, updated.CaptureInterval)
	}

	reloaded, _ := svc.GetSequence(ctx, seq.ID)
	if reloaded.ExpectedDuration != 4.5 || !reloaded.Reversed {
		t.Errorf("reloaded = {%v %v}, want {4.5 true}", reloaded.ExpectedDuration, reloaded.Reversed)
	}

	negative := -1.0
	badRotation := 45
	badInterval := 500.0
	tests := []struct {
		name string
		u    SequenceUpdate
	}{
		{"negative duration", SequenceUpdate{ExpectedDuration: &negative}},
		{"bad rotation", SequenceUpdate{Rotation: &badRotation}},
		{"interval out of range", SequenceUpdate{IntervalValue: &badInterval, IntervalUnit: "s"}},
		{"unknown unit", SequenceUpdate{IntervalValue: &interval, IntervalUnit: "fortnights"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.UpdateSequence(ctx, seq.ID, tt.u); !errors.Is(err, ErrInvalid) {
				t.Errorf("UpdateSequence() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestService_RotateSequence(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	seq, _ := svc.AddSequence(ctx, p.ID, "")

	want := []lapse.Rotation{lapse.Rotation90, lapse.Rotation180, lapse.Rotation270, lapse.RotationNone}
	for i, w := range want {
		if _, err := svc.RotateSequence(ctx, seq.ID); err != nil {
			t.Fatalf("RotateSequence() error = %v", err)
		}
		got, _ := svc.GetSequence(ctx, seq.ID)
		if got.Rotation != w {
			t.Errorf("after %d rotations = %d, want %d", i+1, got.Rotation, w)
		}
	}
}

func TestService_MoveAndDeleteSequence(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	a, _ := svc.AddSequence(ctx, p.ID, "A")
	b, _ := svc.AddSequence(ctx, p.ID, "B")
	c, _ := svc.AddSequence(ctx, p.ID, "C")

	if _, err := svc.MoveSequence(ctx, p.ID, c.ID, 0); err != nil {
		t.Fatalf("MoveSequence() error = %v", err)
	}
	assertOrder(t, svc, p.ID, c.ID, a.ID, b.ID)

	if _, err := svc.MoveSequence(ctx, p.ID, a.ID, 3); !errors.Is(err, ErrInvalid) {
		t.Errorf("MoveSequence(out of range) error = %v, want ErrInvalid", err)
	}
	if _, err := svc.MoveSequence(ctx, p.ID, "missing", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("MoveSequence(missing) error = %v, want ErrNotFound", err)
	}

	if err := svc.DeleteSequence(ctx, a.ID); err != nil {
		t.Fatalf("DeleteSequence() error = %v", err)
	}
	assertOrder(t, svc, p.ID, c.ID, b.ID)
}

func assertOrder(t *testing.T, svc *Service, projectID string, ids ...string) {
	t.Helper()
	p, err := svc.GetProject(context.Background(), projectID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if len(p.Sequences) != len(ids) {
		t.Fatalf("sequence count = %d, want %d", len(p.Sequences), len(ids))
	}
	for i, id := range ids {
		if p.Sequences[i].ID != id {
			t.Errorf("sequence %d = %s, want %s", i, p.Sequences[i].Title, id)
		}
		if p.Sequences[i].Position != i {
			t.Errorf("sequence %d position = %d", i, p.Sequences[i].Position)
		}
	}
}

func TestService_DeleteProject_RemovesFrames(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	seq, _ := svc.AddSequence(ctx, p.ID, "")
	if _, err := svc.AppendFrame(ctx, seq.ID, jpegBytes(t, 4, 4)); err != nil {
		t.Fatalf("AppendFrame() error = %v", err)
	}

	if err := svc.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), seq.DirectoryName())); !os.IsNotExist(err) {
		t.Errorf("sequence directory still present, stat err = %v", err)
	}
	if _, err := svc.GetSequence(ctx, seq.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSequence() after delete error = %v, want ErrNotFound", err)
	}
}

func TestService_SaveGenerated(t *testing.T) {
	svc, _, store := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	if _, err := svc.AddSequence(ctx, p.ID, "Existing"); err != nil {
		t.Fatal(err)
	}

	gen := lapse.NewGeneratedSequence()
	for _, idx := range []int{4, 0, 2} {
		h, err := store.Save(jpegBytes(t, 4, 4), gen)
		if err != nil {
			t.Fatal(err)
		}
		gen.Add(h.ID, idx)
	}

	seq, err := svc.SaveGenerated(ctx, p.ID, gen, "", 3)
	if err != nil {
		t.Fatalf("SaveGenerated() error = %v", err)
	}
	if seq.ID != gen.ID {
		t.Errorf("sequence id = %s, want generated id %s", seq.ID, gen.ID)
	}
	if seq.Position != 1 || seq.Title != "Sequence 2" {
		t.Errorf("sequence = {%d %q}, want {1 Sequence 2}", seq.Position, seq.Title)
	}

	got, _ := svc.GetSequence(ctx, seq.ID)
	if got.FrameCount() != 3 || got.ExpectedDuration != 3 {
		t.Errorf("saved sequence = {%d frames, %vs}, want {3, 3s}", got.FrameCount(), got.ExpectedDuration)
	}
	for i, c := range got.Frames() {
		if c.Index != i {
			t.Errorf("frame %d index = %d", i, c.Index)
		}
		if _, err := os.Stat(store.FramePath(got.DirectoryName(), c.ID)); err != nil {
			t.Errorf("frame %d file missing: %v", i, err)
		}
	}
}

func TestService_CreateExportJob(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	zero := 0.0
	seq, _ := svc.AddSequence(ctx, p.ID, "")
	if _, err := svc.UpdateSequence(ctx, seq.ID, SequenceUpdate{ExpectedDuration: &zero}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateExportJob(ctx, export.Request{ProjectID: p.ID}); !errors.Is(err, ErrInvalid) {
		t.Errorf("CreateExportJob(zero duration) error = %v, want ErrInvalid", err)
	}

	if _, err := svc.AddSequence(ctx, p.ID, ""); err != nil {
		t.Fatal(err)
	}
	job, err := svc.CreateExportJob(ctx, export.Request{ProjectID: p.ID, OutputName: "out", FPS: 24})
	if err != nil {
		t.Fatalf("CreateExportJob() error = %v", err)
	}
	if job.Status != JobStatusPending || job.Type != JobTypeExport || job.ProjectID != p.ID {
		t.Errorf("job = {%s %s %s}", job.Status, job.Type, job.ProjectID)
	}

	var req export.Request
	if err := json.Unmarshal([]byte(job.Input), &req); err != nil {
		t.Fatalf("job input is not JSON: %v", err)
	}
	if req.FPS != 24 || req.OutputName != "out" {
		t.Errorf("job input = %+v", req)
	}

	if _, err := svc.CreateExportJob(ctx, export.Request{ProjectID: p.ID, OutputDir: "/tmp/../etc"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("CreateExportJob(traversal) error = %v, want ErrInvalid", err)
	}
	if _, err := svc.CreateExportJob(ctx, export.Request{ProjectID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateExportJob(missing project) error = %v, want ErrNotFound", err)
	}
}

func TestService_CreateImportJob(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "")

	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(video, []byte("not really"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		req     ImportRequest
		wantErr error
	}{
		{"valid", ImportRequest{ProjectID: p.ID, Path: video, Frames: 10}, nil},
		{"zero frames", ImportRequest{ProjectID: p.ID, Path: video}, ErrInvalid},
		{"missing file", ImportRequest{ProjectID: p.ID, Path: filepath.Join(dir, "nope.mp4"), Frames: 1}, ErrInvalid},
		{"directory", ImportRequest{ProjectID: p.ID, Path: dir, Frames: 1}, ErrInvalid},
		{"missing project", ImportRequest{ProjectID: "missing", Path: video, Frames: 1}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := svc.CreateImportJob(ctx, tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("CreateImportJob() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateImportJob() error = %v", err)
			}
			if job.Type != JobTypeImport {
				t.Errorf("job type = %s", job.Type)
			}
		})
	}
}

func TestService_CancelJob(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "")
	svc.AddSequence(ctx, p.ID, "")

	job, err := svc.CreateExportJob(ctx, export.Request{ProjectID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusCancelled || got.CompletedAt == nil {
		t.Errorf("cancelled job = {%s completed_at=%v}", got.Status, got.CompletedAt)
	}
	if err := svc.CancelJob(ctx, job.ID); !errors.Is(err, ErrInvalid) {
		t.Errorf("CancelJob(again) error = %v, want ErrInvalid", err)
	}
}

func TestService_Sweep(t *testing.T) {
	svc, repo, store := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	seq, _ := svc.AddSequence(ctx, p.ID, "")
	kept, err := svc.AppendFrame(ctx, seq.ID, jpegBytes(t, 4, 4))
	if err != nil {
		t.Fatal(err)
	}

	orphan := lapse.NewGeneratedSequence()
	if _, err := store.Save(jpegBytes(t, 4, 4), orphan); err != nil {
		t.Fatal(err)
	}

	job, _ := svc.CreateExportJob(ctx, export.Request{ProjectID: p.ID})
	repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")
	if _, err := svc.Sweep(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("Sweep() while running error = %v, want ErrBusy", err)
	}
	repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")

	res, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.RemovedDirs != 1 {
		t.Errorf("RemovedDirs = %d, want 1", res.RemovedDirs)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), orphan.DirectoryName())); !os.IsNotExist(err) {
		t.Errorf("orphan directory survived the sweep")
	}
	if _, err := os.Stat(store.FramePath(seq.DirectoryName(), kept.ID)); err != nil {
		t.Errorf("referenced frame removed: %v", err)
	}
}

func TestService_Sweep_OldRunningJobBlocks(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "")
	clip := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(clip, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	running, err := svc.CreateImportJob(ctx, ImportRequest{ProjectID: p.ID, Path: clip, Frames: 10})
	if err != nil {
		t.Fatalf("CreateImportJob() error = %v", err)
	}
	repo.UpdateJobStatus(ctx, running.ID, JobStatusRunning, "")

	for i := 0; i < 120; i++ {
		job, err := svc.CreateExportJob(ctx, export.Request{ProjectID: p.ID})
		if err != nil {
			t.Fatalf("CreateExportJob(%d) error = %v", i, err)
		}
		repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	}

	if n, err := svc.ActiveJobCount(ctx); err != nil || n != 1 {
		t.Fatalf("ActiveJobCount() = %d, %v, want 1", n, err)
	}
	if _, err := svc.Sweep(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("Sweep() error = %v, want ErrBusy", err)
	}
}
