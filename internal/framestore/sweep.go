package framestore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lapseforge/lapseforge/internal/lapse"
)

// SweepResult counts what RemoveOrphans deleted.
type SweepResult struct {
	RemovedDirs  int `json:"removed_dirs"`
	RemovedFiles int `json:"removed_files"`
	Failures     int `json:"failures"`
}

// RemoveOrphans reconciles the disk with the live projects: sequence
// directories nobody references are deleted, files inside live directories
// that match no capture are deleted, and the scratch area is emptied.
// Failures are logged and counted, never returned.
func (s *Store) RemoveOrphans(projects []*lapse.Project) SweepResult {
	var res SweepResult

	live := make(map[string]map[string]bool)
	for _, p := range projects {
		for _, seq := range p.Sequences {
			names := make(map[string]bool, seq.FrameCount())
			for _, c := range seq.Frames() {
				names[c.FileName()] = true
			}
			live[seq.DirectoryName()] = names
		}
	}

	entries, err := os.ReadDir(s.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("sweep: read frames root", "error", err)
		res.Failures++
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		names, ok := live[e.Name()]
		if !ok {
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn("sweep: remove orphan directory", "dir", e.Name(), "error", err)
				res.Failures++
				continue
			}
			res.RemovedDirs++
			continue
		}
		s.pruneDir(dir, names, &res)
	}

	s.clearScratch(&res)

	s.logger.Info("sweep completed",
		"removed_dirs", res.RemovedDirs,
		"removed_files", res.RemovedFiles,
		"failures", res.Failures,
	)
	return res
}

func (s *Store) pruneDir(dir string, keep map[string]bool, res *SweepResult) {
	files, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("sweep: read sequence directory", "dir", filepath.Base(dir), "error", err)
		res.Failures++
		return
	}
	for _, f := range files {
		if keep[f.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, f.Name())); err != nil {
			s.logger.Warn("sweep: remove stray file", "file", f.Name(), "error", err)
			res.Failures++
			continue
		}
		res.RemovedFiles++
	}
}

func (s *Store) clearScratch(res *SweepResult) {
	if s.scratch == "" {
		return
	}
	entries, err := os.ReadDir(s.scratch)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("sweep: read scratch", "error", err)
			res.Failures++
		}
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.scratch, e.Name())); err != nil {
			s.logger.Warn("sweep: clear scratch entry", "name", e.Name(), "error", err)
			res.Failures++
		}
	}
}
