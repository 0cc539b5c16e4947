// Package framestore persists frame images under one directory per sequence
// and reads them back with the sequence's reversal and rotation applied.
package framestore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lapseforge/lapseforge/internal/lapse"
	"github.com/lapseforge/lapseforge/internal/logging"
)

var (
	// ErrInvalidDirectory means the storage root cannot be resolved or created.
	ErrInvalidDirectory = errors.New("frame storage directory unavailable")
	// ErrMissingFrame means no capture exists at the requested index.
	ErrMissingFrame = errors.New("missing frame")
)

// FrameHandle identifies a frame written by Save. Its ID becomes the id of
// the capture that is appended for it.
type FrameHandle struct {
	ID   string
	Path string
}

// Store is the on-disk frame repository. It is constructed once per
// application session and handed to whoever needs frames.
type Store struct {
	root    string
	scratch string
	logger  *slog.Logger
}

func New(root, scratch string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{
		root:    root,
		scratch: scratch,
		logger:  logging.WithComponent(logger, "framestore"),
	}
}

func (s *Store) Root() string {
	return s.root
}

// Save writes data as a new frame owned by owner, overwriting any stale file
// at the derived path.
func (s *Store) Save(data []byte, owner lapse.FrameOwner) (FrameHandle, error) {
	dir, err := s.ensureDir(owner.DirectoryName())
	if err != nil {
		return FrameHandle{}, err
	}

	id := uuid.NewString()
	path := filepath.Join(dir, lapse.FrameFileName(id))
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return FrameHandle{}, fmt.Errorf("write frame %s: %w", id, err)
	}
	return FrameHandle{ID: id, Path: path}, nil
}

// writeFileAtomic writes through a temp file in the target directory so a
// reader never sees a partial frame. A leftover temp file matches no capture
// and is removed by the next sweep.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// FramePath is the deterministic location of a frame file.
func (s *Store) FramePath(dirName, frameID string) string {
	return filepath.Join(s.root, dirName, lapse.FrameFileName(frameID))
}

// ReadRaw returns the stored bytes of the frame at logical index, honoring
// the sequence's reversed flag.
func (s *Store) ReadRaw(seq *lapse.Sequence, index int) ([]byte, error) {
	c, ok := seq.CaptureAt(index)
	if !ok {
		return nil, fmt.Errorf("%w: sequence %s index %d", ErrMissingFrame, seq.ID, index)
	}
	return s.readCapture(seq.DirectoryName(), c.ID)
}

// ReadTransformed is ReadRaw followed by the sequence's rotation. Bytes that
// fail to decode are returned untransformed.
func (s *Store) ReadTransformed(seq *lapse.Sequence, index int) ([]byte, error) {
	raw, err := s.ReadRaw(seq, index)
	if err != nil {
		return nil, err
	}
	return s.transform(raw, seq.Rotation), nil
}

// ReadCapture returns the rotated bytes of a specific capture.
func (s *Store) ReadCapture(seq *lapse.Sequence, c *lapse.Capture) ([]byte, error) {
	raw, err := s.readCapture(seq.DirectoryName(), c.ID)
	if err != nil {
		return nil, err
	}
	return s.transform(raw, seq.Rotation), nil
}

func (s *Store) transform(raw []byte, r lapse.Rotation) []byte {
	if r == lapse.RotationNone {
		return raw
	}
	out, err := Rotate(raw, r)
	if err != nil {
		s.logger.Debug("rotation skipped", "error", err)
		return raw
	}
	return out
}

func (s *Store) readCapture(dirName, frameID string) ([]byte, error) {
	if s.root == "" {
		return nil, ErrInvalidDirectory
	}
	data, err := os.ReadFile(s.FramePath(dirName, frameID))
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", frameID, err)
	}
	return data, nil
}

// RemoveFrame deletes the file backing a capture. A missing file is not an error.
func (s *Store) RemoveFrame(dirName, frameID string) error {
	err := os.Remove(s.FramePath(dirName, frameID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove frame %s: %w", frameID, err)
	}
	return nil
}

// RemoveDirectory deletes a sequence directory and everything in it.
func (s *Store) RemoveDirectory(dirName string) error {
	if dirName == "" || s.root == "" {
		return ErrInvalidDirectory
	}
	if err := os.RemoveAll(filepath.Join(s.root, dirName)); err != nil {
		return fmt.Errorf("remove sequence directory %s: %w", dirName, err)
	}
	return nil
}

// ScratchDir creates and returns a fresh directory under the scratch area.
func (s *Store) ScratchDir(name string) (string, error) {
	if s.scratch == "" {
		return "", ErrInvalidDirectory
	}
	dir := filepath.Join(s.scratch, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	return dir, nil
}

func (s *Store) ensureDir(dirName string) (string, error) {
	if s.root == "" || dirName == "" {
		return "", ErrInvalidDirectory
	}
	dir := filepath.Join(s.root, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	return dir, nil
}
