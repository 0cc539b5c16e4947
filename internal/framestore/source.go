package framestore

import (
	"fmt"
	"image"
	"strconv"

	"github.com/lapseforge/lapseforge/internal/lapse"
)

// Frame is a resolved timeline position: which capture to read and how to
// orient it.
type Frame struct {
	SequenceID string
	CaptureID  string
	Rotation   lapse.Rotation
}

// Key identifies the decoded image a Frame produces.
func (f Frame) Key() string {
	return f.SequenceID + "/" + f.CaptureID + "@" + strconv.Itoa(f.Rotation.Degrees())
}

// Locate maps a global project time to a frame.
func (s *Store) Locate(p *lapse.Project, t float64) (Frame, error) {
	seq, c, ok := p.CaptureAt(t)
	if !ok {
		return Frame{}, fmt.Errorf("%w: project %s at %.3fs", ErrMissingFrame, p.ID, t)
	}
	return Frame{SequenceID: seq.DirectoryName(), CaptureID: c.ID, Rotation: seq.Rotation}, nil
}

// ReadFrame returns the rotated bytes of f.
func (s *Store) ReadFrame(f Frame) ([]byte, error) {
	raw, err := s.readCapture(f.SequenceID, f.CaptureID)
	if err != nil {
		return nil, err
	}
	return s.transform(raw, f.Rotation), nil
}

// ReadFrameAt resolves t on the project timeline and reads the frame there.
func (s *Store) ReadFrameAt(p *lapse.Project, t float64) ([]byte, error) {
	f, err := s.Locate(p, t)
	if err != nil {
		return nil, err
	}
	return s.ReadFrame(f)
}

// ProjectSource feeds a project's frames to the video assembler.
type ProjectSource struct {
	store   *Store
	project *lapse.Project
}

func (s *Store) Source(p *lapse.Project) *ProjectSource {
	return &ProjectSource{store: s, project: p}
}

func (ps *ProjectSource) Duration() float64 {
	return ps.project.TotalDuration()
}

func (ps *ProjectSource) FrameAt(t float64) (Frame, bool) {
	f, err := ps.store.Locate(ps.project, t)
	return f, err == nil
}

// Image decodes and rotates f. Unlike ReadTransformed, decode failures are
// returned to the caller.
func (ps *ProjectSource) Image(f Frame) (image.Image, error) {
	raw, err := ps.store.readCapture(f.SequenceID, f.CaptureID)
	if err != nil {
		return nil, err
	}
	img, _, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return RotateImage(img, f.Rotation), nil
}

// Size is the oriented pixel size of f, read from the image header.
func (ps *ProjectSource) Size(f Frame) (int, int, error) {
	raw, err := ps.store.readCapture(f.SequenceID, f.CaptureID)
	if err != nil {
		return 0, 0, err
	}
	w, h, err := DecodeSize(raw)
	if err != nil {
		return 0, 0, err
	}
	w, h = f.Rotation.CanvasSize(w, h)
	return w, h, nil
}
