package lapse

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultExpectedDuration is the playback length, in seconds, of a new sequence.
const DefaultExpectedDuration = 10.0

// Sequence is an ordered run of captures with its own duration, direction
// and rotation. Captures are held as an unordered set; the ordered view and
// the index lookup are rebuilt lazily after every mutation.
type Sequence struct {
	ID               string
	ProjectID        string
	Title            string
	Position         int
	ExpectedDuration float64
	Reversed         bool
	Rotation         Rotation
	CaptureInterval  float64
	CreatedAt        time.Time

	mu       sync.Mutex
	captures []*Capture
	sorted   []*Capture
	byIndex  map[int]*Capture
	dirty    bool
}

func NewSequence(projectID, title string) *Sequence {
	return &Sequence{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Title:            title,
		ExpectedDuration: DefaultExpectedDuration,
		CreatedAt:        time.Now(),
		dirty:            true,
	}
}

func (s *Sequence) DirectoryName() string {
	return s.ID
}

func (s *Sequence) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captures)
}

func (s *Sequence) IsEmpty() bool {
	return s.FrameCount() == 0
}

// Playable reports whether the sequence can resolve any frame on a timeline.
func (s *Sequence) Playable() bool {
	return s.ExpectedDuration > 0 && !s.IsEmpty()
}

// Frames returns the captures ordered by stored index.
func (s *Sequence) Frames() []*Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
	out := make([]*Capture, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// CaptureAt resolves a logical position, honoring the reversed flag.
func (s *Sequence) CaptureAt(logical int) (*Capture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.captures)
	if logical < 0 || logical >= n {
		return nil, false
	}
	target := logical
	if s.Reversed {
		target = n - 1 - logical
	}
	s.rebuildLocked()
	c, ok := s.byIndex[target]
	return c, ok
}

// AddCapture appends c at the end of the sequence.
func (s *Sequence) AddCapture(c *Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Index = len(s.captures)
	c.SequenceID = s.ID
	s.captures = append(s.captures, c)
	s.dirty = true
}

// RemoveCapture drops the capture with c's id and closes the index gap.
func (s *Sequence) RemoveCapture(c *Capture) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.captures {
		if existing.ID == c.ID {
			s.removeLocked(i)
			return true
		}
	}
	return false
}

// RemoveCaptureAt drops the capture stored at the given physical index.
func (s *Sequence) RemoveCaptureAt(physical int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.captures {
		if existing.Index == physical {
			s.removeLocked(i)
			return true
		}
	}
	return false
}

func (s *Sequence) removeLocked(pos int) {
	removed := s.captures[pos].Index
	s.captures = slices.Delete(s.captures, pos, pos+1)
	for _, c := range s.captures {
		if c.Index > removed {
			c.Index--
		}
	}
	s.dirty = true
}

// SetCaptures replaces the capture set as loaded from storage. Stored
// indices are kept as they are.
func (s *Sequence) SetCaptures(captures []*Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures = captures
	s.dirty = true
}

func (s *Sequence) Rotate() {
	s.Rotation = s.Rotation.Next()
}

func (s *Sequence) rebuildLocked() {
	if !s.dirty && s.byIndex != nil {
		return
	}
	sorted := make([]*Capture, len(s.captures))
	copy(sorted, s.captures)
	sortByIndex(sorted)

	byIndex := make(map[int]*Capture, len(sorted))
	for _, c := range sorted {
		byIndex[c.Index] = c
	}
	s.sorted = sorted
	s.byIndex = byIndex
	s.dirty = false
}

func sortByIndex(captures []*Capture) {
	slices.SortStableFunc(captures, func(a, b *Capture) int {
		return cmp.Compare(a.Index, b.Index)
	})
}
