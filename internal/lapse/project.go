package lapse

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Project owns an ordered list of sequences. Sequence order is playback order.
type Project struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Sequences []*Sequence
}

func NewProject(title string) *Project {
	return &Project{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now(),
	}
}

// TotalDuration is the sum of every sequence's expected duration.
func (p *Project) TotalDuration() float64 {
	var total float64
	for _, s := range p.Sequences {
		total += max(s.ExpectedDuration, 0)
	}
	return total
}

// Sequence looks up a sequence by id.
func (p *Project) Sequence(id string) (*Sequence, bool) {
	for _, s := range p.Sequences {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// AppendSequence adds s at the end of the playback order.
func (p *Project) AppendSequence(s *Sequence) {
	s.ProjectID = p.ID
	s.Position = len(p.Sequences)
	p.Sequences = append(p.Sequences, s)
}

func (p *Project) RemoveSequence(id string) bool {
	for i, s := range p.Sequences {
		if s.ID == id {
			p.Sequences = slices.Delete(p.Sequences, i, i+1)
			p.renumber()
			return true
		}
	}
	return false
}

// MoveSequence places the sequence with the given id at position to.
func (p *Project) MoveSequence(id string, to int) error {
	if to < 0 || to >= len(p.Sequences) {
		return fmt.Errorf("position %d out of range [0, %d)", to, len(p.Sequences))
	}
	from := -1
	for i, s := range p.Sequences {
		if s.ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return fmt.Errorf("sequence %s not in project %s", id, p.ID)
	}
	s := p.Sequences[from]
	p.Sequences = slices.Delete(p.Sequences, from, from+1)
	p.Sequences = slices.Insert(p.Sequences, to, s)
	p.renumber()
	return nil
}

// SortByPosition restores playback order after loading from storage.
func (p *Project) SortByPosition() {
	slices.SortStableFunc(p.Sequences, func(a, b *Sequence) int {
		return a.Position - b.Position
	})
}

func (p *Project) renumber() {
	for i, s := range p.Sequences {
		s.Position = i
	}
}

// MapTime resolves a global time against the project's sequences.
func (p *Project) MapTime(t float64) (Resolution, bool) {
	return MapTime(p.Sequences, t)
}

// CaptureAt resolves a global time all the way down to a capture.
func (p *Project) CaptureAt(t float64) (*Sequence, *Capture, bool) {
	res, ok := p.MapTime(t)
	if !ok {
		return nil, nil, false
	}
	idx, ok := FrameIndex(res.Sequence, res.RelativeTime)
	if !ok {
		return nil, nil, false
	}
	c, ok := res.Sequence.CaptureAt(idx)
	if !ok {
		return nil, nil, false
	}
	return res.Sequence, c, true
}

const titlePrefix = "Project "

// NextAvailableTitle returns the first "Project N" (N >= 1) not already taken.
func NextAvailableTitle(existing []string) string {
	taken := make(map[int]bool, len(existing))
	for _, title := range existing {
		rest, ok := strings.CutPrefix(title, titlePrefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > 0 {
			taken[n] = true
		}
	}
	n := 1
	for taken[n] {
		n++
	}
	return titlePrefix + strconv.Itoa(n)
}
