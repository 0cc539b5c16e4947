package lapse

import (
	"time"

	"github.com/google/uuid"
)

// UnassignedIndex marks a capture that has not been appended to a sequence yet.
const UnassignedIndex = -1

// FrameExtension is the fixed extension of every stored frame file.
const FrameExtension = ".jpg"

// StorageKind distinguishes persisted captures from the ephemeral ones an
// import produces before it is saved.
type StorageKind int

const (
	KindPersisted StorageKind = iota
	KindGenerated
)

func (k StorageKind) String() string {
	if k == KindGenerated {
		return "generated"
	}
	return "persisted"
}

// Capture is a reference to one stored frame. SequenceID is a lookup key for
// the owning sequence, not an ownership edge.
type Capture struct {
	ID         string      `json:"id"`
	SequenceID string      `json:"sequence_id"`
	Index      int         `json:"index"`
	Kind       StorageKind `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
}

func NewCapture(id, sequenceID string) *Capture {
	return &Capture{
		ID:         id,
		SequenceID: sequenceID,
		Index:      UnassignedIndex,
		Kind:       KindPersisted,
		CreatedAt:  time.Now(),
	}
}

// FileName is the on-disk name of the capture's frame.
func (c *Capture) FileName() string {
	return FrameFileName(c.ID)
}

func FrameFileName(frameID string) string {
	return frameID + FrameExtension
}

// FrameOwner is anything whose frames live under a directory of its own.
type FrameOwner interface {
	DirectoryName() string
}

// GeneratedSequence holds the frames produced by an import before they are
// turned into a persisted Sequence. Indices may have gaps where frames failed.
type GeneratedSequence struct {
	ID       string
	Captures []*Capture
}

func NewGeneratedSequence() *GeneratedSequence {
	return &GeneratedSequence{ID: uuid.NewString()}
}

func (g *GeneratedSequence) DirectoryName() string {
	return g.ID
}

func (g *GeneratedSequence) Add(frameID string, index int) *Capture {
	c := &Capture{
		ID:         frameID,
		SequenceID: g.ID,
		Index:      index,
		Kind:       KindGenerated,
		CreatedAt:  time.Now(),
	}
	g.Captures = append(g.Captures, c)
	return c
}

// ToSequence converts the import result into a persisted sequence. The
// sequence keeps the generated id so its frame directory stays valid, and
// captures are appended in index order which closes any gaps.
func (g *GeneratedSequence) ToSequence(projectID, title string, duration float64) *Sequence {
	seq := NewSequence(projectID, title)
	seq.ID = g.ID
	if duration > 0 {
		seq.ExpectedDuration = duration
	}

	ordered := make([]*Capture, len(g.Captures))
	copy(ordered, g.Captures)
	sortByIndex(ordered)

	for _, gc := range ordered {
		c := NewCapture(gc.ID, seq.ID)
		c.CreatedAt = gc.CreatedAt
		seq.AddCapture(c)
	}
	return seq
}
