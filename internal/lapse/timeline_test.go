package lapse

import (
	"math"
	"testing"
)

func sequenceWithDuration(d float64, frames int) *Sequence {
	seq := newTestSequence(frames)
	seq.ExpectedDuration = d
	return seq
}

func TestMapTime(t *testing.T) {
	seqs := []*Sequence{sequenceWithDuration(10, 10), sequenceWithDuration(20, 10)}

	tests := []struct {
		name    string
		t       float64
		wantOK  bool
		wantSeq int
		wantRel float64
	}{
		{"start", 0, true, 0, 0},
		{"inside first", 5, true, 0, 5},
		{"boundary belongs to earlier", 10, true, 0, 10},
		{"inside second", 15, true, 1, 5},
		{"end of timeline", 30, true, 1, 20},
		{"past end", 35, false, 0, 0},
		{"negative", -0.1, false, 0, 0},
		{"nan", math.NaN(), false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MapTime(seqs, tt.t)
			if ok != tt.wantOK {
				t.Fatalf("MapTime(%v) ok = %v, want %v", tt.t, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.SequenceIndex != tt.wantSeq {
				t.Errorf("SequenceIndex = %d, want %d", got.SequenceIndex, tt.wantSeq)
			}
			if got.Sequence != seqs[tt.wantSeq] {
				t.Error("Sequence does not match SequenceIndex")
			}
			if math.Abs(got.RelativeTime-tt.wantRel) > 1e-9 {
				t.Errorf("RelativeTime = %v, want %v", got.RelativeTime, tt.wantRel)
			}
		})
	}
}

func TestFrameIndex(t *testing.T) {
	tests := []struct {
		name   string
		seq    *Sequence
		rel    float64
		want   int
		wantOK bool
	}{
		{"first frame", sequenceWithDuration(10, 5), 0, 0, true},
		{"second frame", sequenceWithDuration(10, 5), 2, 1, true},
		{"just before boundary", sequenceWithDuration(10, 5), 3.99, 1, true},
		{"end clamps to last", sequenceWithDuration(10, 5), 10, 4, true},
		{"negative clamps to first", sequenceWithDuration(10, 5), -1, 0, true},
		{"zero duration", sequenceWithDuration(0, 5), 0, 0, false},
		{"empty", sequenceWithDuration(10, 0), 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FrameIndex(tt.seq, tt.rel)
			if ok != tt.wantOK {
				t.Fatalf("FrameIndex() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("FrameIndex() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProject_CaptureAt(t *testing.T) {
	p := NewProject("Project 1")
	first := sequenceWithDuration(1, 2)
	empty := sequenceWithDuration(1, 0)
	last := sequenceWithDuration(2, 4)
	last.Reversed = true
	p.AppendSequence(first)
	p.AppendSequence(empty)
	p.AppendSequence(last)

	if got := p.TotalDuration(); got != 4 {
		t.Errorf("TotalDuration() = %v, want 4", got)
	}

	seq, c, ok := p.CaptureAt(0.6)
	if !ok || seq != first || c.ID != "f1" {
		t.Errorf("CaptureAt(0.6) = %v, %v, %v", seq, c, ok)
	}

	if _, _, ok := p.CaptureAt(1.5); ok {
		t.Error("CaptureAt(1.5) in empty sequence ok = true, want false")
	}

	seq, c, ok = p.CaptureAt(2.1)
	if !ok || seq != last || c.ID != "f3" {
		t.Errorf("CaptureAt(2.1) on reversed sequence = %v, %v, %v", seq, c, ok)
	}
}

func TestProject_MoveSequence(t *testing.T) {
	p := NewProject("Project 1")
	a, b, c := NewSequence("", "a"), NewSequence("", "b"), NewSequence("", "c")
	p.AppendSequence(a)
	p.AppendSequence(b)
	p.AppendSequence(c)

	if err := p.MoveSequence(c.ID, 0); err != nil {
		t.Fatalf("MoveSequence() error = %v", err)
	}
	want := []*Sequence{c, a, b}
	for i, s := range p.Sequences {
		if s != want[i] || s.Position != i {
			t.Errorf("Sequences[%d] = %s@%d, want %s@%d", i, s.Title, s.Position, want[i].Title, i)
		}
	}

	if err := p.MoveSequence(a.ID, 3); err == nil {
		t.Error("MoveSequence() out of range error = nil")
	}
	if err := p.MoveSequence("missing", 0); err == nil {
		t.Error("MoveSequence() unknown id error = nil")
	}

	if !p.RemoveSequence(c.ID) {
		t.Fatal("RemoveSequence() = false")
	}
	if a.Position != 0 || b.Position != 1 {
		t.Errorf("positions after remove = %d, %d", a.Position, b.Position)
	}
}

func TestNextAvailableTitle(t *testing.T) {
	tests := []struct {
		existing []string
		want     string
	}{
		{nil, "Project 1"},
		{[]string{"Project 1", "Project 2"}, "Project 3"},
		{[]string{"Project 2", "Holiday"}, "Project 1"},
		{[]string{"Project 1", "Project 3"}, "Project 2"},
		{[]string{"Project x", "Project 0", "Project 1"}, "Project 2"},
	}

	for _, tt := range tests {
		if got := NextAvailableTitle(tt.existing); got != tt.want {
			t.Errorf("NextAvailableTitle(%v) = %q, want %q", tt.existing, got, tt.want)
		}
	}
}
