package lapse

import "math"

// Resolution is where a global time lands on a project timeline.
type Resolution struct {
	SequenceIndex int
	Sequence      *Sequence
	RelativeTime  float64
}

// MapTime walks seqs accumulating expected durations and returns the first
// sequence whose closed range [start, start+duration] contains t. Ties at a
// boundary resolve to the earlier sequence.
func MapTime(seqs []*Sequence, t float64) (Resolution, bool) {
	if t < 0 || math.IsNaN(t) {
		return Resolution{}, false
	}
	var acc float64
	for i, s := range seqs {
		d := max(s.ExpectedDuration, 0)
		if acc <= t && t <= acc+d {
			return Resolution{SequenceIndex: i, Sequence: s, RelativeTime: t - acc}, true
		}
		acc += d
	}
	return Resolution{}, false
}

// FrameIndex converts a time relative to the start of seq into a logical
// frame index. Zero-duration and empty sequences never resolve.
func FrameIndex(seq *Sequence, rel float64) (int, bool) {
	n := seq.FrameCount()
	if seq.ExpectedDuration <= 0 || n == 0 {
		return 0, false
	}
	secondsPerFrame := seq.ExpectedDuration / float64(n)
	idx := int(math.Floor(rel / secondsPerFrame))
	return min(max(idx, 0), n-1), true
}
