package lapse

import "math"

// Sample picks at most slots captures from seq for thumbnail display by
// taking every step-th frame, step = max(1, frameCount/slots). The result may
// hold fewer than slots frames.
func Sample(seq *Sequence, slots int) []*Capture {
	if slots <= 0 {
		return nil
	}
	frames := seq.Frames()
	step := max(1, len(frames)/slots)

	out := make([]*Capture, 0, min(slots, len(frames)))
	for i := 0; i < len(frames) && len(out) < slots; i += step {
		out = append(out, frames[i])
	}
	return out
}

// SlotCount is the number of thumbnails that fit a sequence drawn at
// pixelsPerSecond with thumbnails thumbWidth pixels wide.
func SlotCount(duration, pixelsPerSecond, thumbWidth float64) int {
	if thumbWidth <= 0 {
		return 1
	}
	width := max(duration*pixelsPerSecond, 1)
	return int(math.Ceil(width / thumbWidth))
}
