package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/lapseforge/lapseforge/internal/lapse"
)

// GenerateEDL describes a project as a CMX3600 edit decision list with one
// event per sequence, laid end to end on the record timeline.
func GenerateEDL(project *lapse.Project, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = DefaultFPS
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(project.Title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	var recordOffset float64
	event := 0
	for i, seq := range project.Sequences {
		duration := max(seq.ExpectedDuration, 0)
		if duration == 0 {
			continue
		}
		event++

		srcIn := secondsToTimecode(0, fps)
		srcOut := secondsToTimecode(duration, fps)
		recIn := secondsToTimecode(recordOffset, fps)
		recOut := secondsToTimecode(recordOffset+duration, fps)

		name := seq.Title
		if name == "" {
			name = fmt.Sprintf("Sequence %d", i+1)
		}

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, reelName(i), "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", name),
			fmt.Sprintf("* FRAMES:  %d", seq.FrameCount()),
		)
		if seq.Reversed {
			lines = append(lines, "* REVERSED")
		}
		if seq.Rotation != lapse.RotationNone {
			lines = append(lines, fmt.Sprintf("* ROTATION:  %d", seq.Rotation.Degrees()))
		}

		recordOffset += duration
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func reelName(i int) string {
	return fmt.Sprintf("SEQ%03d", i+1)
}

func secondsToTimecode(sec float64, fps int) string {
	totalFrames := int(math.Round(sec * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
