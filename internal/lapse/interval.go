package lapse

import (
	"fmt"
	"math"
)

// TimeUnit is the unit a capture interval is entered in.
type TimeUnit string

const (
	UnitMilliseconds TimeUnit = "ms"
	UnitSeconds      TimeUnit = "s"
	UnitMinutes      TimeUnit = "min"
	UnitHours        TimeUnit = "h"
)

// MinCaptureInterval is the shortest supported capture cadence in seconds.
const MinCaptureInterval = 0.3

func ParseTimeUnit(s string) (TimeUnit, error) {
	switch TimeUnit(s) {
	case UnitMilliseconds, UnitSeconds, UnitMinutes, UnitHours:
		return TimeUnit(s), nil
	case "milliseconds":
		return UnitMilliseconds, nil
	case "seconds", "":
		return UnitSeconds, nil
	case "minutes":
		return UnitMinutes, nil
	case "hours":
		return UnitHours, nil
	}
	return "", fmt.Errorf("unknown time unit %q", s)
}

// Seconds converts value expressed in u to seconds.
func (u TimeUnit) Seconds(value float64) float64 {
	switch u {
	case UnitMilliseconds:
		return max(value/1000, MinCaptureInterval)
	case UnitMinutes:
		return value * 60
	case UnitHours:
		return value * 3600
	default:
		return value
	}
}

// Range is the accepted input range for the unit.
func (u TimeUnit) Range() (lo, hi float64) {
	switch u {
	case UnitMilliseconds:
		return 300, 1000
	case UnitMinutes:
		return 1, 60
	case UnitHours:
		return 1, 24
	default:
		return 1, 100
	}
}

// Interval validates value against the unit range and returns seconds.
func (u TimeUnit) Interval(value float64) (float64, error) {
	lo, hi := u.Range()
	if value < lo || value > hi {
		return 0, fmt.Errorf("interval %g%s out of range [%g, %g]", value, u, lo, hi)
	}
	return u.Seconds(value), nil
}

// FormatClock renders seconds as mm:ss.
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
