package timer

import (
	"strings"
	"time"
)

// Phase is the lifecycle position of the timer.
type Phase string

const (
	Idle    Phase = "idle"
	Running Phase = "running"
	Paused  Phase = "paused"
)

// Mode selects how remaining time is derived.
type Mode string

const (
	Duration Mode = "duration" // Remaining derived from a seconds budget
	Target   Mode = "target"   // Remaining derived from an absolute instant
)

// ParseMode maps user input to a Mode, defaulting to Duration.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "target", "target-time", "target_time":
		return Target
	default:
		return Duration
	}
}

// Direction selects whether the timer stops at zero or keeps going.
type Direction string

const (
	CountDown Direction = "down"
	CountUp   Direction = "up"
)

// ParseDirection maps user input to a Direction, defaulting to CountDown.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "countup", "count-up", "count_up":
		return CountUp
	default:
		return CountDown
	}
}

// Input limits. Values outside these ranges are clamped, never rejected.
const (
	MaxHours        = 99
	MaxMinutes      = 59
	MaxSeconds      = 59
	MaxTargetHour   = 23
	MaxTargetMinute = 59

	// DateLayout is the accepted target date format.
	DateLayout = "2006-01-02"
)

// Request carries the raw inputs of a start call.
type Request struct {
	Hours        int
	Minutes      int
	Seconds      int
	Mode         Mode
	TargetDate   string
	TargetHour   int
	TargetMinute int
	Direction    Direction
}

// Clamp returns a copy with every numeric field forced into range and
// unknown mode/direction values replaced by their defaults.
func (r Request) Clamp() Request {
	r.Hours = clamp(r.Hours, 0, MaxHours)
	r.Minutes = clamp(r.Minutes, 0, MaxMinutes)
	r.Seconds = clamp(r.Seconds, 0, MaxSeconds)
	r.TargetHour = clamp(r.TargetHour, 0, MaxTargetHour)
	r.TargetMinute = clamp(r.TargetMinute, 0, MaxTargetMinute)
	if r.Mode != Target {
		r.Mode = Duration
	}
	if r.Direction != CountUp {
		r.Direction = CountDown
	}
	return r
}

// Budget is the duration-mode length of the request.
func (r Request) Budget() time.Duration {
	return time.Duration(r.Hours)*time.Hour +
		time.Duration(r.Minutes)*time.Minute +
		time.Duration(r.Seconds)*time.Second
}

// TargetInstant resolves the target date, hour and minute in loc. An empty
// or malformed date means today (in loc).
func (r Request) TargetInstant(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(r.TargetDate), loc)
	if err != nil {
		day = now.In(loc)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), r.TargetHour, r.TargetMinute, 0, 0, loc)
}

// Status is a derived view of the timer at one instant.
type Status struct {
	Phase     Phase
	Mode      Mode
	Direction Direction
	Remaining time.Duration // Negative only when counting up
	Total     int64         // Seconds
	Finished  bool
	Target    time.Time // Zero unless Mode is Target
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
