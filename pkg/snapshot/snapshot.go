// Package snapshot contains the durable document types shared by the timer
// service and its storage backends.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotFound is returned by stores when a document has never been written.
var ErrNotFound = errors.New("snapshot: document doesn't exist")

// State is the on-disk timer and message document.
// Field names are part of the file format and must not change.
type State struct {
	TotalSeconds     float64  `json:"total_seconds"`
	RemainingSeconds float64  `json:"remaining_seconds"` // As of StartTime, or frozen while paused
	Running          bool     `json:"running"`
	Paused           bool     `json:"paused"`
	Finished         bool     `json:"finished"`
	Mode             string   `json:"mode"`
	Direction        string   `json:"direction"`
	StartTime        *float64 `json:"start_time"`  // Checkpoint instant (unix seconds), null unless running
	TargetTime       *float64 `json:"target_time"` // Absolute target (unix seconds), null unless target mode
	Message          string   `json:"message"`
	MessageExpires   float64  `json:"message_expires"` // Unix seconds, 0 when cleared
	SavedAt          float64  `json:"saved_at"`
}

// Default returns the idle document used when nothing has been persisted.
func Default() *State {
	return &State{
		Mode:      "duration",
		Direction: "down",
	}
}

// EncodeState serializes a state document.
func EncodeState(st *State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// DecodeState decodes a state document field by field. Fields that are
// missing or malformed keep their default value. The returned state is never
// nil; a non-nil error describes what was skipped.
func DecodeState(data []byte) (*State, error) {
	st := Default()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return st, fmt.Errorf("decode state document: %w", err)
	}

	errs := []error{
		decodeField(fields, "total_seconds", &st.TotalSeconds),
		decodeField(fields, "remaining_seconds", &st.RemainingSeconds),
		decodeField(fields, "running", &st.Running),
		decodeField(fields, "paused", &st.Paused),
		decodeField(fields, "finished", &st.Finished),
		decodeField(fields, "mode", &st.Mode),
		decodeField(fields, "direction", &st.Direction),
		decodeField(fields, "start_time", &st.StartTime),
		decodeField(fields, "target_time", &st.TargetTime),
		decodeField(fields, "message", &st.Message),
		decodeField(fields, "message_expires", &st.MessageExpires),
		decodeField(fields, "saved_at", &st.SavedAt),
	}

	// NaN and Inf cannot come out of encoding/json, but negative totals can.
	if st.TotalSeconds < 0 {
		errs = append(errs, fmt.Errorf("field %q: negative value %v", "total_seconds", st.TotalSeconds))
		st.TotalSeconds = 0
	}

	return st, errors.Join(errs...)
}

func decodeField[T any](fields map[string]json.RawMessage, key string, dst *T) error {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	*dst = v
	return nil
}

// EncodeHistory serializes the message history as a plain JSON array.
func EncodeHistory(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return data, nil
}

// DecodeHistory decodes a message history document. Entries that are not
// strings, null included, are dropped.
func DecodeHistory(data []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode history document: %w", err)
	}

	items := make([]string, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var s *string
		if err := json.Unmarshal(r, &s); err != nil || s == nil {
			skipped++
			continue
		}
		items = append(items, *s)
	}

	if skipped > 0 {
		return items, fmt.Errorf("decode history document: skipped %d non-string entries", skipped)
	}
	return items, nil
}

// Unix converts an instant to fractional unix seconds. The zero time maps to nil.
func Unix(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := UnixSeconds(t)
	return &v
}

// UnixSeconds converts an instant to fractional unix seconds, 0 for the zero time.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts fractional unix seconds back to an instant. Nil and
// non-positive values map to the zero time.
func Time(v *float64) time.Time {
	if v == nil {
		return time.Time{}
	}
	return FromUnixSeconds(*v)
}

// FromUnixSeconds is the inverse of UnixSeconds.
func FromUnixSeconds(v float64) time.Time {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}
