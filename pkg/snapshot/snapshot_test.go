package snapshot

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDecodeStateDefaults(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"empty object", `{}`, false},
		{"nulls", `{"start_time": null, "target_time": null, "mode": null}`, false},
		{"not json", `not json`, true},
		{"array", `[1,2,3]`, true},
		{"negative total", `{"total_seconds": -5}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := DecodeState([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeState() error = %v, wantErr %v", err, tt.wantErr)
			}
			if st == nil {
				t.Fatal("DecodeState() returned nil state")
			}
			if st.Mode != "duration" || st.Direction != "down" || st.TotalSeconds != 0 || st.StartTime != nil {
				t.Errorf("DecodeState() = %+v, want defaults", st)
			}
		})
	}
}

func TestDecodeStateOldDocument(t *testing.T) {
	// Documents written before mode, direction and message existed.
	doc := `{"total_seconds": 120, "remaining_seconds": 61.5, "running": false, "paused": true, "finished": false, "start_time": null}`

	st, err := DecodeState([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	if st.TotalSeconds != 120 || st.RemainingSeconds != 61.5 || !st.Paused {
		t.Errorf("DecodeState() = %+v", st)
	}
	if st.Mode != "duration" || st.Direction != "down" {
		t.Errorf("missing fields not defaulted: mode=%q direction=%q", st.Mode, st.Direction)
	}
}

func TestDecodeHistorySkipsNonStrings(t *testing.T) {
	items, err := DecodeHistory([]byte(`["a", 3, "b", null, {"x": 1}]`))
	if err == nil {
		t.Error("DecodeHistory() error = nil, want skipped-entries error")
	}
	if !slices.Equal(items, []string{"a", "b"}) {
		t.Errorf("DecodeHistory() = %v", items)
	}

	items, err = DecodeHistory([]byte(`[null, "only"]`))
	if err == nil || !strings.Contains(err.Error(), "skipped 1 ") {
		t.Errorf("DecodeHistory(null entry) error = %v, want one skipped entry", err)
	}
	if !slices.Equal(items, []string{"only"}) {
		t.Errorf("DecodeHistory(null entry) = %q", items)
	}

	if _, err := DecodeHistory([]byte(`{"not": "a list"}`)); err == nil {
		t.Error("DecodeHistory() on object error = nil")
	}
}

func TestUnixConversions(t *testing.T) {
	if Unix(time.Time{}) != nil {
		t.Error("Unix(zero) != nil")
	}
	if !Time(nil).IsZero() {
		t.Error("Time(nil) is not zero")
	}
	if !FromUnixSeconds(0).IsZero() {
		t.Error("FromUnixSeconds(0) is not zero")
	}

	at := time.Date(2026, 7, 4, 12, 30, 15, 250_000_000, time.UTC)
	back := Time(Unix(at))
	if d := back.Sub(at); d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("round trip drifted by %v", d)
	}
}
