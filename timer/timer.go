// Package timer implements the countdown/count-up state machine.
//
// Remaining time is never ticked down in place. It is derived from the last
// checkpoint (remaining, instant) and the caller-supplied current time, so a
// status read is exact however rarely it is polled. Timer does no locking and
// no I/O; the service package owns both.
package timer

import (
	"stagetimer/pkg/snapshot"
	"time"
)

// Timer is the single-run timer state. The zero value is not usable; call New.
type Timer struct {
	phase      Phase
	mode       Mode
	direction  Direction
	total      int64         // Seconds the run was started with
	remaining  time.Duration // As of checkpoint
	checkpoint time.Time     // Zero unless running
	target     time.Time     // Zero unless target mode
	finished   bool
}

// New returns an idle timer.
func New() *Timer {
	t := &Timer{}
	t.Reset()
	return t
}

// Phase reports the current phase without evaluating the finish latch.
func (t *Timer) Phase() Phase {
	return t.phase
}

// Start begins a new run from Idle or resumes from Paused. It is a no-op
// while running. It reports whether the timer is now running.
func (t *Timer) Start(req Request, now time.Time, loc *time.Location) bool {
	if t.phase == Running {
		return false
	}

	if t.phase != Paused {
		req = req.Clamp()
		t.mode = req.Mode
		t.direction = req.Direction
		t.target = time.Time{}

		switch t.mode {
		case Target:
			t.target = req.TargetInstant(now, loc)
			t.total = max(0, int64(t.target.Sub(now)/time.Second))
		case Duration:
			t.total = int64(req.Budget() / time.Second)
		}
		t.remaining = time.Duration(t.total) * time.Second
	}

	t.finished = false

	// A countdown that reached zero stays put; target and count-up runs may
	// always (re)start.
	if t.remaining <= 0 && t.mode != Target && t.direction != CountUp {
		return false
	}

	t.phase = Running
	t.checkpoint = now
	return true
}

// Pause freezes the remaining time. It reports whether anything changed.
func (t *Timer) Pause(now time.Time) bool {
	if t.phase != Running {
		return false
	}

	t.remaining = t.live(now)
	if t.remaining < 0 && t.direction == CountDown {
		t.remaining = 0
	}
	t.checkpoint = time.Time{}
	t.phase = Paused
	return true
}

// Reset returns the timer to idle defaults.
func (t *Timer) Reset() {
	*t = Timer{
		phase:     Idle,
		mode:      Duration,
		direction: CountDown,
	}
}

// Status derives the status at now and applies the finish latch. The second
// result reports whether the latch fired on this call, i.e. whether the
// state changed and should be persisted.
func (t *Timer) Status(now time.Time) (Status, bool) {
	st := t.Peek(now)
	if t.phase != Running || !st.Finished || t.finished {
		return st, false
	}

	t.finished = true
	if st.Phase != Running {
		// Countdown termination is one-way until the next start or reset.
		t.phase = st.Phase
		t.remaining = 0
		t.checkpoint = time.Time{}
	}
	return st, true
}

// Peek derives the status at now without mutating the timer. When the finish
// latch would fire, the result already shows the post-latch state.
func (t *Timer) Peek(now time.Time) Status {
	st := Status{
		Phase:     t.phase,
		Mode:      t.mode,
		Direction: t.direction,
		Total:     t.total,
		Finished:  t.finished,
		Target:    t.target,
	}

	if t.phase != Running {
		st.Remaining = t.remaining
		if t.direction == CountDown && st.Remaining < 0 {
			st.Remaining = 0
		}
		return st
	}

	st.Remaining = t.live(now)
	switch t.direction {
	case CountDown:
		if st.Remaining <= 0 {
			st.Remaining = 0
			if !t.finished {
				st.Finished = true
				st.Phase = Idle
			}
		}
	case CountUp:
		if st.Remaining < 0 {
			st.Finished = true
		}
	}
	return st
}

func (t *Timer) live(now time.Time) time.Duration {
	if t.mode == Target {
		return t.target.Sub(now)
	}
	return t.remaining - now.Sub(t.checkpoint)
}

// Export copies the timer fields into doc.
func (t *Timer) Export(doc *snapshot.State) {
	doc.TotalSeconds = float64(t.total)
	doc.RemainingSeconds = t.remaining.Seconds()
	doc.Running = t.phase == Running
	doc.Paused = t.phase == Paused
	doc.Finished = t.finished
	doc.Mode = string(t.mode)
	doc.Direction = string(t.direction)
	doc.StartTime = snapshot.Unix(t.checkpoint)
	doc.TargetTime = snapshot.Unix(t.target)
}

// Import replaces the timer with the state held in doc. Inconsistent
// combinations are repaired rather than rejected.
func (t *Timer) Import(doc *snapshot.State) {
	t.Reset()
	if doc == nil {
		return
	}

	t.mode = ParseMode(doc.Mode)
	t.direction = ParseDirection(doc.Direction)
	t.total = max(0, int64(doc.TotalSeconds))
	t.remaining = time.Duration(doc.RemainingSeconds * float64(time.Second))
	if t.direction == CountDown && t.remaining < 0 {
		t.remaining = 0
	}
	t.finished = doc.Finished

	t.target = snapshot.Time(doc.TargetTime)
	if t.mode == Target && t.target.IsZero() {
		t.mode = Duration
	}

	checkpoint := snapshot.Time(doc.StartTime)
	switch {
	case doc.Running && !checkpoint.IsZero():
		t.phase = Running
		t.checkpoint = checkpoint
	case doc.Running, doc.Paused:
		// Running without a checkpoint cannot be re-derived; keep it frozen.
		t.phase = Paused
	}
}
