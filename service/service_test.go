package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"stagetimer/pkg/snapshot"
	"stagetimer/timer"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type memStore struct {
	mu        sync.Mutex
	state     *snapshot.State
	history   []string
	stateErr  error // Returned by LoadState alongside state
	saveErr   error
	saves     int
	histSaves int
}

func (m *memStore) SaveState(_ context.Context, st *snapshot.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *st
	m.state = &cp
	m.saves++
	return nil
}

func (m *memStore) LoadState(context.Context) (*snapshot.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil && m.stateErr == nil {
		return nil, snapshot.ErrNotFound
	}
	if m.state == nil {
		return nil, m.stateErr
	}
	cp := *m.state
	return &cp, m.stateErr
}

func (m *memStore) SaveHistory(_ context.Context, items []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.history = slices.Clone(items)
	m.histSaves++
	return nil
}

func (m *memStore) LoadHistory(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.history == nil {
		return nil, snapshot.ErrNotFound
	}
	return slices.Clone(m.history), nil
}

func (m *memStore) saved() *snapshot.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

var start = time.Date(2026, 9, 12, 18, 0, 0, 0, time.UTC)

func newTestService(store Store) (*Service, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(start)
	svc := New(&Config{
		Store:    store,
		Clock:    fc,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Location: time.UTC,
	})
	return svc, fc
}

func TestStartStatus(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&memStore{})

	if !svc.Start(ctx, timer.Request{Hours: 1, Minutes: 2, Seconds: 3}) {
		t.Fatal("Start() = false")
	}
	st := svc.Status(ctx)
	if st.Remaining != 3723 || st.Total != 3723 {
		t.Errorf("got remaining=%v total=%d, want 3723", st.Remaining, st.Total)
	}
	if st.Phase != timer.Running || !st.Running || st.Finished {
		t.Errorf("got %+v", st)
	}
	if st.ServerTime != start.UnixMilli() {
		t.Errorf("ServerTime = %d, want %d", st.ServerTime, start.UnixMilli())
	}
}

func TestPauseFreezes(t *testing.T) {
	ctx := context.Background()
	svc, fc := newTestService(&memStore{})

	svc.Start(ctx, timer.Request{Minutes: 1})
	fc.Advance(10 * time.Second)
	svc.Pause(ctx)
	fc.Advance(5 * time.Second)

	first := svc.Status(ctx)
	second := svc.Status(ctx)
	if first.Remaining != 50 || second.Remaining != 50 {
		t.Errorf("remaining = %v then %v, want 50 both times", first.Remaining, second.Remaining)
	}
	if !first.Paused {
		t.Error("Paused = false")
	}
}

func TestCountdownFinishIsPersisted(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, fc := newTestService(store)

	svc.Start(ctx, timer.Request{Seconds: 1})
	fc.Advance(2 * time.Second)

	st := svc.Status(ctx)
	if st.Remaining != 0 || !st.Finished {
		t.Errorf("got remaining=%v finished=%v", st.Remaining, st.Finished)
	}
	if again := svc.Status(ctx); !again.Finished {
		t.Error("latch did not stick")
	}

	saved := store.saved()
	if saved == nil || !saved.Finished || saved.Running {
		t.Errorf("saved state = %+v, want finished and stopped", saved)
	}
}

func TestCountUpContinues(t *testing.T) {
	ctx := context.Background()
	svc, fc := newTestService(&memStore{})

	svc.Start(ctx, timer.Request{Seconds: 10, Direction: timer.CountUp})
	fc.Advance(15 * time.Second)

	st := svc.Status(ctx)
	if st.Remaining != -5 || !st.Finished || st.Phase != timer.Running {
		t.Errorf("got %+v, want remaining -5, finished, running", st)
	}
}

func TestTargetMode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&memStore{})

	svc.Start(ctx, timer.Request{Mode: timer.Target, TargetDate: "2030-01-01", TargetHour: 10, TargetMinute: 30})
	st := svc.Status(ctx)

	target := time.Date(2030, 1, 1, 10, 30, 0, 0, time.UTC)
	if want := target.Sub(start).Seconds(); math.Abs(st.Remaining-want) > 0.001 {
		t.Errorf("Remaining = %v, want %v", st.Remaining, want)
	}
	if st.TargetTime == nil || int64(*st.TargetTime) != target.Unix() {
		t.Errorf("TargetTime = %v, want %d", st.TargetTime, target.Unix())
	}
}

func TestResetFromAnyState(t *testing.T) {
	ctx := context.Background()
	svc, fc := newTestService(&memStore{})

	svc.Start(ctx, timer.Request{Seconds: 20, Direction: timer.CountUp})
	fc.Advance(30 * time.Second)
	svc.Status(ctx)
	svc.Reset(ctx)

	st := svc.Status(ctx)
	if st.Phase != timer.Idle || st.Total != 0 || st.Remaining != 0 || st.Finished {
		t.Errorf("after Reset got %+v", st)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(*Service, *clockwork.FakeClock)
	}{
		{"running", func(s *Service, fc *clockwork.FakeClock) {
			s.Start(ctx, timer.Request{Minutes: 10})
			fc.Advance(42 * time.Second)
		}},
		{"paused", func(s *Service, fc *clockwork.FakeClock) {
			s.Start(ctx, timer.Request{Minutes: 10})
			fc.Advance(42 * time.Second)
			s.Pause(ctx)
			fc.Advance(time.Minute)
		}},
		{"counting up past target", func(s *Service, fc *clockwork.FakeClock) {
			s.Start(ctx, timer.Request{Mode: timer.Target, TargetDate: "2026-09-12", TargetHour: 18, TargetMinute: 1, Direction: timer.CountUp})
			fc.Advance(3 * time.Minute)
			s.Status(ctx)
		}},
		{"message", func(s *Service, fc *clockwork.FakeClock) {
			s.SetMessage(ctx, "on air", 60)
			fc.Advance(time.Second)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			orig, fc := newTestService(store)
			tt.setup(orig, fc)
			if err := orig.Flush(ctx); err != nil {
				t.Fatalf("Flush: %v", err)
			}

			restored := New(&Config{
				Store:    store,
				Clock:    fc,
				Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
				Location: time.UTC,
			})
			restored.Restore(ctx)

			want := orig.Status(ctx)
			got := restored.Status(ctx)
			if math.Abs(got.Remaining-want.Remaining) > 0.001 {
				t.Errorf("Remaining = %v, want %v", got.Remaining, want.Remaining)
			}
			if got.Phase != want.Phase || got.Finished != want.Finished || got.Total != want.Total {
				t.Errorf("restored %+v, want %+v", got, want)
			}
			if got.Message != want.Message || math.Abs(got.MessageExpires-want.MessageExpires) > 0.001 {
				t.Errorf("message %q/%v, want %q/%v", got.Message, got.MessageExpires, want.Message, want.MessageExpires)
			}
		})
	}
}

func TestRunningTimerKeepsCountingAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	orig, fc := newTestService(store)

	orig.Start(ctx, timer.Request{Minutes: 5})
	fc.Advance(time.Minute)

	// Process is down for two minutes.
	fc.Advance(2 * time.Minute)
	restored, _ := newTestService(store)
	restored.clock = fc
	restored.Restore(ctx)

	if st := restored.Status(ctx); st.Remaining != 120 {
		t.Errorf("Remaining = %v, want 120", st.Remaining)
	}
}

func TestRestoreFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		svc, _ := newTestService(&memStore{})
		svc.Restore(ctx)
		if st := svc.Status(ctx); st.Phase != timer.Idle {
			t.Errorf("Phase = %q", st.Phase)
		}
	})

	t.Run("unreadable", func(t *testing.T) {
		svc, _ := newTestService(&memStore{stateErr: errors.New("disk on fire")})
		svc.Restore(ctx)
		if st := svc.Status(ctx); st.Phase != timer.Idle || st.Total != 0 {
			t.Errorf("got %+v", st)
		}
	})

	t.Run("partial", func(t *testing.T) {
		doc := snapshot.Default()
		doc.Paused = true
		doc.TotalSeconds = 90
		doc.RemainingSeconds = 30
		svc, _ := newTestService(&memStore{state: doc, stateErr: errors.New(`field "mode": bad`)})
		svc.Restore(ctx)
		if st := svc.Status(ctx); st.Phase != timer.Paused || st.Remaining != 30 {
			t.Errorf("got %+v", st)
		}
	})
}

func TestSaveFailureKeepsMemoryAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := &memStore{saveErr: errors.New("read-only filesystem")}
	svc, fc := newTestService(store)

	svc.Start(ctx, timer.Request{Seconds: 30})
	fc.Advance(10 * time.Second)
	if st := svc.Status(ctx); st.Remaining != 20 {
		t.Errorf("Remaining = %v, want 20", st.Remaining)
	}
	if _, err := svc.Checkpoint(ctx); err == nil {
		t.Error("Checkpoint() error = nil, want store error")
	}
}

func TestCheckpointOnlyWhileRunning(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, _ := newTestService(store)

	if saved, _ := svc.Checkpoint(ctx); saved {
		t.Error("Checkpoint() on idle timer saved")
	}

	svc.Start(ctx, timer.Request{Minutes: 1})
	before := store.saves
	saved, err := svc.Checkpoint(ctx)
	if !saved || err != nil {
		t.Errorf("Checkpoint() = %v, %v", saved, err)
	}
	if store.saves != before+1 {
		t.Errorf("saves = %d, want %d", store.saves, before+1)
	}
}

func TestMessageHistory(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, fc := newTestService(store)

	svc.SetMessage(ctx, "first", 10)
	svc.SetMessage(ctx, "second", 10)
	svc.SetMessage(ctx, "first", 10)

	if got, want := svc.History(), []string{"first", "second"}; !slices.Equal(got, want) {
		t.Errorf("History() = %v, want %v", got, want)
	}
	if !slices.Equal(store.history, []string{"first", "second"}) {
		t.Errorf("saved history = %v", store.history)
	}

	for i := range 21 {
		svc.SetMessage(ctx, fmt.Sprintf("m%02d", i), 10)
	}
	got := svc.History()
	if len(got) != 20 || got[0] != "m20" || got[19] != "m01" {
		t.Errorf("History() = %v", got)
	}

	st := svc.Status(ctx)
	if st.Message != "m20" || st.MessageExpires != float64(fc.Now().Add(10*time.Second).Unix()) {
		t.Errorf("status message %q expires %v", st.Message, st.MessageExpires)
	}

	svc.ClearMessage(ctx)
	if st := svc.Status(ctx); st.Message != "" || st.MessageExpires != 0 {
		t.Errorf("after clear got %q/%v", st.Message, st.MessageExpires)
	}
	if len(svc.History()) != 20 {
		t.Error("ClearMessage changed history")
	}
}

func TestEmptyMessageHasNoExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&memStore{})

	svc.SetMessage(ctx, "intermission", 60)
	svc.SetMessage(ctx, "", 60)

	if st := svc.Status(ctx); st.Message != "" || st.MessageExpires != 0 {
		t.Errorf("got %q expiring %v, want empty with 0", st.Message, st.MessageExpires)
	}
}

func TestExpiredMessageIsStillReported(t *testing.T) {
	ctx := context.Background()
	svc, fc := newTestService(&memStore{})

	svc.SetMessage(ctx, "doors open", 5)
	fc.Advance(time.Minute)

	if st := svc.Status(ctx); st.Message != "doors open" {
		t.Errorf("Message = %q, expiry is left to observers", st.Message)
	}
}

func TestReloadHistory(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, _ := newTestService(store)
	svc.SetMessage(ctx, "local", 10)

	store.mu.Lock()
	store.history = []string{"edited", "elsewhere", "edited"}
	store.mu.Unlock()

	if err := svc.ReloadHistory(ctx); err != nil {
		t.Fatalf("ReloadHistory: %v", err)
	}
	if got := svc.History(); !slices.Equal(got, []string{"edited", "elsewhere"}) {
		t.Errorf("History() = %v", got)
	}
}

func TestConcurrentOperations(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, fc := newTestService(store)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				switch (i + j) % 6 {
				case 0:
					svc.Start(ctx, timer.Request{Seconds: 30})
				case 1:
					svc.Pause(ctx)
				case 2:
					svc.Status(ctx)
				case 3:
					svc.SetMessage(ctx, fmt.Sprintf("msg %d", j%5), 10)
				case 4:
					_, _ = svc.Checkpoint(ctx)
				case 5:
					svc.History()
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 20 {
			fc.Advance(time.Second)
		}
	}()
	wg.Wait()

	// The last write must reflect the last in-memory state.
	st := svc.Status(ctx)
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	saved := store.saved()
	if saved.Running != st.Running || saved.Paused != st.Paused {
		t.Errorf("saved running=%v paused=%v, memory %+v", saved.Running, saved.Paused, st)
	}
}
