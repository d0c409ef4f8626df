// Package service owns the one timer and message board of the process.
//
// Every operation runs under a single mutex so concurrent handlers and the
// autosave heartbeat never interleave. State is copied under the lock and
// written afterwards, so slow storage never blocks a status poll.
package service

import (
	"context"
	"errors"
	"log/slog"
	"stagetimer/board"
	"stagetimer/pkg/snapshot"
	"stagetimer/timer"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Store interface for snapshot persistence.
type Store interface {
	SaveState(ctx context.Context, st *snapshot.State) error
	LoadState(ctx context.Context) (*snapshot.State, error)
	SaveHistory(ctx context.Context, items []string) error
	LoadHistory(ctx context.Context) ([]string, error)
}

// Status is the response of a status query.
type Status struct {
	Phase          timer.Phase     `json:"phase"`
	Mode           timer.Mode      `json:"mode"`
	Direction      timer.Direction `json:"direction"`
	Running        bool            `json:"running"`
	Paused         bool            `json:"paused"`
	Remaining      float64         `json:"remaining"` // Seconds, negative only when counting up
	Total          int64           `json:"total"`
	Finished       bool            `json:"finished"`
	TargetTime     *float64        `json:"target_time"`     // Unix seconds
	ServerTime     int64           `json:"server_time"`     // Unix milliseconds, for client clock correction
	Message        string          `json:"message"`         // Shown until MessageExpires; observers hide it after
	MessageExpires float64         `json:"message_expires"` // Unix seconds, 0 when there is no message
}

// Config holds service dependencies.
type Config struct {
	Store    Store
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Location *time.Location // Zone target dates are resolved in; defaults to time.Local
}

// Service is the timer engine and message board behind one lock.
type Service struct {
	mu    sync.Mutex
	timer *timer.Timer
	board *board.Board

	stateSeq   uint64 // Bumped under mu each time a state copy is taken
	historySeq uint64

	saveMu       sync.Mutex
	savedState   uint64 // Highest stateSeq written, guarded by saveMu
	savedHistory uint64

	store  Store
	clock  clockwork.Clock
	logger *slog.Logger
	loc    *time.Location
}

// New creates an idle service. Call Restore before serving requests.
func New(cfg *Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		timer:  timer.New(),
		board:  board.New(),
		store:  cfg.Store,
		clock:  clock,
		logger: cfg.Logger,
		loc:    loc,
	}
}

// Start begins or resumes the timer. It reports whether the timer is now
// running because of this call.
func (s *Service) Start(ctx context.Context, req timer.Request) bool {
	s.mu.Lock()
	now := s.clock.Now()
	started := s.timer.Start(req, now, s.loc)
	st := s.timer.Peek(now)
	doc, seq := s.stateLocked(now)
	s.mu.Unlock()

	if started {
		s.logger.Info("Timer started",
			"mode", st.Mode,
			"direction", st.Direction,
			"total_seconds", st.Total,
			"remaining_seconds", st.Remaining.Seconds())
	} else {
		s.logger.Info("Timer start ignored", "phase", st.Phase, "remaining_seconds", st.Remaining.Seconds())
	}

	s.persist(ctx, doc, seq)
	return started
}

// Pause freezes a running timer. It reports whether the timer was running.
func (s *Service) Pause(ctx context.Context) bool {
	s.mu.Lock()
	now := s.clock.Now()
	paused := s.timer.Pause(now)
	remaining := s.timer.Peek(now).Remaining
	doc, seq := s.stateLocked(now)
	s.mu.Unlock()

	if paused {
		s.logger.Info("Timer paused", "remaining_seconds", remaining.Seconds())
	}

	s.persist(ctx, doc, seq)
	return paused
}

// Reset returns the timer to idle. The message board is left alone.
func (s *Service) Reset(ctx context.Context) {
	s.mu.Lock()
	now := s.clock.Now()
	s.timer.Reset()
	doc, seq := s.stateLocked(now)
	s.mu.Unlock()

	s.logger.Info("Timer reset")
	s.persist(ctx, doc, seq)
}

// Status derives the live status. This is a read with one side effect: the
// first call after a countdown reaches zero latches it as finished (and
// stops it), and that transition is persisted.
func (s *Service) Status(ctx context.Context) Status {
	s.mu.Lock()
	now := s.clock.Now()
	st, changed := s.timer.Status(now)
	out := s.statusLocked(st, now)
	var doc *snapshot.State
	var seq uint64
	if changed {
		doc, seq = s.stateLocked(now)
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("Timer finished", "direction", st.Direction, "remaining_seconds", st.Remaining.Seconds())
		s.persist(ctx, doc, seq)
	}
	return out
}

// SetMessage shows text on the overlay for the given number of seconds.
func (s *Service) SetMessage(ctx context.Context, text string, seconds int) {
	s.mu.Lock()
	now := s.clock.Now()
	stored, d := s.board.Set(text, seconds, now)
	doc, seq := s.stateLocked(now)
	items, hseq := s.historyLocked()
	s.mu.Unlock()

	s.logger.Info("Message set", "length", len([]rune(stored)), "duration_seconds", int(d.Seconds()))
	s.persist(ctx, doc, seq)
	s.persistHistory(ctx, items, hseq)
}

// ClearMessage removes the current message.
func (s *Service) ClearMessage(ctx context.Context) {
	s.mu.Lock()
	now := s.clock.Now()
	s.board.Clear()
	doc, seq := s.stateLocked(now)
	s.mu.Unlock()

	s.logger.Info("Message cleared")
	s.persist(ctx, doc, seq)
}

// History returns previously sent messages, most recent first.
func (s *Service) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.History()
}

// Checkpoint writes a snapshot if the timer is running. It reports whether
// a snapshot was taken.
func (s *Service) Checkpoint(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.timer.Phase() != timer.Running {
		s.mu.Unlock()
		return false, nil
	}
	doc, seq := s.stateLocked(s.clock.Now())
	s.mu.Unlock()

	return true, s.save(ctx, doc, seq)
}

// Flush writes the current state and history unconditionally.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	doc, seq := s.stateLocked(s.clock.Now())
	items, hseq := s.historyLocked()
	s.mu.Unlock()

	return errors.Join(s.save(ctx, doc, seq), s.saveHistory(ctx, items, hseq))
}

// Restore loads the persisted state and history. It never fails: missing or
// unreadable documents leave the defaults in place and are logged.
func (s *Service) Restore(ctx context.Context) {
	doc, err := s.store.LoadState(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		s.logger.Info("No saved timer state, starting idle")
	case err != nil && doc == nil:
		s.logger.Warn("Failed to load timer state, starting idle", "error", err)
	case err != nil:
		s.logger.Warn("Timer state partly unreadable, using defaults for bad fields", "error", err)
	}

	items, herr := s.store.LoadHistory(ctx)
	switch {
	case errors.Is(herr, snapshot.ErrNotFound):
		items = nil
	case herr != nil:
		s.logger.Warn("Message history partly unreadable", "error", herr, "kept", len(items))
	}

	s.mu.Lock()
	if doc != nil {
		s.timer.Import(doc)
		s.board.Restore(doc.Message, snapshot.FromUnixSeconds(doc.MessageExpires))
	}
	s.board.ReplaceHistory(items)
	st := s.timer.Peek(s.clock.Now())
	s.mu.Unlock()

	s.logger.Info("Timer state restored",
		"phase", st.Phase,
		"mode", st.Mode,
		"direction", st.Direction,
		"remaining_seconds", st.Remaining.Seconds(),
		"history", len(items))
}

// ReloadHistory replaces the in-memory history with the stored document,
// for when another process has edited it.
func (s *Service) ReloadHistory(ctx context.Context) error {
	items, err := s.store.LoadHistory(ctx)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil
	}
	if err != nil && items == nil {
		return err
	}
	if err != nil {
		s.logger.Warn("Message history partly unreadable", "error", err, "kept", len(items))
	}

	s.mu.Lock()
	s.board.ReplaceHistory(items)
	s.mu.Unlock()
	return nil
}

func (s *Service) statusLocked(st timer.Status, now time.Time) Status {
	return Status{
		Phase:          st.Phase,
		Mode:           st.Mode,
		Direction:      st.Direction,
		Running:        st.Phase == timer.Running,
		Paused:         st.Phase == timer.Paused,
		Remaining:      st.Remaining.Seconds(),
		Total:          st.Total,
		Finished:       st.Finished,
		TargetTime:     snapshot.Unix(st.Target),
		ServerTime:     now.UnixMilli(),
		Message:        s.board.Text(),
		MessageExpires: snapshot.UnixSeconds(s.board.ExpiresAt()),
	}
}

func (s *Service) stateLocked(now time.Time) (*snapshot.State, uint64) {
	doc := snapshot.Default()
	s.timer.Export(doc)
	doc.Message = s.board.Text()
	doc.MessageExpires = snapshot.UnixSeconds(s.board.ExpiresAt())
	doc.SavedAt = snapshot.UnixSeconds(now)
	s.stateSeq++
	return doc, s.stateSeq
}

func (s *Service) historyLocked() ([]string, uint64) {
	s.historySeq++
	return s.board.History(), s.historySeq
}

// persist writes a state copy and logs failures. In-memory state stays
// authoritative; the next mutation or autosave retries implicitly.
func (s *Service) persist(ctx context.Context, doc *snapshot.State, seq uint64) {
	if err := s.save(ctx, doc, seq); err != nil {
		s.logger.Warn("Failed to save timer state", "error", err)
	}
}

func (s *Service) persistHistory(ctx context.Context, items []string, seq uint64) {
	if err := s.saveHistory(ctx, items, seq); err != nil {
		s.logger.Warn("Failed to save message history", "error", err)
	}
}

// save drops copies older than one already written, so a slow writer can
// never roll the document back.
func (s *Service) save(ctx context.Context, doc *snapshot.State, seq uint64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if seq <= s.savedState {
		return nil
	}
	if err := s.store.SaveState(context.WithoutCancel(ctx), doc); err != nil {
		return err
	}
	s.savedState = seq
	return nil
}

func (s *Service) saveHistory(ctx context.Context, items []string, seq uint64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if seq <= s.savedHistory {
		return nil
	}
	if err := s.store.SaveHistory(context.WithoutCancel(ctx), items); err != nil {
		return err
	}
	s.savedHistory = seq
	return nil
}
