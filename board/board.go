// Package board holds the overlay message: a short-lived annotation with an
// advisory expiry and a bounded, most-recent-first history of what was sent.
package board

import (
	"slices"
	"time"
)

const (
	MaxTextLength = 200 // Characters, not bytes
	MinDuration   = 1 * time.Second
	MaxDuration   = 300 * time.Second
	HistoryLimit  = 20
)

// Board is not safe for concurrent use; the service serializes access.
type Board struct {
	text      string
	expiresAt time.Time
	history   []string
}

// New returns an empty board.
func New() *Board {
	return &Board{}
}

// Set shows text until now+seconds and records it in the history. Text is
// truncated and the duration clamped; nothing is rejected. Empty text clears
// the board. It returns the stored text and the applied duration.
func (b *Board) Set(text string, seconds int, now time.Time) (string, time.Duration) {
	text = truncate(text, MaxTextLength)
	secs := max(int(MinDuration/time.Second), min(seconds, int(MaxDuration/time.Second)))
	d := time.Duration(secs) * time.Second

	if text == "" {
		b.Clear()
		return "", d
	}

	b.text = text
	b.expiresAt = now.Add(d)
	b.history = push(b.history, text)
	return text, d
}

// Clear removes the current message. Expiry goes back to the zero sentinel.
func (b *Board) Clear() {
	b.text = ""
	b.expiresAt = time.Time{}
}

// Restore reinstates a persisted message without touching the history.
func (b *Board) Restore(text string, expiresAt time.Time) {
	b.text = truncate(text, MaxTextLength)
	b.expiresAt = expiresAt
	if b.text == "" {
		b.expiresAt = time.Time{}
	}
}

// Text returns the current message, expired or not.
func (b *Board) Text() string {
	return b.text
}

// ExpiresAt returns the advisory expiry, zero when cleared.
func (b *Board) ExpiresAt() time.Time {
	return b.expiresAt
}

// Expired reports whether observers should hide the message at now.
// The board itself never clears an expired message.
func (b *Board) Expired(now time.Time) bool {
	return b.text == "" || !now.Before(b.expiresAt)
}

// History returns a copy of the history, most recent first.
func (b *Board) History() []string {
	return slices.Clone(b.history)
}

// ReplaceHistory swaps in a history loaded from elsewhere. Order is kept,
// later duplicates are dropped and the result is capped.
func (b *Board) ReplaceHistory(items []string) {
	out := make([]string, 0, min(len(items), HistoryLimit))
	for _, item := range items {
		item = truncate(item, MaxTextLength)
		if item == "" || slices.Contains(out, item) {
			continue
		}
		out = append(out, item)
		if len(out) == HistoryLimit {
			break
		}
	}
	b.history = out
}

func push(history []string, text string) []string {
	history = slices.DeleteFunc(history, func(s string) bool { return s == text })
	history = slices.Insert(history, 0, text)
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	return history
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
