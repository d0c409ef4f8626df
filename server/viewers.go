package server

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultViewerTimeout is how long an overlay counts as connected after its
// last request.
const DefaultViewerTimeout = 10 * time.Second

// viewers tracks overlay pages by client IP.
type viewers struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	timeout  time.Duration
	lastSeen map[string]time.Time
}

func newViewers(clock clockwork.Clock, timeout time.Duration) *viewers {
	if timeout <= 0 {
		timeout = DefaultViewerTimeout
	}
	return &viewers{
		clock:    clock,
		timeout:  timeout,
		lastSeen: make(map[string]time.Time),
	}
}

func (v *viewers) touch(ip string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastSeen[ip] = v.clock.Now()
}

// viewer is one connected overlay, as reported by /api/clients.
type viewer struct {
	IP         string `json:"ip"`
	LastSeen   string `json:"last_seen"`
	SecondsAgo int    `json:"seconds_ago"`
}

func (v *viewers) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pruneLocked()
	return len(v.lastSeen)
}

func (v *viewers) list() []viewer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pruneLocked()
	now := v.clock.Now()
	out := make([]viewer, 0, len(v.lastSeen))
	for ip, seen := range v.lastSeen {
		out = append(out, viewer{
			IP:         ip,
			LastSeen:   seen.Format(time.TimeOnly),
			SecondsAgo: int(now.Sub(seen).Seconds()),
		})
	}
	slices.SortFunc(out, func(a, b viewer) int { return cmp.Compare(a.IP, b.IP) })
	return out
}

func (v *viewers) pruneLocked() {
	now := v.clock.Now()
	for ip, seen := range v.lastSeen {
		if now.Sub(seen) > v.timeout {
			delete(v.lastSeen, ip)
		}
	}
}
