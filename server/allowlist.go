package server

import (
	"log/slog"
	"net/netip"
	"slices"
	"strings"
)

// Allowlist holds the addresses permitted to use control endpoints.
// An empty list denies everyone.
type Allowlist struct {
	entries  []string
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

// NewAllowlist parses single addresses and CIDR prefixes. Entries that
// parse as neither are logged and ignored.
func NewAllowlist(entries []string, logger *slog.Logger) *Allowlist {
	a := &Allowlist{}
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				logger.Warn("Ignoring invalid allowlist prefix", "entry", e, "error", err)
				continue
			}
			a.prefixes = append(a.prefixes, p.Masked())
		} else {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				logger.Warn("Ignoring invalid allowlist address", "entry", e, "error", err)
				continue
			}
			a.addrs = append(a.addrs, addr.Unmap())
		}
		a.entries = append(a.entries, e)
	}
	return a
}

// Allows reports whether ip may use control endpoints.
func (a *Allowlist) Allows(ip string) bool {
	if a == nil {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap().WithZone("")
	if slices.Contains(a.addrs, addr) {
		return true
	}
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Entries returns the accepted entries as configured.
func (a *Allowlist) Entries() []string {
	if a == nil {
		return []string{}
	}
	return append([]string{}, a.entries...)
}

// Len returns the number of accepted entries.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}
