package server

import (
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	positions  = []string{"top-left", "top-right", "bottom-left", "bottom-right", "center"}
	colorRegex = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|[a-zA-Z]{1,20}|transparent)$`)
)

const (
	defaultFontSize = 100
	minFontSize     = 10
	maxFontSize     = 1000
)

// overlayOptions are the display settings read from the overlay URL.
type overlayOptions struct {
	Background          string
	TransparentBg       bool
	FontColor           string
	WarningColor1       string
	WarningColor2       string
	ShowSeconds         bool
	HideHourAuto        bool
	HideSecondsOverHour bool
	ShowShadow          bool
	FontSize            int
	Position            string
}

func parseOverlayOptions(q url.Values) overlayOptions {
	o := overlayOptions{
		Background:          color(q.Get("background"), "#000000"),
		TransparentBg:       q.Get("transparent-bg") == "true",
		FontColor:           color(q.Get("font-color"), "#00ff00"),
		WarningColor1:       color(q.Get("warning-color-1"), "#ff8800"),
		WarningColor2:       color(q.Get("warning-color-2"), "#ff4444"),
		ShowSeconds:         !strings.EqualFold(q.Get("show-seconds"), "false"),
		HideHourAuto:        strings.EqualFold(q.Get("hide-hour-auto"), "on"),
		HideSecondsOverHour: strings.EqualFold(q.Get("hide-seconds-over-hour"), "true"),
		ShowShadow:          !strings.EqualFold(q.Get("no-shadow"), "true"),
		FontSize:            defaultFontSize,
		Position:            "center",
	}
	if o.TransparentBg {
		o.Background = "transparent"
	}
	if n, err := strconv.Atoi(q.Get("font-size")); err == nil && n > 0 {
		o.FontSize = min(max(n, minFontSize), maxFontSize)
	}
	if p := strings.ToLower(strings.TrimSpace(q.Get("position"))); slices.Contains(positions, p) {
		o.Position = p
	}
	return o
}

// color returns v when it looks like a CSS color, otherwise def.
func color(v, def string) string {
	v = strings.TrimSpace(v)
	if colorRegex.MatchString(v) {
		return v
	}
	return def
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	s.viewers.touch(clientIP(r))
	s.render(w, r, "overlay.tmpl", parseOverlayOptions(r.URL.Query()))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "control.tmpl", map[string]any{
		"Positions": positions,
	})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "help.tmpl", map[string]any{
		"Positions":       positions,
		"DefaultFontSize": defaultFontSize,
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")

	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.requestLogger(r).Error("Failed to render template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
