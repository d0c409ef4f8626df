package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"stagetimer/service"
	"stagetimer/timer"
	"strconv"
	"strings"
)

// defaultMessageSeconds applies when a message request has no duration.
const defaultMessageSeconds = 10

// flexInt accepts a JSON number, a numeric string, or null. Anything else
// decodes to zero; range checks happen downstream.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = 0
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
	} else {
		s = string(data)
	}

	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	*f = flexInt(max(math.MinInt32, min(math.MaxInt32, math.Trunc(v))))
	return nil
}

type startRequest struct {
	Hours        flexInt `json:"hours"`
	Minutes      flexInt `json:"minutes"`
	Seconds      flexInt `json:"seconds"`
	Mode         string  `json:"mode"`
	TargetDate   string  `json:"target_date"`
	TargetHour   flexInt `json:"target_hour"`
	TargetMinute flexInt `json:"target_minute"`
	Direction    string  `json:"direction"`
}

func (r startRequest) timerRequest() timer.Request {
	return timer.Request{
		Hours:        int(r.Hours),
		Minutes:      int(r.Minutes),
		Seconds:      int(r.Seconds),
		Mode:         timer.ParseMode(r.Mode),
		TargetDate:   strings.TrimSpace(r.TargetDate),
		TargetHour:   int(r.TargetHour),
		TargetMinute: int(r.TargetMinute),
		Direction:    timer.ParseDirection(r.Direction),
	}
}

type messageRequest struct {
	Text     string   `json:"text"`
	Duration *flexInt `json:"duration"`
}

type statusResponse struct {
	service.Status
	ConnectedClients int `json:"connected_clients"`
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("viewer") == "1" {
		s.viewers.touch(clientIP(r))
	}

	st := s.timer.Status(r.Context())
	s.requestLogger(r).Debug("Status served", "phase", st.Phase, "remaining", st.Remaining)
	writeJSON(w, s.requestLogger(r), http.StatusOK, statusResponse{
		Status:           st,
		ConnectedClients: s.viewers.count(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("Invalid start request", "error", err)
		writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	tr := req.timerRequest()
	started := s.timer.Start(r.Context(), tr)
	logger.Info("Start requested",
		"ip", clientIP(r),
		"hours", tr.Hours,
		"minutes", tr.Minutes,
		"seconds", tr.Seconds,
		"mode", tr.Mode,
		"direction", tr.Direction,
		"target_date", tr.TargetDate,
		"started", started)
	writeSuccess(w, logger)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	paused := s.timer.Pause(r.Context())
	logger.Info("Pause requested", "ip", clientIP(r), "paused", paused)
	writeSuccess(w, logger)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	s.timer.Reset(r.Context())
	logger.Info("Reset requested", "ip", clientIP(r))
	writeSuccess(w, logger)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, logger, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
			return
		}
		logger.Warn("Invalid message request", "error", err)
		writeJSON(w, logger, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	seconds := defaultMessageSeconds
	if req.Duration != nil {
		seconds = int(*req.Duration)
	}
	s.timer.SetMessage(r.Context(), req.Text, seconds)
	logger.Info("Message set", "ip", clientIP(r), "length", len([]rune(req.Text)), "duration_seconds", seconds)
	writeSuccess(w, logger)
}

func (s *Server) handleMessageClear(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	s.timer.ClearMessage(r.Context())
	logger.Info("Message cleared", "ip", clientIP(r))
	writeSuccess(w, logger)
}

func (s *Server) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	history := s.timer.History()
	if history == nil {
		history = []string{}
	}
	writeJSON(w, s.requestLogger(r), http.StatusOK, map[string][]string{"history": history})
}

func (s *Server) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.requestLogger(r), http.StatusOK, map[string]any{
		"allowlist": s.allowlist.Entries(),
		"your_ip":   clientIP(r),
		"access":    "granted",
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	list := s.viewers.list()
	writeJSON(w, s.requestLogger(r), http.StatusOK, map[string]any{
		"connected_count": len(list),
		"clients":         list,
	})
}
