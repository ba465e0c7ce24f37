package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MimeLyc/jobdesk/internal/batch"
	"github.com/MimeLyc/jobdesk/internal/config"
	"github.com/MimeLyc/jobdesk/internal/detail"
	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/listing"
	"github.com/MimeLyc/jobdesk/pkg/icron"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

type settingsResponse struct {
	config.ViewSettings
	NextRefresh *icron.TriggerInfo `json:"next_refresh,omitempty"`
}

func (s *Server) settingsResponse(settings config.ViewSettings) settingsResponse {
	ret := settingsResponse{ViewSettings: settings}
	if strings.TrimSpace(settings.RefreshCron) == "" {
		return ret
	}
	info, err := icron.GetTriggerInfo(settings.RefreshCron, s.now())
	if err != nil {
		log.Warn("Failed to compute next refresh for %q: %v", settings.RefreshCron, err)
		return ret
	}
	ret.NextRefresh = info
	return ret
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	settings, err := s.settings.GetViewSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settingsResponse(settings))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}
	var req config.ViewSettings
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.settings.UpdateViewSettings(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.apply != nil {
		if err := s.apply(saved); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, s.settingsResponse(saved))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var jobErr *jobs.Error
	switch {
	case errors.Is(err, batch.ErrBatchInProgress):
		return http.StatusConflict
	case errors.Is(err, listing.ErrInvalidPageSize):
		return http.StatusBadRequest
	case errors.Is(err, detail.ErrNoConfiguration), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &jobErr):
		switch jobErr.Type {
		case jobs.ErrValidation:
			return http.StatusBadRequest
		case jobs.ErrBusiness:
			return http.StatusUnprocessableEntity
		case jobs.ErrTransport:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), jobs.Message(err))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
