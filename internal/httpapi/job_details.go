package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

type renameJobRequest struct {
	Label string `json:"label"`
}

type renameJobResponse struct {
	ID    jobs.ID `json:"id"`
	Label string  `json:"label"`
}

type saveConfigurationRequest struct {
	Settings jobs.Settings `json:"settings"`
}

func jobIDParam(r *http.Request) jobs.ID {
	return jobs.ID(strings.TrimSpace(chi.URLParam(r, "id")))
}

// writeLookupError reports a job the service refused to return as missing.
func writeLookupError(w http.ResponseWriter, err error) {
	if jobs.IsErrorType(err, jobs.ErrBusiness) {
		writeError(w, http.StatusNotFound, jobs.Message(err))
		return
	}
	writeServiceError(w, err)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	d, err := s.detail.Load(r.Context(), jobIDParam(r))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRenameJob(w http.ResponseWriter, r *http.Request) {
	var req renameJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := jobIDParam(r)
	label, err := s.detail.RenameLabel(r.Context(), id, req.Label)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	s.refreshList(r.Context())
	writeJSON(w, http.StatusOK, renameJobResponse{ID: id, Label: label})
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	job, err := s.detail.Job(r.Context(), jobIDParam(r))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.detail.LoadConfiguration(r.Context(), job.ConfigurationID))
}

func (s *Server) handleSaveConfiguration(w http.ResponseWriter, r *http.Request) {
	var req saveConfigurationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Settings) == 0 {
		writeError(w, http.StatusBadRequest, "settings must contain at least one section")
		return
	}
	job, err := s.detail.Job(r.Context(), jobIDParam(r))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	saved, err := s.detail.SaveConfiguration(r.Context(), job.ConfigurationID, req.Settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// refreshList brings the list in line with an edit made from the detail view.
func (s *Server) refreshList(ctx context.Context) {
	if err := s.list.Refresh(ctx); err != nil {
		log.Warn("List refresh after job edit failed: %v", err)
	}
}
