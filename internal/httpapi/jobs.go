package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MimeLyc/jobdesk/internal/batch"
	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/listing"
	"github.com/MimeLyc/jobdesk/internal/view"
)

type sortRequest struct {
	Field     view.Field     `json:"field"`
	Direction view.Direction `json:"direction"`
	// Toggle flips the direction when Field is already the sort key.
	Toggle bool `json:"toggle"`
}

type pageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type searchRequest struct {
	Query     string `json:"query"`
	Immediate bool   `json:"immediate"`
}

type selectionRequest struct {
	Action   string  `json:"action"`
	ID       jobs.ID `json:"id"`
	Selected bool    `json:"selected"`
}

type batchRequest struct {
	Operation string `json:"operation"`
}

// respondView writes the list view. A failed fetch is already part of the
// view, so only rejected input fails the request.
func (s *Server) respondView(w http.ResponseWriter, status int, err error) {
	if err != nil && isInputError(err) {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, status, s.list.View())
}

func isInputError(err error) bool {
	return errors.Is(err, listing.ErrInvalidPageSize) || jobs.IsErrorType(err, jobs.ErrValidation)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.list.View())
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req view.FilterSpec
	if !decodeJSON(w, r, &req) {
		return
	}
	s.respondView(w, http.StatusOK, s.list.SetFilter(r.Context(), req))
}

func (s *Server) handleSetSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	if req.Toggle {
		err = s.list.ToggleSort(r.Context(), req.Field)
	} else {
		err = s.list.SetSort(r.Context(), view.SortSpec{Field: req.Field, Direction: req.Direction})
	}
	s.respondView(w, http.StatusOK, err)
}

func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	if req.PageSize != 0 && req.PageSize != s.list.Query().PageSize {
		err = s.list.SetPageSize(r.Context(), req.PageSize)
	} else {
		err = s.list.SetPage(r.Context(), req.Page)
	}
	s.respondView(w, http.StatusOK, err)
}

// handleSetSearch debounces keystrokes unless the client asks for the query
// to apply immediately.
func (s *Server) handleSetSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Immediate {
		s.respondView(w, http.StatusOK, s.list.SearchNow(r.Context(), req.Query))
		return
	}
	s.list.SetSearch(req.Query)
	s.respondView(w, http.StatusAccepted, nil)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	retry, _ := strconv.ParseBool(r.URL.Query().Get("retry"))
	var err error
	if retry {
		err = s.list.Retry(r.Context())
	} else {
		err = s.list.Refresh(r.Context())
	}
	s.respondView(w, http.StatusOK, err)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.Action {
	case "toggle":
		if req.ID == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		s.list.Toggle(req.ID, req.Selected)
	case "visible":
		s.list.SelectAllVisible(req.Selected)
	case "clear":
		s.list.ClearSelection()
	default:
		writeError(w, http.StatusBadRequest, "action must be one of toggle, visible, clear")
		return
	}
	writeJSON(w, http.StatusOK, s.list.View())
}

// handleBatch runs the operation over the current selection. The batch
// keeps running if the client disconnects.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	op, err := batch.ParseOperation(req.Operation)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := s.list.RunBatch(context.WithoutCancel(r.Context()), op)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
