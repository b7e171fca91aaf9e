package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	dead, err := s.store.ListDeadLetters(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]deadLetterView, len(dead))
	for i, d := range dead {
		out[i] = deadLetterView{jobView: newJobView(&d.Job), FailedAt: d.FailedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) countDeadLetters(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.store.CountDeadLetters(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countBody{Count: n})
}

type resubmitRequest struct {
	Retries *int       `json:"retries"`
	DueDate *time.Time `json:"due_date"`
}

// resubmit moves a dead letter back to its lane. An empty body resubmits
// with the default retries, due now.
func (s *Server) resubmit(w http.ResponseWriter, r *http.Request) {
	var req resubmitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
			return
		}
	}
	retries := s.defaultRetries
	if req.Retries != nil {
		retries = *req.Retries
	}
	if retries < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "retries must be at least 1"})
		return
	}
	due := s.clock.Now()
	if req.DueDate != nil {
		due = req.DueDate.UTC()
	}

	j, err := s.store.ResubmitDeadLetter(r.Context(), chi.URLParam(r, "id"), retries, due)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("dead letter resubmitted", zap.String("job_id", j.ID), zap.String("kind", string(j.Kind)), zap.Int("retries", retries))
	s.hint(j.Kind)
	writeJSON(w, http.StatusOK, newJobView(j))
}

func (s *Server) listHistoric(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	hist, err := s.store.ListHistoricJobs(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]historicView, len(hist))
	for i, h := range hist {
		out[i] = historicView{jobView: newJobView(&h.Job), StartTime: h.StartTime, EndTime: h.EndTime}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) countHistoric(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.store.CountHistoricJobs(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countBody{Count: n})
}
