package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/domain"
)

type createJobRequest struct {
	ID                  string          `json:"id"`
	Kind                string          `json:"kind"`
	HandlerType         string          `json:"handler_type"`
	Configuration       json.RawMessage `json:"configuration"`
	TenantID            string          `json:"tenant_id"`
	ExecutionID         string          `json:"execution_id"`
	ProcessInstanceID   string          `json:"process_instance_id"`
	ProcessDefinitionID string          `json:"process_definition_id"`
	DueDate             *time.Time      `json:"due_date"`
	Retries             *int            `json:"retries"`
	Archive             bool            `json:"archive"`
	Repeat              string          `json:"repeat"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, err)
		return
	}

	j := &domain.Job{
		ID:                  req.ID,
		Kind:                kind,
		HandlerType:         req.HandlerType,
		Configuration:       req.Configuration,
		TenantID:            req.TenantID,
		ExecutionID:         req.ExecutionID,
		ProcessInstanceID:   req.ProcessInstanceID,
		ProcessDefinitionID: req.ProcessDefinitionID,
		DueDate:             s.clock.Now(),
		Retries:             s.defaultRetries,
		Archive:             req.Archive,
		Repeat:              req.Repeat,
	}
	if req.DueDate != nil {
		j.DueDate = req.DueDate.UTC()
	}
	if req.Retries != nil {
		j.Retries = *req.Retries
	}
	if err := s.store.CreateJob(r.Context(), j); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("job created", zap.String("job_id", j.ID), zap.String("kind", string(kind)), zap.String("handler_type", j.HandlerType))
	s.hint(kind)
	writeJSON(w, http.StatusCreated, newJobView(j))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	j, err := s.store.GetJob(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(j))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	kind, f, err := parseJobQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobs, err := s.store.ListJobs(r.Context(), kind, f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]jobView, len(jobs))
	for i, j := range jobs {
		out[i] = newJobView(j)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) countJobs(w http.ResponseWriter, r *http.Request) {
	kind, f, err := parseJobQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.store.CountJobs(r.Context(), kind, f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countBody{Count: n})
}
