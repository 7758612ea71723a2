package server

import (
	"net/http"

	"github.com/teranos/courseforge/generation"
	"github.com/teranos/courseforge/logger"
)

// handleGenerate runs one job synchronously.
// POST /api/generate {jobType, parentEntityId?, config}
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generation.Request
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	out, err := s.orch.Submit(r.Context(), ownerFrom(r.Context()), req)
	if err != nil {
		if out != nil {
			writeFailedJob(w, out, err)
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListJobs lists the caller's jobs, newest first.
// GET /api/jobs?limit=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	jobs, err := s.jobs.ListForOwner(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetOwned(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDeleteJob hides a terminal job from listings. Jobs are never
// physically deleted.
// DELETE /api/jobs/{id}
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	id := r.PathValue("id")
	if err := s.jobs.Store().SoftDelete(r.Context(), owner, id); err != nil {
		writeErr(w, err)
		return
	}
	logger.FromContext(r.Context(), s.logger).Infow("Job deleted", logger.FieldJobID, shortID(id))
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryJob reruns a failed job with its stored config.
// POST /api/jobs/{id}/retry
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	out, err := s.orch.Retry(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		if out != nil {
			writeFailedJob(w, out, err)
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
