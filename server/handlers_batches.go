package server

import (
	"net/http"
)

// handleSubmitBatch charges for and queues a batch, answering before any
// member runs.
// POST /api/batches {items:[...]}
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	receipt, err := s.batches.Submit(r.Context(), ownerFrom(r.Context()), req.Items)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// GET /api/batches/{id}
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	run, err := s.batches.Get(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
