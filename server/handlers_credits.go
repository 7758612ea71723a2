package server

import (
	"net/http"
)

// handleGetCredits returns the caller's account, creating it with the
// default grant on first sight.
// GET /api/credits
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ledger.EnsureAccount(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GET /api/credits/entries?limit=
func (s *Server) handleCreditEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	entries, err := s.ledger.Entries(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
