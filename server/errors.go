package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/generation"
	"github.com/teranos/courseforge/pulse/async"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case errors.KindConflict, errors.KindInvalidTransition:
		return http.StatusConflict
	case errors.KindInvalidRequest:
		return http.StatusBadRequest
	case errors.KindMalformedResponse, errors.KindProviderError, errors.KindResearchFailure:
		return http.StatusBadGateway
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the JSON body for err. Internal errors never leak their message.
func errorBody(err error, status int) ErrorResponse {
	kind := errors.KindOf(err)
	body := ErrorResponse{Error: err.Error(), Kind: string(kind)}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		body.Hint = strings.Join(hints, "; ")
	}

	var insufficient *errors.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		required, available := insufficient.Required, insufficient.Available
		body.Required = &required
		body.Available = &available
	}
	return body
}

// writeFailedJob answers a job that exists but did not settle cleanly, with
// the job id and its outcome. A failed job is a 502 unless the cause maps to
// something more specific.
func writeFailedJob(w http.ResponseWriter, out *generation.Outcome, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && out.Status == async.JobStatusFailed {
		status = http.StatusBadGateway
	}
	body := errorBody(err, status)
	body.JobID = out.JobID
	if data, mErr := json.Marshal(out); mErr == nil {
		body.Outcome = data
	}
	writeJSON(w, status, body)
}
