package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/notify"
)

// routes registers every handler on a fresh mux
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireOwner(h))
	}

	api("POST /api/generate", s.handleGenerate)
	api("GET /api/jobs", s.handleListJobs)
	api("GET /api/jobs/{id}", s.handleGetJob)
	api("DELETE /api/jobs/{id}", s.handleDeleteJob)
	api("POST /api/jobs/{id}/retry", s.handleRetryJob)
	api("POST /api/batches", s.handleSubmitBatch)
	api("GET /api/batches/{id}", s.handleGetBatch)
	api("GET /api/credits", s.handleGetCredits)
	api("GET /api/credits/entries", s.handleCreditEntries)
	api("POST /api/courses", s.handleCreateCourse)
	api("GET /api/courses", s.handleListCourses)
	api("GET /api/courses/{id}", s.handleGetCourse)
	api("POST /api/courses/{id}/lessons", s.handleCreateLesson)
	api("GET /api/courses/{id}/lessons", s.handleListLessons)
	api("GET /api/lessons/{id}", s.handleGetLesson)
	api("GET /api/lessons/{id}/variations", s.handleListVariations)
	api("GET /api/variations/{id}", s.handleGetVariation)
	api("GET /api/variations/{id}/versions", s.handleListVersions)
	api("POST /api/variations/{id}/versions", s.handleAddVersion)

	if s.hub != nil {
		mux.HandleFunc("GET /ws/events", s.hub.ServeWS)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.instrument(s.corsMiddleware(mux))
}

// requireOwner rejects /api requests without an authenticated owner
func (s *Server) requireOwner(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(notify.OwnerHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing "+notify.OwnerHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		ctx = logger.WithOwnerID(ctx, owner)
		next(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for configured origins.
// Origins match by prefix so any port is accepted.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+notify.OwnerHeader)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.origins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// instrument tags each request with an id, logs it and counts it by route pattern
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequest(route, strconv.Itoa(rec.status))
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		logger.FromContext(r.Context(), s.logger).Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}

// statusRecorder captures the response status for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rr *statusRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rr *statusRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader
func (rr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rr.status = http.StatusSwitchingProtocols
	rr.wroteHeader = true
	return hj.Hijack()
}
