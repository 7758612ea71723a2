package server

import (
	"encoding/json"
	"time"

	"github.com/teranos/courseforge/generation"
)

const (
	// ShutdownTimeout bounds graceful shutdown of in-flight requests
	ShutdownTimeout = 30 * time.Second

	// Default and max limits for listing queries
	defaultListLimit = 50
	maxListLimit     = 200

	// maxBodyBytes caps request bodies; enhancement and fact-check carry content inline
	maxBodyBytes = 1 << 20
)

// ServerState is the lifecycle state reported by /healthz
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// BatchRequest is the body of POST /api/batches
type BatchRequest struct {
	Items []generation.Request `json:"items"`
}

// CreateCourseRequest is the body of POST /api/courses
type CreateCourseRequest struct {
	Title    string `json:"title"`
	Topic    string `json:"topic"`
	Audience string `json:"audience"`
}

// CreateLessonRequest is the body of POST /api/courses/{id}/lessons
type CreateLessonRequest struct {
	Title           string `json:"title"`
	DurationMinutes int    `json:"durationMinutes"`
}

// AddVersionRequest is the body of POST /api/variations/{id}/versions
type AddVersionRequest struct {
	Body string `json:"body"`
}

// ErrorResponse is every non-2xx JSON body
type ErrorResponse struct {
	Error     string          `json:"error"`
	Kind      string          `json:"kind,omitempty"`
	Hint      string          `json:"hint,omitempty"`
	JobID     string          `json:"jobId,omitempty"`
	Required  *int            `json:"required,omitempty"`
	Available *int            `json:"available,omitempty"`
	Outcome   json.RawMessage `json:"outcome,omitempty"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	WSClients int    `json:"wsClients"`
}
