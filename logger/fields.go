package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldBatchID   = "batch_id"
	FieldOwnerID   = "owner_id"
	FieldRequestID = "request_id"
	FieldEntityID  = "entity_id"

	// Components
	FieldComponent = "component"
	FieldProvider  = "provider"
	FieldModel     = "model"

	// Operations
	FieldOperation = "operation"
	FieldJobType   = "job_type"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount     = "count"
	FieldCredits   = "credits"
	FieldBatchSize = "batch_size"
	FieldWindow    = "window"

	// Status
	FieldStatus = "status"

	// Network
	FieldAddress = "address"
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
	ownerIDKey   contextKey = "logger_owner_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithOwnerID adds the caller's owner ID to the context for logging
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if ownerID, ok := ctx.Value(ownerIDKey).(string); ok && ownerID != "" {
		fields = append(fields, FieldOwnerID, ownerID)
	}

	return fields
}

// FromContext returns l enriched with the fields carried by ctx.
func FromContext(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		l = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Orchestrator struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Orchestrator {
//	    return &Orchestrator{logger: logger.ComponentLogger("generation")}
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
