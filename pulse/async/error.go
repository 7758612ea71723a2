package async

import (
	"context"
	"strings"

	"github.com/teranos/courseforge/errors"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string      // Where the error occurred
	Kind      errors.Kind // Error classification
	Message   string      // Human-readable message stored on the job
	Retryable bool        // Is an explicit retry likely to succeed?
}

// ClassifyError categorizes a failure raised while running stage
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{
			Stage:   stage,
			Kind:    errors.KindInternal,
			Message: "unknown error",
		}
	}

	ec := ErrorContext{
		Stage:   stage,
		Kind:    errors.KindOf(err),
		Message: err.Error(),
	}

	switch ec.Kind {
	case errors.KindProviderError, errors.KindMalformedResponse, errors.KindResearchFailure, errors.KindUnavailable:
		ec.Retryable = true
	case errors.KindInternal:
		ec.Retryable = errors.Is(err, context.DeadlineExceeded) ||
			strings.Contains(strings.ToLower(ec.Message), "database is locked")
	}

	return ec
}

// FailureMessage is the message persisted on a failed job
func (e ErrorContext) FailureMessage() string {
	if e.Stage == "" {
		return e.Message
	}
	return e.Stage + ": " + e.Message
}
