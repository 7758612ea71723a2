package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(New("error"), "Job ID: abc")

	details := GetAllDetails(err)
	require.Len(t, details, 1)
	assert.Equal(t, "Job ID: abc", details[0])
}

func TestInsufficientCreditsError(t *testing.T) {
	var err error = &InsufficientCreditsError{Required: 5, Available: 2}
	wrapped := Wrap(err, "admission")

	assert.True(t, Is(wrapped, ErrInsufficientCredits))
	assert.Equal(t, KindInsufficientCredits, KindOf(wrapped))

	var ice *InsufficientCreditsError
	require.True(t, As(wrapped, &ice))
	assert.Equal(t, 5, ice.Required)
	assert.Equal(t, 2, ice.Available)
	assert.Contains(t, err.Error(), "required 5, available 2")
}

func TestMarkProvider(t *testing.T) {
	assert.Nil(t, MarkProvider(nil, "ignored"))

	err := MarkProvider(fmt.Errorf("connection refused"), "openrouter chat")
	assert.True(t, Is(err, ErrProviderError))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, KindProviderError, KindOf(err))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"not found", NewNotFoundError("lesson %s", "l1"), KindNotFound},
		{"precondition", NewPreconditionError("lesson has no script"), KindPreconditionFailed},
		{"transition", NewInvalidTransitionError("j1", "completed", "failed"), KindInvalidTransition},
		{"conflict", Wrap(ErrConflict, "lesson generating"), KindConflict},
		{"invalid", NewInvalidRequestError("bad depth %q", "deep"), KindInvalidRequest},
		{"malformed beats provider", Mark(Wrap(ErrMalformedResponse, "outline"), ErrProviderError), KindMalformedResponse},
		{"research", Wrap(ErrResearchFailure, "search"), KindResearchFailure},
		{"plain", New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(New("other")))
	assert.True(t, IsNotFoundError(Wrap(NewNotFoundError("job %s", "x"), "get")))
}
