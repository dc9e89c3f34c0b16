package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", InvalidInput("level", "must be >= 1"), http.StatusBadRequest},
		{"not found", NotFound("requisition", "r-1"), http.StatusNotFound},
		{"unknown project", UnknownProject("p-9"), http.StatusNotFound},
		{"conflict", Conflict("level 2 already approved"), http.StatusConflict},
		{"wrapped app error", fmt.Errorf("ledger: %w", Conflict("dup")), http.StatusConflict},
		{"plain error", stderrors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	assert.True(t, Is(UnknownProject("x"), ErrCodeUnknownProject))
	assert.False(t, Is(UnknownProject("x"), ErrCodeNotFound))
	assert.False(t, Is(nil, ErrCodeInternal))
}

func TestMessage_HidesInternalCause(t *testing.T) {
	err := Wrap(stderrors.New("pq: password authentication failed"), ErrCodeInternal, "failed to load bands")
	assert.Equal(t, "internal error", Message(err))
	assert.Equal(t, "requisition not found", Message(NotFound("requisition", "r-1")))
}
