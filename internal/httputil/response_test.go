package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/consult-session-go/internal/errors"
)

func TestWriteError(t *testing.T) {
	t.Run("maps app error code to status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.SessionExpired())

		assert.Equal(t, http.StatusGone, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, apperrors.ErrCodeSessionExpired, body.Code)
	})

	t.Run("unknown errors become internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("pq: connection reset"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})
}

func TestStatusFromCode(t *testing.T) {
	tests := map[apperrors.ErrorCode]int{
		apperrors.ErrCodeValidation:     http.StatusBadRequest,
		apperrors.ErrCodeUnauthorized:   http.StatusUnauthorized,
		apperrors.ErrCodeNotFound:       http.StatusNotFound,
		apperrors.ErrCodeInvalidState:   http.StatusConflict,
		apperrors.ErrCodeConflict:       http.StatusConflict,
		apperrors.ErrCodeSessionExpired: http.StatusGone,
		apperrors.ErrCodeExternal:       http.StatusBadGateway,
		apperrors.ErrCodeCache:          http.StatusServiceUnavailable,
		apperrors.ErrCodeDatabase:       http.StatusInternalServerError,
	}

	for code, status := range tests {
		assert.Equal(t, status, StatusFromCode(code), string(code))
	}
}
