package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/consult-session-go/internal/errors"
	"github.com/openclaw/consult-session-go/internal/httputil"
	"github.com/openclaw/consult-session-go/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// sessionID reads the {id} path parameter. Ids that are not UUIDs cannot
// exist, so they are reported as not found without a database round trip.
func sessionID(r *http.Request) (string, error) {
	id := strings.ToLower(chi.URLParam(r, "id"))
	if !util.IsValidUUID(id) {
		return "", apperrors.NotFound("Session")
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.ValidationError("Invalid request body").WithCause(err)
	}
	return nil
}
