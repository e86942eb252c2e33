package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/openclaw/consult-session-go/internal/config"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
	events         *EventsHandler
}

// NewSessionHandler serves the session API. events may be nil, in which case
// the event stream route is not registered.
func NewSessionHandler(sessionService *service.SessionService, events *EventsHandler) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		events:         events,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// The event stream is long-lived; every other route gets a deadline.
	if h.events != nil {
		r.Get("/{id}/events", h.events.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Post("/", h.CreateSession)
		r.Get("/{id}", h.GetSession)
		r.Post("/{id}/start", h.transition(h.sessionService.StartSession))
		r.Post("/{id}/pause", h.transition(h.sessionService.PauseSession))
		r.Post("/{id}/resume", h.transition(h.sessionService.ResumeSession))
		r.Post("/{id}/complete", h.transition(h.sessionService.CompleteSession))
		r.Post("/{id}/cancel", h.transition(h.sessionService.CancelSession))
		r.Post("/{id}/extend", h.ExtendSession)
		r.Post("/{id}/token", h.IssueAccessToken)
	})

	return r
}

type sessionView struct {
	Session          *model.Session `json:"session"`
	RemainingSeconds int64          `json:"remainingSeconds"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSessionInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessionService.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionView{
		Session:          session,
		RemainingSeconds: session.BudgetSeconds(),
	})
}

// GET /v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	session, err := h.sessionService.GetSession(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSession(ctx, w, session)
}

// transition adapts a single-id lifecycle operation (start, pause, resume,
// complete, cancel) to a POST handler returning the resulting session.
func (h *SessionHandler) transition(op func(context.Context, string) (*model.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := r.Context()
		session, err := op(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		h.writeSession(ctx, w, session)
	}
}

// POST /v1/sessions/{id}/extend
func (h *SessionHandler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req service.ExtendInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.SessionID = id

	result, err := h.sessionService.ExtendSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/{id}/token
func (h *SessionHandler) IssueAccessToken(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Identity string `json:"identity"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := h.sessionService.IssueAccessToken(r.Context(), id, req.Identity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *SessionHandler) writeSession(ctx context.Context, w http.ResponseWriter, session *model.Session) {
	writeJSON(w, http.StatusOK, sessionView{
		Session:          session,
		RemainingSeconds: h.sessionService.Remaining(ctx, session),
	})
}
