package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/consult-session-go/internal/audit"
	"github.com/openclaw/consult-session-go/internal/config"
	"github.com/openclaw/consult-session-go/internal/countdown"
	"github.com/openclaw/consult-session-go/internal/database"
	apperrors "github.com/openclaw/consult-session-go/internal/errors"
	"github.com/openclaw/consult-session-go/internal/model"
	"github.com/openclaw/consult-session-go/internal/repository"
	"github.com/openclaw/consult-session-go/internal/room"
	"github.com/openclaw/consult-session-go/internal/sse"
	"github.com/openclaw/consult-session-go/internal/util"
)

// Publisher delivers room-scoped lifecycle events to participants.
type Publisher interface {
	Publish(ctx context.Context, roomToken string, event sse.Event) error
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type Options struct {
	WarningThresholdSeconds   int64
	PausedFallbackSeconds     int64
	DefaultGracePeriodSeconds int64
	// Now overrides the wall clock; nil means time.Now.
	Now func() time.Time
}

type CreateSessionInput struct {
	CustomerRef string             `json:"customerRef"`
	ProviderRef string             `json:"providerRef"`
	JobRef      *string            `json:"jobRef,omitempty"`
	Rate        model.RateSnapshot `json:"rate"`
}

// SessionService owns every status transition of a session. Mutations of one
// session are serialized; the durable record is always written before the
// countdown cache is touched.
type SessionService struct {
	db          TxRunner
	sessionRepo repository.SessionRepository
	cache       countdown.Cache
	publisher   Publisher
	rooms       room.Client
	opts        Options
	locks       *keyedMutex
}

func NewSessionService(
	db TxRunner,
	sessionRepo repository.SessionRepository,
	cache countdown.Cache,
	publisher Publisher,
	rooms room.Client,
	opts Options,
) *SessionService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if rooms == nil {
		rooms = room.NoopClient{}
	}
	return &SessionService{
		db:          db,
		sessionRepo: sessionRepo,
		cache:       cache,
		publisher:   publisher,
		rooms:       rooms,
		opts:        opts,
		locks:       newKeyedMutex(),
	}
}

func (s *SessionService) now() time.Time {
	return s.opts.Now()
}

func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*model.Session, error) {
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}

	roomToken, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("failed to generate room token").WithCause(err)
	}

	params := model.CreateSessionParams{
		CustomerRef: in.CustomerRef,
		ProviderRef: in.ProviderRef,
		JobRef:      in.JobRef,
		RoomToken:   roomToken,
		Rate:        in.Rate,
	}

	var session *model.Session
	create := func(repo repository.SessionRepository) error {
		if in.JobRef != nil {
			open, err := repo.FindOpenByJobRef(ctx, *in.JobRef)
			if err != nil {
				return apperrors.Database(err)
			}
			if open != nil {
				return apperrors.Conflict("an open session already exists for this job").
					WithDetails(map[string]any{"sessionId": open.ID})
			}
		}

		created, err := repo.Create(ctx, params)
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.Conflict("an open session already exists for this job")
		}
		if err != nil {
			return apperrors.Database(err)
		}
		session = created
		return nil
	}

	if s.db != nil {
		err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			return create(s.sessionRepo.WithTx(tx))
		})
	} else {
		err = create(s.sessionRepo)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("customerRef", session.CustomerRef).
		Str("providerRef", session.ProviderRef).
		Int64("baseDurationSeconds", session.BaseDurationSeconds).
		Msg("session created")

	return session, nil
}

func (s *SessionService) validateCreate(in *CreateSessionInput) error {
	in.CustomerRef = strings.TrimSpace(in.CustomerRef)
	in.ProviderRef = strings.TrimSpace(in.ProviderRef)

	switch {
	case in.CustomerRef == "":
		return apperrors.MissingRequired("customerRef")
	case in.ProviderRef == "":
		return apperrors.MissingRequired("providerRef")
	case in.Rate.BaseDurationSeconds <= 0:
		return apperrors.InvalidInput("baseDurationSeconds", "must be positive")
	case in.Rate.BasePriceMinor < 0 || in.Rate.ExtensionPriceMinor < 0:
		return apperrors.InvalidInput("price", "must not be negative")
	case in.Rate.ExtensionDurationSeconds < 0 || in.Rate.GracePeriodSeconds < 0:
		return apperrors.InvalidInput("duration", "must not be negative")
	}

	if in.JobRef != nil && strings.TrimSpace(*in.JobRef) == "" {
		in.JobRef = nil
	}
	if in.Rate.GracePeriodSeconds == 0 {
		in.Rate.GracePeriodSeconds = s.opts.DefaultGracePeriodSeconds
	}
	return nil
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.load(ctx, sessionID)
}

// StartSession moves a scheduled session to active and seeds its countdown.
func (s *SessionService) StartSession(ctx context.Context, sessionID string) (*model.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.SessionStatusActive {
		return session, nil
	}
	if session.Status != model.SessionStatusScheduled {
		return nil, apperrors.InvalidState("start", session.Status)
	}

	now := s.now()
	session.Status = model.SessionStatusActive
	session.StartTime = &now
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	remaining := session.BudgetSeconds()
	if err := s.cache.Set(ctx, session.ID, remaining); err != nil {
		// the timer worker rebuilds it from the record on its next tick
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to seed countdown")
	}

	log.Info().
		Str("sessionId", session.ID).
		Int64("remainingSeconds", remaining).
		Msg("session started")

	s.emit(ctx, session, sse.EventStarted, sse.StartedData{
		SessionID:        session.ID,
		StartTime:        now,
		RemainingSeconds: remaining,
	})

	return session, nil
}

// CancelSession ends a session without billing.
func (s *SessionService) CancelSession(ctx context.Context, sessionID string) (*model.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.SessionStatusCancelled {
		return session, nil
	}
	if !session.Status.IsOpen() {
		return nil, apperrors.InvalidState("cancel", session.Status)
	}

	now := s.now()
	session.Status = model.SessionStatusCancelled
	session.EndTime = &now
	session.PausedAt = nil
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		return nil, apperrors.Database(err)
	}

	if err := s.cache.Clear(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to clear countdown")
	}
	s.teardownRoom(ctx, session)

	log.Info().Str("sessionId", session.ID).Msg("session cancelled")
	audit.Log(ctx, audit.Event{Type: audit.EventSessionCancelled, SessionID: session.ID})

	s.emit(ctx, session, sse.EventCancelled, sse.CancelledData{SessionID: session.ID})

	return session, nil
}

// IssueAccessToken lets a participant join the session's room.
func (s *SessionService) IssueAccessToken(ctx context.Context, sessionID, identity string) (string, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !session.IsParticipant(identity) {
		return "", apperrors.Forbidden("identity is not a participant of this session")
	}

	switch session.Status {
	case model.SessionStatusCancelled:
		return "", apperrors.InvalidState("join", session.Status)
	case model.SessionStatusCompleted:
		if !session.WithinGrace(s.now()) {
			return "", apperrors.SessionExpired()
		}
	}

	token, err := s.rooms.IssueAccessToken(ctx, identity, session.RoomToken)
	if err != nil {
		return "", apperrors.External("room service", err)
	}
	return token, nil
}

// GetRemaining reports the seconds left, preferring the live countdown and
// falling back to the record.
func (s *SessionService) GetRemaining(ctx context.Context, sessionID string) (int64, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return s.remaining(ctx, session), nil
}

// Remaining is GetRemaining for a session the caller already loaded.
func (s *SessionService) Remaining(ctx context.Context, session *model.Session) int64 {
	return s.remaining(ctx, session)
}

func (s *SessionService) remaining(ctx context.Context, session *model.Session) int64 {
	switch session.Status {
	case model.SessionStatusScheduled:
		return session.BudgetSeconds()
	case model.SessionStatusActive:
		if v, ok, err := s.cache.Get(ctx, session.ID); err == nil && ok {
			if v < 0 {
				return 0
			}
			return v
		}
		return session.RemainingSeconds(s.now())
	case model.SessionStatusPaused:
		return s.pausedRemaining(ctx, session)
	default:
		return 0
	}
}

// pausedRemaining reads the paused snapshot, then the durable pause marker,
// then the configured fallback.
func (s *SessionService) pausedRemaining(ctx context.Context, session *model.Session) int64 {
	v, ok, err := s.cache.GetPaused(ctx, session.ID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("failed to read paused snapshot")
	}
	if err == nil && ok {
		return v
	}

	if v, ok := session.RemainingAtPause(); ok {
		log.Warn().
			Str("sessionId", session.ID).
			Int64("remainingSeconds", v).
			Msg("paused snapshot missing, recomputed from pause marker")
		return v
	}

	log.Warn().
		Str("sessionId", session.ID).
		Int64("fallbackSeconds", s.opts.PausedFallbackSeconds).
		Msg("paused snapshot and pause marker missing, using fallback budget")
	return s.opts.PausedFallbackSeconds
}

func (s *SessionService) load(ctx context.Context, sessionID string) (*model.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

func (s *SessionService) emit(ctx context.Context, session *model.Session, eventType string, data any) {
	if s.publisher == nil {
		return
	}
	event, err := sse.NewEvent(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("failed to encode event")
		return
	}
	if err := s.publisher.Publish(ctx, session.RoomToken, event); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", session.ID).
			Str("eventType", eventType).
			Msg("failed to publish event")
	}
}

func (s *SessionService) teardownRoom(ctx context.Context, session *model.Session) {
	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.RoomTeardownTimeout)
	defer cancel()

	if err := s.rooms.DestroyRoom(teardownCtx, session.RoomToken); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", session.ID).
			Msg("failed to destroy room")
	}
}
