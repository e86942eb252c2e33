package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openclaw/consult-session-go/internal/model"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var openStatuses = []string{
	string(model.SessionStatusScheduled),
	string(model.SessionStatusActive),
	string(model.SessionStatusPaused),
}

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindOpenByJobRef(ctx context.Context, jobRef string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	// Save writes the whole record back in one statement.
	Save(ctx context.Context, session *model.Session) error
	ListActive(ctx context.Context) ([]model.Session, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	query, args, err := psq.Select("*").From("sessions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var session model.Session
	err = r.db.GetContext(ctx, &session, query, args...)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindOpenByJobRef(ctx context.Context, jobRef string) (*model.Session, error) {
	query, args, err := psq.Select("*").From("sessions").
		Where(sq.Eq{"job_ref": jobRef, "status": openStatuses}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var session model.Session
	err = r.db.GetContext(ctx, &session, query, args...)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	now := time.Now()
	query, args, err := psq.Insert("sessions").
		Columns(
			"id", "customer_ref", "provider_ref", "job_ref", "room_token", "status",
			"base_duration_seconds", "base_price_minor",
			"extension_duration_seconds", "extension_price_minor",
			"extended_duration_seconds", "grace_period_seconds",
			"transactions", "payment_status", "created_at", "updated_at",
		).
		Values(
			uuid.NewString(), params.CustomerRef, params.ProviderRef, params.JobRef, params.RoomToken,
			model.SessionStatusScheduled,
			params.Rate.BaseDurationSeconds, params.Rate.BasePriceMinor,
			params.Rate.ExtensionDurationSeconds, params.Rate.ExtensionPriceMinor,
			0, params.Rate.GracePeriodSeconds,
			model.Transactions{}, model.PaymentStatusPending, now, now,
		).
		Suffix("RETURNING *").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var session model.Session
	if err := r.db.GetContext(ctx, &session, query, args...); err != nil {
		return nil, mapConflict(err)
	}
	return &session, nil
}

func (r *sessionRepo) Save(ctx context.Context, session *model.Session) error {
	session.UpdatedAt = time.Now()

	query, args, err := psq.Update("sessions").
		SetMap(map[string]any{
			"status":                    session.Status,
			"start_time":                session.StartTime,
			"end_time":                  session.EndTime,
			"paused_at":                 session.PausedAt,
			"extended_duration_seconds": session.ExtendedDurationSeconds,
			"transactions":              session.Transactions,
			"total_duration_seconds":    session.TotalDurationSeconds,
			"total_amount_minor":        session.TotalAmountMinor,
			"payment_status":            session.PaymentStatus,
			"updated_at":                session.UpdatedAt,
		}).
		Where(sq.Eq{"id": session.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapConflict(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *sessionRepo) ListActive(ctx context.Context) ([]model.Session, error) {
	query, args, err := psq.Select("*").From("sessions").
		Where(sq.Eq{"status": model.SessionStatusActive}).
		OrderBy("start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var sessions []model.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, err
	}
	return sessions, nil
}
