package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cebuhealth/hivcare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- users --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userSelect = `
	SELECT u.id, u.email, u.phone, u.display_name, u.facility_id, f.name, u.is_active,
		COALESCE(ARRAY(SELECT ur.role FROM user_roles ur WHERE ur.user_id = u.id ORDER BY ur.role), '{}')
	FROM users u
	LEFT JOIN facilities f ON f.id = u.facility_id`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.DisplayName, &u.FacilityID, &u.FacilityName, &u.IsActive, &u.Roles)
	return &u, err
}

func (r *userRepoPG) FindByContact(ctx context.Context, email, phone string) (*User, error) {
	u, err := scanUser(conn(ctx, r.pool).QueryRow(ctx, userSelect+`
		WHERE u.is_active AND (($1 <> '' AND lower(u.email) = lower($1)) OR ($2 <> '' AND u.phone = $2))
		LIMIT 1`, email, phone))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(conn(ctx, r.pool).QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// -- otp codes --

type otpRepoPG struct{ pool *pgxpool.Pool }

func NewOTPRepoPG(pool *pgxpool.Pool) OTPRepository {
	return &otpRepoPG{pool: pool}
}

func (r *otpRepoPG) Create(ctx context.Context, o *OTPCode) error {
	o.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO otp_codes (id, user_id, type, code_hash, sent_to, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		o.ID, o.UserID, o.Type, o.CodeHash, o.SentTo, o.ExpiresAt).Scan(&o.CreatedAt)
}

func (r *otpRepoPG) FindLatestValid(ctx context.Context, userID uuid.UUID, otpType, sentTo string, now time.Time) (*OTPCode, error) {
	var o OTPCode
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, type, code_hash, sent_to, expires_at, consumed_at, attempts, created_at
		FROM otp_codes
		WHERE user_id = $1 AND type = $2 AND sent_to = $3
			AND consumed_at IS NULL AND expires_at > $4
		ORDER BY created_at DESC
		LIMIT 1`, userID, otpType, sentTo, now).
		Scan(&o.ID, &o.UserID, &o.Type, &o.CodeHash, &o.SentTo, &o.ExpiresAt, &o.ConsumedAt, &o.Attempts, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *otpRepoPG) IncrementAttempts(ctx context.Context, id uuid.UUID, limit int) (int, error) {
	var attempts int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE otp_codes SET attempts = attempts + 1
		WHERE id = $1 AND attempts < $2
		RETURNING attempts`, id, limit).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrTooManyAttempts
	}
	return attempts, err
}

func (r *otpRepoPG) Consume(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE otp_codes SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- sessions --

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, expires_at) VALUES ($1,$2,$3)
		RETURNING created_at`, s.ID, s.UserID, s.ExpiresAt).Scan(&s.CreatedAt)
}

func (r *sessionRepoPG) GetValid(ctx context.Context, id uuid.UUID, now time.Time) (*Session, error) {
	var s Session
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, expires_at, created_at FROM sessions
		WHERE id = $1 AND expires_at > $2`, id, now).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sessionRepoPG) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}
