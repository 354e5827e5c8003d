package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UserRepository interface {
	// FindByContact returns the active user with the given email or phone.
	FindByContact(ctx context.Context, email, phone string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type OTPRepository interface {
	Create(ctx context.Context, o *OTPCode) error
	// FindLatestValid returns the newest unconsumed, unexpired code.
	FindLatestValid(ctx context.Context, userID uuid.UUID, otpType, sentTo string, now time.Time) (*OTPCode, error)
	// IncrementAttempts counts one attempt and returns the new total. It
	// fails with ErrTooManyAttempts, counting nothing, once limit is reached.
	IncrementAttempts(ctx context.Context, id uuid.UUID, limit int) (int, error)
	// Consume marks the code used. A code already consumed is ErrNotFound.
	Consume(ctx context.Context, id uuid.UUID, at time.Time) error
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetValid(ctx context.Context, id uuid.UUID, now time.Time) (*Session, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}
