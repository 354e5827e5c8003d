package auth

import (
	"time"

	"github.com/google/uuid"
)

// User is a staff account able to sign in.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Phone        *string    `json:"phone,omitempty"`
	DisplayName  string     `json:"display_name"`
	FacilityID   *uuid.UUID `json:"facility_id,omitempty"`
	FacilityName *string    `json:"facility_name,omitempty"`
	Roles        []string   `json:"roles"`
	IsActive     bool       `json:"is_active"`
}

// OTPCode is a hashed one-time code sent to a user.
type OTPCode struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Type       string     `json:"type"`
	CodeHash   string     `json:"-"`
	SentTo     string     `json:"sent_to"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Session backs a signed token; deleting the row revokes the token.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	OTPTypeEmail = "EMAIL"
	OTPTypeSMS   = "SMS"
)
