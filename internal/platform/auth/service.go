package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cebuhealth/hivcare/internal/platform/notification"
	"github.com/cebuhealth/hivcare/internal/platform/rbac"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidOTP      = errors.New("invalid otp")
	ErrOTPExpired      = errors.New("invalid or expired otp")
	ErrTooManyAttempts = errors.New("too many otp attempts")
	ErrDeliveryFailed  = errors.New("otp delivery failed")
	ErrInvalidSession  = errors.New("invalid session")
)

const defaultFacilityName = "HIV Care Portal"

// Notifier delivers a rendered template; *notification.Dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, channel notification.Channel, templateID, recipient string, data map[string]string) error
}

// ServiceConfig holds the OTP and session policy.
type ServiceConfig struct {
	OTPLength      int
	OTPTTL         time.Duration
	OTPMaxAttempts int
	// AllowDeliveryFailure lets an OTP request succeed when the provider
	// rejected the message. The failure is still logged.
	AllowDeliveryFailure bool
	// DevCode replaces the random code. Only accepted in development.
	DevCode string
}

type Service struct {
	users    UserRepository
	otps     OTPRepository
	sessions SessionRepository
	tokens   *TokenIssuer
	notifier Notifier
	cfg      ServiceConfig
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users UserRepository, otps OTPRepository, sessions SessionRepository,
	tokens *TokenIssuer, notifier Notifier, cfg ServiceConfig, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		otps:     otps,
		sessions: sessions,
		tokens:   tokens,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// OTPRequest asks for a code over EMAIL or SMS.
type OTPRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,min=10"`
	Type  string `json:"type" validate:"required,oneof=EMAIL SMS"`
}

// OTPVerifyRequest submits a received code.
type OTPVerifyRequest struct {
	OTPRequest
	Code string `json:"code" validate:"required,numeric"`
}

var errChannelContact = errors.New("email required for EMAIL type, phone required for SMS type")

func (r OTPRequest) checkChannel() error {
	if (r.Type == OTPTypeEmail && r.Email == "") || (r.Type == OTPTypeSMS && r.Phone == "") {
		return errChannelContact
	}
	return nil
}

// ValidationError is a request that passed struct validation but is still unusable.
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

type OTPRequestResult struct {
	SentTo    string    `json:"sent_to"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func (s *Service) lookup(ctx context.Context, req OTPRequest) (*User, string, error) {
	if err := req.checkChannel(); err != nil {
		return nil, "", &ValidationError{Err: err}
	}
	u, err := s.users.FindByContact(ctx, req.Email, req.Phone)
	if errors.Is(err, ErrNotFound) {
		return nil, "", ErrUserNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("find user: %w", err)
	}
	sentTo := req.Email
	if req.Type == OTPTypeEmail && sentTo == "" {
		sentTo = u.Email
	}
	if req.Type == OTPTypeSMS {
		sentTo = req.Phone
		if sentTo == "" && u.Phone != nil {
			sentTo = *u.Phone
		}
	}
	return u, sentTo, nil
}

// RequestOTP stores a fresh hashed code and delivers it.
func (s *Service) RequestOTP(ctx context.Context, req OTPRequest) (*OTPRequestResult, error) {
	u, sentTo, err := s.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	code := s.cfg.DevCode
	if code == "" {
		if code, err = GenerateOTP(s.cfg.OTPLength); err != nil {
			return nil, err
		}
	}
	hash, err := HashOTP(code)
	if err != nil {
		return nil, err
	}

	otp := &OTPCode{
		UserID:    u.ID,
		Type:      req.Type,
		CodeHash:  hash,
		SentTo:    sentTo,
		ExpiresAt: s.now().Add(s.cfg.OTPTTL).UTC(),
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	facility := defaultFacilityName
	if u.FacilityName != nil && *u.FacilityName != "" {
		facility = *u.FacilityName
	}
	channel, templateID := notification.ChannelEmail, notification.TemplateOTPEmail
	if req.Type == OTPTypeSMS {
		channel, templateID = notification.ChannelSMS, notification.TemplateOTPSMS
	}
	sendErr := s.notifier.Send(ctx, channel, templateID, sentTo, map[string]string{
		"facility": facility,
		"code":     code,
		"minutes":  strconv.Itoa(int(s.cfg.OTPTTL.Minutes())),
	})
	if sendErr != nil {
		if !s.cfg.AllowDeliveryFailure {
			s.logger.Error().Err(sendErr).Str("user_id", u.ID.String()).Str("channel", req.Type).Msg("otp delivery failed")
			return nil, ErrDeliveryFailed
		}
		s.logger.Warn().Err(sendErr).
			Str("user_id", u.ID.String()).
			Str("channel", req.Type).
			Bool("otp_delivery_override", true).
			Msg("otp delivery failed, continuing because OTP_ALLOW_DELIVERY_FAILURE is set")
	}

	return &OTPRequestResult{SentTo: MaskDestination(sentTo), ExpiresAt: otp.ExpiresAt}, nil
}

// VerifyOTP checks a code and on success opens a session. The attempt counter
// is bumped before the comparison so wrong guesses always count, and the bump
// itself enforces the limit.
func (s *Service) VerifyOTP(ctx context.Context, req OTPVerifyRequest) (*LoginResult, error) {
	if len(req.Code) != s.cfg.OTPLength {
		return nil, &ValidationError{Err: fmt.Errorf("code must be %d digits", s.cfg.OTPLength)}
	}
	u, sentTo, err := s.lookup(ctx, req.OTPRequest)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	otp, err := s.otps.FindLatestValid(ctx, u.ID, req.Type, sentTo, now)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrOTPExpired
	}
	if err != nil {
		return nil, fmt.Errorf("find otp: %w", err)
	}
	if _, err := s.otps.IncrementAttempts(ctx, otp.ID, s.cfg.OTPMaxAttempts); err != nil {
		if errors.Is(err, ErrTooManyAttempts) {
			return nil, err
		}
		return nil, fmt.Errorf("count otp attempt: %w", err)
	}
	if !VerifyOTP(req.Code, otp.CodeHash) {
		return nil, ErrInvalidOTP
	}
	if err := s.otps.Consume(ctx, otp.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrOTPExpired
		}
		return nil, fmt.Errorf("consume otp: %w", err)
	}

	return s.openSession(ctx, u)
}

func (s *Service) openSession(ctx context.Context, u *User) (*LoginResult, error) {
	sess := &Session{UserID: u.ID, ExpiresAt: s.now().Add(s.tokens.TTL()).UTC()}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	token, expiresAt, err := s.tokens.Issue(u, sess.ID.String())
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// Authenticate turns a session token into the caller. The session row must
// still exist and be unexpired.
func (s *Service) Authenticate(ctx context.Context, token string) (rbac.Subject, string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return rbac.Subject{}, "", err
	}
	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return rbac.Subject{}, "", ErrInvalidSession
	}
	if _, err := s.sessions.GetValid(ctx, sid, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return rbac.Subject{}, "", ErrInvalidSession
		}
		return rbac.Subject{}, "", fmt.Errorf("load session: %w", err)
	}
	return rbac.Subject{
		UserID:     claims.Subject,
		Roles:      rbac.ParseRoles(claims.Roles),
		FacilityID: claims.FacilityID,
	}, claims.SessionID, nil
}

// Logout deletes every session of the user.
func (s *Service) Logout(ctx context.Context, userID string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil
	}
	if err := s.sessions.DeleteByUser(ctx, id); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// Me returns the signed-in user.
func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}
