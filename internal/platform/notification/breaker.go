package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when a provider is taken out of rotation.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	return c
}

func newBreaker(cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[interface{}] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("notification provider breaker changed state")
		},
	})
}

// BreakerEmailSender fails fast with gobreaker.ErrOpenState while the wrapped
// provider is failing.
type BreakerEmailSender struct {
	next EmailSender
	cb   *gobreaker.CircuitBreaker[interface{}]
}

func NewBreakerEmailSender(next EmailSender, cfg BreakerConfig, logger zerolog.Logger) *BreakerEmailSender {
	if cfg.Name == "" {
		cfg.Name = "email"
	}
	return &BreakerEmailSender{next: next, cb: newBreaker(cfg, logger)}
}

func (s *BreakerEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.SendEmail(ctx, to, subject, body)
	})
	return err
}

// State reports the breaker state for health output.
func (s *BreakerEmailSender) State() string { return s.cb.State().String() }

// BreakerSMSSender is BreakerEmailSender for SMS.
type BreakerSMSSender struct {
	next SMSSender
	cb   *gobreaker.CircuitBreaker[interface{}]
}

func NewBreakerSMSSender(next SMSSender, cfg BreakerConfig, logger zerolog.Logger) *BreakerSMSSender {
	if cfg.Name == "" {
		cfg.Name = "sms"
	}
	return &BreakerSMSSender{next: next, cb: newBreaker(cfg, logger)}
}

func (s *BreakerSMSSender) SendSMS(ctx context.Context, to, body string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.SendSMS(ctx, to, body)
	})
	return err
}

func (s *BreakerSMSSender) State() string { return s.cb.State().String() }
