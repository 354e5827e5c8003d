package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SMSConfig configures a Twilio-style SMS API:
// POST {BaseURL}/Accounts/{sid}/Messages.json, form encoded, basic auth.
type SMSConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
	Retries    int
}

// HTTPSMSSender sends text messages through the provider's REST API.
type HTTPSMSSender struct {
	client *resty.Client
	sid    string
	from   string
}

func NewHTTPSMSSender(cfg SMSConfig) *HTTPSMSSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")

	return &HTTPSMSSender{client: client, sid: cfg.AccountSID, from: cfg.From}
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("sid", s.sid).
		SetFormData(map[string]string{
			"From": s.from,
			"To":   to,
			"Body": body,
		}).
		Post("/Accounts/{sid}/Messages.json")
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send sms: provider returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
