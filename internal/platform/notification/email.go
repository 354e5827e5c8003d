package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// EmailConfig configures an HTTP email provider that accepts
// POST {BaseURL}/emails with a bearer API key.
type EmailConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
	Retries int
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type emailResponse struct {
	ID string `json:"id"`
}

// HTTPEmailSender sends mail through the provider's REST API.
type HTTPEmailSender struct {
	client *resty.Client
	from   string
}

func NewHTTPEmailSender(cfg EmailConfig) *HTTPEmailSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPEmailSender{client: client, from: cfg.From}
}

func (s *HTTPEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	var out emailResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(emailRequest{From: s.from, To: []string{to}, Subject: subject, Text: body}).
		SetResult(&out).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send email: provider returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
