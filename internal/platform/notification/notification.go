// Package notification delivers one-time codes over email and SMS through
// HTTP providers, with templated message bodies and a circuit breaker in
// front of each provider.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Channel is the delivery channel of a message.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// ErrNotConfigured is returned by senders whose provider has no credentials.
var ErrNotConfigured = errors.New("notification provider not configured")

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Unconfigured is the sender used when a provider has no credentials. Every
// send fails with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) SendEmail(context.Context, string, string, string) error { return ErrNotConfigured }
func (Unconfigured) SendSMS(context.Context, string, string) error          { return ErrNotConfigured }

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

const (
	TemplateOTPEmail = "otp-email"
	TemplateOTPSMS   = "otp-sms"
)

// Template defines a reusable message template.
type Template struct {
	ID      string  `json:"id"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine manages message templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateOTPEmail,
			Subject: "{{facility}} - Authentication Code",
			Body: "Your {{facility}} authentication code is {{code}}.\n\n" +
				"This code expires in {{minutes}} minutes. It grants access to sensitive health " +
				"information, do not share it with anyone.\n\n" +
				"If you did not request this code, please ignore this email.",
			Channel: ChannelEmail,
		},
		{
			ID:      TemplateOTPSMS,
			Body:    "{{facility}} Authentication Code: {{code}}. This code expires in {{minutes}} minutes. Do not share this code.",
			Channel: ChannelSMS,
		},
	}
	for _, t := range builtIn {
		e.RegisterTemplate(t)
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher renders a template and routes it to the sender of its channel.
type Dispatcher struct {
	email EmailSender
	sms   SMSSender
	tpl   *TemplateEngine
}

// NewDispatcher wires the senders. A nil sender is replaced by Unconfigured.
func NewDispatcher(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Dispatcher {
	if email == nil {
		email = Unconfigured{}
	}
	if sms == nil {
		sms = Unconfigured{}
	}
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Dispatcher{email: email, sms: sms, tpl: tpl}
}

// Send delivers the rendered template to recipient over channel.
func (d *Dispatcher) Send(ctx context.Context, channel Channel, templateID, recipient string, data map[string]string) error {
	subject, body, err := d.tpl.Render(templateID, data)
	if err != nil {
		return err
	}
	switch channel {
	case ChannelEmail:
		return d.email.SendEmail(ctx, recipient, subject, body)
	case ChannelSMS:
		return d.sms.SendSMS(ctx, recipient, body)
	default:
		return fmt.Errorf("unsupported channel %q", channel)
	}
}
