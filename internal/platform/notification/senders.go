package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridConfig configures the SendGrid email sender.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender sends email through the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger zerolog.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "HealthLink"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		subject,
		mail.NewEmail("", to),
		body, body,
	)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error().Int("status", resp.StatusCode).Str("body", resp.Body).Str("to", to).Msg("sendgrid rejected email")
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info().Str("to", to).Str("subject", subject).Int("status", resp.StatusCode).Msg("email sent")
	return nil
}

// LogSender writes messages to the log instead of sending them. Used for SMS
// and, when SendGrid is not configured, for email.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", "email").Str("to", to).Str("subject", subject).Str("body", body).Msg("notification")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", "sms").Str("to", to).Str("body", body).Msg("notification")
	return nil
}

// Message is a call captured by MockSender.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Body    string
}

// MockSender records calls. Set Fail to make every send return an error.
type MockSender struct {
	mu    sync.Mutex
	calls []Message
	Fail  bool
}

func (m *MockSender) SendEmail(_ context.Context, to, subject, body string) error {
	return m.record(Message{Channel: ChannelEmail, To: to, Subject: subject, Body: body})
}

func (m *MockSender) SendSMS(_ context.Context, to, body string) error {
	return m.record(Message{Channel: ChannelSMS, To: to, Body: body})
}

func (m *MockSender) record(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	if m.Fail {
		return errors.New("mock sender failure")
	}
	return nil
}

func (m *MockSender) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
