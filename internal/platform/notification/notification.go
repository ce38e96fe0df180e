// Package notification renders templated email/SMS messages for workflow
// events, sends them through pluggable senders and keeps a bounded history
// for inspection and retry.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthlink/healthlink/internal/platform/metrics"
)

// Channel is the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Status values.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// ErrNotFound is returned for unknown notification ids.
var ErrNotFound = errors.New("notification not found")

// Notification is a single outbound message.
type Notification struct {
	ID         string            `json:"id"`
	Channel    Channel           `json:"channel"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	TemplateID string            `json:"templateId,omitempty"`
	EventID    string            `json:"eventId,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	CreatedAt  time.Time         `json:"createdAt"`
	SentAt     *time.Time        `json:"sentAt,omitempty"`
	Error      string            `json:"error,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a message with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// SMS is the short body used for text messages; Body is used when empty.
	SMS string `json:"sms,omitempty"`
}

// Template ids.
const (
	TemplateAppointmentBooked  = "appointment-booked"
	TemplateAppointmentStatus  = "appointment-status"
	TemplatePrescriptionIssued = "prescription-issued"
	TemplateOrderStatus        = "order-status"
	TemplateDoctorApproved     = "doctor-approved"
)

// TemplateEngine holds templates and renders them.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine returns an engine with the workflow templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range builtInTemplates {
		e.RegisterTemplate(t)
	}
	return e
}

var builtInTemplates = []Template{
	{
		ID:      TemplateAppointmentBooked,
		Subject: "Appointment {{appointment_id}} booked",
		Body:    "Your {{visit_type}} appointment {{appointment_id}} with {{doctor}} on {{date}} at {{time}} is {{status}}.{{meeting_line}}",
		SMS:     "HealthLink: appointment {{appointment_id}} on {{date}} {{time}} is {{status}}.",
	},
	{
		ID:      TemplateAppointmentStatus,
		Subject: "Appointment {{appointment_id}} is now {{status}}",
		Body:    "Your appointment {{appointment_id}} on {{date}} at {{time}} changed from {{previous_status}} to {{status}}.{{meeting_line}}",
		SMS:     "HealthLink: appointment {{appointment_id}} is now {{status}}.",
	},
	{
		ID:      TemplatePrescriptionIssued,
		Subject: "Prescription issued for appointment {{appointment_id}}",
		Body:    "Your doctor prescribed {{medicine}} ({{dosage}}) for {{duration}}. Appointment {{appointment_id}} is now {{status}}.",
		SMS:     "HealthLink: prescription ready for {{appointment_id}}: {{medicine}} {{dosage}}.",
	},
	{
		ID:      TemplateOrderStatus,
		Subject: "Order {{order_id}} is {{status}}",
		Body:    "Your order {{order_id}} from {{store}} (total {{total}}) is {{status}}.",
		SMS:     "HealthLink: order {{order_id}} is {{status}}.",
	},
	{
		ID:      TemplateDoctorApproved,
		Subject: "Your HealthLink doctor account is approved",
		Body:    "Dr. {{doctor}}, your account {{doctor_code}} has been approved. Set your password to start accepting appointments.",
		SMS:     "HealthLink: account {{doctor_code}} approved. Set your password to log in.",
	},
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills templateID for channel. Placeholders without data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, channel Channel, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	if channel == ChannelSMS && t.SMS != "" {
		subject, body = "", t.SMS
	}
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// maxHistory bounds the in-memory notification history.
const maxHistory = 1000

// Manager sends notifications and keeps recent ones.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	metrics   *metrics.WorkflowMetrics
	now       func() time.Time

	mu    sync.RWMutex
	byID  map[string]*Notification
	order []string
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine, m *metrics.WorkflowMetrics) *Manager {
	return &Manager{
		email:     email,
		sms:       sms,
		templates: tpl,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		byID:      make(map[string]*Notification),
	}
}

// Send delivers n and records the outcome. The returned error is the
// sender's error; n is stored either way.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = m.now()
	n.Status = StatusPending

	err := m.deliver(ctx, n)
	m.store(n)
	return err
}

// SendFromTemplate renders templateID for channel and sends it to recipient.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, channel Channel, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, channel, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Channel:    channel,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		Data:       data,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	var err error
	switch n.Channel {
	case ChannelEmail:
		err = m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		err = m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		err = fmt.Errorf("unsupported channel: %s", n.Channel)
	}

	m.mu.Lock()
	n.Attempts++
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		sentAt := m.now()
		n.Status = StatusSent
		n.SentAt = &sentAt
		n.Error = ""
	}
	m.mu.Unlock()

	m.metrics.ObserveNotification(string(n.Channel), n.Status)
	return err
}

func (m *Manager) store(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[n.ID]; !exists {
		m.order = append(m.order, n.ID)
	}
	m.byID[n.ID] = n
	for len(m.order) > maxHistory {
		delete(m.byID, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListByRecipient returns up to limit notifications for recipient, newest
// first.
func (m *Manager) ListByRecipient(_ context.Context, recipient string, limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Notification
	for _, n := range m.byID {
		if n.Recipient == recipient {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.byID[id]
	status := ""
	if ok {
		status = n.Status
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if status != StatusFailed {
		return nil, fmt.Errorf("notification %s is not failed (status %s)", id, status)
	}
	err := m.deliver(ctx, n)
	cp, _ := m.Get(ctx, id)
	return cp, err
}

// Stats counts stored notifications by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, n := range m.byID {
		stats[n.Status]++
	}
	return stats
}
