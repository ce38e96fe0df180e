package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/platform/events"
	"github.com/healthlink/healthlink/internal/platform/outbox"
	"github.com/healthlink/healthlink/internal/platform/realtime"
)

// Broadcaster pushes an event to websocket subscribers of a topic.
type Broadcaster interface {
	Broadcast(topic string, event realtime.Event)
}

// Dispatcher is the outbox handler that fans workflow events out to
// notifications and realtime subscribers.
type Dispatcher struct {
	manager *Manager
	hub     Broadcaster
	logger  zerolog.Logger
}

func NewDispatcher(manager *Manager, hub Broadcaster, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{manager: manager, hub: hub, logger: logger}
}

var _ outbox.Handler = (*Dispatcher)(nil)

// message is what a single event resolves to.
type message struct {
	template string
	data     map[string]string
	email    string
	phone    string
	topics   []string
}

// Handle decodes entry and delivers it. Only malformed payloads return an
// error; send failures stay in the notification history for retry.
func (d *Dispatcher) Handle(ctx context.Context, entry outbox.Entry) error {
	msg, err := resolve(entry)
	if err != nil {
		return err
	}
	if msg == nil {
		d.logger.Debug().Str("type", entry.Type).Msg("no notification for event type")
		return nil
	}

	if d.hub != nil {
		evt := realtime.Event{
			Type:        entry.Type,
			Aggregate:   entry.Aggregate,
			AggregateID: entry.AggregateID,
			Timestamp:   entry.CreatedAt,
			Data:        entry.Payload,
		}
		for _, topic := range msg.topics {
			d.hub.Broadcast(topic, evt)
		}
	}

	if msg.email != "" {
		d.send(ctx, entry, msg, ChannelEmail, msg.email)
	}
	if msg.phone != "" {
		d.send(ctx, entry, msg, ChannelSMS, msg.phone)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, entry outbox.Entry, msg *message, channel Channel, to string) {
	subject, body, err := d.manager.templates.Render(msg.template, channel, msg.data)
	if err != nil {
		d.logger.Error().Err(err).Str("template", msg.template).Msg("render notification")
		return
	}
	n := &Notification{
		Channel:    channel,
		Recipient:  to,
		Subject:    subject,
		Body:       body,
		TemplateID: msg.template,
		EventID:    entry.ID.String(),
		Data:       msg.data,
	}
	if err := d.manager.Send(ctx, n); err != nil {
		d.logger.Warn().Err(err).
			Str("notification_id", n.ID).
			Str("channel", string(channel)).
			Str("type", entry.Type).
			Msg("notification send failed")
	}
}

func resolve(entry outbox.Entry) (*message, error) {
	switch entry.Aggregate {
	case events.AggregateAppointment:
		var p events.AppointmentPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode appointment payload: %w", err)
		}
		return appointmentMessage(entry.Type, p), nil
	case events.AggregateOrder:
		var p events.OrderPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode order payload: %w", err)
		}
		return orderMessage(entry.Type, p), nil
	case events.AggregateDoctor:
		var p events.DoctorPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode doctor payload: %w", err)
		}
		return doctorMessage(entry.Type, p), nil
	}
	return nil, nil
}

func appointmentMessage(eventType string, p events.AppointmentPayload) *message {
	var tpl string
	switch eventType {
	case events.AppointmentBooked:
		tpl = TemplateAppointmentBooked
	case events.AppointmentStatusChanged:
		tpl = TemplateAppointmentStatus
	case events.AppointmentPrescribed:
		tpl = TemplatePrescriptionIssued
	default:
		return nil
	}

	doctor := p.DoctorName
	if doctor == "" {
		doctor = p.DoctorID
	}
	meetingLine := ""
	if p.MeetingLink != "" {
		meetingLine = " Join at " + p.MeetingLink + "."
	}
	return &message{
		template: tpl,
		data: map[string]string{
			"appointment_id":  p.ID,
			"doctor":          doctor,
			"visit_type":      p.VisitType,
			"date":            p.Date,
			"time":            p.Time,
			"status":          p.Status,
			"previous_status": p.PreviousStatus,
			"meeting_line":    meetingLine,
			"medicine":        p.Medicine,
			"dosage":          p.Dosage,
			"duration":        p.Duration,
		},
		email:  p.ContactEmail,
		phone:  p.ContactPhone,
		topics: topics(realtime.AppointmentTopic(p.ID), p.UserID, p.DoctorID),
	}
}

func orderMessage(eventType string, p events.OrderPayload) *message {
	if eventType != events.OrderPlaced && eventType != events.OrderStatusChanged {
		return nil
	}
	return &message{
		template: TemplateOrderStatus,
		data: map[string]string{
			"order_id": p.ID,
			"store":    p.StoreName,
			"total":    strconv.FormatFloat(p.Total, 'f', 2, 64),
			"status":   p.Status,
		},
		email:  p.ContactEmail,
		phone:  p.ContactPhone,
		topics: topics(realtime.OrderTopic(p.ID), p.UserID, p.StoreID),
	}
}

func doctorMessage(eventType string, p events.DoctorPayload) *message {
	if eventType != events.DoctorApproved {
		return nil
	}
	return &message{
		template: TemplateDoctorApproved,
		data: map[string]string{
			"doctor":      p.Name,
			"doctor_code": p.Code,
		},
		email:  p.Email,
		phone:  p.Phone,
		topics: topics("", p.ID, p.HospitalID),
	}
}

// topics returns the entity topic followed by the user topics of every
// non-empty participant.
func topics(entity string, users ...string) []string {
	var out []string
	if entity != "" {
		out = append(out, entity)
	}
	for _, u := range users {
		if u != "" {
			out = append(out, realtime.UserTopic(u))
		}
	}
	return out
}
