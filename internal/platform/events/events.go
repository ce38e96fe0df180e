// Package events defines the domain events emitted by workflow transitions
// and the Publisher they are written through.
package events

import (
	"context"
	"sync"
)

// Event types.
const (
	AppointmentBooked        = "appointment.booked"
	AppointmentStatusChanged = "appointment.status_changed"
	AppointmentPrescribed    = "appointment.prescribed"
	OrderPlaced              = "order.placed"
	OrderStatusChanged       = "order.status_changed"
	DoctorApproved           = "doctor.approved"
)

// Aggregates.
const (
	AggregateAppointment = "appointment"
	AggregateOrder       = "order"
	AggregateDoctor      = "doctor"
)

// Event is a state change to be delivered after commit. Payload is encoded
// as JSON.
type Event struct {
	Aggregate   string
	AggregateID string
	Type        string
	Payload     interface{}
}

// Publisher records events. Implementations that write to the database join
// the transaction carried by ctx.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the published event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
