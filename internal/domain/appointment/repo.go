package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	IDExists(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*Appointment, error)
	GetByIDForUpdate(ctx context.Context, id string) (*Appointment, error)
	UpdateStatus(ctx context.Context, a *Appointment) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByAppointment(ctx context.Context, appointmentID string) (*Prescription, error)
}

// ScheduleRepository stores the per-doctor busy slots. A (doctor, date,
// time) triple is held by at most one appointment.
type ScheduleRepository interface {
	IsBusy(ctx context.Context, doctorID uuid.UUID, date, slot string) (bool, error)
	MarkBusy(ctx context.Context, doctorID uuid.UUID, date, slot, appointmentID string) error
	Release(ctx context.Context, doctorID uuid.UUID, date, slot, appointmentID string) error
	BusySlots(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)
	DeleteBusySlotsBefore(ctx context.Context, day time.Time) (int64, error)
}
