package appointment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/healthlink/healthlink/internal/domain/directory"
	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/db"
	"github.com/healthlink/healthlink/internal/platform/events"
	"github.com/healthlink/healthlink/internal/platform/lock"
	"github.com/healthlink/healthlink/internal/platform/metrics"
)

var tracer = otel.Tracer("healthlink/appointment")

const (
	idDigits         = 4
	maxIDAttempts    = 20
	widenEvery       = 5
	DefaultLockWait  = 3 * time.Second
	busySlotPKey     = "doctor_busy_slots_pkey"
	prescriptionPKey = "prescriptions_appointment_id_key"
)

// Booking outcomes reported to metrics.
const (
	outcomeBooked          = "booked"
	outcomeSlotUnavailable = "slot_unavailable"
	outcomeLockTimeout     = "lock_timeout"
	outcomeError           = "error"
)

// RandomID returns APT- followed by the given number of random digits.
func RandomID(digits int) string {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return fmt.Sprintf("%s%0*d", IDPrefix, digits, n.Int64())
}

// Directory is the slice of the directory service the workflow reads.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetHospitalByID(ctx context.Context, id uuid.UUID) (*directory.Hospital, error)
}

// Config holds the workflow settings read from the environment.
type Config struct {
	LockWait            time.Duration
	ReleaseSlotOnReject bool
	Location            *time.Location
}

type Service struct {
	appointments  Repository
	prescriptions PrescriptionRepository
	schedule      ScheduleRepository
	dir           Directory
	tx            db.Transactor
	locker        lock.Locker
	publisher     events.Publisher
	metrics       *metrics.WorkflowMetrics
	cfg           Config
	now           func() time.Time
	newID         func(digits int) string
}

func NewService(appts Repository, rx PrescriptionRepository, schedule ScheduleRepository, dir Directory,
	tx db.Transactor, locker lock.Locker, publisher events.Publisher, m *metrics.WorkflowMetrics, cfg Config) *Service {
	if tx == nil {
		tx = db.NopTransactor{}
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		appointments:  appts,
		prescriptions: rx,
		schedule:      schedule,
		dir:           dir,
		tx:            tx,
		locker:        locker,
		publisher:     publisher,
		metrics:       m,
		cfg:           cfg,
		now:           time.Now,
		newID:         RandomID,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Message(err))
	}
	span.End()
}

// Today is the current date in the clinic timezone.
func (s *Service) Today() string {
	return s.now().In(s.cfg.Location).Format(time.DateOnly)
}

// allocateID draws ids until one is unused. The digit count grows after
// repeated collisions so a crowded id space still yields an id.
func (s *Service) allocateID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.newID(idDigits + i/widenEvery)
		taken, err := s.appointments.IDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check appointment id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate an appointment id after %d attempts", maxIDAttempts)
}

func (s *Service) validateBooking(req *BookRequest) (uuid.UUID, error) {
	req.Time = strings.TrimSpace(req.Time)
	req.Date = strings.TrimSpace(req.Date)
	req.VisitType = strings.TrimSpace(req.VisitType)
	req.ContactEmail = strings.TrimSpace(req.ContactEmail)
	req.ContactPhone = strings.TrimSpace(req.ContactPhone)

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return uuid.Nil, apperr.Validation("doctorId is required")
	}
	if req.Time == "" {
		return uuid.Nil, apperr.Validation("time is required")
	}
	if !IsValidVisitType(req.VisitType) {
		return uuid.Nil, apperr.Validation("visitType must be one of hospital, online, home")
	}
	today := s.Today()
	if req.Date == "" {
		req.Date = today
	}
	if _, err := time.Parse(time.DateOnly, req.Date); err != nil {
		return uuid.Nil, apperr.Validation("date must be YYYY-MM-DD")
	}
	if req.Date < today {
		return uuid.Nil, apperr.Validation("date %s is in the past", req.Date)
	}
	return doctorID, nil
}

// BookAppointment books a slot for userID. Bookings against one doctor are
// serialized by a lock and the slot check, id allocation, insert and busy
// mark share one transaction.
func (s *Service) BookAppointment(ctx context.Context, userID string, req BookRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Book")
	defer func() { endSpan(span, err) }()

	outcome := outcomeError
	defer func() {
		if errors.Is(err, apperr.ErrSlotUnavailable) && outcome == outcomeError {
			outcome = outcomeSlotUnavailable
		}
		s.metrics.ObserveBooking(outcome)
	}()

	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("user is required")
	}
	doctorID, err := s.validateBooking(&req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("healthlink.doctor_id", doctorID.String()),
		attribute.String("healthlink.slot", req.Date+" "+req.Time),
	)

	doc, err := s.dir.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doc.Status != directory.DoctorApproved {
		return nil, apperr.Validation("doctor %s is not accepting appointments", doc.Code)
	}
	hospitalID := doc.HospitalID
	if req.HospitalID != "" {
		hid, err := uuid.Parse(req.HospitalID)
		if err != nil || hid != doc.HospitalID {
			return nil, apperr.Validation("hospitalId does not match the doctor's hospital")
		}
	}
	hospital, err := s.dir.GetHospitalByID(ctx, hospitalID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "doctor:"+doctorID.String(), s.cfg.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			outcome = outcomeLockTimeout
			return nil, apperr.Wrap(apperr.KindSlotUnavailable, err, "schedule busy, try again")
		}
		return nil, fmt.Errorf("acquire schedule lock: %w", err)
	}
	defer release()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		busy, err := s.schedule.IsBusy(ctx, doctorID, req.Date, req.Time)
		if err != nil {
			return fmt.Errorf("check slot: %w", err)
		}
		if busy {
			return apperr.SlotUnavailable("slot %s on %s is already booked", req.Time, req.Date)
		}

		id, err := s.allocateID(ctx)
		if err != nil {
			return err
		}
		a := &Appointment{
			ID:           id,
			UserID:       userID,
			DoctorID:     doctorID,
			HospitalID:   hospitalID,
			VisitType:    req.VisitType,
			Date:         req.Date,
			Time:         req.Time,
			Symptoms:     cleanSymptoms(req.Symptoms),
			Status:       StatusConfirmed,
			ContactEmail: req.ContactEmail,
			ContactPhone: req.ContactPhone,
		}
		if doc.AutoApprove || hospital.AutoApprove {
			a.Status = StatusAccepted
		}
		ApplyHooks(a)

		if err := s.appointments.Create(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if err := s.schedule.MarkBusy(ctx, doctorID, a.Date, a.Time, a.ID); err != nil {
			if db.IsUniqueViolation(err) && db.ConstraintName(err) == busySlotPKey {
				return apperr.Wrap(apperr.KindSlotUnavailable, err, "slot %s on %s is already booked", a.Time, a.Date)
			}
			return fmt.Errorf("mark slot busy: %w", err)
		}
		payload := payloadOf(a, "")
		payload.DoctorName = doc.Name
		if err := s.publish(ctx, a, events.AppointmentBooked, payload); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome = outcomeBooked
	s.metrics.ObserveTransition(events.AggregateAppointment, appt.Status)
	span.SetAttributes(attribute.String("healthlink.appointment_id", appt.ID))
	return appt, nil
}

// UpdateAppointmentStatus moves an appointment along the state machine.
// Repeating the current status re-runs the hooks.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id, status string) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.UpdateStatus",
		trace.WithAttributes(attribute.String("healthlink.appointment_id", id)))
	defer func() { endSpan(span, err) }()

	status = strings.TrimSpace(status)
	if !IsValidStatus(status) {
		return nil, apperr.Validation("unknown appointment status %q", status)
	}

	var changed bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(a.Status, status) {
			return apperr.InvalidTransition("cannot move appointment %s from %s to %s", id, a.Status, status)
		}
		prev := a.Status
		a.Status = status
		linked := ApplyHooks(a)
		changed = prev != status
		if !changed && !linked {
			appt = a
			return nil
		}

		if err := s.appointments.UpdateStatus(ctx, a); err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}
		if changed && status == StatusRejected && s.cfg.ReleaseSlotOnReject {
			if err := s.schedule.Release(ctx, a.DoctorID, a.Date, a.Time, a.ID); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		if err := s.publish(ctx, a, events.AppointmentStatusChanged, payloadOf(a, prev)); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.ObserveTransition(events.AggregateAppointment, appt.Status)
	}
	return appt, nil
}

// AddPrescription attaches the single prescription of an appointment and
// moves it to Prescribed from any status.
func (s *Service) AddPrescription(ctx context.Context, id string, req PrescriptionRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.AddPrescription",
		trace.WithAttributes(attribute.String("healthlink.appointment_id", id)))
	defer func() { endSpan(span, err) }()

	req.Medicine = strings.TrimSpace(req.Medicine)
	if req.Medicine == "" {
		return nil, apperr.Validation("medicine is required")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Prescription != nil {
			return apperr.InvalidTransition("appointment %s is already prescribed", id)
		}
		p := &Prescription{
			AppointmentID: a.ID,
			Medicine:      req.Medicine,
			Dosage:        strings.TrimSpace(req.Dosage),
			Duration:      strings.TrimSpace(req.Duration),
			Notes:         strings.TrimSpace(req.Notes),
		}
		if err := s.prescriptions.Create(ctx, p); err != nil {
			if db.IsUniqueViolation(err) && db.ConstraintName(err) == prescriptionPKey {
				return apperr.Wrap(apperr.KindInvalidTransition, err, "appointment %s is already prescribed", id)
			}
			return fmt.Errorf("create prescription: %w", err)
		}
		prev := a.Status
		a.Status = StatusPrescribed
		a.Prescription = p
		if err := s.appointments.UpdateStatus(ctx, a); err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}
		payload := payloadOf(a, prev)
		payload.Medicine = p.Medicine
		payload.Dosage = p.Dosage
		payload.Duration = p.Duration
		if err := s.publish(ctx, a, events.AppointmentPrescribed, payload); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(events.AggregateAppointment, StatusPrescribed)
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.Search(ctx, Filter{UserID: userID}, limit, offset)
}

// ListByDoctor lists a doctor's appointments, optionally for one date.
func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date string, limit, offset int) ([]*Appointment, int, error) {
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, 0, apperr.Validation("date must be YYYY-MM-DD")
		}
	}
	return s.appointments.Search(ctx, Filter{DoctorID: doctorID.String(), Date: date}, limit, offset)
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !IsValidStatus(f.Status) {
		return nil, 0, apperr.Validation("unknown appointment status %q", f.Status)
	}
	return s.appointments.Search(ctx, f, limit, offset)
}

func (s *Service) publish(ctx context.Context, a *Appointment, eventType string, payload events.AppointmentPayload) error {
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, events.Event{
		Aggregate:   events.AggregateAppointment,
		AggregateID: a.ID,
		Type:        eventType,
		Payload:     payload,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func payloadOf(a *Appointment, prev string) events.AppointmentPayload {
	return events.AppointmentPayload{
		ID:             a.ID,
		UserID:         a.UserID,
		DoctorID:       a.DoctorID.String(),
		HospitalID:     a.HospitalID.String(),
		VisitType:      a.VisitType,
		Date:           a.Date,
		Time:           a.Time,
		Status:         a.Status,
		PreviousStatus: prev,
		MeetingLink:    a.MeetingLink,
		ContactEmail:   a.ContactEmail,
		ContactPhone:   a.ContactPhone,
	}
}
