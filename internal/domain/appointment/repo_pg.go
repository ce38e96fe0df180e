package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/db"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Querier }

func NewRepoPG(pool db.Querier) Repository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, user_id, doctor_id, hospital_id, visit_type, to_char(slot_date, 'YYYY-MM-DD'),
	slot_time, symptoms, status, meeting_link, contact_email, contact_phone, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.UserID, &a.DoctorID, &a.HospitalID, &a.VisitType, &a.Date,
		&a.Time, &a.Symptoms, &a.Status, &a.MeetingLink, &a.ContactEmail, &a.ContactPhone,
		&a.CreatedAt, &a.UpdatedAt)
	if a.Symptoms == nil {
		a.Symptoms = []string{}
	}
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.Symptoms == nil {
		a.Symptoms = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, doctor_id, hospital_id, visit_type, slot_date, slot_time,
			symptoms, status, meeting_link, contact_email, contact_phone)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.UserID, a.DoctorID, a.HospitalID, a.VisitType, a.Date, a.Time,
		a.Symptoms, a.Status, a.MeetingLink, a.ContactEmail, a.ContactPhone).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) IDExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) get(ctx context.Context, query, id string) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment %s not found", id)
		}
		return nil, err
	}
	p, err := NewPrescriptionRepoPG(r.pool).GetByAppointment(ctx, id)
	switch {
	case err == nil:
		a.Prescription = p
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id string) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id)
}

func (r *appointmentRepoPG) GetByIDForUpdate(ctx context.Context, id string) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $2, meeting_link = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.MeetingLink).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("appointment %s not found", a.ID)
	}
	return err
}

func (r *appointmentRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointments WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause, value string) {
		if value == "" {
			return
		}
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, value)
		idx++
	}
	add(` AND user_id = $%d`, f.UserID)
	add(` AND doctor_id = $%d::uuid`, f.DoctorID)
	add(` AND hospital_id = $%d::uuid`, f.HospitalID)
	add(` AND slot_date = $%d::date`, f.Date)
	add(` AND status = $%d`, f.Status)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY slot_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.attachPrescriptions(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) attachPrescriptions(ctx context.Context, items []*Appointment) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	byID := make(map[string]*Appointment, len(items))
	for i, a := range items {
		ids[i] = a.ID
		byID[a.ID] = a
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE appointment_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load prescriptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return err
		}
		if a, ok := byID[p.AppointmentID]; ok {
			a.Prescription = p
		}
	}
	return rows.Err()
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool db.Querier }

func NewPrescriptionRepoPG(pool db.Querier) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const rxCols = `id, appointment_id, medicine, dosage, duration, notes, created_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.AppointmentID, &p.Medicine, &p.Dosage, &p.Duration, &p.Notes, &p.CreatedAt)
	return &p, err
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, medicine, dosage, duration, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.AppointmentID, p.Medicine, p.Dosage, p.Duration, p.Notes).Scan(&p.CreatedAt)
}

func (r *prescriptionRepoPG) GetByAppointment(ctx context.Context, appointmentID string) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rxCols+` FROM prescriptions WHERE appointment_id = $1`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("prescription for appointment %s not found", appointmentID)
		}
		return nil, err
	}
	return p, nil
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool db.Querier }

// NewScheduleRepoPG returns the busy-slot store. It also serves the
// directory's availability view and the daily sweeper.
func NewScheduleRepoPG(pool db.Querier) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *scheduleRepoPG) IsBusy(ctx context.Context, doctorID uuid.UUID, date, slot string) (bool, error) {
	var busy bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM doctor_busy_slots
			WHERE doctor_id = $1 AND slot_date = $2::date AND slot_time = $3)`,
		doctorID, date, slot).Scan(&busy)
	return busy, err
}

func (r *scheduleRepoPG) MarkBusy(ctx context.Context, doctorID uuid.UUID, date, slot, appointmentID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_busy_slots (doctor_id, slot_date, slot_time, appointment_id)
		VALUES ($1, $2::date, $3, $4)`,
		doctorID, date, slot, appointmentID)
	return err
}

func (r *scheduleRepoPG) Release(ctx context.Context, doctorID uuid.UUID, date, slot, appointmentID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM doctor_busy_slots
		WHERE doctor_id = $1 AND slot_date = $2::date AND slot_time = $3 AND appointment_id = $4`,
		doctorID, date, slot, appointmentID)
	return err
}

func (r *scheduleRepoPG) BusySlots(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT slot_time FROM doctor_busy_slots WHERE doctor_id = $1 AND slot_date = $2::date`,
		doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("query busy slots: %w", err)
	}
	defer rows.Close()
	slots := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortSlots(slots)
	return slots, nil
}

func (r *scheduleRepoPG) DeleteBusySlotsBefore(ctx context.Context, day time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM doctor_busy_slots WHERE slot_date < $1::date`, day.Format(time.DateOnly))
	if err != nil {
		return 0, fmt.Errorf("delete busy slots before %s: %w", day.Format(time.DateOnly), err)
	}
	return tag.RowsAffected(), nil
}
