package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/db"
)

var appointmentColumns = []string{"id", "user_id", "doctor_id", "hospital_id", "visit_type", "to_char",
	"slot_time", "symptoms", "status", "meeting_link", "contact_email", "contact_phone", "created_at", "updated_at"}

var prescriptionColumns = []string{"id", "appointment_id", "medicine", "dosage", "duration", "notes", "created_at"}

func TestRepoPG_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID, hospitalID := uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs("APT-0001", "patient-1", doctorID, hospitalID, VisitOnline, "2026-03-10", "09:00 AM",
			[]string{}, StatusConfirmed, "", "p@example.com", "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	a := &Appointment{
		ID: "APT-0001", UserID: "patient-1", DoctorID: doctorID, HospitalID: hospitalID,
		VisitType: VisitOnline, Date: "2026-03-10", Time: "09:00 AM", Status: StatusConfirmed,
		ContactEmail: "p@example.com",
	}
	require.NoError(t, NewRepoPG(mock).Create(context.Background(), a))
	assert.Equal(t, now, a.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID, hospitalID, rxID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1").
		WithArgs("APT-0001").
		WillReturnRows(pgxmock.NewRows(appointmentColumns).
			AddRow("APT-0001", "patient-1", doctorID, hospitalID, VisitOnline, "2026-03-10", "09:00 AM",
				[]string{"fever"}, StatusPrescribed, "/call/APT-0001", "", "", now, now))
	mock.ExpectQuery("FROM prescriptions WHERE appointment_id = \\$1").
		WithArgs("APT-0001").
		WillReturnRows(pgxmock.NewRows(prescriptionColumns).
			AddRow(rxID, "APT-0001", "Paracetamol", "500mg", "5 days", "", now))

	a, err := NewRepoPG(mock).GetByID(context.Background(), "APT-0001")
	require.NoError(t, err)
	assert.Equal(t, doctorID, a.DoctorID)
	assert.Equal(t, "2026-03-10", a.Date)
	assert.Equal(t, []string{"fever"}, a.Symptoms)
	require.NotNil(t, a.Prescription)
	assert.Equal(t, rxID, a.Prescription.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_GetByIDForUpdate_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs("APT-0404").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewRepoPG(mock).GetByIDForUpdate(context.Background(), "APT-0404")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_GetByID_NoPrescription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1").
		WithArgs("APT-0002").
		WillReturnRows(pgxmock.NewRows(appointmentColumns).
			AddRow("APT-0002", "patient-1", uuid.New(), uuid.New(), VisitHome, "2026-03-10", "10:00 AM",
				[]string{}, StatusConfirmed, "", "", "", now, now))
	mock.ExpectQuery("FROM prescriptions WHERE appointment_id = \\$1").
		WithArgs("APT-0002").
		WillReturnError(pgx.ErrNoRows)

	a, err := NewRepoPG(mock).GetByID(context.Background(), "APT-0002")
	require.NoError(t, err)
	assert.Nil(t, a.Prescription)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_UpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("UPDATE appointments SET status = \\$2, meeting_link = \\$3").
		WithArgs("APT-0001", StatusAccepted, "/call/APT-0001").
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs("APT-0404", StatusAccepted, "").
		WillReturnError(pgx.ErrNoRows)

	repo := NewRepoPG(mock)
	a := &Appointment{ID: "APT-0001", Status: StatusAccepted, MeetingLink: "/call/APT-0001"}
	require.NoError(t, repo.UpdateStatus(context.Background(), a))
	assert.Equal(t, now, a.UpdatedAt)

	err = repo.UpdateStatus(context.Background(), &Appointment{ID: "APT-0404", Status: StatusAccepted})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoPG_Search(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM appointments WHERE 1=1 AND user_id = \\$1 AND status = \\$2").
		WithArgs("patient-1", StatusAccepted).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("AND user_id = \\$1 AND status = \\$2 ORDER BY slot_date DESC, created_at DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("patient-1", StatusAccepted, 20, 0).
		WillReturnRows(pgxmock.NewRows(appointmentColumns).
			AddRow("APT-0001", "patient-1", uuid.New(), uuid.New(), VisitHospital, "2026-03-10", "09:00 AM",
				[]string{}, StatusAccepted, "", "", "", now, now))
	mock.ExpectQuery("FROM prescriptions WHERE appointment_id = ANY\\(\\$1\\)").
		WithArgs([]string{"APT-0001"}).
		WillReturnRows(pgxmock.NewRows(prescriptionColumns))

	items, total, err := NewRepoPG(mock).Search(context.Background(), Filter{UserID: "patient-1", Status: StatusAccepted}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "APT-0001", items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepoPG_IsBusyAndMark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, "2026-03-10", "09:00 AM").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO doctor_busy_slots").
		WithArgs(doctorID, "2026-03-10", "09:00 AM", "APT-0001").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "doctor_busy_slots_pkey"})

	repo := NewScheduleRepoPG(mock)
	busy, err := repo.IsBusy(context.Background(), doctorID, "2026-03-10", "09:00 AM")
	require.NoError(t, err)
	assert.False(t, busy)

	err = repo.MarkBusy(context.Background(), doctorID, "2026-03-10", "09:00 AM", "APT-0001")
	assert.True(t, db.IsUniqueViolation(err))
	assert.Equal(t, "doctor_busy_slots_pkey", db.ConstraintName(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepoPG_BusySlotsSorted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectQuery("SELECT slot_time FROM doctor_busy_slots").
		WithArgs(doctorID, "2026-03-10").
		WillReturnRows(pgxmock.NewRows([]string{"slot_time"}).AddRow("02:00 PM").AddRow("10:00 AM"))

	slots, err := NewScheduleRepoPG(mock).BusySlots(context.Background(), doctorID, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00 AM", "02:00 PM"}, slots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepoPG_ReleaseAndSweep(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectExec("DELETE FROM doctor_busy_slots").
		WithArgs(doctorID, "2026-03-10", "09:00 AM", "APT-0001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM doctor_busy_slots WHERE slot_date < \\$1::date").
		WithArgs("2026-03-10").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	repo := NewScheduleRepoPG(mock)
	require.NoError(t, repo.Release(context.Background(), doctorID, "2026-03-10", "09:00 AM", "APT-0001"))

	n, err := repo.DeleteBusySlotsBefore(context.Background(), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
