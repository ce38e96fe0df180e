package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthlink/healthlink/internal/domain/directory"
	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/lock"
)

// -- Mock Repositories --

type mockApptRepo struct {
	mu    sync.Mutex
	items map[string]*Appointment
	rx    *mockRxRepo
}

func newMockApptRepo(rx *mockRxRepo) *mockApptRepo {
	return &mockApptRepo{items: make(map[string]*Appointment), rx: rx}
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) IDExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok, nil
}

func (m *mockApptRepo) GetByID(ctx context.Context, id string) (*Appointment, error) {
	m.mu.Lock()
	a, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	cp := *a
	m.mu.Unlock()
	if p, err := m.rx.GetByAppointment(ctx, id); err == nil {
		cp.Prescription = p
	}
	return &cp, nil
}

func (m *mockApptRepo) GetByIDForUpdate(ctx context.Context, id string) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockApptRepo) UpdateStatus(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok {
		return apperr.NotFound("appointment %s not found", a.ID)
	}
	cur.Status = a.Status
	cur.MeetingLink = a.MeetingLink
	cur.UpdatedAt = time.Now()
	a.UpdatedAt = cur.UpdatedAt
	return nil
}

func (m *mockApptRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.DoctorID != "" && a.DoctorID.String() != f.DoctorID {
			continue
		}
		if f.HospitalID != "" && a.HospitalID.String() != f.HospitalID {
			continue
		}
		if f.Date != "" && a.Date != f.Date {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return window(out, limit, offset), len(out), nil
}

type mockRxRepo struct {
	mu    sync.Mutex
	items map[string]*Prescription
}

func newMockRxRepo() *mockRxRepo {
	return &mockRxRepo{items: make(map[string]*Prescription)}
}

func (m *mockRxRepo) Create(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	cp := *p
	m.items[p.AppointmentID] = &cp
	return nil
}

func (m *mockRxRepo) GetByAppointment(_ context.Context, appointmentID string) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[appointmentID]
	if !ok {
		return nil, apperr.NotFound("prescription for appointment %s not found", appointmentID)
	}
	cp := *p
	return &cp, nil
}

type mockScheduleRepo struct {
	mu    sync.Mutex
	slots map[string]string // doctor|date|time -> appointment id
	// markErr is returned by MarkBusy when set.
	markErr error
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{slots: make(map[string]string)}
}

func slotKey(doctorID uuid.UUID, date, slot string) string {
	return doctorID.String() + "|" + date + "|" + slot
}

func (m *mockScheduleRepo) IsBusy(_ context.Context, doctorID uuid.UUID, date, slot string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[slotKey(doctorID, date, slot)]
	return ok, nil
}

func (m *mockScheduleRepo) MarkBusy(_ context.Context, doctorID uuid.UUID, date, slot, appointmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.slots[slotKey(doctorID, date, slot)] = appointmentID
	return nil
}

func (m *mockScheduleRepo) Release(_ context.Context, doctorID uuid.UUID, date, slot, appointmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey(doctorID, date, slot)
	if m.slots[key] == appointmentID {
		delete(m.slots, key)
	}
	return nil
}

func (m *mockScheduleRepo) BusySlots(_ context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := doctorID.String() + "|" + date + "|"
	out := []string{}
	for k := range m.slots {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	SortSlots(out)
	return out, nil
}

func (m *mockScheduleRepo) DeleteBusySlotsBefore(_ context.Context, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := day.Format(time.DateOnly)
	var n int64
	for k := range m.slots {
		if strings.Split(k, "|")[1] < cutoff {
			delete(m.slots, k)
			n++
		}
	}
	return n, nil
}

func (m *mockScheduleRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// stubDirectory serves fixed doctors and hospitals.
type stubDirectory struct {
	doctors   map[uuid.UUID]*directory.Doctor
	hospitals map[uuid.UUID]*directory.Hospital
}

func (d *stubDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*directory.Doctor, error) {
	doc, ok := d.doctors[id]
	if !ok {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	cp := *doc
	return &cp, nil
}

func (d *stubDirectory) GetHospitalByID(_ context.Context, id uuid.UUID) (*directory.Hospital, error) {
	h, ok := d.hospitals[id]
	if !ok {
		return nil, apperr.NotFound("hospital %s not found", id)
	}
	cp := *h
	return &cp, nil
}

// timeoutLocker never grants the lock.
type timeoutLocker struct{}

func (timeoutLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, lock.ErrTimeout
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
