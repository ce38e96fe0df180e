package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/healthlink/healthlink/internal/platform/apperr"
)

// -- Mock Repositories --

type mockHospitalRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Hospital
	// raceAddress makes Create fail as if a concurrent insert won the
	// normalized_address index.
	raceAddress bool
}

func newMockHospitalRepo() *mockHospitalRepo {
	return &mockHospitalRepo{items: make(map[uuid.UUID]*Hospital)}
}

func (m *mockHospitalRepo) Create(_ context.Context, h *Hospital) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raceAddress {
		return &pgconn.PgError{Code: "23505", ConstraintName: "hospitals_normalized_address_key"}
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.CreatedAt = time.Now()
	h.UpdatedAt = h.CreatedAt
	cp := *h
	m.items[h.ID] = &cp
	return nil
}

func (m *mockHospitalRepo) GetByID(_ context.Context, id uuid.UUID) (*Hospital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("hospital %s not found", id)
	}
	cp := *h
	return &cp, nil
}

func (m *mockHospitalRepo) GetByCode(_ context.Context, code string) (*Hospital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.items {
		if h.Code == code {
			cp := *h
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("hospital %s not found", code)
}

func (m *mockHospitalRepo) GetByCodeForUpdate(ctx context.Context, code string) (*Hospital, error) {
	return m.GetByCode(ctx, code)
}

func (m *mockHospitalRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByCode(ctx, code)
	return err == nil, nil
}

func (m *mockHospitalRepo) ExistsByAddress(_ context.Context, normalized string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.items {
		if h.NormalizedAddress == normalized {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockHospitalRepo) SetAutoApprove(_ context.Context, id uuid.UUID, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.items[id]
	if !ok {
		return apperr.NotFound("hospital %s not found", id)
	}
	h.AutoApprove = on
	return nil
}

func (m *mockHospitalRepo) List(_ context.Context, limit, offset int) ([]*Hospital, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Hospital
	for _, h := range m.items {
		cp := *h
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return window(all, limit, offset), len(all), nil
}

type mockStoreRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*MedicalStore
}

func newMockStoreRepo() *mockStoreRepo {
	return &mockStoreRepo{items: make(map[uuid.UUID]*MedicalStore)}
}

func (m *mockStoreRepo) Create(_ context.Context, s *MedicalStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	cp := *s
	m.items[s.ID] = &cp
	return nil
}

func (m *mockStoreRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicalStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("medical store %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockStoreRepo) GetByCode(_ context.Context, code string) (*MedicalStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.Code == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("medical store %s not found", code)
}

func (m *mockStoreRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByCode(ctx, code)
	return err == nil, nil
}

func (m *mockStoreRepo) ExistsByAddress(_ context.Context, normalized string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.NormalizedAddress == normalized {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStoreRepo) List(_ context.Context, limit, offset int) ([]*MedicalStore, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*MedicalStore
	for _, s := range m.items {
		cp := *s
		all = append(all, &cp)
	}
	return window(all, limit, offset), len(all), nil
}

type mockDoctorRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{items: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Phone != "" {
		for _, other := range m.items {
			if other.Phone == d.Phone {
				return &pgconn.PgError{Code: "23505", ConstraintName: "doctors_phone_key"}
			}
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	cp := *d
	m.items[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (m *mockDoctorRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return m.GetByID(ctx, id)
}

func (m *mockDoctorRepo) find(match func(*Doctor) bool) *Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.items {
		if match(d) {
			cp := *d
			return &cp
		}
	}
	return nil
}

func (m *mockDoctorRepo) GetByCode(_ context.Context, code string) (*Doctor, error) {
	if d := m.find(func(d *Doctor) bool { return d.Code == code }); d != nil {
		return d, nil
	}
	return nil, apperr.NotFound("doctor %s not found", code)
}

func (m *mockDoctorRepo) GetByPhone(_ context.Context, phone string) (*Doctor, error) {
	if d := m.find(func(d *Doctor) bool { return d.Phone == phone }); d != nil {
		return d, nil
	}
	return nil, apperr.NotFound("no doctor registered with phone %s", phone)
}

func (m *mockDoctorRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByCode(ctx, code)
	return err == nil, nil
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[d.ID]; !ok {
		return apperr.NotFound("doctor %s not found", d.ID)
	}
	d.UpdatedAt = time.Now()
	cp := *d
	m.items[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) ListByHospital(_ context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Doctor
	for _, d := range m.items {
		if d.HospitalID == hospitalID {
			cp := *d
			all = append(all, &cp)
		}
	}
	return window(all, limit, offset), len(all), nil
}

type mockBusySlots map[string][]string

func (m mockBusySlots) BusySlots(_ context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	return m[doctorID.String()+"|"+date], nil
}

func window[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
