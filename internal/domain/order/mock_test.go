package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthlink/healthlink/internal/domain/directory"
	"github.com/healthlink/healthlink/internal/platform/apperr"
)

type mockOrderRepo struct {
	mu    sync.Mutex
	items map[string]*Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{items: make(map[string]*Order)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.items[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) IDExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok, nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) GetByIDForUpdate(ctx context.Context, id string) (*Order, error) {
	return m.GetByID(ctx, id)
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[o.ID]
	if !ok {
		return apperr.NotFound("order %s not found", o.ID)
	}
	cur.Status = o.Status
	cur.UpdatedAt = time.Now()
	return nil
}

func (m *mockOrderRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.items {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.StoreID != "" && o.StoreID.String() != f.StoreID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

type stubStores map[uuid.UUID]*directory.MedicalStore

func (s stubStores) GetMedicalStore(_ context.Context, id uuid.UUID) (*directory.MedicalStore, error) {
	st, ok := s[id]
	if !ok {
		return nil, apperr.NotFound("medical store %s not found", id)
	}
	cp := *st
	return &cp, nil
}
