package directory

import (
	"context"

	"github.com/google/uuid"
)

type HospitalRepository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	GetByCode(ctx context.Context, code string) (*Hospital, error)
	// GetByCodeForUpdate locks the row for the rest of the transaction.
	GetByCodeForUpdate(ctx context.Context, code string) (*Hospital, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ExistsByAddress(ctx context.Context, normalized string) (bool, error)
	SetAutoApprove(ctx context.Context, id uuid.UUID, on bool) error
	List(ctx context.Context, limit, offset int) ([]*Hospital, int, error)
}

type StoreRepository interface {
	Create(ctx context.Context, s *MedicalStore) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalStore, error)
	GetByCode(ctx context.Context, code string) (*MedicalStore, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ExistsByAddress(ctx context.Context, normalized string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*MedicalStore, int, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// GetByIDForUpdate locks the row for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByCode(ctx context.Context, code string) (*Doctor, error)
	GetByPhone(ctx context.Context, phone string) (*Doctor, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Update(ctx context.Context, d *Doctor) error
	ListByHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Doctor, int, error)
}

// BusySlotReader reports the booked slot labels of a doctor on a date
// (YYYY-MM-DD).
type BusySlotReader interface {
	BusySlots(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)
}
