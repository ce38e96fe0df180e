package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/db"
)

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(format, args...)
	}
	return err
}

// =========== Hospital Repository ===========

type hospitalRepoPG struct{ pool db.Querier }

func NewHospitalRepoPG(pool db.Querier) HospitalRepository { return &hospitalRepoPG{pool: pool} }

func (r *hospitalRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const hospitalCols = `id, code, name, address, normalized_address, phone, email, pin_hash,
	rating, status, auto_approve, created_at, updated_at`

func (r *hospitalRepoPG) scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.Code, &h.Name, &h.Address, &h.NormalizedAddress, &h.Phone, &h.Email,
		&h.PinHash, &h.Rating, &h.Status, &h.AutoApprove, &h.CreatedAt, &h.UpdatedAt)
	return &h, err
}

func (r *hospitalRepoPG) Create(ctx context.Context, h *Hospital) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospitals (id, code, name, address, normalized_address, phone, email,
			pin_hash, rating, status, auto_approve)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		h.ID, h.Code, h.Name, h.Address, h.NormalizedAddress, h.Phone, h.Email,
		h.PinHash, h.Rating, h.Status, h.AutoApprove).Scan(&h.CreatedAt, &h.UpdatedAt)
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	h, err := r.scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "hospital %s not found", id)
	}
	return h, nil
}

func (r *hospitalRepoPG) GetByCode(ctx context.Context, code string) (*Hospital, error) {
	h, err := r.scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err, "hospital %s not found", code)
	}
	return h, nil
}

func (r *hospitalRepoPG) GetByCodeForUpdate(ctx context.Context, code string) (*Hospital, error) {
	h, err := r.scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		return nil, notFound(err, "hospital %s not found", code)
	}
	return h, nil
}

func (r *hospitalRepoPG) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hospitals WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *hospitalRepoPG) ExistsByAddress(ctx context.Context, normalized string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM hospitals WHERE normalized_address = $1)`, normalized).Scan(&exists)
	return exists, err
}

func (r *hospitalRepoPG) SetAutoApprove(ctx context.Context, id uuid.UUID, on bool) error {
	ct, err := r.conn(ctx).Exec(ctx, `UPDATE hospitals SET auto_approve = $2, updated_at = NOW() WHERE id = $1`, id, on)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("hospital %s not found", id)
	}
	return nil
}

func (r *hospitalRepoPG) List(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hospitals`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+hospitalCols+` FROM hospitals ORDER BY name, code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Hospital
	for rows.Next() {
		h, err := r.scanHospital(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, h)
	}
	return items, total, rows.Err()
}

// =========== Medical Store Repository ===========

type storeRepoPG struct{ pool db.Querier }

func NewStoreRepoPG(pool db.Querier) StoreRepository { return &storeRepoPG{pool: pool} }

func (r *storeRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const storeCols = `id, code, name, address, normalized_address, phone, email, pin_hash,
	rating, status, created_at, updated_at`

func (r *storeRepoPG) scanStore(row pgx.Row) (*MedicalStore, error) {
	var s MedicalStore
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.NormalizedAddress, &s.Phone, &s.Email,
		&s.PinHash, &s.Rating, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *storeRepoPG) Create(ctx context.Context, s *MedicalStore) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_stores (id, code, name, address, normalized_address, phone, email,
			pin_hash, rating, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.Code, s.Name, s.Address, s.NormalizedAddress, s.Phone, s.Email,
		s.PinHash, s.Rating, s.Status).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *storeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalStore, error) {
	s, err := r.scanStore(r.conn(ctx).QueryRow(ctx, `SELECT `+storeCols+` FROM medical_stores WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "medical store %s not found", id)
	}
	return s, nil
}

func (r *storeRepoPG) GetByCode(ctx context.Context, code string) (*MedicalStore, error) {
	s, err := r.scanStore(r.conn(ctx).QueryRow(ctx, `SELECT `+storeCols+` FROM medical_stores WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err, "medical store %s not found", code)
	}
	return s, nil
}

func (r *storeRepoPG) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM medical_stores WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *storeRepoPG) ExistsByAddress(ctx context.Context, normalized string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM medical_stores WHERE normalized_address = $1)`, normalized).Scan(&exists)
	return exists, err
}

func (r *storeRepoPG) List(ctx context.Context, limit, offset int) ([]*MedicalStore, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_stores`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+storeCols+` FROM medical_stores ORDER BY name, code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalStore
	for rows.Next() {
		s, err := r.scanStore(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool db.Querier }

func NewDoctorRepoPG(pool db.Querier) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `id, code, name, specialty, COALESCE(phone, ''), email, hospital_id, status,
	password_hash, auto_approve, available_slots, created_at, updated_at`

func (r *doctorRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Specialty, &d.Phone, &d.Email, &d.HospitalID, &d.Status,
		&d.PasswordHash, &d.AutoApprove, &d.AvailableSlots, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.AvailableSlots == nil {
		d.AvailableSlots = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, code, name, specialty, phone, email, hospital_id, status,
			password_hash, auto_approve, available_slots)
		VALUES ($1,$2,$3,$4,NULLIF($5, ''),$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		d.ID, d.Code, d.Name, d.Specialty, d.Phone, d.Email, d.HospitalID, d.Status,
		d.PasswordHash, d.AutoApprove, d.AvailableSlots).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := r.scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "doctor %s not found", id)
	}
	return d, nil
}

func (r *doctorRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := r.scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "doctor %s not found", id)
	}
	return d, nil
}

func (r *doctorRepoPG) GetByCode(ctx context.Context, code string) (*Doctor, error) {
	d, err := r.scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err, "doctor %s not found", code)
	}
	return d, nil
}

func (r *doctorRepoPG) GetByPhone(ctx context.Context, phone string) (*Doctor, error) {
	d, err := r.scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE phone = $1 FOR UPDATE`, phone))
	if err != nil {
		return nil, notFound(err, "no doctor registered with phone %s", phone)
	}
	return d, nil
}

func (r *doctorRepoPG) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM doctors WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	if d.AvailableSlots == nil {
		d.AvailableSlots = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET name=$2, specialty=$3, email=$4, status=$5, password_hash=$6,
			auto_approve=$7, available_slots=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Specialty, d.Email, d.Status, d.PasswordHash,
		d.AutoApprove, d.AvailableSlots).Scan(&d.UpdatedAt)
	if err != nil {
		return notFound(err, "doctor %s not found", d.ID)
	}
	return nil
}

func (r *doctorRepoPG) ListByHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors WHERE hospital_id = $1`, hospitalID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+doctorCols+` FROM doctors WHERE hospital_id = $1 ORDER BY name, code LIMIT $2 OFFSET $3`, hospitalID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
