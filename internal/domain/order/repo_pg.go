package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/db"
)

type orderRepoPG struct{ pool db.Querier }

func NewRepoPG(pool db.Querier) Repository { return &orderRepoPG{pool: pool} }

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const orderCols = `id, user_id, store_id, store_name, items, total, status, delivery_address,
	contact_email, contact_phone, created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var items []byte
	if err := row.Scan(&o.ID, &o.UserID, &o.StoreID, &o.StoreName, &items, &o.Total, &o.Status,
		&o.DeliveryAddress, &o.ContactEmail, &o.ContactPhone, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Items = []Item{}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	if o.Items == nil {
		o.Items = []Item{}
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO orders (id, user_id, store_id, store_name, items, total, status, delivery_address,
			contact_email, contact_phone)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.StoreID, o.StoreName, items, o.Total, o.Status, o.DeliveryAddress,
		o.ContactEmail, o.ContactPhone).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) IDExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *orderRepoPG) get(ctx context.Context, query, id string) (*Order, error) {
	o, err := r.scanOrder(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order %s not found", id)
		}
		return nil, err
	}
	return o, nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepoPG) GetByIDForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.Status).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("order %s not found", o.ID)
	}
	return err
}

func (r *orderRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Order, int, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM orders WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND user_id = $%d`, idx)
		args = append(args, f.UserID)
		idx++
	}
	if f.StoreID != "" {
		query += fmt.Sprintf(` AND store_id = $%d::uuid`, idx)
		countQuery += fmt.Sprintf(` AND store_id = $%d::uuid`, idx)
		args = append(args, f.StoreID)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search orders: %w", err)
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}
