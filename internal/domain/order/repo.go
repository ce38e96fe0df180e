package order

import "context"

type Repository interface {
	Create(ctx context.Context, o *Order) error
	IDExists(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetByIDForUpdate locks the row for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, o *Order) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Order, int, error)
}
