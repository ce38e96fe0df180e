package order

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses, in delivery order.
const (
	StatusConfirmed      = "Confirmed"
	StatusPreparing      = "Preparing"
	StatusOutForDelivery = "Out for delivery"
	StatusDelivered      = "Delivered"
)

const IDPrefix = "ORD-"

var statusRank = map[string]int{
	StatusConfirmed:      0,
	StatusPreparing:      1,
	StatusOutForDelivery: 2,
	StatusDelivered:      3,
}

func IsValidStatus(s string) bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvance reports whether an order may move from one status to another.
// Moves are forward only; skipping ahead and repeating the current status
// are allowed.
func CanAdvance(from, to string) bool {
	f, ok := statusRank[from]
	if !ok {
		return false
	}
	t, ok := statusRank[to]
	return ok && t >= f
}

// Item is one line of an order.
type Item struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order maps to the orders table.
type Order struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	StoreID         uuid.UUID `json:"storeId"`
	StoreName       string    `json:"storeName"`
	Items           []Item    `json:"items"`
	Total           float64   `json:"total"`
	Status          string    `json:"status"`
	DeliveryAddress string    `json:"deliveryAddress,omitempty"`
	ContactEmail    string    `json:"contactEmail,omitempty"`
	ContactPhone    string    `json:"contactPhone,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PlaceRequest is the body of POST /orders. A nil Total is computed from
// the items.
type PlaceRequest struct {
	StoreID         string   `json:"storeId"`
	Items           []Item   `json:"items"`
	Total           *float64 `json:"total"`
	DeliveryAddress string   `json:"deliveryAddress"`
	ContactEmail    string   `json:"contactEmail"`
	ContactPhone    string   `json:"contactPhone"`
}

type Filter struct {
	UserID  string
	StoreID string
	Status  string
}

// ItemsTotal sums price times quantity.
func ItemsTotal(items []Item) float64 {
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}
