// Package testutils holds the entities shared by the engine and repository tests.
package testutils

import "time"

type Account struct {
	ID      int64 `db:"id"`
	Balance int   `db:"balance"`
}

type Order struct {
	ID        string       `db:"id" json:"id"`
	Customer  string       `db:"customer" json:"customer"`
	Status    string       `db:"status" json:"status"`
	Total     int64        `db:"total" json:"total"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	Lines     []*OrderLine `db:"-" json:"lines,omitempty"`
}

type OrderLine struct {
	ID       string   `db:"id" json:"id"`
	OrderID  string   `db:"order_id" json:"order_id"`
	SKU      string   `db:"sku" json:"sku"`
	Quantity int      `db:"quantity" json:"quantity"`
	Price    int64    `db:"price" json:"price"`
	Product  *Product `db:"-" json:"product,omitempty"`
}

type Product struct {
	SKU  string `db:"sku" json:"sku"`
	Name string `db:"name" json:"name"`
}

// NewOrder builds an open order with lines numbered after id
func NewOrder(id, customer string, lines ...int64) *Order {
	o := &Order{
		ID:        id,
		Customer:  customer,
		Status:    "open",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for i, price := range lines {
		o.Lines = append(o.Lines, &OrderLine{
			ID:       id + "-" + string(rune('a'+i)),
			OrderID:  id,
			SKU:      "sku-" + string(rune('a'+i)),
			Quantity: 1,
			Price:    price,
		})
		o.Total += price
	}
	return o
}
