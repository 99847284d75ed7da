// Package orders holds the entities of the orders service and their bindings
// to every stillsuit engine.
package orders

import (
	"context"
	"time"

	"github.com/seb7887/gofw/stillsuit/memory"
	"github.com/seb7887/gofw/stillsuit/redisengine"
	"github.com/seb7887/gofw/stillsuit/sqlengine"
)

const (
	StatusOpen      = "open"
	StatusPaid      = "paid"
	StatusShipped   = "shipped"
	StatusCancelled = "cancelled"
)

// LinesPath eager-loads the lines of an order
const LinesPath = "Lines"

type Order struct {
	ID        string    `db:"id" json:"id"`
	Customer  string    `db:"customer" json:"customer"`
	Status    string    `db:"status" json:"status"`
	Total     int64     `db:"total" json:"total"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Lines     []*Line   `db:"-" json:"lines"`
}

type Line struct {
	ID       string `db:"id" json:"id"`
	OrderID  string `db:"order_id" json:"order_id"`
	SKU      string `db:"sku" json:"sku"`
	Quantity int    `db:"quantity" json:"quantity"`
	Price    int64  `db:"price" json:"price"`
}

// Amount is the price of the line times its quantity
func (l *Line) Amount() int64 {
	return l.Price * int64(l.Quantity)
}

// ValidStatus reports whether s is a known order status
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusPaid, StatusShipped, StatusCancelled:
		return true
	}
	return false
}

func orderID(o *Order) string { return o.ID }
func lineID(l *Line) string   { return l.ID }

func setLines(o *Order, lines []*Line) {
	if lines == nil {
		lines = []*Line{}
	}
	o.Lines = lines
}

// RegisterMemory declares the entities and the Lines relationship on e
func RegisterMemory(e *memory.Engine) {
	memory.Register(e, orderID)
	memory.Register(e, lineID)
	memory.HasMany(e, LinesPath, orderID, func(l *Line) string { return l.OrderID }, setLines)
}

// RegisterSQL maps the entities to the orders and order_lines tables,
// creating them when missing
func RegisterSQL(ctx context.Context, e *sqlengine.Engine) error {
	if err := sqlengine.Register[Order](e, "orders"); err != nil {
		return err
	}
	if err := sqlengine.Register[Line](e, "order_lines"); err != nil {
		return err
	}
	sqlengine.HasMany(e, LinesPath, "order_id", orderID, func(l *Line) string { return l.OrderID }, setLines)

	if err := sqlengine.EnsureTable[Order](ctx, e,
		sqlengine.IndexDef{Name: "idx_orders_customer", Type: sqlengine.IndexTypeBTree, Columns: []string{"customer"}},
	); err != nil {
		return err
	}
	return sqlengine.EnsureTable[Line](ctx, e,
		sqlengine.IndexDef{Name: "idx_order_lines_order_id", Type: sqlengine.IndexTypeBTree, Columns: []string{"order_id"}},
	)
}

// RegisterRedis declares the entities on e. Redis cannot eager-load, so
// callers read lines through their own repository.
func RegisterRedis(e *redisengine.Engine) {
	redisengine.Register(e, orderID, nil)
	redisengine.Register(e, lineID, nil)
}
