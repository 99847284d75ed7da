package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/seb7887/gofw/stillsuit"
	"github.com/seb7887/gofw/stillsuit/internal/testutils"
)

func newOrderEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	Register[testutils.Order](e, func(o *testutils.Order) string { return o.ID })
	Register[testutils.OrderLine](e, func(l *testutils.OrderLine) string { return l.ID })
	Register[testutils.Product](e, func(p *testutils.Product) string { return p.SKU })
	HasMany(e, "Lines",
		func(o *testutils.Order) string { return o.ID },
		func(l *testutils.OrderLine) string { return l.OrderID },
		func(o *testutils.Order, lines []*testutils.OrderLine) { o.Lines = lines },
	)
	BelongsTo(e, "Product",
		func(l *testutils.OrderLine) string { return l.SKU },
		func(p *testutils.Product) string { return p.SKU },
		func(l *testutils.OrderLine, p *testutils.Product) { l.Product = p },
	)

	ctx := context.Background()
	s := newSession(e)
	for _, o := range []*testutils.Order{
		testutils.NewOrder("o1", "ana", 10, 20),
		testutils.NewOrder("o2", "bea", 5),
		testutils.NewOrder("o3", "cid"),
	} {
		for _, l := range o.Lines {
			_ = s.Insert(ctx, l)
		}
		o.Lines = nil
		_ = s.Insert(ctx, o)
	}
	_ = s.Insert(ctx, &testutils.Product{SKU: "sku-a", Name: "anvil"})
	_ = s.Insert(ctx, &testutils.Product{SKU: "sku-b", Name: "bucket"})
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return e
}

func findOrders(t *testing.T, s *Session, paths ...stillsuit.FetchPath) ([]*testutils.Order, error) {
	t.Helper()
	s.SetLoadOptions(stillsuit.LoadOptions{Paths: paths})
	coll, err := s.Table(reflect.TypeOf(testutils.Order{}))
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	items, err := coll.Find(context.Background(), stillsuit.NewFilter().OrderBy("id", stillsuit.SortAsc).Build())
	if err != nil {
		return nil, err
	}
	out := make([]*testutils.Order, len(items))
	for i, it := range items {
		out[i] = it.(*testutils.Order)
	}
	return out, nil
}

func TestRelations_NoPathsLeavesRelationsEmpty(t *testing.T) {
	orders, err := findOrders(t, newSession(newOrderEngine(t)))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	for _, o := range orders {
		if o.Lines != nil {
			t.Errorf("expected no lines for %s without eager loading, got %d", o.ID, len(o.Lines))
		}
	}
}

func TestRelations_HasMany(t *testing.T) {
	orders, err := findOrders(t, newSession(newOrderEngine(t)), stillsuit.Path("Lines"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	expected := map[string]int{"o1": 2, "o2": 1, "o3": 0}
	for _, o := range orders {
		if len(o.Lines) != expected[o.ID] {
			t.Errorf("order %s: expected %d lines, got %d", o.ID, expected[o.ID], len(o.Lines))
		}
		for _, l := range o.Lines {
			if l.Product != nil {
				t.Errorf("expected nested product to stay unloaded on %s", l.ID)
			}
		}
	}
}

func TestRelations_NestedPath(t *testing.T) {
	s := newSession(newOrderEngine(t))
	orders, err := findOrders(t, s, stillsuit.Path("Lines", "Product"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	o1 := orders[0]
	if len(o1.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(o1.Lines))
	}
	if o1.Lines[0].Product == nil || o1.Lines[0].Product.Name != "anvil" {
		t.Errorf("expected anvil on the first line, got %+v", o1.Lines[0].Product)
	}
	if o1.Lines[1].Product == nil || o1.Lines[1].Product.Name != "bucket" {
		t.Errorf("expected bucket on the second line, got %+v", o1.Lines[1].Product)
	}
	// both orders reference sku-a, the session hands out one instance
	if orders[1].Lines[0].Product != o1.Lines[0].Product {
		t.Error("expected shared products to be the same tracked instance")
	}

	o1.Lines[0].Quantity = 3
	if got := s.Pending().Updated["OrderLine"]; got != 1 {
		t.Errorf("expected eager-loaded lines to be tracked, got %d updates", got)
	}
}

func TestRelations_UnknownPath(t *testing.T) {
	_, err := findOrders(t, newSession(newOrderEngine(t)), stillsuit.Path("Customer"))
	if !errors.Is(err, stillsuit.ErrUnknownPath) {
		t.Errorf("expected ErrUnknownPath, got %v", err)
	}
	_, err = findOrders(t, newSession(newOrderEngine(t)), stillsuit.Path("Lines", "Warehouse"))
	if !errors.Is(err, stillsuit.ErrUnknownPath) {
		t.Errorf("expected ErrUnknownPath for a nested segment, got %v", err)
	}
}
