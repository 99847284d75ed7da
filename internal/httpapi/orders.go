package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seb7887/gofw/stillsuit"
	"github.com/seb7887/gofw/stillsuit/idgen"
	"github.com/seb7887/gofw/stillsuit/internal/orders"
)

type lineRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
	Price    int64  `json:"price" binding:"min=0"`
}

type createOrderRequest struct {
	Customer string        `json:"customer" binding:"required"`
	Lines    []lineRequest `json:"lines" binding:"required,min=1,dive"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// OrderHandler exposes orders over HTTP. Every handler expects the request
// context to carry a unit of work.
type OrderHandler struct {
	orders *stillsuit.Repository[orders.Order]
	lines  *stillsuit.Repository[orders.Line]
	eager  bool
	now    func() time.Time
}

// NewOrderHandler creates the handler. With eager set, lines are loaded with
// the orders through the Lines relationship, otherwise with a second query.
func NewOrderHandler(eager bool, opts ...stillsuit.Option) (*OrderHandler, error) {
	h := &OrderHandler{
		orders: stillsuit.New[orders.Order](opts...),
		lines:  stillsuit.New[orders.Line](opts...),
		eager:  eager,
		now:    time.Now,
	}
	if eager {
		if err := h.orders.Include(stillsuit.Path(orders.LinesPath)); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Cached enables the named query result cache on both repositories
func (h *OrderHandler) Cached(name string) {
	h.orders.Cached(name)
	h.lines.Cached(name)
}

func (h *OrderHandler) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/orders", Handler: h.Create},
		{Method: http.MethodGet, Path: "/orders", Handler: h.List},
		{Method: http.MethodGet, Path: "/orders/count", Handler: h.Count},
		{Method: http.MethodGet, Path: "/orders/:id", Handler: h.Get},
		{Method: http.MethodPut, Path: "/orders/:id/status", Handler: h.UpdateStatus},
		{Method: http.MethodDelete, Path: "/orders/:id", Handler: h.Delete},
	}
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(fmt.Errorf("%w: %v", stillsuit.ErrInvalidArgument, err))
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	order := &orders.Order{
		ID:        idgen.NewUUID(),
		Customer:  req.Customer,
		Status:    orders.StatusOpen,
		CreatedAt: h.now().UTC(),
		Lines:     make([]*orders.Line, 0, len(req.Lines)),
	}
	for _, l := range req.Lines {
		line := &orders.Line{
			ID:       idgen.NewUUID(),
			OrderID:  order.ID,
			SKU:      l.SKU,
			Quantity: l.Quantity,
			Price:    l.Price,
		}
		if err := h.lines.Add(ctx, line); err != nil {
			_ = c.Error(err)
			return
		}
		order.Lines = append(order.Lines, line)
		order.Total += line.Amount()
	}
	if err := h.orders.Add(ctx, order); err != nil {
		_ = c.Error(err)
		return
	}
	Respond(c, http.StatusCreated, order)
}

// List filters by the customer and status query parameters, paged with
// limit and offset
func (h *OrderHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	q, err := h.orders.Query(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if customer := c.Query("customer"); customer != "" {
		q = q.Where("customer", stillsuit.OpEqual, customer)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status", stillsuit.OpEqual, status)
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		badRequest(c, err)
		return
	}
	q = q.Limit(limit).Offset(offset)
	q = q.OrderBy("created_at", stillsuit.SortDesc).OrderBy("id", stillsuit.SortAsc)

	items, err := q.All(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}
	for _, o := range items {
		if err := h.loadLines(c, o); err != nil {
			_ = c.Error(err)
			return
		}
	}
	Respond(c, http.StatusOK, items)
}

func intQuery(c *gin.Context, param string) (int, error) {
	raw := c.Query(param)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", param, raw)
	}
	return n, nil
}

func (h *OrderHandler) Count(c *gin.Context) {
	filter := stillsuit.NewFilter()
	if status := c.Query("status"); status != "" {
		filter.Where("status", stillsuit.OpEqual, status)
	}
	n, err := h.orders.Count(c.Request.Context(), filter.Build())
	if err != nil {
		_ = c.Error(err)
		return
	}
	Respond(c, http.StatusOK, gin.H{"count": n})
}

func (h *OrderHandler) find(c *gin.Context) (*orders.Order, error) {
	q, err := h.orders.Query(c.Request.Context())
	if err != nil {
		return nil, err
	}
	o, err := q.Where("id", stillsuit.OpEqual, c.Param("id")).First(c.Request.Context())
	if err != nil {
		return nil, err
	}
	if err := h.loadLines(c, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (h *OrderHandler) loadLines(c *gin.Context, o *orders.Order) error {
	if h.eager {
		return nil
	}
	lines, err := h.lines.Find(c.Request.Context(), stillsuit.NewFilter().
		Where("order_id", stillsuit.OpEqual, o.ID).
		OrderBy("id", stillsuit.SortAsc).
		Build())
	if err != nil {
		return err
	}
	o.Lines = lines
	return nil
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.find(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	Respond(c, http.StatusOK, o)
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !orders.ValidStatus(req.Status) {
		badRequest(c, fmt.Errorf("unknown status %q", req.Status))
		return
	}
	o, err := h.find(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	o.Status = req.Status
	if err := h.orders.Save(c.Request.Context(), o); err != nil {
		_ = c.Error(err)
		return
	}
	Respond(c, http.StatusOK, o)
}

func (h *OrderHandler) Delete(c *gin.Context) {
	o, err := h.find(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ctx := c.Request.Context()
	for _, l := range o.Lines {
		if err := h.lines.Delete(ctx, l); err != nil {
			_ = c.Error(err)
			return
		}
	}
	if err := h.orders.Delete(ctx, o); err != nil {
		_ = c.Error(err)
		return
	}
	Respond(c, http.StatusNoContent, nil)
}
