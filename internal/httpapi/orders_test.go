package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seb7887/gofw/stillsuit"
	"github.com/seb7887/gofw/stillsuit/internal/orders"
	"github.com/seb7887/gofw/stillsuit/memory"
)

func setupOrdersRouter(t *testing.T, eager bool) (*gin.Engine, *memory.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := memory.New()
	orders.RegisterMemory(e)
	reg := stillsuit.NewRegistry()
	reg.SetDefault(e)

	h, err := NewOrderHandler(eager)
	require.NoError(t, err)
	return SetupRouter(h.Routes(), UnitOfWorkMiddleware(reg), ErrorFormatterMiddleware()), e
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createOrder(t *testing.T, router *gin.Engine, customer string, prices ...int64) orders.Order {
	t.Helper()
	var lines []gin.H
	for i, p := range prices {
		lines = append(lines, gin.H{"sku": string(rune('a' + i)), "quantity": 2, "price": p})
	}
	w := doJSON(router, http.MethodPost, "/orders", gin.H{"customer": customer, "lines": lines})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var o orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	return o
}

func TestOrderHandler_Lifecycle(t *testing.T) {
	for _, eager := range []bool{true, false} {
		name := "lazy"
		if eager {
			name = "eager"
		}
		t.Run(name, func(t *testing.T) {
			router, e := setupOrdersRouter(t, eager)

			created := createOrder(t, router, "ana", 10, 5)
			assert.NotEmpty(t, created.ID)
			assert.Equal(t, orders.StatusOpen, created.Status)
			assert.Equal(t, int64(30), created.Total)
			assert.Len(t, created.Lines, 2)
			assert.Equal(t, 2, memory.Len[orders.Line](e))

			w := doJSON(router, http.MethodGet, "/orders/"+created.ID, nil)
			require.Equal(t, http.StatusOK, w.Code)
			var got orders.Order
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, created.ID, got.ID)
			assert.Len(t, got.Lines, 2)

			w = doJSON(router, http.MethodPut, "/orders/"+created.ID+"/status", gin.H{"status": orders.StatusPaid})
			require.Equal(t, http.StatusOK, w.Code)

			w = doJSON(router, http.MethodGet, "/orders/count?status=paid", nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"count":1}`, w.Body.String())

			w = doJSON(router, http.MethodDelete, "/orders/"+created.ID, nil)
			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Zero(t, memory.Len[orders.Order](e))
			assert.Zero(t, memory.Len[orders.Line](e))

			w = doJSON(router, http.MethodGet, "/orders/"+created.ID, nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestOrderHandler_List(t *testing.T) {
	router, _ := setupOrdersRouter(t, true)
	createOrder(t, router, "ana", 1)
	createOrder(t, router, "bea", 2)
	createOrder(t, router, "ana", 3)

	w := doJSON(router, http.MethodGet, "/orders?customer=ana", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	for _, o := range list {
		assert.Equal(t, "ana", o.Customer)
		assert.Len(t, o.Lines, 1)
	}

	w = doJSON(router, http.MethodGet, "/orders?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = doJSON(router, http.MethodGet, "/orders?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderHandler_Validation(t *testing.T) {
	router, e := setupOrdersRouter(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing customer", http.MethodPost, "/orders", gin.H{"lines": []gin.H{{"sku": "a", "quantity": 1}}}, http.StatusBadRequest},
		{"no lines", http.MethodPost, "/orders", gin.H{"customer": "ana"}, http.StatusBadRequest},
		{"zero quantity", http.MethodPost, "/orders", gin.H{"customer": "ana", "lines": []gin.H{{"sku": "a", "quantity": 0}}}, http.StatusBadRequest},
		{"unknown status", http.MethodPut, "/orders/x/status", gin.H{"status": "lost"}, http.StatusBadRequest},
		{"unknown order", http.MethodPut, "/orders/x/status", gin.H{"status": orders.StatusPaid}, http.StatusNotFound},
		{"delete unknown order", http.MethodDelete, "/orders/x", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, memory.Len[orders.Order](e))
}
