package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/store-backoffice/internal/domain/order"
)

func pathID(r *http.Request, name, field string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &requestError{Field: field, Message: "must be a positive id", Err: err}
	}
	return id, nil
}

func writeOrder(w http.ResponseWriter, code int, o *order.Order) {
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, code, e.Bytes())
}

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceRequest(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+strconv.FormatInt(o.ID, 10))
	writeOrder(w, http.StatusCreated, o)
}

// queryID reads an optional positive id from the query string.
func queryID(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, &requestError{Field: name, Message: "must be a positive id", Err: err}
	}
	return &id, nil
}

// ListOrders handles GET /api/orders?status=&customer_id=&invoice=&limit=&offset=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		f   order.ListFilter
		err error
	)
	q := r.URL.Query()
	if f.CustomerID, err = queryID(r, "customer_id"); err != nil {
		writeError(w, r, err)
		return
	}
	f.Invoice = q.Get("invoice")
	if v := q.Get("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, &requestError{Field: "status", Message: "must be a numeric status code", Err: err})
			return
		}
		s := order.Status(n)
		f.Status = &s
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, &requestError{Field: p.name, Message: "must be an integer", Err: err})
			return
		}
		*p.dst = n
	}

	list, err := h.orders.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrderList(&e, list)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// GetOrder handles GET /api/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID", "order_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// GetOrderByInvoice handles GET /api/orders/invoice/{code}?customer_id=.
func (h *Handler) GetOrderByInvoice(w http.ResponseWriter, r *http.Request) {
	customerID, err := queryID(r, "customer_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.GetOrderByInvoice(r.Context(), chi.URLParam(r, "code"), customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// CheckCoupon handles POST /api/coupons/check.
func (h *Handler) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCouponCheck(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.orders.CheckCoupon(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeCouponQuote(&e, q)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// DeleteOrder handles DELETE /api/orders/{orderID}.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID", "order_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.orders.DeleteOrder(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mutation adapts an order-changing operation to a handler that responds
// with the updated order.
func (h *Handler) mutation(fn func(r *http.Request, w http.ResponseWriter, orderID int64) (*order.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "orderID", "order_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		o, err := fn(r, w, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOrder(w, http.StatusOK, o)
	}
}

// ChangeStatus handles PATCH /api/orders/{orderID}/status.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	h.mutation(func(r *http.Request, w http.ResponseWriter, id int64) (*order.Order, error) {
		to, err := decodeStatus(w, r)
		if err != nil {
			return nil, err
		}
		return h.orders.ChangeStatus(r.Context(), id, to)
	})(w, r)
}

// UpdateCustomer handles PATCH /api/orders/{orderID}/customer.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	h.mutation(func(r *http.Request, w http.ResponseWriter, id int64) (*order.Order, error) {
		g, err := decodeCustomer(w, r)
		if err != nil {
			return nil, err
		}
		return h.orders.UpdateCustomer(r.Context(), id, g)
	})(w, r)
}

// AddProduct handles POST /api/orders/{orderID}/lines.
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	h.mutation(func(r *http.Request, w http.ResponseWriter, id int64) (*order.Order, error) {
		req, err := decodeAddProduct(w, r)
		if err != nil {
			return nil, err
		}
		return h.orders.AddProduct(r.Context(), id, req)
	})(w, r)
}

// UpdateLine handles PATCH /api/orders/{orderID}/lines/{lineID}.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	h.mutation(func(r *http.Request, w http.ResponseWriter, id int64) (*order.Order, error) {
		lineID, err := pathID(r, "lineID", "line_id")
		if err != nil {
			return nil, err
		}
		req, err := decodeUpdateLine(w, r)
		if err != nil {
			return nil, err
		}
		return h.orders.UpdateLine(r.Context(), id, lineID, req)
	})(w, r)
}

// RemoveLine handles DELETE /api/orders/{orderID}/lines/{lineID}.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	h.mutation(func(r *http.Request, _ http.ResponseWriter, id int64) (*order.Order, error) {
		lineID, err := pathID(r, "lineID", "line_id")
		if err != nil {
			return nil, err
		}
		return h.orders.RemoveLine(r.Context(), id, lineID)
	})(w, r)
}

// SetPaidAmount handles PUT /api/orders/{orderID}/payment/paid-amount.
func (h *Handler) SetPaidAmount(w http.ResponseWriter, r *http.Request) {
	h.mutation(func(r *http.Request, w http.ResponseWriter, id int64) (*order.Order, error) {
		paid, err := decodePaidAmount(w, r)
		if err != nil {
			return nil, err
		}
		return h.orders.SetPaidAmount(r.Context(), id, paid)
	})(w, r)
}

// SetPaymentStatus handles PUT /api/orders/{orderID}/payment/status.
func (h *Handler) SetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	h.mutation(func(r *http.Request, w http.ResponseWriter, id int64) (*order.Order, error) {
		status, err := decodePaymentStatus(w, r)
		if err != nil {
			return nil, err
		}
		return h.orders.SetPaymentStatus(r.Context(), id, status)
	})(w, r)
}
