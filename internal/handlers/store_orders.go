package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/auth"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/httpx"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// StoreOrderHandlers exposes the merchant-facing order endpoints under /stores.
type StoreOrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
}

// NewStoreOrderHandlers constructs merchant order handlers.
func NewStoreOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService) *StoreOrderHandlers {
	return &StoreOrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /stores/{storeID}/orders endpoints.
func (h *StoreOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleMerchant, auth.RoleAdmin))
	}
	r.Route("/{storeID}/orders", func(g chi.Router) {
		g.Get("/", h.listOrders)
		g.Post("/{orderID}/status", h.transitionStatus)
		g.Post("/{orderID}/refund", h.refundOrder)
	})
}

type orderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *StoreOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "store id is required", http.StatusBadRequest))
		return
	}

	filter, err := parseOrderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersCommand{
		StoreID:    storeID,
		MerchantID: identity.MerchantID,
		Filter:     filter,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Items:         make([]orderSummaryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *StoreOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		MerchantID:   identity.MerchantID,
		TargetStatus: domain.OrderStatus(strings.TrimSpace(req.Status)),
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *StoreOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	var req refundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.payments.ExecuteRefund(ctx, services.RefundCommand{
		OrderID:    orderID,
		MerchantID: identity.MerchantID,
		Amount:     req.Amount,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func parseOrderListFilter(r *http.Request) (repositories.OrderListFilter, error) {
	query := r.URL.Query()

	filter := repositories.OrderListFilter{
		Pagination: domain.Pagination{
			PageSize:  defaultOrderPageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	for _, raw := range parseFilterValues(query["status"]) {
		filter.Status = append(filter.Status, domain.OrderStatus(raw))
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return repositories.OrderListFilter{}, fmt.Errorf("created_after must be a valid RFC3339 timestamp")
		}
		filter.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return repositories.OrderListFilter{}, fmt.Errorf("created_before must be a valid RFC3339 timestamp")
		}
		filter.DateRange.To = &ts
	}

	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return repositories.OrderListFilter{}, fmt.Errorf("page_size must be a positive integer")
		}
		if size > maxOrderPageSize {
			size = maxOrderPageSize
		}
		filter.Pagination.PageSize = size
	}

	return filter, nil
}
