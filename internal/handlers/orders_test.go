package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, string, services.OrderReadOptions) (services.Order, error)
	listFn       func(context.Context, services.ListOrdersCommand) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, opts)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, cmd services.ListOrdersCommand) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, cmd)
	}
	return domain.CursorPage[services.Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubPaymentService struct {
	createFn    func(context.Context, services.CreatePaymentCommand) (services.PaymentSession, error)
	reconcileFn func(context.Context, services.ReconcileCommand) (services.Order, error)
	authorizeFn func(context.Context, services.RefundCommand) (services.RefundAuthorization, error)
	refundFn    func(context.Context, services.RefundCommand) (services.Order, error)
}

func (s *stubPaymentService) CreatePayment(ctx context.Context, cmd services.CreatePaymentCommand) (services.PaymentSession, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.PaymentSession{}, errors.New("not implemented")
}

func (s *stubPaymentService) Reconcile(ctx context.Context, cmd services.ReconcileCommand) (services.Order, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubPaymentService) AuthorizeRefund(ctx context.Context, cmd services.RefundCommand) (services.RefundAuthorization, error) {
	if s.authorizeFn != nil {
		return s.authorizeFn(ctx, cmd)
	}
	return services.RefundAuthorization{}, errors.New("not implemented")
}

func (s *stubPaymentService) ExecuteRefund(ctx context.Context, cmd services.RefundCommand) (services.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func newOrderTestRouter(orders services.OrderService, payments services.PaymentService) chi.Router {
	r := chi.NewRouter()
	r.Route("/orders", NewOrderHandlers(orders, payments).Routes)
	return r
}

func sampleOrder() services.Order {
	created := time.Date(2026, 3, 14, 11, 5, 0, 0, time.UTC)
	return services.Order{
		ID:            "ord_1",
		StoreID:       "store-1",
		OrderType:     domain.OrderTypeDineIn,
		Status:        domain.OrderStatusAwaitingPayment,
		PaymentStatus: domain.PaymentStatusPending,
		Subtotal:      2550,
		TipAmount:     200,
		TotalAmount:   2750,
		Currency:      "EUR",
		PickupNumber:  7,
		CreatedAt:     created,
		UpdatedAt:     created,
		LineItems: []services.OrderLineItem{
			{ID: "oli_1", OrderID: "ord_1", ItemID: "item-burger", Name: "Burger", Quantity: 2, UnitPrice: 950, OptionsPrice: 400, TotalPrice: 2700},
		},
	}
}

func TestCreateOrderHandler(t *testing.T) {
	var gotCmd services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			gotCmd = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(orders, &stubPaymentService{})

	payload := map[string]any{
		"store_id":   "store-1",
		"order_type": "dine_in",
		"items": []map[string]any{
			{
				"item_id":  "item-burger",
				"quantity": 2,
				"options": []map[string]any{
					{"option_group_id": "grp-extras", "option_choice_id": "cho-cheese", "quantity": 2},
				},
			},
		},
		"tip_amount":            200,
		"scheduled_pickup_time": "2026-03-14T12:30:00Z",
		"idempotency_key":       "client-key-1",
		"customer":              map[string]any{"name": "Alex", "email": "alex@example.com"},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if gotCmd.StoreID != "store-1" || gotCmd.OrderType != domain.OrderTypeDineIn {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
	if len(gotCmd.Entries) != 1 || gotCmd.Entries[0].Quantity != 2 {
		t.Fatalf("unexpected entries: %+v", gotCmd.Entries)
	}
	if len(gotCmd.Entries[0].Options) != 1 || gotCmd.Entries[0].Options[0].OptionChoiceID != "cho-cheese" {
		t.Fatalf("unexpected options: %+v", gotCmd.Entries[0].Options)
	}
	if gotCmd.IdempotencyKey == nil || *gotCmd.IdempotencyKey != "client-key-1" {
		t.Fatalf("expected idempotency key forwarded")
	}
	if gotCmd.ScheduledPickupTime == nil || !gotCmd.ScheduledPickupTime.Equal(time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected scheduled pickup parsed, got %v", gotCmd.ScheduledPickupTime)
	}
	if gotCmd.CustomerName != "Alex" || gotCmd.CustomerEmail != "alex@example.com" {
		t.Fatalf("expected customer forwarded: %+v", gotCmd)
	}

	var resp struct {
		Order struct {
			ID           string `json:"id"`
			Status       string `json:"status"`
			PickupNumber int    `json:"pickup_number"`
			Totals       struct {
				Subtotal int64 `json:"subtotal"`
				Tip      int64 `json:"tip"`
				Total    int64 `json:"total"`
			} `json:"totals"`
			Items []struct {
				ItemID string `json:"item_id"`
			} `json:"items"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Status != "awaiting_payment" || resp.Order.PickupNumber != 7 {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
	if resp.Order.Totals.Total != 2750 || resp.Order.Totals.Tip != 200 {
		t.Fatalf("unexpected totals: %+v", resp.Order.Totals)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].ItemID != "item-burger" {
		t.Fatalf("unexpected items: %+v", resp.Order.Items)
	}
}

func TestCreateOrderHandlerErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "invalid schedule",
			body:       `{"store_id":"store-1","order_type":"dine_in","scheduled_pickup_time":"tomorrow"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "validation failure",
			body:       `{"store_id":"store-1","order_type":"dine_in","items":[]}`,
			serviceErr: fmt.Errorf("%w: cart is empty", services.ErrOrderInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "store inactive",
			body:       `{"store_id":"store-1","order_type":"dine_in","items":[{"item_id":"item-burger","quantity":1}]}`,
			serviceErr: fmt.Errorf("%w: store is not accepting orders", services.ErrOrderForbidden),
			wantStatus: http.StatusForbidden,
			wantCode:   "forbidden",
		},
		{
			name:       "unknown item",
			body:       `{"store_id":"store-1","order_type":"dine_in","items":[{"item_id":"item-x","quantity":1}]}`,
			serviceErr: fmt.Errorf("%w: menu item item-x", services.ErrOrderNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   "order_not_found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.serviceErr
				},
			}
			router := newOrderTestRouter(orders, &stubPaymentService{})

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tc.wantCode) {
				t.Fatalf("expected error code %q in body: %s", tc.wantCode, rec.Body.String())
			}
		})
	}
}

func TestGetOrderHandler(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			if !opts.IncludeLineItems {
				t.Fatalf("expected line items requested")
			}
			if orderID != "ord_1" {
				return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, orderID)
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderTestRouter(orders, &stubPaymentService{})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreatePaymentHandler(t *testing.T) {
	var gotCmd services.CreatePaymentCommand
	payments := &stubPaymentService{
		createFn: func(_ context.Context, cmd services.CreatePaymentCommand) (services.PaymentSession, error) {
			gotCmd = cmd
			return services.PaymentSession{
				OrderID:     cmd.OrderID,
				Provider:    cmd.Provider,
				ProviderRef: "cs_1",
				RedirectURL: "https://stripe.example/cs_1",
			}, nil
		},
	}
	router := newOrderTestRouter(&stubOrderService{}, payments)

	body := `{"provider":"STRIPE","return_url":"https://shop.example/done","cancel_url":"https://shop.example/cancel"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/payment", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotCmd.OrderID != "ord_1" || gotCmd.Provider != domain.ProviderStripe {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}

	var resp struct {
		OrderID     string `json:"order_id"`
		Provider    string `json:"provider"`
		ProviderRef string `json:"provider_ref"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ProviderRef != "cs_1" || resp.RedirectURL != "https://stripe.example/cs_1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreatePaymentHandlerTransientError(t *testing.T) {
	payments := &stubPaymentService{
		createFn: func(context.Context, services.CreatePaymentCommand) (services.PaymentSession, error) {
			return services.PaymentSession{}, fmt.Errorf("%w: stripe unreachable", services.ErrPaymentTransient)
		},
	}
	router := newOrderTestRouter(&stubOrderService{}, payments)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/payment", strings.NewReader(`{"provider":"stripe"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "retryable") {
		t.Fatalf("expected retryable detail in body: %s", rec.Body.String())
	}
}

func TestVerifyPaymentHandler(t *testing.T) {
	payments := &stubPaymentService{
		reconcileFn: func(_ context.Context, cmd services.ReconcileCommand) (services.Order, error) {
			if cmd.OrderID != "ord_1" {
				t.Fatalf("unexpected order id %s", cmd.OrderID)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusConfirmed
			order.PaymentStatus = domain.PaymentStatusPaid
			order.Payment = domain.PaymentRef{Kind: domain.ProviderStripe, OrderRef: "cs_1", CaptureRef: "ch_1"}
			return order, nil
		},
	}
	router := newOrderTestRouter(&stubOrderService{}, payments)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/payment:verify", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Order struct {
			Status        string `json:"status"`
			PaymentStatus string `json:"payment_status"`
			Payment       *struct {
				Provider   string `json:"provider"`
				CaptureRef string `json:"capture_ref"`
			} `json:"payment"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Status != "confirmed" || resp.Order.PaymentStatus != "paid" {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
	if resp.Order.Payment == nil || resp.Order.Payment.CaptureRef != "ch_1" {
		t.Fatalf("expected payment block, got %+v", resp.Order.Payment)
	}
}

func TestVerifyPaymentHandlerInvalidState(t *testing.T) {
	payments := &stubPaymentService{
		reconcileFn: func(context.Context, services.ReconcileCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order has no payment session", services.ErrPaymentInvalidState)
		},
	}
	router := newOrderTestRouter(&stubOrderService{}, payments)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/payment:verify", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}
