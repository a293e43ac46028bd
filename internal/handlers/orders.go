package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/platform/httpx"
	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

const (
	maxOrderRequestBody   = 64 * 1024
	maxPaymentRequestBody = 8 * 1024
)

// OrderHandlers exposes customer-facing checkout and payment endpoints.
type OrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/payment", h.createPayment)
	r.Post("/{orderID}/payment:verify", h.verifyPayment)
}

type createOrderRequest struct {
	StoreID             string                  `json:"store_id"`
	OrderType           string                  `json:"order_type"`
	Items               []orderItemRequest      `json:"items"`
	TipAmount           int64                   `json:"tip_amount"`
	ScheduledPickupTime *string                 `json:"scheduled_pickup_time"`
	ServicePointID      *string                 `json:"service_point_id"`
	IdempotencyKey      *string                 `json:"idempotency_key"`
	Language            string                  `json:"language"`
	Customer            *orderCustomerRequest   `json:"customer"`
	Note                string                  `json:"note"`
}

type orderItemRequest struct {
	ItemID   string               `json:"item_id"`
	Quantity int                  `json:"quantity"`
	Options  []orderOptionRequest `json:"options"`
}

type orderOptionRequest struct {
	OptionGroupID  string `json:"option_group_id"`
	OptionChoiceID string `json:"option_choice_id"`
	Quantity       int    `json:"quantity"`
}

type orderCustomerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type createPaymentRequest struct {
	Provider  string `json:"provider"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		StoreID:        strings.TrimSpace(req.StoreID),
		OrderType:      domain.OrderType(strings.TrimSpace(req.OrderType)),
		TipAmount:      req.TipAmount,
		ServicePointID: req.ServicePointID,
		IdempotencyKey: req.IdempotencyKey,
		Language:       strings.TrimSpace(req.Language),
		Note:           req.Note,
	}
	if req.Customer != nil {
		cmd.CustomerName = req.Customer.Name
		cmd.CustomerPhone = req.Customer.Phone
		cmd.CustomerEmail = req.Customer.Email
	}
	if req.ScheduledPickupTime != nil {
		ts, err := parseTimeParam(*req.ScheduledPickupTime)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "scheduled_pickup_time must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ScheduledPickupTime = &ts
	}

	cmd.Entries = make([]services.CartEntry, 0, len(req.Items))
	for _, item := range req.Items {
		entry := services.CartEntry{
			ItemID:   strings.TrimSpace(item.ItemID),
			Quantity: item.Quantity,
		}
		for _, opt := range item.Options {
			entry.Options = append(entry.Options, services.CartEntryOption{
				OptionGroupID:  strings.TrimSpace(opt.OptionGroupID),
				OptionChoiceID: strings.TrimSpace(opt.OptionChoiceID),
				Quantity:       opt.Quantity,
			})
		}
		cmd.Entries = append(cmd.Entries, entry)
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{IncludeLineItems: true})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
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

	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.payments.CreatePayment(ctx, services.CreatePaymentCommand{
		OrderID:   orderID,
		Provider:  domain.PaymentProviderKind(strings.ToLower(strings.TrimSpace(req.Provider))),
		ReturnURL: strings.TrimSpace(req.ReturnURL),
		CancelURL: strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentSessionResponse{
		OrderID:     session.OrderID,
		Provider:    string(session.Provider),
		ProviderRef: session.ProviderRef,
		RedirectURL: session.RedirectURL,
		ClientToken: session.ClientToken,
	})
}

// verifyPayment runs reconciliation after the customer returns from the
// provider redirect.
func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.payments.Reconcile(ctx, services.ReconcileCommand{OrderID: orderID})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	StoreID       string `json:"store_id"`
	OrderType     string `json:"order_type"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PickupNumber  int    `json:"pickup_number"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderPayload struct {
	ID                  string                  `json:"id"`
	StoreID             string                  `json:"store_id"`
	OrderType           string                  `json:"order_type"`
	Status              string                  `json:"status"`
	PaymentStatus       string                  `json:"payment_status"`
	PickupNumber        int                     `json:"pickup_number"`
	Currency            string                  `json:"currency"`
	Totals              orderTotalsPayload      `json:"totals"`
	Items               []orderLineItemPayload  `json:"items"`
	Payment             *orderPaymentPayload    `json:"payment,omitempty"`
	ScheduledPickupTime string                  `json:"scheduled_pickup_time,omitempty"`
	ServicePointID      string                  `json:"service_point_id,omitempty"`
	Customer            *orderCustomerPayload   `json:"customer,omitempty"`
	Note                string                  `json:"note,omitempty"`
	CancelReason        *string                 `json:"cancel_reason,omitempty"`
	CreatedAt           string                  `json:"created_at"`
	UpdatedAt           string                  `json:"updated_at,omitempty"`
	ConfirmedAt         string                  `json:"confirmed_at,omitempty"`
	CompletedAt         string                  `json:"completed_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Tip      int64 `json:"tip"`
	Total    int64 `json:"total"`
}

type orderLineItemPayload struct {
	ID           string                   `json:"id"`
	ItemID       string                   `json:"item_id"`
	Name         string                   `json:"name"`
	KitchenName  string                   `json:"kitchen_name,omitempty"`
	Quantity     int                      `json:"quantity"`
	UnitPrice    int64                    `json:"unit_price"`
	OptionsPrice int64                    `json:"options_price"`
	TotalPrice   int64                    `json:"total_price"`
	Options      []orderLineOptionPayload `json:"options,omitempty"`
}

type orderLineOptionPayload struct {
	OptionGroupID  string `json:"option_group_id"`
	OptionChoiceID string `json:"option_choice_id"`
	GroupName      string `json:"group_name"`
	ChoiceName     string `json:"choice_name"`
	Quantity       int    `json:"quantity"`
	PriceModifier  int64  `json:"price_modifier"`
}

type orderPaymentPayload struct {
	Provider   string `json:"provider"`
	OrderRef   string `json:"order_ref,omitempty"`
	CaptureRef string `json:"capture_ref,omitempty"`
	RefundRef  string `json:"refund_ref,omitempty"`
}

type orderCustomerPayload struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type paymentSessionResponse struct {
	OrderID     string `json:"order_id"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ClientToken string `json:"client_token,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		StoreID:       strings.TrimSpace(order.StoreID),
		OrderType:     string(order.OrderType),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PickupNumber:  order.PickupNumber,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:         order.TotalAmount,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		StoreID:       strings.TrimSpace(order.StoreID),
		OrderType:     string(order.OrderType),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PickupNumber:  order.PickupNumber,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal: order.Subtotal,
			Tip:      order.TipAmount,
			Total:    order.TotalAmount,
		},
		Items:        make([]orderLineItemPayload, 0, len(order.LineItems)),
		Note:         strings.TrimSpace(order.Note),
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		ConfirmedAt:  formatTime(pointerTime(order.ConfirmedAt)),
		CompletedAt:  formatTime(pointerTime(order.CompletedAt)),
	}

	if order.ScheduledPickupTime != nil {
		payload.ScheduledPickupTime = formatTime(*order.ScheduledPickupTime)
	}
	if order.ServicePointID != nil {
		payload.ServicePointID = strings.TrimSpace(*order.ServicePointID)
	}
	if order.Payment.Active() {
		payload.Payment = &orderPaymentPayload{
			Provider:   string(order.Payment.Kind),
			OrderRef:   order.Payment.OrderRef,
			CaptureRef: order.Payment.CaptureRef,
			RefundRef:  order.Payment.RefundRef,
		}
	}
	if order.CustomerName != "" || order.CustomerPhone != "" || order.CustomerEmail != "" {
		payload.Customer = &orderCustomerPayload{
			Name:  order.CustomerName,
			Phone: order.CustomerPhone,
			Email: order.CustomerEmail,
		}
	}

	for _, item := range order.LineItems {
		entry := orderLineItemPayload{
			ID:           item.ID,
			ItemID:       item.ItemID,
			Name:         item.Name,
			KitchenName:  item.KitchenName,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			OptionsPrice: item.OptionsPrice,
			TotalPrice:   item.TotalPrice,
		}
		for _, opt := range item.Options {
			entry.Options = append(entry.Options, orderLineOptionPayload{
				OptionGroupID:  opt.OptionGroupID,
				OptionChoiceID: opt.OptionChoiceID,
				GroupName:      opt.GroupName,
				ChoiceName:     opt.ChoiceName,
				Quantity:       opt.Quantity,
				PriceModifier:  opt.PriceModifier,
			})
		}
		payload.Items = append(payload.Items, entry)
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentTransient):
		e := httpx.NewError("payment_provider_unavailable", "payment provider temporarily unavailable, retry shortly", http.StatusServiceUnavailable)
		httpx.WriteError(ctx, w, e.WithDetails(map[string]any{"retryable": true}))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}()
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func parseFilterValues(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, dup := seen[part]; dup {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func pointerTime(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
