package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/mwesox/menuvo-platform-sub005/internal/platform/httpx"
	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

const maxWebhookBody = 256 * 1024

// WebhookLogger defines the logging contract for webhook processing.
type WebhookLogger func(ctx context.Context, event string, fields map[string]any)

// WebhookHandlers receives asynchronous provider notifications and folds them
// into order state through payment reconciliation.
type WebhookHandlers struct {
	payments            services.PaymentService
	stripeWebhookSecret string
	logger              WebhookLogger
}

// WebhookHandlersConfig configures WebhookHandlers.
type WebhookHandlersConfig struct {
	Payments            services.PaymentService
	StripeWebhookSecret string
	Logger              WebhookLogger
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(cfg WebhookHandlersConfig) *WebhookHandlers {
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		payments:            cfg.Payments,
		stripeWebhookSecret: strings.TrimSpace(cfg.StripeWebhookSecret),
		logger:              logger,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
	r.Post("/paypal", h.paypalWebhook)
	r.Post("/mollie", h.mollieWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.stripeWebhookSecret)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	var object struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unexpected event payload", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(object.Metadata["orderId"])
	h.logger(ctx, "webhooks.stripe.received", map[string]any{
		"eventType": string(event.Type),
		"orderId":   orderID,
	})

	h.reconcileAndAck(w, r, orderID)
}

// paypalEvent covers the subset of the PayPal webhook envelope the handler
// needs. CustomID carries the order id on capture events; on checkout events
// it lives on the purchase units.
type paypalEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		CustomID      string `json:"custom_id"`
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			CustomID    string `json:"custom_id"`
		} `json:"purchase_units"`
	} `json:"resource"`
}

func (h *WebhookHandlers) paypalWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	var event paypalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(event.Resource.CustomID)
	if orderID == "" {
		for _, unit := range event.Resource.PurchaseUnits {
			if unit.CustomID != "" {
				orderID = strings.TrimSpace(unit.CustomID)
				break
			}
			if unit.ReferenceID != "" {
				orderID = strings.TrimSpace(unit.ReferenceID)
				break
			}
		}
	}

	h.logger(ctx, "webhooks.paypal.received", map[string]any{
		"eventType": event.EventType,
		"orderId":   orderID,
	})

	h.reconcileAndAck(w, r, orderID)
}

func (h *WebhookHandlers) mollieWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := r.ParseForm(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to parse request body", http.StatusBadRequest))
		return
	}

	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	h.logger(ctx, "webhooks.mollie.received", map[string]any{
		"molliePayment": strings.TrimSpace(r.FormValue("id")),
		"orderId":       orderID,
	})

	h.reconcileAndAck(w, r, orderID)
}

// reconcileAndAck folds the notification into order state. Unknown orders and
// orders without an active payment session are acknowledged so the provider
// stops retrying; transient failures are surfaced as 503 to request a retry.
func (h *WebhookHandlers) reconcileAndAck(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx := r.Context()

	if orderID == "" {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	_, err := h.payments.Reconcile(ctx, services.ReconcileCommand{OrderID: orderID})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, services.ErrPaymentNotFound), errors.Is(err, services.ErrPaymentInvalidState):
		h.logger(ctx, "webhooks.reconcile.skipped", map[string]any{
			"orderId": orderID,
			"reason":  err.Error(),
		})
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
	case errors.Is(err, services.ErrPaymentTransient):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_unavailable", "temporary provider failure, retry later", http.StatusServiceUnavailable))
	default:
		h.logger(ctx, "webhooks.reconcile.failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
	}
}
