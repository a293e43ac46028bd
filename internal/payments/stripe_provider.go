package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
	refunds  stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Checkout
// sessions with manual capture payment intents.
type StripeProvider struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			intents:  sc.PaymentIntents,
			refunds:  sc.Refunds,
		}
	}

	if clients.sessions == nil || clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePayment creates a Stripe Checkout session with a manual-capture intent.
func (p *StripeProvider) CreatePayment(ctx context.Context, req CreateRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(defaultString(req.Description, "Order")),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["orderId"] = req.OrderID
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
		params.PaymentIntentData.Metadata = metadata
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Session{}, stripeError("create checkout session", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
	})

	return Session{
		ProviderRef:  session.ID,
		RedirectURL:  session.URL,
		ClientSecret: session.ClientSecret,
	}, nil
}

// GetStatus resolves the session and its payment intent into a status report.
func (p *StripeProvider) GetStatus(ctx context.Context, providerRef string) (StatusReport, error) {
	if p == nil {
		return StatusReport{}, errors.New("stripe: provider is nil")
	}

	sessionParams := &stripe.CheckoutSessionParams{}
	sessionParams.Context = ctx
	session, err := p.api.sessions.Get(providerRef, sessionParams)
	if err != nil {
		return StatusReport{}, stripeError("lookup checkout session", err)
	}

	report := StatusReport{
		ProviderRef: session.ID,
		Amount:      session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
	}

	if session.Status == stripe.CheckoutSessionStatusExpired {
		report.Failed = true
		return report, nil
	}
	if session.PaymentIntent == nil {
		return report, nil
	}

	intentParams := &stripe.PaymentIntentParams{}
	intentParams.Context = ctx
	intent, err := p.api.intents.Get(session.PaymentIntent.ID, intentParams)
	if err != nil {
		return StatusReport{}, stripeError("lookup payment intent", err)
	}
	return p.reportFromIntent(report, intent), nil
}

// Capture captures the approved payment intent behind the session.
func (p *StripeProvider) Capture(ctx context.Context, req CaptureRequest) (StatusReport, error) {
	if p == nil {
		return StatusReport{}, errors.New("stripe: provider is nil")
	}

	sessionParams := &stripe.CheckoutSessionParams{}
	sessionParams.Context = ctx
	session, err := p.api.sessions.Get(req.ProviderRef, sessionParams)
	if err != nil {
		return StatusReport{}, stripeError("lookup checkout session", err)
	}
	if session.PaymentIntent == nil {
		return StatusReport{}, fmt.Errorf("stripe: session %s has no payment intent", req.ProviderRef)
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	intent, err := p.api.intents.Capture(session.PaymentIntent.ID, params)
	if err != nil {
		return StatusReport{}, stripeError("capture payment intent", err)
	}

	p.logger(ctx, "payments.stripe.intent.captured", map[string]any{
		"paymentIntent":  intent.ID,
		"amountReceived": intent.AmountReceived,
	})

	report := StatusReport{
		ProviderRef: req.ProviderRef,
		Amount:      intent.Amount,
		Currency:    strings.ToUpper(string(intent.Currency)),
	}
	return p.reportFromIntent(report, intent), nil
}

// Refund refunds the captured charge.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.RefundParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.CaptureRef != "" {
		params.Charge = stripe.String(req.CaptureRef)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, stripeError("refund charge", err)
	}

	p.logger(ctx, "payments.stripe.charge.refunded", map[string]any{
		"refund": refund.ID,
		"charge": req.CaptureRef,
	})
	return RefundResult{RefundRef: refund.ID}, nil
}

func (p *StripeProvider) reportFromIntent(report StatusReport, intent *stripe.PaymentIntent) StatusReport {
	if intent == nil {
		return report
	}
	if report.Amount == 0 {
		report.Amount = intent.Amount
	}
	if report.Currency == "" {
		report.Currency = strings.ToUpper(string(intent.Currency))
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		report.Approved = true
	case stripe.PaymentIntentStatusSucceeded:
		report.Paid = true
	case stripe.PaymentIntentStatusCanceled:
		report.Failed = true
	}

	if charge := intent.LatestCharge; charge != nil {
		if charge.Paid || charge.Captured {
			report.CaptureRef = charge.ID
		}
		if charge.Refunded || (charge.AmountRefunded >= charge.Amount && charge.Amount > 0) {
			report.Refunded = true
		}
	}
	return report
}

// stripeError classifies Stripe failures: transport problems and 5xx/429
// responses are retryable, everything else is a definite API rejection.
func stripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *stripe.Error
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: stripe: %s: %v", ErrTransient, op, err)
		}
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	return fmt.Errorf("%w: stripe: %s: %v", ErrTransient, op, err)
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
