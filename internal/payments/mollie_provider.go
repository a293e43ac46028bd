package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"
)

// MollieLogger defines the logging contract for Mollie provider operations.
type MollieLogger func(ctx context.Context, event string, fields map[string]any)

type molliePaymentsAPI interface {
	Create(ctx context.Context, payment mollie.CreatePayment, opts *mollie.PaymentOptions) (*mollie.Response, *mollie.Payment, error)
	Get(ctx context.Context, id string, opts *mollie.PaymentOptions) (*mollie.Response, *mollie.Payment, error)
}

type mollieRefundsAPI interface {
	CreatePaymentRefund(ctx context.Context, paymentID string, re mollie.CreatePaymentRefund, opts *mollie.PaymentRefundOptions) (*mollie.Response, *mollie.Refund, error)
}

// MollieProviderConfig configures the MollieProvider.
type MollieProviderConfig struct {
	APIToken   string
	TestMode   bool
	WebhookURL string
	Logger     MollieLogger
	Payments   molliePaymentsAPI
	Refunds    mollieRefundsAPI
}

// MollieProvider implements the Provider interface over the Mollie Payments
// API. Mollie captures automatically once the customer pays, so Capture
// degrades to a status lookup.
type MollieProvider struct {
	payments   molliePaymentsAPI
	refunds    mollieRefundsAPI
	webhookURL string
	logger     MollieLogger
}

// NewMollieProvider constructs a Mollie Provider using the given configuration.
func NewMollieProvider(cfg MollieProviderConfig) (*MollieProvider, error) {
	payments := cfg.Payments
	refunds := cfg.Refunds
	if payments == nil || refunds == nil {
		token := strings.TrimSpace(cfg.APIToken)
		if token == "" {
			return nil, errors.New("mollie: api token is required")
		}
		config := mollie.NewConfig(cfg.TestMode, mollie.APITokenEnv)
		client, err := mollie.NewClient(nil, config)
		if err != nil {
			return nil, fmt.Errorf("mollie: create client: %w", err)
		}
		if err := client.WithAuthenticationValue(token); err != nil {
			return nil, fmt.Errorf("mollie: set credentials: %w", err)
		}
		payments = client.Payments
		refunds = client.Refunds
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &MollieProvider{
		payments:   payments,
		refunds:    refunds,
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		logger:     logger,
	}, nil
}

// CreatePayment creates a Mollie payment the customer completes via redirect.
func (p *MollieProvider) CreatePayment(ctx context.Context, req CreateRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("mollie: provider is nil")
	}

	value, err := MajorUnits(req.Amount, req.Currency)
	if err != nil {
		return Session{}, err
	}

	create := mollie.CreatePayment{
		Amount: &mollie.Amount{
			Currency: strings.ToUpper(req.Currency),
			Value:    value,
		},
		Description: defaultString(req.Description, "Order"),
		RedirectURL: req.ReturnURL,
		CancelURL:   req.CancelURL,
	}
	if p.webhookURL != "" {
		// Mollie webhook calls carry only the payment id, so the order id is
		// encoded on the callback URL for resolution without an extra lookup.
		create.WebhookURL = webhookURLWithOrder(p.webhookURL, req.OrderID)
	}
	if req.OrderID != "" {
		create.Metadata = map[string]string{"orderId": req.OrderID}
	}

	_, payment, err := p.payments.Create(ctx, create, nil)
	if err != nil {
		return Session{}, mollieError("create payment", err)
	}

	p.logger(ctx, "payments.mollie.payment.created", map[string]any{
		"molliePayment": payment.ID,
		"orderId":       req.OrderID,
	})

	session := Session{ProviderRef: payment.ID}
	if payment.Links.Checkout != nil {
		session.RedirectURL = payment.Links.Checkout.Href
	}
	return session, nil
}

// GetStatus retrieves the Mollie payment state.
func (p *MollieProvider) GetStatus(ctx context.Context, providerRef string) (StatusReport, error) {
	if p == nil {
		return StatusReport{}, errors.New("mollie: provider is nil")
	}

	_, payment, err := p.payments.Get(ctx, providerRef, nil)
	if err != nil {
		return StatusReport{}, mollieError("get payment", err)
	}
	return mollieReport(payment), nil
}

// Capture reports the current payment state. Mollie has no separate capture
// step for redirect payments; funds settle as soon as the status is paid.
func (p *MollieProvider) Capture(ctx context.Context, req CaptureRequest) (StatusReport, error) {
	if p == nil {
		return StatusReport{}, errors.New("mollie: provider is nil")
	}

	_, payment, err := p.payments.Get(ctx, req.ProviderRef, nil)
	if err != nil {
		return StatusReport{}, mollieError("get payment", err)
	}
	return mollieReport(payment), nil
}

// Refund refunds a paid Mollie payment.
func (p *MollieProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("mollie: provider is nil")
	}
	if req.Amount == nil {
		return RefundResult{}, errors.New("mollie: refund amount is required")
	}

	value, err := MajorUnits(*req.Amount, req.Currency)
	if err != nil {
		return RefundResult{}, err
	}

	create := mollie.CreatePaymentRefund{
		Amount: &mollie.Amount{
			Currency: strings.ToUpper(req.Currency),
			Value:    value,
		},
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		create.Description = reason
	}

	_, refund, err := p.refunds.CreatePaymentRefund(ctx, req.ProviderRef, create, nil)
	if err != nil {
		return RefundResult{}, mollieError("create refund", err)
	}

	p.logger(ctx, "payments.mollie.payment.refunded", map[string]any{
		"molliePayment": req.ProviderRef,
		"refund":        refund.ID,
	})
	return RefundResult{RefundRef: refund.ID}, nil
}

func webhookURLWithOrder(base, orderID string) string {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	query := parsed.Query()
	query.Set("order_id", orderID)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func mollieReport(payment *mollie.Payment) StatusReport {
	if payment == nil {
		return StatusReport{}
	}

	report := StatusReport{ProviderRef: payment.ID}
	if payment.Amount != nil {
		report.Currency = strings.ToUpper(payment.Amount.Currency)
		if minor, err := MinorUnits(payment.Amount.Value, payment.Amount.Currency); err == nil {
			report.Amount = minor
		}
	}

	switch payment.Status {
	case "authorized":
		report.Approved = true
	case "paid":
		report.Paid = true
		report.CaptureRef = payment.ID
	case "failed", "canceled", "expired":
		report.Failed = true
	}

	if payment.AmountRefunded != nil && payment.Amount != nil {
		refunded, rerr := MinorUnits(payment.AmountRefunded.Value, payment.AmountRefunded.Currency)
		total, terr := MinorUnits(payment.Amount.Value, payment.Amount.Currency)
		if rerr == nil && terr == nil && total > 0 && refunded >= total {
			report.Refunded = true
		}
	}
	return report
}

// mollieError classifies Mollie failures the same way stripeError does.
func mollieError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *mollie.BaseError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests {
			return fmt.Errorf("%w: mollie: %s: %v", ErrTransient, op, err)
		}
		return fmt.Errorf("mollie: %s: %w", op, err)
	}
	return fmt.Errorf("%w: mollie: %s: %v", ErrTransient, op, err)
}
