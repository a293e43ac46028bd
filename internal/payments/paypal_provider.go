package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/plutov/paypal/v4"
)

// PayPalLogger defines the logging contract for PayPal provider operations.
type PayPalLogger func(ctx context.Context, event string, fields map[string]any)

type paypalOrdersAPI interface {
	CreateOrder(ctx context.Context, intent string, purchaseUnits []paypal.PurchaseUnitRequest, paymentSource *paypal.PaymentSource, appContext *paypal.ApplicationContext) (*paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string, captureOrderRequest paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
	RefundCapture(ctx context.Context, captureID string, refundCaptureRequest paypal.RefundCaptureRequest) (*paypal.RefundResponse, error)
}

// PayPalProviderConfig configures the PayPalProvider.
type PayPalProviderConfig struct {
	ClientID  string
	Secret    string
	Live      bool
	BrandName string
	Logger    PayPalLogger
	Orders    paypalOrdersAPI
}

// PayPalProvider implements the Provider interface over the PayPal Orders API.
type PayPalProvider struct {
	orders paypalOrdersAPI
	brand  string
	logger PayPalLogger
}

// NewPayPalProvider constructs a PayPal Provider using the given configuration.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	orders := cfg.Orders
	if orders == nil {
		clientID := strings.TrimSpace(cfg.ClientID)
		secret := strings.TrimSpace(cfg.Secret)
		if clientID == "" || secret == "" {
			return nil, errors.New("paypal: client id and secret are required")
		}
		base := paypal.APIBaseSandBox
		if cfg.Live {
			base = paypal.APIBaseLive
		}
		client, err := paypal.NewClient(clientID, secret, base)
		if err != nil {
			return nil, fmt.Errorf("paypal: create client: %w", err)
		}
		orders = client
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PayPalProvider{
		orders: orders,
		brand:  strings.TrimSpace(cfg.BrandName),
		logger: logger,
	}, nil
}

// CreatePayment creates a PayPal order the customer approves via redirect.
func (p *PayPalProvider) CreatePayment(ctx context.Context, req CreateRequest) (Session, error) {
	if p == nil {
		return Session{}, errors.New("paypal: provider is nil")
	}

	value, err := MajorUnits(req.Amount, req.Currency)
	if err != nil {
		return Session{}, err
	}

	units := []paypal.PurchaseUnitRequest{
		{
			ReferenceID: req.OrderID,
			CustomID:    req.OrderID,
			Description: req.Description,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: strings.ToUpper(req.Currency),
				Value:    value,
			},
		},
	}

	appContext := &paypal.ApplicationContext{
		ReturnURL:  req.ReturnURL,
		CancelURL:  req.CancelURL,
		UserAction: paypal.UserActionPayNow,
	}
	if p.brand != "" {
		appContext.BrandName = p.brand
	}

	order, err := p.orders.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appContext)
	if err != nil {
		return Session{}, paypalError("create order", err)
	}

	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"paypalOrder": order.ID,
		"orderId":     req.OrderID,
	})

	return Session{
		ProviderRef: order.ID,
		RedirectURL: paypalApproveLink(order.Links),
	}, nil
}

// GetStatus retrieves the PayPal order state.
func (p *PayPalProvider) GetStatus(ctx context.Context, providerRef string) (StatusReport, error) {
	if p == nil {
		return StatusReport{}, errors.New("paypal: provider is nil")
	}

	order, err := p.orders.GetOrder(ctx, providerRef)
	if err != nil {
		return StatusReport{}, paypalError("get order", err)
	}

	report := StatusReport{ProviderRef: order.ID}
	switch order.Status {
	case "APPROVED":
		report.Approved = true
	case "COMPLETED":
		report.Paid = true
	case "VOIDED":
		report.Failed = true
	}
	report.CaptureRef = paypalCaptureID(order.PurchaseUnits)
	return report, nil
}

// Capture captures an approved PayPal order.
func (p *PayPalProvider) Capture(ctx context.Context, req CaptureRequest) (StatusReport, error) {
	if p == nil {
		return StatusReport{}, errors.New("paypal: provider is nil")
	}

	res, err := p.orders.CaptureOrder(ctx, req.ProviderRef, paypal.CaptureOrderRequest{})
	if err != nil {
		return StatusReport{}, paypalError("capture order", err)
	}

	report := StatusReport{ProviderRef: req.ProviderRef}
	if res.Status == "COMPLETED" {
		report.Paid = true
	}
	for _, unit := range res.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				report.CaptureRef = capture.ID
				break
			}
		}
	}

	p.logger(ctx, "payments.paypal.order.captured", map[string]any{
		"paypalOrder": req.ProviderRef,
		"capture":     report.CaptureRef,
	})
	return report, nil
}

// Refund refunds a captured PayPal payment.
func (p *PayPalProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("paypal: provider is nil")
	}
	if strings.TrimSpace(req.CaptureRef) == "" {
		return RefundResult{}, errors.New("paypal: capture reference is required for refunds")
	}

	refundReq := paypal.RefundCaptureRequest{}
	if req.Amount != nil {
		value, err := MajorUnits(*req.Amount, req.Currency)
		if err != nil {
			return RefundResult{}, err
		}
		refundReq.Amount = &paypal.Money{
			Currency: strings.ToUpper(req.Currency),
			Value:    value,
		}
	}

	refund, err := p.orders.RefundCapture(ctx, req.CaptureRef, refundReq)
	if err != nil {
		return RefundResult{}, paypalError("refund capture", err)
	}

	p.logger(ctx, "payments.paypal.capture.refunded", map[string]any{
		"capture": req.CaptureRef,
		"refund":  refund.ID,
	})
	return RefundResult{RefundRef: refund.ID}, nil
}

func paypalApproveLink(links []paypal.Link) string {
	for _, link := range links {
		if strings.EqualFold(link.Rel, "approve") {
			return link.Href
		}
	}
	return ""
}

func paypalCaptureID(units []paypal.PurchaseUnit) string {
	for _, unit := range units {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				return capture.ID
			}
		}
	}
	return ""
}

// paypalError classifies PayPal failures the same way stripeError does.
func paypalError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) {
		status := 0
		if apiErr.Response != nil {
			status = apiErr.Response.StatusCode
		}
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return fmt.Errorf("%w: paypal: %s: %v", ErrTransient, op, err)
		}
		return fmt.Errorf("paypal: %s: %w", op, err)
	}
	return fmt.Errorf("%w: paypal: %s: %v", ErrTransient, op, err)
}
