package payments

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrTransient marks provider failures that are safe to retry. Callers must
	// never treat a transient failure as a payment decline.
	ErrTransient = errors.New("payments: transient provider error")
)

// CreateRequest captures the payload required to start a provider payment.
type CreateRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	Description    string
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// Session is the provider-side payment handle returned to the client for the
// redirect leg.
type Session struct {
	ProviderRef  string
	RedirectURL  string
	ClientSecret string
}

// StatusReport normalises provider payment state for reconciliation. At most
// one of Approved/Paid/Failed is meaningful per report; Refunded may accompany
// Paid.
type StatusReport struct {
	ProviderRef string
	// Approved means the customer authorized the payment but funds have not
	// been captured.
	Approved bool
	// Paid means the funds were captured.
	Paid bool
	// Failed means the provider reports a terminal failure (declined, voided,
	// expired). Transient lookup errors are surfaced as errors, never as Failed.
	Failed bool
	// Refunded means the captured payment was refunded at the provider.
	Refunded bool
	// CaptureRef identifies the capture/charge once Paid.
	CaptureRef string
	Amount     int64
	Currency   string
}

// CaptureRequest asks the provider to capture an approved payment.
type CaptureRequest struct {
	ProviderRef    string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// RefundRequest asks the provider to refund a captured payment.
type RefundRequest struct {
	ProviderRef    string
	CaptureRef     string
	Amount         *int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult reports the provider-side refund reference.
type RefundResult struct {
	RefundRef string
}

// Provider defines the contract payment adapters implement.
type Provider interface {
	CreatePayment(ctx context.Context, req CreateRequest) (Session, error)
	GetStatus(ctx context.Context, providerRef string) (StatusReport, error)
	Capture(ctx context.Context, req CaptureRequest) (StatusReport, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Manager resolves the adapter backing an order's payment provider kind.
type Manager struct {
	providers map[domain.PaymentProviderKind]Provider
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[domain.PaymentProviderKind]Provider) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[domain.PaymentProviderKind]Provider, len(providers))
	for kind, provider := range providers {
		switch kind {
		case domain.ProviderStripe, domain.ProviderPayPal, domain.ProviderMollie:
		default:
			return nil, fmt.Errorf("payments: invalid provider registration for kind %q", kind)
		}
		if provider == nil {
			return nil, fmt.Errorf("payments: nil provider registered for kind %q", kind)
		}
		registered[kind] = provider
	}
	return &Manager{providers: registered}, nil
}

// Resolve returns the adapter for the given provider kind.
func (m *Manager) Resolve(kind domain.PaymentProviderKind) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	provider, ok := m.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}
	return provider, nil
}

// Kinds lists the registered provider kinds.
func (m *Manager) Kinds() []domain.PaymentProviderKind {
	if m == nil {
		return nil
	}
	kinds := make([]domain.PaymentProviderKind, 0, len(m.providers))
	for kind := range m.providers {
		kinds = append(kinds, kind)
	}
	return kinds
}
