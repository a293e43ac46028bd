package services

import (
	"context"
	"time"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Order               = domain.Order
	OrderLineItem       = domain.OrderLineItem
	OrderLineItemOption = domain.OrderLineItemOption
	OrderStatus         = domain.OrderStatus
	OrderType           = domain.OrderType
	PaymentStatus       = domain.PaymentStatus
	PaymentRef          = domain.PaymentRef
	Store               = domain.Store
	ServicePoint        = domain.ServicePoint
	CartEntry           = domain.CartEntry
	CartEntryOption     = domain.CartEntryOption
	CatalogSnapshot     = domain.CatalogSnapshot
	PricedCart          = domain.PricedCart
	SystemHealthReport  = domain.SystemHealthReport
)

// OrderService encapsulates checkout, reads, and merchant status updates.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// PaymentService covers the provider-facing money flows: creating the payment
// session, reconciling provider state into the order, and refunds.
type PaymentService interface {
	CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentSession, error)
	Reconcile(ctx context.Context, cmd ReconcileCommand) (Order, error)
	AuthorizeRefund(ctx context.Context, cmd RefundCommand) (RefundAuthorization, error)
	ExecuteRefund(ctx context.Context, cmd RefundCommand) (Order, error)
}

// SystemService provides operational utilities surfaced through health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand carries the checkout payload for one order.
type CreateOrderCommand struct {
	StoreID             string
	OrderType           OrderType
	Entries             []CartEntry
	TipAmount           int64
	ScheduledPickupTime *time.Time
	ServicePointID      *string
	IdempotencyKey      *string
	Language            string
	CustomerName        string
	CustomerPhone       string
	CustomerEmail       string
	Note                string
}

// OrderReadOptions toggles aggregate assembly on reads.
type OrderReadOptions struct {
	IncludeLineItems bool
}

// ListOrdersCommand pages a store's orders for the owning merchant.
type ListOrdersCommand struct {
	StoreID    string
	MerchantID string
	Filter     repositories.OrderListFilter
}

// OrderStatusTransitionCommand moves an order along the kitchen lifecycle.
type OrderStatusTransitionCommand struct {
	OrderID      string
	MerchantID   string
	TargetStatus OrderStatus
	Reason       string
}

// CreatePaymentCommand starts the provider payment for an order.
type CreatePaymentCommand struct {
	OrderID   string
	Provider  domain.PaymentProviderKind
	ReturnURL string
	CancelURL string
}

// PaymentSession is the redirect leg handed back to the client.
type PaymentSession struct {
	OrderID     string
	Provider    domain.PaymentProviderKind
	ProviderRef string
	RedirectURL string
	ClientToken string
}

// ReconcileCommand asks for a fresh provider lookup and local state alignment.
type ReconcileCommand struct {
	OrderID string
}

// RefundCommand requests a refund on behalf of a merchant.
type RefundCommand struct {
	OrderID    string
	MerchantID string
	Amount     int64
	Reason     string
}

// RefundAuthorization describes a refund that passed every authorization check.
type RefundAuthorization struct {
	OrderID    string
	Provider   domain.PaymentProviderKind
	CaptureRef string
	Amount     int64
	Currency   string
	Partial    bool
	Reason     string
}
