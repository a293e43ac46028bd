package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderType enumerates the fulfilment modes a store can offer.
type OrderType string

const (
	// OrderTypeDineIn represents orders consumed on premises.
	OrderTypeDineIn OrderType = "dine_in"
	// OrderTypeTakeaway represents orders picked up by the customer.
	OrderTypeTakeaway OrderType = "takeaway"
	// OrderTypeDelivery represents orders delivered to the customer.
	OrderTypeDelivery OrderType = "delivery"
)

// DefaultEnabledOrderTypes is applied when a store has no explicit order type configuration.
var DefaultEnabledOrderTypes = []OrderType{OrderTypeDineIn, OrderTypeTakeaway}

// OrderStatus describes the kitchen-facing lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusAwaitingPayment indicates the order exists but has not been paid yet.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusConfirmed indicates payment settled and the store accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the kitchen started working on the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is ready for pickup or handoff.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusCompleted indicates the order was handed over; terminal.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled; terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus describes the money-facing lifecycle of an order, independent of OrderStatus.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no provider interaction has settled yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusAwaitingConfirmation indicates the customer approved the payment
	// at the provider but the capture has not been confirmed.
	PaymentStatusAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	// PaymentStatusPaid indicates the payment was captured; terminal.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the provider reported the payment as failed,
	// voided, or expired; terminal.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a refund was issued against the captured payment.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentProviderKind identifies the payment provider backing an order.
type PaymentProviderKind string

const (
	// ProviderStripe routes payments through Stripe Payment Intents.
	ProviderStripe PaymentProviderKind = "stripe"
	// ProviderPayPal routes payments through the PayPal Orders API.
	ProviderPayPal PaymentProviderKind = "paypal"
	// ProviderMollie routes payments through the Mollie Payments API.
	ProviderMollie PaymentProviderKind = "mollie"
)

// PaymentRef is the tagged provider variant attached to an order. At most one
// provider is active per order; Kind is empty until a payment is created.
type PaymentRef struct {
	Kind PaymentProviderKind
	// OrderRef is the provider-side payment identifier (Stripe intent id,
	// PayPal order id, Mollie payment id).
	OrderRef string
	// CaptureRef is the provider-side capture/charge identifier, set once paid.
	CaptureRef string
	// RefundRef is the provider-side refund identifier, set once refunded.
	RefundRef string
}

// Active reports whether a provider has been attached to the order.
func (p PaymentRef) Active() bool {
	return p.Kind != "" && p.OrderRef != ""
}

// Order is the aggregate root for one checkout. Line items are persisted as
// children and assembled separately from the write path.
type Order struct {
	ID                  string
	StoreID             string
	MerchantID          string
	OrderType           OrderType
	Status              OrderStatus
	PaymentStatus       PaymentStatus
	Subtotal            int64
	TaxAmount           int64
	TipAmount           int64
	TotalAmount         int64
	Currency            string
	PickupNumber        int
	ScheduledPickupTime *time.Time
	ServicePointID      *string
	IdempotencyKey      *string
	Payment             PaymentRef
	CustomerName        string
	CustomerPhone       string
	CustomerEmail       string
	Note                string
	CancelReason        *string
	CreatedAt           time.Time
	ConfirmedAt         *time.Time
	CompletedAt         *time.Time
	UpdatedAt           time.Time

	// LineItems are attached on aggregate reads only; the write path persists
	// them separately beneath the order.
	LineItems []OrderLineItem
}

// OrderLineItem snapshots one cart entry at order time. Immutable after creation;
// name and price are copied so later catalog edits do not rewrite history.
type OrderLineItem struct {
	ID           string
	OrderID      string
	ItemID       string
	Name         string
	KitchenName  string
	Quantity     int
	UnitPrice    int64
	OptionsPrice int64
	TotalPrice   int64
	DisplayOrder int
	Options      []OrderLineItemOption
}

// OrderLineItemOption snapshots one selected option choice on a line item.
// PriceModifier is signed; negative modifiers discount the line.
type OrderLineItemOption struct {
	OptionGroupID  string
	OptionChoiceID string
	GroupName      string
	ChoiceName     string
	Quantity       int
	PriceModifier  int64
}

// TimeSlot is one published pickup/delivery slot a customer may schedule against.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// StoreClosure marks a period during which the store does not accept orders.
// Stored as an embedded collection on the store; always read and written whole.
type StoreClosure struct {
	From   time.Time
	Until  time.Time
	Reason string
}

// Store carries the per-tenant configuration the ordering core depends on.
type Store struct {
	ID                string
	MerchantID        string
	Slug              string
	Name              string
	Currency          string
	Active            bool
	EnabledOrderTypes []OrderType
	// Open reflects whether the store is currently inside its opening hours.
	Open bool
	// NextOpenAt is the next opening time when the store is closed.
	NextOpenAt *time.Time
	// PickupSlots are the currently published scheduling slots.
	PickupSlots []TimeSlot
	Closures    []StoreClosure
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderTypeEnabled reports whether the store accepts the given order type,
// falling back to the default enabled set when unconfigured.
func (s Store) OrderTypeEnabled(orderType OrderType) bool {
	enabled := s.EnabledOrderTypes
	if len(enabled) == 0 {
		enabled = DefaultEnabledOrderTypes
	}
	for _, t := range enabled {
		if t == orderType {
			return true
		}
	}
	return false
}

// ServicePoint is a physical ordering location inside a store (table, counter, kiosk).
type ServicePoint struct {
	ID      string
	StoreID string
	Name    string
	Active  bool
}

// CatalogItem is the read-only menu item snapshot consumed by pricing.
type CatalogItem struct {
	ID          string
	StoreID     string
	Price       int64
	KitchenName string
	Names       LocalizedText
}

// OptionChoice is the read-only option choice snapshot consumed by pricing.
type OptionChoice struct {
	ID            string
	OptionGroupID string
	PriceModifier int64
	Names         LocalizedText
}

// OptionGroup is the read-only option group snapshot consumed by pricing.
type OptionGroup struct {
	ID    string
	Names LocalizedText
}
