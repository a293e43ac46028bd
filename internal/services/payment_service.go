package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/payments"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
)

const (
	paymentEventSessionCreated = "payment.session.created"
	paymentEventCaptured       = "payment.captured"
	paymentEventFailed         = "payment.failed"
	paymentEventRefunded       = "payment.refunded"

	paymentIdemPrefix = "pay_"
	captureIdemPrefix = "cap_"
	refundIdemPrefix  = "ref_"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the order or its payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentForbidden indicates the caller does not own the order.
	ErrPaymentForbidden = errors.New("payment: forbidden")
	// ErrPaymentInvalidState indicates the payment is not in a state that
	// permits the requested operation.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentTransient indicates the provider could not be reached or
	// answered with a retryable failure. The local payment state is untouched
	// and the caller should retry.
	ErrPaymentTransient = errors.New("payment: transient provider error")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Stores     repositories.StoreRepository
	Providers  *payments.Manager
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Events     OrderEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	stores     repositories.StoreRepository
	providers  *payments.Manager
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Stores == nil {
		return nil, errors.New("payment service: store repository is required")
	}
	if deps.Providers == nil {
		return nil, errors.New("payment service: provider manager is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:     deps.Orders,
		stores:     deps.Stores,
		providers:  deps.Providers,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (PaymentSession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentSession{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	switch cmd.Provider {
	case domain.ProviderStripe, domain.ProviderPayPal, domain.ProviderMollie:
	default:
		return PaymentSession{}, fmt.Errorf("%w: unknown payment provider %q", ErrPaymentInvalidInput, cmd.Provider)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentSession{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusAwaitingPayment {
		return PaymentSession{}, fmt.Errorf("%w: order status is %s, payments require awaiting_payment", ErrPaymentInvalidState, order.Status)
	}
	switch order.PaymentStatus {
	case domain.PaymentStatusPending, domain.PaymentStatusAwaitingConfirmation:
	default:
		return PaymentSession{}, fmt.Errorf("%w: order payment status is %s", ErrPaymentInvalidState, order.PaymentStatus)
	}

	provider, err := s.providers.Resolve(cmd.Provider)
	if err != nil {
		return PaymentSession{}, s.mapProviderError(err)
	}

	session, err := provider.CreatePayment(ctx, payments.CreateRequest{
		OrderID:        order.ID,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		Description:    fmt.Sprintf("Order #%03d", order.PickupNumber),
		ReturnURL:      cmd.ReturnURL,
		CancelURL:      cmd.CancelURL,
		IdempotencyKey: paymentIdemPrefix + order.ID,
		Metadata: map[string]string{
			"storeId": order.StoreID,
		},
	})
	if err != nil {
		return PaymentSession{}, s.mapProviderError(err)
	}

	now := s.clock()
	order.Payment = domain.PaymentRef{
		Kind:     cmd.Provider,
		OrderRef: session.ProviderRef,
	}
	order.PaymentStatus = domain.PaymentStatusAwaitingConfirmation
	order.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return PaymentSession{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          paymentEventSessionCreated,
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"provider":    string(cmd.Provider),
			"providerRef": session.ProviderRef,
		},
	})

	return PaymentSession{
		OrderID:     order.ID,
		Provider:    cmd.Provider,
		ProviderRef: session.ProviderRef,
		RedirectURL: session.RedirectURL,
		ClientToken: session.ClientSecret,
	}, nil
}

// Reconcile aligns the local payment state with a fresh provider lookup. Paid
// and refunded are terminal locally; reaching them again is a no-op. Capture
// failures never cancel the order, cancellation happens only when the provider
// explicitly reports a terminal failure.
func (s *paymentService) Reconcile(ctx context.Context, cmd ReconcileCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !order.Payment.Active() {
		return Order{}, fmt.Errorf("%w: order has no payment session", ErrPaymentInvalidState)
	}

	switch order.PaymentStatus {
	case domain.PaymentStatusPaid, domain.PaymentStatusRefunded:
		return order, nil
	}

	provider, err := s.providers.Resolve(order.Payment.Kind)
	if err != nil {
		return Order{}, s.mapProviderError(err)
	}

	report, err := provider.GetStatus(ctx, order.Payment.OrderRef)
	if err != nil {
		return Order{}, s.mapProviderError(err)
	}

	switch {
	case report.Refunded:
		return s.markRefunded(ctx, order, order.Payment.RefundRef)
	case report.Paid:
		return s.markPaid(ctx, order, report.CaptureRef)
	case report.Approved:
		captured, err := provider.Capture(ctx, payments.CaptureRequest{
			ProviderRef:    order.Payment.OrderRef,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
			IdempotencyKey: captureIdemPrefix + order.ID,
		})
		if err != nil {
			return Order{}, s.mapProviderError(err)
		}
		if !captured.Paid {
			s.logger(ctx, "payment.capture.inconclusive", map[string]any{
				"orderId":     order.ID,
				"provider":    string(order.Payment.Kind),
				"providerRef": order.Payment.OrderRef,
			})
			return order, nil
		}
		return s.markPaid(ctx, order, captured.CaptureRef)
	case report.Failed:
		return s.markFailed(ctx, order)
	default:
		return order, nil
	}
}

func (s *paymentService) AuthorizeRefund(ctx context.Context, cmd RefundCommand) (RefundAuthorization, error) {
	_, auth, err := s.authorizeRefund(ctx, cmd)
	return auth, err
}

func (s *paymentService) ExecuteRefund(ctx context.Context, cmd RefundCommand) (Order, error) {
	order, auth, err := s.authorizeRefund(ctx, cmd)
	if err != nil {
		return Order{}, err
	}

	provider, err := s.providers.Resolve(auth.Provider)
	if err != nil {
		return Order{}, s.mapProviderError(err)
	}

	result, err := provider.Refund(ctx, payments.RefundRequest{
		ProviderRef:    order.Payment.OrderRef,
		CaptureRef:     auth.CaptureRef,
		Amount:         valuePtr(auth.Amount),
		Currency:       auth.Currency,
		Reason:         auth.Reason,
		IdempotencyKey: refundIdemPrefix + order.ID,
	})
	if err != nil {
		return Order{}, s.mapProviderError(err)
	}

	if auth.Partial {
		now := s.clock()
		order.Payment.RefundRef = result.RefundRef
		order.UpdatedAt = now

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			if err := s.orders.Update(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			return nil
		})
		if err != nil {
			return Order{}, err
		}

		s.publishEvent(ctx, OrderEvent{
			Type:          paymentEventRefunded,
			OrderID:       order.ID,
			StoreID:       order.StoreID,
			CurrentStatus: string(order.Status),
			OccurredAt:    now,
			Metadata: map[string]any{
				"amount":  auth.Amount,
				"partial": true,
				"refund":  result.RefundRef,
			},
		})
		return order, nil
	}

	return s.markRefunded(ctx, order, result.RefundRef)
}

// authorizeRefund runs every refund precondition: merchant ownership via the
// store, a payment that is exactly paid, and an amount within the order total.
func (s *paymentService) authorizeRefund(ctx context.Context, cmd RefundCommand) (Order, RefundAuthorization, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	merchantID := strings.TrimSpace(cmd.MerchantID)
	if orderID == "" {
		return Order{}, RefundAuthorization{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if merchantID == "" {
		return Order{}, RefundAuthorization{}, fmt.Errorf("%w: merchant id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount < 0 {
		return Order{}, RefundAuthorization{}, fmt.Errorf("%w: refund amount must not be negative", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, RefundAuthorization{}, s.mapRepositoryError(err)
	}

	store, err := s.stores.FindByID(ctx, order.StoreID)
	if err != nil {
		return Order{}, RefundAuthorization{}, s.mapRepositoryError(err)
	}
	if store.MerchantID != merchantID {
		return Order{}, RefundAuthorization{}, fmt.Errorf("%w: order belongs to another merchant", ErrPaymentForbidden)
	}

	if order.PaymentStatus != domain.PaymentStatusPaid {
		return Order{}, RefundAuthorization{}, fmt.Errorf("%w: order payment status is %s, refunds require paid", ErrPaymentInvalidState, order.PaymentStatus)
	}

	// An omitted amount refunds the full order total.
	amount := cmd.Amount
	if amount == 0 {
		amount = order.TotalAmount
	}
	if amount > order.TotalAmount {
		return Order{}, RefundAuthorization{}, fmt.Errorf("%w: refund amount %d exceeds order total %d", ErrPaymentInvalidInput, amount, order.TotalAmount)
	}

	switch order.Payment.Kind {
	case domain.ProviderStripe, domain.ProviderPayPal:
		if order.Payment.CaptureRef == "" {
			return Order{}, RefundAuthorization{}, fmt.Errorf("%w: payment has no capture reference", ErrPaymentInvalidState)
		}
	case domain.ProviderMollie:
		// Mollie refunds address the payment itself, no capture reference needed.
	default:
		return Order{}, RefundAuthorization{}, fmt.Errorf("%w: %s", payments.ErrUnsupportedProvider, order.Payment.Kind)
	}

	return order, RefundAuthorization{
		OrderID:    order.ID,
		Provider:   order.Payment.Kind,
		CaptureRef: order.Payment.CaptureRef,
		Amount:     amount,
		Currency:   order.Currency,
		Partial:    amount < order.TotalAmount,
		Reason:     strings.TrimSpace(cmd.Reason),
	}, nil
}

// markPaid captures the terminal paid state and confirms the order. Orders
// past awaiting_payment keep their kitchen status.
func (s *paymentService) markPaid(ctx context.Context, order Order, captureRef string) (Order, error) {
	now := s.clock()
	prevStatus := order.Status

	order.PaymentStatus = domain.PaymentStatusPaid
	if captureRef != "" {
		order.Payment.CaptureRef = captureRef
	}
	if order.Status == domain.OrderStatusAwaitingPayment {
		order.Status = domain.OrderStatusConfirmed
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}
	}
	order.UpdatedAt = now

	if err := s.persist(ctx, order); err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           paymentEventCaptured,
		OrderID:        order.ID,
		StoreID:        order.StoreID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"provider":   string(order.Payment.Kind),
			"captureRef": order.Payment.CaptureRef,
			"amount":     order.TotalAmount,
		},
	})
	return order, nil
}

func (s *paymentService) markFailed(ctx context.Context, order Order) (Order, error) {
	now := s.clock()
	prevStatus := order.Status

	order.PaymentStatus = domain.PaymentStatusFailed
	if order.Status != domain.OrderStatusCompleted && order.Status != domain.OrderStatusCancelled {
		order.Status = domain.OrderStatusCancelled
		order.CancelReason = valuePtr("payment failed")
	}
	order.UpdatedAt = now

	if err := s.persist(ctx, order); err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           paymentEventFailed,
		OrderID:        order.ID,
		StoreID:        order.StoreID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"provider": string(order.Payment.Kind),
		},
	})
	return order, nil
}

func (s *paymentService) markRefunded(ctx context.Context, order Order, refundRef string) (Order, error) {
	now := s.clock()
	prevStatus := order.Status

	order.PaymentStatus = domain.PaymentStatusRefunded
	if refundRef != "" {
		order.Payment.RefundRef = refundRef
	}
	if order.Status != domain.OrderStatusCompleted && order.Status != domain.OrderStatusCancelled {
		order.Status = domain.OrderStatusCancelled
		order.CancelReason = valuePtr("payment refunded")
	}
	order.UpdatedAt = now

	if err := s.persist(ctx, order); err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           paymentEventRefunded,
		OrderID:        order.ID,
		StoreID:        order.StoreID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"provider": string(order.Payment.Kind),
			"refund":   order.Payment.RefundRef,
			"partial":  false,
		},
	})
	return order, nil
}

func (s *paymentService) persist(ctx context.Context, order Order) error {
	return s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
}

func (s *paymentService) mapProviderError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, payments.ErrTransient):
		return fmt.Errorf("%w: %v", ErrPaymentTransient, err)
	case errors.Is(err, payments.ErrUnsupportedProvider):
		return fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	default:
		return err
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
