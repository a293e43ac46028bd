package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/payments"
)

type fakeProvider struct {
	createFn  func(context.Context, payments.CreateRequest) (payments.Session, error)
	statusFn  func(context.Context, string) (payments.StatusReport, error)
	captureFn func(context.Context, payments.CaptureRequest) (payments.StatusReport, error)
	refundFn  func(context.Context, payments.RefundRequest) (payments.RefundResult, error)

	statusCalls  int
	captureCalls int
	refundCalls  int
	lastRefund   payments.RefundRequest
}

func (f *fakeProvider) CreatePayment(ctx context.Context, req payments.CreateRequest) (payments.Session, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return payments.Session{ProviderRef: "prov-ref", RedirectURL: "https://pay.example/session"}, nil
}

func (f *fakeProvider) GetStatus(ctx context.Context, providerRef string) (payments.StatusReport, error) {
	f.statusCalls++
	if f.statusFn != nil {
		return f.statusFn(ctx, providerRef)
	}
	return payments.StatusReport{ProviderRef: providerRef}, nil
}

func (f *fakeProvider) Capture(ctx context.Context, req payments.CaptureRequest) (payments.StatusReport, error) {
	f.captureCalls++
	if f.captureFn != nil {
		return f.captureFn(ctx, req)
	}
	return payments.StatusReport{Paid: true, CaptureRef: "cap-ref"}, nil
}

func (f *fakeProvider) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	f.refundCalls++
	f.lastRefund = req
	if f.refundFn != nil {
		return f.refundFn(ctx, req)
	}
	return payments.RefundResult{RefundRef: "rf-ref"}, nil
}

type paymentServiceFixture struct {
	orders   *fakeOrderRepo
	stores   *fakeStoreRepo
	provider *fakeProvider
	events   *capturedEvents
	now      time.Time
	service  PaymentService
}

func newPaymentServiceFixture(t *testing.T, kind domain.PaymentProviderKind) *paymentServiceFixture {
	t.Helper()

	store := testStore()
	fixture := &paymentServiceFixture{
		orders:   &fakeOrderRepo{},
		stores:   &fakeStoreRepo{stores: map[string]domain.Store{store.ID: store}},
		provider: &fakeProvider{},
		events:   &capturedEvents{},
		now:      time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	manager, err := payments.NewManager(map[domain.PaymentProviderKind]payments.Provider{
		kind: fixture.provider,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:    fixture.orders,
		Stores:    fixture.stores,
		Providers: manager,
		Clock:     func() time.Time { return fixture.now },
		Events:    fixture.events,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	fixture.service = svc
	return fixture
}

func awaitingPaymentOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		StoreID:       "store-1",
		MerchantID:    "merch-1",
		Status:        domain.OrderStatusAwaitingPayment,
		PaymentStatus: domain.PaymentStatusPending,
		TotalAmount:   2750,
		Currency:      "EUR",
		PickupNumber:  7,
	}
}

func paidOrder(kind domain.PaymentProviderKind) domain.Order {
	order := awaitingPaymentOrder()
	order.Status = domain.OrderStatusConfirmed
	order.PaymentStatus = domain.PaymentStatusPaid
	order.Payment = domain.PaymentRef{Kind: kind, OrderRef: "prov-ref", CaptureRef: "cap-ref"}
	return order
}

func (f *paymentServiceFixture) serveOrder(order domain.Order) {
	f.orders.findFn = func(_ context.Context, orderID string) (domain.Order, error) {
		if orderID == order.ID {
			return order, nil
		}
		return domain.Order{}, &fakeRepoError{notFound: true}
	}
}

func TestPaymentServiceCreatePayment(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	fixture.serveOrder(awaitingPaymentOrder())

	var created payments.CreateRequest
	fixture.provider.createFn = func(_ context.Context, req payments.CreateRequest) (payments.Session, error) {
		created = req
		return payments.Session{ProviderRef: "cs_123", RedirectURL: "https://stripe.example/cs_123", ClientSecret: "secret"}, nil
	}

	session, err := fixture.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:   "ord_1",
		Provider:  domain.ProviderStripe,
		ReturnURL: "https://shop.example/done",
		CancelURL: "https://shop.example/cancel",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if created.Amount != 2750 || created.Currency != "EUR" {
		t.Fatalf("unexpected provider request: %+v", created)
	}
	if created.IdempotencyKey == "" {
		t.Fatalf("expected idempotency key passed to provider")
	}
	if session.ProviderRef != "cs_123" || session.RedirectURL != "https://stripe.example/cs_123" || session.ClientToken != "secret" {
		t.Fatalf("unexpected session: %+v", session)
	}

	if len(fixture.orders.updated) != 1 {
		t.Fatalf("expected order update, got %d", len(fixture.orders.updated))
	}
	updated := fixture.orders.updated[0]
	if updated.PaymentStatus != domain.PaymentStatusAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", updated.PaymentStatus)
	}
	if updated.Payment.Kind != domain.ProviderStripe || updated.Payment.OrderRef != "cs_123" {
		t.Fatalf("expected payment ref recorded: %+v", updated.Payment)
	}
	if len(fixture.events.events) != 1 || fixture.events.events[0].Type != "payment.session.created" {
		t.Fatalf("expected session created event, got %+v", fixture.events.events)
	}
}

func TestPaymentServiceCreatePaymentValidation(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	fixture.serveOrder(awaitingPaymentOrder())

	tests := []struct {
		name string
		cmd  CreatePaymentCommand
		mod  func(*paymentServiceFixture)
		want error
	}{
		{
			name: "missing order id",
			cmd:  CreatePaymentCommand{Provider: domain.ProviderStripe},
			want: ErrPaymentInvalidInput,
		},
		{
			name: "unknown provider",
			cmd:  CreatePaymentCommand{OrderID: "ord_1", Provider: domain.PaymentProviderKind("square")},
			want: ErrPaymentInvalidInput,
		},
		{
			name: "order not found",
			cmd:  CreatePaymentCommand{OrderID: "ord_missing", Provider: domain.ProviderStripe},
			want: ErrPaymentNotFound,
		},
		{
			name: "provider not registered",
			cmd:  CreatePaymentCommand{OrderID: "ord_1", Provider: domain.ProviderMollie},
			want: ErrPaymentInvalidInput,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fixture.service.CreatePayment(context.Background(), tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPaymentServiceCreatePaymentWrongState(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	order := awaitingPaymentOrder()
	order.Status = domain.OrderStatusConfirmed
	order.PaymentStatus = domain.PaymentStatusPaid
	fixture.serveOrder(order)

	_, err := fixture.service.CreatePayment(context.Background(), CreatePaymentCommand{
		OrderID:  "ord_1",
		Provider: domain.ProviderStripe,
	})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestPaymentServiceReconcileTerminalStatesSkipProvider(t *testing.T) {
	for _, status := range []domain.PaymentStatus{domain.PaymentStatusPaid, domain.PaymentStatusRefunded} {
		fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
		order := paidOrder(domain.ProviderStripe)
		order.PaymentStatus = status
		fixture.serveOrder(order)

		got, err := fixture.service.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_1"})
		if err != nil {
			t.Fatalf("Reconcile(%s): %v", status, err)
		}
		if got.PaymentStatus != status {
			t.Fatalf("expected %s untouched, got %s", status, got.PaymentStatus)
		}
		if fixture.provider.statusCalls != 0 {
			t.Fatalf("expected no provider lookup for terminal status %s", status)
		}
		if len(fixture.orders.updated) != 0 {
			t.Fatalf("expected no persistence for terminal status %s", status)
		}
	}
}

func TestPaymentServiceReconcileApprovedCapturesAndConfirms(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	order := awaitingPaymentOrder()
	order.PaymentStatus = domain.PaymentStatusAwaitingConfirmation
	order.Payment = domain.PaymentRef{Kind: domain.ProviderStripe, OrderRef: "pi_1"}
	fixture.serveOrder(order)

	fixture.provider.statusFn = func(context.Context, string) (payments.StatusReport, error) {
		return payments.StatusReport{Approved: true}, nil
	}
	fixture.provider.captureFn = func(_ context.Context, req payments.CaptureRequest) (payments.StatusReport, error) {
		if req.ProviderRef != "pi_1" || req.Amount != 2750 {
			t.Fatalf("unexpected capture request: %+v", req)
		}
		return payments.StatusReport{Paid: true, CaptureRef: "ch_1"}, nil
	}

	got, err := fixture.service.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", got.PaymentStatus)
	}
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
	if got.ConfirmedAt == nil {
		t.Fatalf("expected confirmedAt set")
	}
	if got.Payment.CaptureRef != "ch_1" {
		t.Fatalf("expected capture ref recorded, got %q", got.Payment.CaptureRef)
	}
	if len(fixture.events.events) != 1 || fixture.events.events[0].Type != "payment.captured" {
		t.Fatalf("expected captured event, got %+v", fixture.events.events)
	}
}

func TestPaymentServiceReconcileTransientCaptureLeavesStateUntouched(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	order := awaitingPaymentOrder()
	order.PaymentStatus = domain.PaymentStatusAwaitingConfirmation
	order.Payment = domain.PaymentRef{Kind: domain.ProviderStripe, OrderRef: "pi_1"}
	fixture.serveOrder(order)

	fixture.provider.statusFn = func(context.Context, string) (payments.StatusReport, error) {
		return payments.StatusReport{Approved: true}, nil
	}
	fixture.provider.captureFn = func(context.Context, payments.CaptureRequest) (payments.StatusReport, error) {
		return payments.StatusReport{}, payments.ErrTransient
	}

	_, err := fixture.service.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(fixture.orders.updated) != 0 {
		t.Fatalf("expected no persistence after transient capture failure")
	}
	if len(fixture.events.events) != 0 {
		t.Fatalf("expected no event after transient capture failure")
	}
}

func TestPaymentServiceReconcileFailureCancelsOrder(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderPayPal)
	order := awaitingPaymentOrder()
	order.PaymentStatus = domain.PaymentStatusAwaitingConfirmation
	order.Payment = domain.PaymentRef{Kind: domain.ProviderPayPal, OrderRef: "pp_1"}
	fixture.serveOrder(order)

	fixture.provider.statusFn = func(context.Context, string) (payments.StatusReport, error) {
		return payments.StatusReport{Failed: true}, nil
	}

	got, err := fixture.service.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", got.PaymentStatus)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.CancelReason == nil || *got.CancelReason != "payment failed" {
		t.Fatalf("expected cancel reason, got %v", got.CancelReason)
	}
	if len(fixture.events.events) != 1 || fixture.events.events[0].Type != "payment.failed" {
		t.Fatalf("expected failed event, got %+v", fixture.events.events)
	}
}

func TestPaymentServiceReconcileFailureCancelsConfirmedOrder(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderPayPal)
	order := awaitingPaymentOrder()
	order.Status = domain.OrderStatusConfirmed
	order.PaymentStatus = domain.PaymentStatusAwaitingConfirmation
	order.Payment = domain.PaymentRef{Kind: domain.ProviderPayPal, OrderRef: "pp_1"}
	fixture.serveOrder(order)

	fixture.provider.statusFn = func(context.Context, string) (payments.StatusReport, error) {
		return payments.StatusReport{Failed: true}, nil
	}

	got, err := fixture.service.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected failed payment to cancel a confirmed order, got %s", got.Status)
	}
	if got.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", got.PaymentStatus)
	}
	if got.CancelReason == nil || *got.CancelReason != "payment failed" {
		t.Fatalf("expected cancel reason, got %v", got.CancelReason)
	}
}

func TestPaymentServiceReconcileRefundedReport(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderMollie)
	order := awaitingPaymentOrder()
	order.PaymentStatus = domain.PaymentStatusAwaitingConfirmation
	order.Payment = domain.PaymentRef{Kind: domain.ProviderMollie, OrderRef: "tr_1"}
	fixture.serveOrder(order)

	fixture.provider.statusFn = func(context.Context, string) (payments.StatusReport, error) {
		return payments.StatusReport{Paid: true, Refunded: true}, nil
	}

	got, err := fixture.service.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", got.PaymentStatus)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestPaymentServiceReconcileWithoutSession(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	fixture.serveOrder(awaitingPaymentOrder())

	_, err := fixture.service.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected invalid state without session, got %v", err)
	}
}

func TestPaymentServiceAuthorizeRefund(t *testing.T) {
	tests := []struct {
		name       string
		order      func() domain.Order
		cmd        RefundCommand
		want       error
		partial    bool
		wantAmount int64
	}{
		{
			name:       "full refund",
			order:      func() domain.Order { return paidOrder(domain.ProviderStripe) },
			cmd:        RefundCommand{OrderID: "ord_1", MerchantID: "merch-1", Amount: 2750},
			wantAmount: 2750,
		},
		{
			name:       "omitted amount refunds the full total",
			order:      func() domain.Order { return paidOrder(domain.ProviderStripe) },
			cmd:        RefundCommand{OrderID: "ord_1", MerchantID: "merch-1"},
			wantAmount: 2750,
		},
		{
			name:       "partial refund",
			order:      func() domain.Order { return paidOrder(domain.ProviderStripe) },
			cmd:        RefundCommand{OrderID: "ord_1", MerchantID: "merch-1", Amount: 1000},
			partial:    true,
			wantAmount: 1000,
		},
		{
			name:  "foreign merchant",
			order: func() domain.Order { return paidOrder(domain.ProviderStripe) },
			cmd:   RefundCommand{OrderID: "ord_1", MerchantID: "merch-other", Amount: 1000},
			want:  ErrPaymentForbidden,
		},
		{
			name: "unpaid order",
			order: func() domain.Order {
				order := paidOrder(domain.ProviderStripe)
				order.PaymentStatus = domain.PaymentStatusAwaitingConfirmation
				return order
			},
			cmd:  RefundCommand{OrderID: "ord_1", MerchantID: "merch-1", Amount: 1000},
			want: ErrPaymentInvalidState,
		},
		{
			name:  "amount exceeds total",
			order: func() domain.Order { return paidOrder(domain.ProviderStripe) },
			cmd:   RefundCommand{OrderID: "ord_1", MerchantID: "merch-1", Amount: 9999},
			want:  ErrPaymentInvalidInput,
		},
		{
			name:  "negative amount",
			order: func() domain.Order { return paidOrder(domain.ProviderStripe) },
			cmd:   RefundCommand{OrderID: "ord_1", MerchantID: "merch-1", Amount: -100},
			want:  ErrPaymentInvalidInput,
		},
		{
			name: "stripe without capture ref",
			order: func() domain.Order {
				order := paidOrder(domain.ProviderStripe)
				order.Payment.CaptureRef = ""
				return order
			},
			cmd:  RefundCommand{OrderID: "ord_1", MerchantID: "merch-1", Amount: 1000},
			want: ErrPaymentInvalidState,
		},
		{
			name: "mollie without capture ref",
			order: func() domain.Order {
				order := paidOrder(domain.ProviderMollie)
				order.Payment.CaptureRef = ""
				return order
			},
			cmd:        RefundCommand{OrderID: "ord_1", MerchantID: "merch-1", Amount: 1000},
			partial:    true,
			wantAmount: 1000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
			fixture.serveOrder(tc.order())

			auth, err := fixture.service.AuthorizeRefund(context.Background(), tc.cmd)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthorizeRefund: %v", err)
			}
			if auth.Partial != tc.partial {
				t.Fatalf("expected partial=%v, got %v", tc.partial, auth.Partial)
			}
			if auth.Amount != tc.wantAmount || auth.Currency != "EUR" {
				t.Fatalf("unexpected authorization: %+v", auth)
			}
		})
	}
}

func TestPaymentServiceExecuteRefundFull(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	fixture.serveOrder(paidOrder(domain.ProviderStripe))

	got, err := fixture.service.ExecuteRefund(context.Background(), RefundCommand{
		OrderID:    "ord_1",
		MerchantID: "merch-1",
		Amount:     2750,
		Reason:     "order mishandled",
	})
	if err != nil {
		t.Fatalf("ExecuteRefund: %v", err)
	}

	if fixture.provider.refundCalls != 1 {
		t.Fatalf("expected one provider refund call")
	}
	req := fixture.provider.lastRefund
	if req.CaptureRef != "cap-ref" || req.Amount == nil || *req.Amount != 2750 {
		t.Fatalf("unexpected refund request: %+v", req)
	}
	if got.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", got.PaymentStatus)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled after full refund, got %s", got.Status)
	}
	if got.Payment.RefundRef != "rf-ref" {
		t.Fatalf("expected refund ref recorded, got %q", got.Payment.RefundRef)
	}
}

func TestPaymentServiceExecuteRefundPartialKeepsPaid(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	fixture.serveOrder(paidOrder(domain.ProviderStripe))

	got, err := fixture.service.ExecuteRefund(context.Background(), RefundCommand{
		OrderID:    "ord_1",
		MerchantID: "merch-1",
		Amount:     500,
	})
	if err != nil {
		t.Fatalf("ExecuteRefund: %v", err)
	}

	if got.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid retained on partial refund, got %s", got.PaymentStatus)
	}
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected order status unchanged, got %s", got.Status)
	}
	if got.Payment.RefundRef != "rf-ref" {
		t.Fatalf("expected refund ref recorded, got %q", got.Payment.RefundRef)
	}
	if len(fixture.events.events) != 1 || fixture.events.events[0].Type != "payment.refunded" {
		t.Fatalf("expected refunded event, got %+v", fixture.events.events)
	}
}

func TestPaymentServiceExecuteRefundTransientProvider(t *testing.T) {
	fixture := newPaymentServiceFixture(t, domain.ProviderStripe)
	fixture.serveOrder(paidOrder(domain.ProviderStripe))
	fixture.provider.refundFn = func(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
		return payments.RefundResult{}, payments.ErrTransient
	}

	_, err := fixture.service.ExecuteRefund(context.Background(), RefundCommand{
		OrderID:    "ord_1",
		MerchantID: "merch-1",
		Amount:     2750,
	})
	if !errors.Is(err, ErrPaymentTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(fixture.orders.updated) != 0 {
		t.Fatalf("expected no persistence after transient refund failure")
	}
}
