package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix    = "ord_"
	lineItemIDPrefix = "oli_"

	// minScheduleLead is the minimum distance between now and a scheduled pickup.
	minScheduleLead = 30 * time.Minute
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or a referenced resource could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller does not own the resource.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates duplicate writes or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusAwaitingPayment: {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:       {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing:       {domain.OrderStatusReady, domain.OrderStatusCancelled},
	domain.OrderStatusReady:           {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusAwaitingPayment,
	domain.OrderStatusConfirmed,
	domain.OrderStatusPreparing,
	domain.OrderStatusReady,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	StoreID        string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Stores        repositories.StoreRepository
	ServicePoints repositories.ServicePointRepository
	Catalog       repositories.CatalogRepository
	Counters      repositories.CounterRepository
	Pricing       *CartPricingEngine
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Events        OrderEventPublisher
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	stores        repositories.StoreRepository
	servicePoints repositories.ServicePointRepository
	catalog       repositories.CatalogRepository
	counters      repositories.CounterRepository
	pricing       *CartPricingEngine
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	events        OrderEventPublisher
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Stores == nil {
		return nil, errors.New("order service: store repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		stores:        deps.Stores,
		servicePoints: deps.ServicePoints,
		catalog:       deps.Catalog,
		counters:      deps.Counters,
		pricing:       deps.Pricing,
		unitOfWork:    unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateOrderInput(cmd); err != nil {
		return Order{}, err
	}

	storeID := strings.TrimSpace(cmd.StoreID)
	now := s.now()

	var (
		order  Order
		reused bool
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		reused = false

		if cmd.IdempotencyKey != nil {
			key := strings.TrimSpace(*cmd.IdempotencyKey)
			if key != "" {
				existing, err := s.orders.FindByIdempotencyKey(txCtx, storeID, key)
				switch {
				case err == nil:
					order = existing
					reused = true
					return nil
				case isRepoNotFound(err):
					// key unused, proceed
				default:
					return s.mapRepositoryError(err)
				}
			}
		}

		store, err := s.stores.FindByID(txCtx, storeID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !store.Active {
			return fmt.Errorf("%w: store is not accepting orders", ErrOrderForbidden)
		}
		if !store.OrderTypeEnabled(cmd.OrderType) {
			return fmt.Errorf("%w: order type %s is unavailable at this store", ErrOrderInvalidInput, cmd.OrderType)
		}

		if err := validateScheduling(store, cmd.OrderType, cmd.ScheduledPickupTime, now); err != nil {
			return err
		}

		servicePointID, err := s.validateServicePoint(txCtx, store.ID, cmd.ServicePointID)
		if err != nil {
			return err
		}

		priced, err := s.priceEntries(txCtx, store, cmd)
		if err != nil {
			return err
		}

		pickupNumber, err := s.counters.NextPickupNumber(txCtx, store.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		order = Order{
			ID:                  s.nextOrderID(),
			StoreID:             store.ID,
			MerchantID:          store.MerchantID,
			OrderType:           cmd.OrderType,
			Status:              domain.OrderStatusAwaitingPayment,
			PaymentStatus:       domain.PaymentStatusPending,
			Subtotal:            priced.Subtotal,
			TipAmount:           cmd.TipAmount,
			TotalAmount:         priced.Subtotal + cmd.TipAmount,
			Currency:            priced.Currency,
			PickupNumber:        pickupNumber,
			ScheduledPickupTime: normalizeTimePtr(cmd.ScheduledPickupTime),
			ServicePointID:      servicePointID,
			IdempotencyKey:      trimStringPtr(cmd.IdempotencyKey),
			CustomerName:        strings.TrimSpace(cmd.CustomerName),
			CustomerPhone:       strings.TrimSpace(cmd.CustomerPhone),
			CustomerEmail:       strings.TrimSpace(cmd.CustomerEmail),
			Note:                strings.TrimSpace(cmd.Note),
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		items := make([]OrderLineItem, len(priced.Lines))
		for i, line := range priced.Lines {
			line.ID = s.nextLineItemID()
			line.OrderID = order.ID
			items[i] = line
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.InsertLineItems(txCtx, order.ID, items); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if reused {
		s.logger(ctx, "order.idempotent.reuse", map[string]any{
			"orderId": order.ID,
			"storeId": order.StoreID,
		})
		return order, nil
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"orderType":    string(order.OrderType),
			"pickupNumber": order.PickupNumber,
			"totalAmount":  order.TotalAmount,
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if opts.IncludeLineItems {
		items, err := s.orders.ListLineItems(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		order.LineItems = items
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error) {
	storeID := strings.TrimSpace(cmd.StoreID)
	merchantID := strings.TrimSpace(cmd.MerchantID)
	if storeID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: store id is required", ErrOrderInvalidInput)
	}
	if merchantID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: merchant id is required", ErrOrderInvalidInput)
	}

	store, err := s.stores.FindByID(ctx, storeID)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	if store.MerchantID != merchantID {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: store belongs to another merchant", ErrOrderForbidden)
	}

	page, err := s.orders.ListByStore(ctx, storeID, cmd.Filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	merchantID := strings.TrimSpace(cmd.MerchantID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if merchantID == "" {
		return Order{}, fmt.Errorf("%w: merchant id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.MerchantID != merchantID {
		return Order{}, fmt.Errorf("%w: order belongs to another merchant", ErrOrderForbidden)
	}

	now := s.now()
	prevStatus := order.Status

	if err := applyStatusTransition(&order, cmd.TargetStatus, strings.TrimSpace(cmd.Reason), now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prevStatus != order.Status {
		metadata := map[string]any{}
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			metadata["reason"] = reason
		}
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			StoreID:        order.StoreID,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			OccurredAt:     now,
			Metadata:       metadata,
		})
	}

	return order, nil
}

func validateCreateOrderInput(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.StoreID) == "" {
		return fmt.Errorf("%w: store id is required", ErrOrderInvalidInput)
	}
	switch cmd.OrderType {
	case domain.OrderTypeDineIn, domain.OrderTypeTakeaway, domain.OrderTypeDelivery:
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrOrderInvalidInput, cmd.OrderType)
	}
	if len(cmd.Entries) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if cmd.TipAmount < 0 {
		return fmt.Errorf("%w: tip amount cannot be negative", ErrOrderInvalidInput)
	}
	return nil
}

// validateScheduling enforces the pickup time rules. A time is mandatory when
// the store is currently closed or the order is a takeaway; any provided time
// must be strictly more than minScheduleLead ahead, after the next opening when the
// store is closed, outside closures, and inside a published slot.
func validateScheduling(store Store, orderType OrderType, scheduled *time.Time, now time.Time) error {
	required := !store.Open || orderType == domain.OrderTypeTakeaway
	if scheduled == nil {
		if required {
			return fmt.Errorf("%w: a scheduled pickup time is required", ErrOrderInvalidInput)
		}
		return nil
	}

	at := scheduled.UTC()
	if at.Before(now) {
		return fmt.Errorf("%w: scheduled pickup time is in the past", ErrOrderInvalidInput)
	}
	if !at.After(now.Add(minScheduleLead)) {
		return fmt.Errorf("%w: scheduled pickup time is too soon", ErrOrderInvalidInput)
	}
	if !store.Open && store.NextOpenAt != nil && at.Before(store.NextOpenAt.UTC()) {
		return fmt.Errorf("%w: scheduled pickup time is before the store opens", ErrOrderInvalidInput)
	}
	for _, closure := range store.Closures {
		if !at.Before(closure.From.UTC()) && at.Before(closure.Until.UTC()) {
			return fmt.Errorf("%w: the store is closed at the scheduled pickup time", ErrOrderInvalidInput)
		}
	}
	if len(store.PickupSlots) > 0 {
		matched := false
		for _, slot := range store.PickupSlots {
			if !at.Before(slot.Start.UTC()) && !at.After(slot.End.UTC()) {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("%w: the requested time slot is unavailable", ErrOrderInvalidInput)
		}
	}
	return nil
}

func (s *orderService) validateServicePoint(ctx context.Context, storeID string, servicePointID *string) (*string, error) {
	if servicePointID == nil {
		return nil, nil
	}
	id := strings.TrimSpace(*servicePointID)
	if id == "" {
		return nil, nil
	}
	if s.servicePoints == nil {
		return nil, errors.New("order service: service point repository not configured")
	}

	point, err := s.servicePoints.FindByID(ctx, storeID, id)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, fmt.Errorf("%w: unknown service point %s", ErrOrderInvalidInput, id)
		}
		return nil, s.mapRepositoryError(err)
	}
	if !point.Active {
		return nil, fmt.Errorf("%w: service point %s is inactive", ErrOrderInvalidInput, id)
	}
	return valuePtr(point.ID), nil
}

func (s *orderService) priceEntries(ctx context.Context, store Store, cmd CreateOrderCommand) (PricedCart, error) {
	itemIDs := make([]string, 0, len(cmd.Entries))
	choiceIDs := make([]string, 0)
	for _, entry := range cmd.Entries {
		itemIDs = append(itemIDs, entry.ItemID)
		for _, opt := range entry.Options {
			choiceIDs = append(choiceIDs, opt.OptionChoiceID)
		}
	}

	items, err := s.catalog.GetItems(ctx, store.ID, itemIDs)
	if err != nil {
		return PricedCart{}, s.mapRepositoryError(err)
	}
	for _, id := range itemIDs {
		if _, ok := items[id]; !ok {
			return PricedCart{}, fmt.Errorf("%w: menu item %s", ErrOrderNotFound, id)
		}
	}

	choices := map[string]domain.OptionChoice{}
	if len(choiceIDs) > 0 {
		choices, err = s.catalog.GetOptionChoices(ctx, store.ID, choiceIDs)
		if err != nil {
			return PricedCart{}, s.mapRepositoryError(err)
		}
		for _, id := range choiceIDs {
			if _, ok := choices[id]; !ok {
				return PricedCart{}, fmt.Errorf("%w: option choice %s", ErrOrderNotFound, id)
			}
		}
	}

	groups := map[string]domain.OptionGroup{}
	groupIDs := make([]string, 0, len(choices))
	seen := map[string]struct{}{}
	for _, choice := range choices {
		if choice.OptionGroupID == "" {
			continue
		}
		if _, dup := seen[choice.OptionGroupID]; dup {
			continue
		}
		seen[choice.OptionGroupID] = struct{}{}
		groupIDs = append(groupIDs, choice.OptionGroupID)
	}
	if len(groupIDs) > 0 {
		groups, err = s.catalog.GetOptionGroups(ctx, store.ID, groupIDs)
		if err != nil {
			return PricedCart{}, s.mapRepositoryError(err)
		}
	}

	priced, err := s.pricing.Calculate(ctx, PriceCartCommand{
		Currency: store.Currency,
		Language: cmd.Language,
		Entries:  cmd.Entries,
		Catalog: CatalogSnapshot{
			Items:   items,
			Groups:  groups,
			Choices: choices,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrCartPricingUnknownItem), errors.Is(err, ErrCartPricingUnknownChoice):
			return PricedCart{}, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case errors.Is(err, ErrCartPricingInvalidInput):
			return PricedCart{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		default:
			return PricedCart{}, err
		}
	}
	return priced, nil
}

func applyStatusTransition(order *Order, target domain.OrderStatus, reason string, now time.Time) error {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return nil
	}

	if target == domain.OrderStatusCancelled {
		if !slices.Contains(cancellableStatuses, current) {
			return fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, current)
		}
	} else if !slices.Contains(orderStateTransitions[current], target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusConfirmed:
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		if reason != "" {
			order.CancelReason = valuePtr(reason)
		}
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) nextLineItemID() string {
	return lineItemIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func trimStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func valuePtr[T any](v T) *T {
	return &v
}
