package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	pfirestore "github.com/mwesox/menuvo-platform-sub005/internal/platform/firestore"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
)

const (
	ordersCollection       = "orders"
	lineItemsSubcollection = "lineItems"
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
)

// OrderRepository persists order headers in the orders collection and line items
// as a subcollection underneath each order document.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order header, failing on id collisions.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Create(ctx, order.ID, fromDomainOrder(order))
	return err
}

// InsertLineItems writes the line items beneath the order document. Parent
// header must be written first; items keep their assigned ids.
func (r *OrderRepository) InsertLineItems(ctx context.Context, orderID string, items []domain.OrderLineItem) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return errors.New("order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	coll := client.Collection(ordersCollection).Doc(orderID).Collection(lineItemsSubcollection)

	tx, inTx := pfirestore.TransactionFrom(ctx)
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("line item id is required for order %s", orderID)
		}
		ref := coll.Doc(item.ID)
		doc := fromDomainLineItem(item)
		if inTx {
			if err := tx.Create(ref, doc); err != nil {
				return pfirestore.WrapError("orders.lineitems.create", err)
			}
			continue
		}
		if _, err := ref.Create(ctx, doc); err != nil {
			return pfirestore.WrapError("orders.lineitems.create", err)
		}
	}
	return nil
}

// Update overwrites the order header.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Set(ctx, order.ID, fromDomainOrder(order))
	return err
}

// FindByID loads the order header without its line items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// FindByIdempotencyKey returns the order previously created for the store+key
// pair. Absence is reported as a not-found repository error.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, storeID string, key string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	storeID = strings.TrimSpace(storeID)
	key = strings.TrimSpace(key)
	if storeID == "" || key == "" {
		return domain.Order{}, errors.New("store id and idempotency key are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	query := client.Collection(ordersCollection).
		Where("storeId", "==", storeID).
		Where("idempotencyKey", "==", key).
		Limit(1)

	var iter *firestore.DocumentIterator
	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.WrapError("orders.idempotency", status.Error(codes.NotFound, "no order for idempotency key"))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.idempotency", err)
	}

	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
	}
	return toDomainOrder(snap.Ref.ID, doc), nil
}

// ListLineItems reads the line items of an order ordered by display position.
func (r *OrderRepository) ListLineItems(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	iter := client.Collection(ordersCollection).Doc(orderID).
		Collection(lineItemsSubcollection).
		OrderBy("displayOrder", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var items []domain.OrderLineItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.lineitems.list", err)
		}
		var doc lineItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore line item decode %s: %w", snap.Ref.ID, err)
		}
		items = append(items, toDomainLineItem(snap.Ref.ID, orderID, doc))
	}
	return items, nil
}

// ListByStore pages through the store's orders, newest first.
func (r *OrderRepository) ListByStore(ctx context.Context, storeID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("store id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	query := client.Collection(ordersCollection).
		Where("storeId", "==", storeID)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		createdAt, lastID, err := decodeOrderCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		query = query.StartAfter(createdAt, lastID)
	}

	iter := query.Limit(pageSize + 1).Documents(ctx)
	defer iter.Stop()

	var (
		orders    []domain.Order
		lastSnap  *firestore.DocumentSnapshot
		nextToken string
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		if len(orders) == pageSize {
			if lastSnap != nil {
				var doc orderDocument
				if err := lastSnap.DataTo(&doc); err == nil {
					nextToken = encodeOrderCursor(doc.CreatedAt, lastSnap.Ref.ID)
				}
			}
			break
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, toDomainOrder(snap.Ref.ID, doc))
		lastSnap = snap
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

func encodeOrderCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeOrderCursor(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("orders.list: invalid page token: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("orders.list: invalid page token")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("orders.list: invalid page token: %w", err)
	}
	return createdAt, parts[1], nil
}

type orderDocument struct {
	StoreID             string     `firestore:"storeId"`
	MerchantID          string     `firestore:"merchantId"`
	OrderType           string     `firestore:"orderType"`
	Status              string     `firestore:"status"`
	PaymentStatus       string     `firestore:"paymentStatus"`
	Subtotal            int64      `firestore:"subtotal"`
	TaxAmount           int64      `firestore:"taxAmount"`
	TipAmount           int64      `firestore:"tipAmount"`
	TotalAmount         int64      `firestore:"totalAmount"`
	Currency            string     `firestore:"currency"`
	PickupNumber        int        `firestore:"pickupNumber"`
	ScheduledPickupTime *time.Time `firestore:"scheduledPickupTime,omitempty"`
	ServicePointID      *string    `firestore:"servicePointId,omitempty"`
	IdempotencyKey      *string    `firestore:"idempotencyKey,omitempty"`
	PaymentProvider     string     `firestore:"paymentProvider,omitempty"`
	PaymentOrderRef     string     `firestore:"paymentOrderRef,omitempty"`
	PaymentCaptureRef   string     `firestore:"paymentCaptureRef,omitempty"`
	PaymentRefundRef    string     `firestore:"paymentRefundRef,omitempty"`
	CustomerName        string     `firestore:"customerName,omitempty"`
	CustomerPhone       string     `firestore:"customerPhone,omitempty"`
	CustomerEmail       string     `firestore:"customerEmail,omitempty"`
	Note                string     `firestore:"note,omitempty"`
	CancelReason        *string    `firestore:"cancelReason,omitempty"`
	CreatedAt           time.Time  `firestore:"createdAt"`
	ConfirmedAt         *time.Time `firestore:"confirmedAt,omitempty"`
	CompletedAt         *time.Time `firestore:"completedAt,omitempty"`
	UpdatedAt           time.Time  `firestore:"updatedAt"`
}

type lineItemDocument struct {
	ItemID       string               `firestore:"itemId"`
	Name         string               `firestore:"name"`
	KitchenName  string               `firestore:"kitchenName,omitempty"`
	Quantity     int                  `firestore:"quantity"`
	UnitPrice    int64                `firestore:"unitPrice"`
	OptionsPrice int64                `firestore:"optionsPrice"`
	TotalPrice   int64                `firestore:"totalPrice"`
	DisplayOrder int                  `firestore:"displayOrder"`
	Options      []lineOptionDocument `firestore:"options,omitempty"`
}

type lineOptionDocument struct {
	OptionGroupID  string `firestore:"optionGroupId"`
	OptionChoiceID string `firestore:"optionChoiceId"`
	GroupName      string `firestore:"groupName"`
	ChoiceName     string `firestore:"choiceName"`
	Quantity       int    `firestore:"quantity"`
	PriceModifier  int64  `firestore:"priceModifier"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	return orderDocument{
		StoreID:             strings.TrimSpace(order.StoreID),
		MerchantID:          strings.TrimSpace(order.MerchantID),
		OrderType:           string(order.OrderType),
		Status:              string(order.Status),
		PaymentStatus:       string(order.PaymentStatus),
		Subtotal:            order.Subtotal,
		TaxAmount:           order.TaxAmount,
		TipAmount:           order.TipAmount,
		TotalAmount:         order.TotalAmount,
		Currency:            strings.TrimSpace(order.Currency),
		PickupNumber:        order.PickupNumber,
		ScheduledPickupTime: order.ScheduledPickupTime,
		ServicePointID:      order.ServicePointID,
		IdempotencyKey:      order.IdempotencyKey,
		PaymentProvider:     string(order.Payment.Kind),
		PaymentOrderRef:     order.Payment.OrderRef,
		PaymentCaptureRef:   order.Payment.CaptureRef,
		PaymentRefundRef:    order.Payment.RefundRef,
		CustomerName:        strings.TrimSpace(order.CustomerName),
		CustomerPhone:       strings.TrimSpace(order.CustomerPhone),
		CustomerEmail:       strings.TrimSpace(order.CustomerEmail),
		Note:                strings.TrimSpace(order.Note),
		CancelReason:        order.CancelReason,
		CreatedAt:           order.CreatedAt.UTC(),
		ConfirmedAt:         order.ConfirmedAt,
		CompletedAt:         order.CompletedAt,
		UpdatedAt:           order.UpdatedAt.UTC(),
	}
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:                  id,
		StoreID:             doc.StoreID,
		MerchantID:          doc.MerchantID,
		OrderType:           domain.OrderType(doc.OrderType),
		Status:              domain.OrderStatus(doc.Status),
		PaymentStatus:       domain.PaymentStatus(doc.PaymentStatus),
		Subtotal:            doc.Subtotal,
		TaxAmount:           doc.TaxAmount,
		TipAmount:           doc.TipAmount,
		TotalAmount:         doc.TotalAmount,
		Currency:            doc.Currency,
		PickupNumber:        doc.PickupNumber,
		ScheduledPickupTime: doc.ScheduledPickupTime,
		ServicePointID:      doc.ServicePointID,
		IdempotencyKey:      doc.IdempotencyKey,
		Payment: domain.PaymentRef{
			Kind:       domain.PaymentProviderKind(doc.PaymentProvider),
			OrderRef:   doc.PaymentOrderRef,
			CaptureRef: doc.PaymentCaptureRef,
			RefundRef:  doc.PaymentRefundRef,
		},
		CustomerName:  doc.CustomerName,
		CustomerPhone: doc.CustomerPhone,
		CustomerEmail: doc.CustomerEmail,
		Note:          doc.Note,
		CancelReason:  doc.CancelReason,
		CreatedAt:     doc.CreatedAt,
		ConfirmedAt:   doc.ConfirmedAt,
		CompletedAt:   doc.CompletedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

func fromDomainLineItem(item domain.OrderLineItem) lineItemDocument {
	doc := lineItemDocument{
		ItemID:       strings.TrimSpace(item.ItemID),
		Name:         item.Name,
		KitchenName:  item.KitchenName,
		Quantity:     item.Quantity,
		UnitPrice:    item.UnitPrice,
		OptionsPrice: item.OptionsPrice,
		TotalPrice:   item.TotalPrice,
		DisplayOrder: item.DisplayOrder,
	}
	for _, opt := range item.Options {
		doc.Options = append(doc.Options, lineOptionDocument{
			OptionGroupID:  opt.OptionGroupID,
			OptionChoiceID: opt.OptionChoiceID,
			GroupName:      opt.GroupName,
			ChoiceName:     opt.ChoiceName,
			Quantity:       opt.Quantity,
			PriceModifier:  opt.PriceModifier,
		})
	}
	return doc
}

func toDomainLineItem(id string, orderID string, doc lineItemDocument) domain.OrderLineItem {
	item := domain.OrderLineItem{
		ID:           id,
		OrderID:      orderID,
		ItemID:       doc.ItemID,
		Name:         doc.Name,
		KitchenName:  doc.KitchenName,
		Quantity:     doc.Quantity,
		UnitPrice:    doc.UnitPrice,
		OptionsPrice: doc.OptionsPrice,
		TotalPrice:   doc.TotalPrice,
		DisplayOrder: doc.DisplayOrder,
	}
	for _, opt := range doc.Options {
		item.Options = append(item.Options, domain.OrderLineItemOption{
			OptionGroupID:  opt.OptionGroupID,
			OptionChoiceID: opt.OptionChoiceID,
			GroupName:      opt.GroupName,
			ChoiceName:     opt.ChoiceName,
			Quantity:       opt.Quantity,
			PriceModifier:  opt.PriceModifier,
		})
	}
	return item
}
