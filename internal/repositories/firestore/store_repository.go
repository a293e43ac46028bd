package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	pfirestore "github.com/mwesox/menuvo-platform-sub005/internal/platform/firestore"
)

const (
	storesCollection        = "stores"
	servicePointsCollection = "servicePoints"
)

// StoreRepository reads store configuration documents.
type StoreRepository struct {
	base     *pfirestore.BaseRepository[storeDocument]
	provider *pfirestore.Provider
}

// NewStoreRepository constructs a Firestore-backed store repository.
func NewStoreRepository(provider *pfirestore.Provider) (*StoreRepository, error) {
	if provider == nil {
		return nil, errors.New("store repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[storeDocument](provider, storesCollection, nil, nil)
	return &StoreRepository{base: base, provider: provider}, nil
}

// FindByID loads the store by id.
func (r *StoreRepository) FindByID(ctx context.Context, storeID string) (domain.Store, error) {
	if r == nil || r.base == nil {
		return domain.Store{}, errors.New("store repository not initialised")
	}
	doc, err := r.base.Get(ctx, storeID)
	if err != nil {
		return domain.Store{}, err
	}
	return toDomainStore(doc.ID, doc.Data), nil
}

// FindBySlug resolves a store by its public slug.
func (r *StoreRepository) FindBySlug(ctx context.Context, slug string) (domain.Store, error) {
	if r == nil || r.provider == nil {
		return domain.Store{}, errors.New("store repository not initialised")
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Store{}, errors.New("store slug is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Store{}, err
	}
	iter := client.Collection(storesCollection).
		Where("slug", "==", slug).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Store{}, pfirestore.WrapError("stores.slug", status.Error(codes.NotFound, "store not found"))
	}
	if err != nil {
		return domain.Store{}, pfirestore.WrapError("stores.slug", err)
	}

	var doc storeDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Store{}, pfirestore.WrapError("stores.slug", err)
	}
	return toDomainStore(snap.Ref.ID, doc), nil
}

// ServicePointRepository reads service points stored beneath each store.
type ServicePointRepository struct {
	provider *pfirestore.Provider
}

// NewServicePointRepository constructs a Firestore-backed service point repository.
func NewServicePointRepository(provider *pfirestore.Provider) (*ServicePointRepository, error) {
	if provider == nil {
		return nil, errors.New("service point repository requires firestore provider")
	}
	return &ServicePointRepository{provider: provider}, nil
}

// FindByID loads one service point scoped to the store.
func (r *ServicePointRepository) FindByID(ctx context.Context, storeID string, servicePointID string) (domain.ServicePoint, error) {
	if r == nil || r.provider == nil {
		return domain.ServicePoint{}, errors.New("service point repository not initialised")
	}
	storeID = strings.TrimSpace(storeID)
	servicePointID = strings.TrimSpace(servicePointID)
	if storeID == "" || servicePointID == "" {
		return domain.ServicePoint{}, errors.New("store id and service point id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ServicePoint{}, err
	}
	ref := client.Collection(storesCollection).Doc(storeID).
		Collection(servicePointsCollection).Doc(servicePointID)

	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.ServicePoint{}, pfirestore.WrapError("servicepoints.get", err)
	}

	var doc servicePointDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ServicePoint{}, pfirestore.WrapError("servicepoints.get", err)
	}
	return domain.ServicePoint{
		ID:      snap.Ref.ID,
		StoreID: storeID,
		Name:    doc.Name,
		Active:  doc.Active,
	}, nil
}

type storeDocument struct {
	MerchantID        string            `firestore:"merchantId"`
	Slug              string            `firestore:"slug"`
	Name              string            `firestore:"name"`
	Currency          string            `firestore:"currency"`
	Active            bool              `firestore:"active"`
	EnabledOrderTypes []string          `firestore:"enabledOrderTypes,omitempty"`
	Open              bool              `firestore:"open"`
	NextOpenAt        *time.Time        `firestore:"nextOpenAt,omitempty"`
	PickupSlots       []timeSlotDoc     `firestore:"pickupSlots,omitempty"`
	Closures          []storeClosureDoc `firestore:"closures,omitempty"`
	CreatedAt         time.Time         `firestore:"createdAt"`
	UpdatedAt         time.Time         `firestore:"updatedAt"`
}

type timeSlotDoc struct {
	Start time.Time `firestore:"start"`
	End   time.Time `firestore:"end"`
}

type storeClosureDoc struct {
	From   time.Time `firestore:"from"`
	Until  time.Time `firestore:"until"`
	Reason string    `firestore:"reason,omitempty"`
}

type servicePointDocument struct {
	Name   string `firestore:"name"`
	Active bool   `firestore:"active"`
}

func toDomainStore(id string, doc storeDocument) domain.Store {
	store := domain.Store{
		ID:         id,
		MerchantID: doc.MerchantID,
		Slug:       doc.Slug,
		Name:       doc.Name,
		Currency:   doc.Currency,
		Active:     doc.Active,
		Open:       doc.Open,
		NextOpenAt: doc.NextOpenAt,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	for _, t := range doc.EnabledOrderTypes {
		store.EnabledOrderTypes = append(store.EnabledOrderTypes, domain.OrderType(t))
	}
	for _, slot := range doc.PickupSlots {
		store.PickupSlots = append(store.PickupSlots, domain.TimeSlot{Start: slot.Start, End: slot.End})
	}
	for _, closure := range doc.Closures {
		store.Closures = append(store.Closures, domain.StoreClosure{
			From:   closure.From,
			Until:  closure.Until,
			Reason: closure.Reason,
		})
	}
	return store
}
