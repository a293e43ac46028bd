package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/mwesox/menuvo-platform-sub005/internal/platform/firestore"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the repositories.Registry
// contract. RunInTx places the Firestore transaction on the context so every
// repository call made inside the callback joins the same transaction.
type Registry struct {
	provider      *pfirestore.Provider
	orders        *OrderRepository
	stores        *StoreRepository
	servicePoints *ServicePointRepository
	catalog       *CatalogRepository
	counters      *CounterRepository
}

// NewRegistry constructs the registry and all repositories it exposes.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	stores, err := NewStoreRepository(provider)
	if err != nil {
		return nil, err
	}
	servicePoints, err := NewServicePointRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:      provider,
		orders:        orders,
		stores:        stores,
		servicePoints: servicePoints,
		catalog:       catalog,
		counters:      counters,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Stores returns the store repository.
func (r *Registry) Stores() repositories.StoreRepository { return r.stores }

// ServicePoints returns the service point repository.
func (r *Registry) ServicePoints() repositories.ServicePointRepository { return r.servicePoints }

// Catalog returns the catalog repository.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx executes fn inside a Firestore transaction. Nested calls reuse the
// transaction already present on the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("transaction function is required")
	}
	if _, ok := pfirestore.TransactionFrom(ctx); ok {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTransaction(ctx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
