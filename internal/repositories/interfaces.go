package repositories

import (
	"context"
	"time"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Stores() StoreRepository
	ServicePoints() ServicePointRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories invoked with the context passed to fn join the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers and line items and provides query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	InsertLineItems(ctx context.Context, orderID string, items []domain.OrderLineItem) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIdempotencyKey returns the existing order for the store+key pair.
	// A RepositoryError with IsNotFound signals the key is unused.
	FindByIdempotencyKey(ctx context.Context, storeID string, key string) (domain.Order, error)
	ListLineItems(ctx context.Context, orderID string) ([]domain.OrderLineItem, error)
	ListByStore(ctx context.Context, storeID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// StoreRepository reads store configuration for eligibility and ownership checks.
type StoreRepository interface {
	FindByID(ctx context.Context, storeID string) (domain.Store, error)
	FindBySlug(ctx context.Context, slug string) (domain.Store, error)
}

// ServicePointRepository reads service points scoped to a store.
type ServicePointRepository interface {
	FindByID(ctx context.Context, storeID string, servicePointID string) (domain.ServicePoint, error)
}

// CatalogRepository reads the menu snapshot pricing runs against. All lookups
// are scoped to a store; ids from other stores must report not found.
type CatalogRepository interface {
	GetItems(ctx context.Context, storeID string, itemIDs []string) (map[string]domain.CatalogItem, error)
	GetOptionChoices(ctx context.Context, storeID string, choiceIDs []string) (map[string]domain.OptionChoice, error)
	GetOptionGroups(ctx context.Context, storeID string, groupIDs []string) (map[string]domain.OptionGroup, error)
}

// CounterRepository provides transaction-safe pickup numbers per store.
type CounterRepository interface {
	// NextPickupNumber returns the next number in the store's cyclic sequence
	// 1..999,0,1..; the first allocation for a store returns 1.
	NextPickupNumber(ctx context.Context, storeID string) (int, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows and paginates store order listings.
type OrderListFilter struct {
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
