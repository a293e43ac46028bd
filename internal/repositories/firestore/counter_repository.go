package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/mwesox/menuvo-platform-sub005/internal/platform/firestore"
	"github.com/mwesox/menuvo-platform-sub005/internal/repositories"
)

const countersCollection = "counters"

// pickupNumberModulus bounds the cyclic pickup sequence: values stay in [0, 999].
const pickupNumberModulus = 1000

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore
// transactions on one counter document per store.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil)
	return &CounterRepository{
		provider: provider,
		counters: base,
	}, nil
}

// NextPickupNumber returns the next pickup number for the store, starting at 1
// and wrapping to 0 after 999. When the context carries a running transaction
// the increment joins it so a failed order creation rolls the number back.
func (r *CounterRepository) NextPickupNumber(ctx context.Context, storeID string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(storeID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "store id is required", nil)
	}

	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		next, err := r.advance(ctx, tx, id)
		if err != nil {
			return 0, pfirestore.WrapError("counters.next", err)
		}
		return next, nil
	}

	var next int
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		value, err := r.advance(ctx, tx, id)
		if err != nil {
			return err
		}
		next = value
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}

func (r *CounterRepository) advance(ctx context.Context, tx *firestore.Transaction, storeID string) (int, error) {
	ref, err := r.counters.DocumentRef(ctx, storeID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()

	snapshot, err := tx.Get(ref)
	switch status.Code(err) {
	case codes.NotFound:
		doc := counterDocument{CurrentValue: 1, UpdatedAt: now}
		if err := tx.Create(ref, doc); err != nil {
			return 0, err
		}
		return 1, nil
	case codes.OK:
		// proceed
	default:
		return 0, err
	}

	var doc counterDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("firestore counters decode %s: %w", storeID, err)
	}

	doc.CurrentValue = nextPickupValue(doc.CurrentValue)
	doc.UpdatedAt = now

	if err := tx.Set(ref, doc); err != nil {
		return 0, err
	}
	return int(doc.CurrentValue), nil
}

// nextPickupValue advances the cyclic sequence: 1..999 then 0 then 1 again.
func nextPickupValue(current int64) int64 {
	return (current + 1) % pickupNumberModulus
}
