package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	pfirestore "github.com/mwesox/menuvo-platform-sub005/internal/platform/firestore"
)

const (
	menuItemsCollection     = "menuItems"
	optionGroupsCollection  = "optionGroups"
	optionChoicesCollection = "optionChoices"
)

// CatalogRepository reads the menu snapshot beneath each store document. All
// lookups are store scoped; ids belonging to another store resolve to absent.
type CatalogRepository struct {
	provider *pfirestore.Provider
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{provider: provider}, nil
}

// GetItems fetches the requested menu items. Missing ids are simply omitted
// from the result map; the caller decides whether absence is an error.
func (r *CatalogRepository) GetItems(ctx context.Context, storeID string, itemIDs []string) (map[string]domain.CatalogItem, error) {
	snaps, err := r.getAll(ctx, storeID, menuItemsCollection, itemIDs)
	if err != nil {
		return nil, err
	}
	items := make(map[string]domain.CatalogItem, len(snaps))
	for _, snap := range snaps {
		var doc menuItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("catalog.items", err)
		}
		items[snap.Ref.ID] = domain.CatalogItem{
			ID:          snap.Ref.ID,
			StoreID:     storeID,
			Price:       doc.Price,
			KitchenName: doc.KitchenName,
			Names:       domain.LocalizedText(doc.Names),
		}
	}
	return items, nil
}

// GetOptionChoices fetches the requested option choices.
func (r *CatalogRepository) GetOptionChoices(ctx context.Context, storeID string, choiceIDs []string) (map[string]domain.OptionChoice, error) {
	snaps, err := r.getAll(ctx, storeID, optionChoicesCollection, choiceIDs)
	if err != nil {
		return nil, err
	}
	choices := make(map[string]domain.OptionChoice, len(snaps))
	for _, snap := range snaps {
		var doc optionChoiceDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("catalog.choices", err)
		}
		choices[snap.Ref.ID] = domain.OptionChoice{
			ID:            snap.Ref.ID,
			OptionGroupID: doc.OptionGroupID,
			PriceModifier: doc.PriceModifier,
			Names:         domain.LocalizedText(doc.Names),
		}
	}
	return choices, nil
}

// GetOptionGroups fetches the requested option groups.
func (r *CatalogRepository) GetOptionGroups(ctx context.Context, storeID string, groupIDs []string) (map[string]domain.OptionGroup, error) {
	snaps, err := r.getAll(ctx, storeID, optionGroupsCollection, groupIDs)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]domain.OptionGroup, len(snaps))
	for _, snap := range snaps {
		var doc optionGroupDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("catalog.groups", err)
		}
		groups[snap.Ref.ID] = domain.OptionGroup{
			ID:    snap.Ref.ID,
			Names: domain.LocalizedText(doc.Names),
		}
	}
	return groups, nil
}

func (r *CatalogRepository) getAll(ctx context.Context, storeID string, collection string, ids []string) ([]*firestore.DocumentSnapshot, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, errors.New("store id is required")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	coll := client.Collection(storesCollection).Doc(storeID).Collection(collection)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return nil, errors.New("catalog document id is required")
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		refs = append(refs, coll.Doc(trimmed))
	}

	var snaps []*firestore.DocumentSnapshot
	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		snaps, err = tx.GetAll(refs)
	} else {
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, pfirestore.WrapError("catalog.getall", err)
	}

	present := snaps[:0]
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		present = append(present, snap)
	}
	return present, nil
}

type menuItemDocument struct {
	Price       int64             `firestore:"price"`
	KitchenName string            `firestore:"kitchenName,omitempty"`
	Names       map[string]string `firestore:"names,omitempty"`
}

type optionChoiceDocument struct {
	OptionGroupID string            `firestore:"optionGroupId"`
	PriceModifier int64             `firestore:"priceModifier"`
	Names         map[string]string `firestore:"names,omitempty"`
}

type optionGroupDocument struct {
	Names map[string]string `firestore:"names,omitempty"`
}
