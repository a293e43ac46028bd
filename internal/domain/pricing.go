package domain

// CartEntryOption is one option choice selected on a cart entry before pricing.
type CartEntryOption struct {
	OptionGroupID  string
	OptionChoiceID string
	Quantity       int
}

// CartEntry is one unpriced line submitted at checkout.
type CartEntry struct {
	ItemID   string
	Quantity int
	Options  []CartEntryOption
}

// CatalogSnapshot bundles the store-scoped catalog lookups pricing runs against.
type CatalogSnapshot struct {
	Items   map[string]CatalogItem
	Groups  map[string]OptionGroup
	Choices map[string]OptionChoice
}

// PricedCart is the deterministic output of pricing a cart against a catalog
// snapshot. Lines preserve the input order via DisplayOrder.
type PricedCart struct {
	Currency string
	Lines    []OrderLineItem
	Subtotal int64
}
