package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
)

func testCatalog() domain.CatalogSnapshot {
	return domain.CatalogSnapshot{
		Items: map[string]domain.CatalogItem{
			"item-burger": {
				ID:          "item-burger",
				StoreID:     "store-1",
				Price:       950,
				KitchenName: "BRG",
				Names:       domain.LocalizedText{"en": "Burger", "de": "Burger"},
			},
			"item-fries": {
				ID:      "item-fries",
				StoreID: "store-1",
				Price:   350,
				Names:   domain.LocalizedText{"en": "Fries", "de": "Pommes"},
			},
		},
		Groups: map[string]domain.OptionGroup{
			"grp-extras": {ID: "grp-extras", Names: domain.LocalizedText{"en": "Extras"}},
			"grp-size":   {ID: "grp-size", Names: domain.LocalizedText{"en": "Size"}},
		},
		Choices: map[string]domain.OptionChoice{
			"cho-cheese": {ID: "cho-cheese", OptionGroupID: "grp-extras", PriceModifier: 150, Names: domain.LocalizedText{"en": "Cheese"}},
			"cho-large":  {ID: "cho-large", OptionGroupID: "grp-size", PriceModifier: 100, Names: domain.LocalizedText{"en": "Large"}},
			"cho-promo":  {ID: "cho-promo", OptionGroupID: "grp-extras", PriceModifier: -2000, Names: domain.LocalizedText{"en": "Promo"}},
		},
	}
}

func TestCartPricingEngineCalculate(t *testing.T) {
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}

	cmd := PriceCartCommand{
		Currency: "eur",
		Language: "de",
		Entries: []domain.CartEntry{
			{
				ItemID:   "item-burger",
				Quantity: 2,
				Options: []domain.CartEntryOption{
					{OptionGroupID: "grp-extras", OptionChoiceID: "cho-cheese", Quantity: 2},
					{OptionChoiceID: "cho-large"},
				},
			},
			{ItemID: "item-fries", Quantity: 1},
		},
		Catalog: testCatalog(),
	}

	priced, err := engine.Calculate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if priced.Currency != "EUR" {
		t.Fatalf("expected currency EUR, got %s", priced.Currency)
	}
	if len(priced.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(priced.Lines))
	}

	burger := priced.Lines[0]
	// cheese 150x2 + large 100 = 400 per unit; (950+400)*2 = 2700
	if burger.OptionsPrice != 400 {
		t.Fatalf("expected options price 400, got %d", burger.OptionsPrice)
	}
	if burger.TotalPrice != 2700 {
		t.Fatalf("expected burger line total 2700, got %d", burger.TotalPrice)
	}
	if burger.UnitPrice != 950 {
		t.Fatalf("expected unit price 950, got %d", burger.UnitPrice)
	}
	if burger.DisplayOrder != 0 || priced.Lines[1].DisplayOrder != 1 {
		t.Fatalf("expected display order to follow input position")
	}
	if burger.KitchenName != "BRG" {
		t.Fatalf("expected kitchen name BRG, got %s", burger.KitchenName)
	}
	if len(burger.Options) != 2 {
		t.Fatalf("expected 2 option snapshots, got %d", len(burger.Options))
	}
	if burger.Options[0].GroupName != "Extras" || burger.Options[0].ChoiceName != "Cheese" {
		t.Fatalf("unexpected option snapshot names: %+v", burger.Options[0])
	}
	if burger.Options[1].Quantity != 1 {
		t.Fatalf("expected zero option quantity to default to 1, got %d", burger.Options[1].Quantity)
	}

	fries := priced.Lines[1]
	if fries.Name != "Pommes" {
		t.Fatalf("expected localized name Pommes, got %s", fries.Name)
	}
	if fries.TotalPrice != 350 {
		t.Fatalf("expected fries total 350, got %d", fries.TotalPrice)
	}

	if priced.Subtotal != 3050 {
		t.Fatalf("expected subtotal 3050, got %d", priced.Subtotal)
	}
}

func TestCartPricingEngineDeterministic(t *testing.T) {
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}

	cmd := PriceCartCommand{
		Currency: "EUR",
		Entries: []domain.CartEntry{
			{ItemID: "item-burger", Quantity: 3, Options: []domain.CartEntryOption{{OptionChoiceID: "cho-cheese"}}},
			{ItemID: "item-fries", Quantity: 2},
		},
		Catalog: testCatalog(),
	}

	first, err := engine.Calculate(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.Calculate(context.Background(), cmd)
		if err != nil {
			t.Fatalf("Calculate run %d: %v", i, err)
		}
		if again.Subtotal != first.Subtotal {
			t.Fatalf("subtotal changed between runs: %d vs %d", again.Subtotal, first.Subtotal)
		}
		for j := range again.Lines {
			if again.Lines[j].TotalPrice != first.Lines[j].TotalPrice {
				t.Fatalf("line %d total changed between runs", j)
			}
		}
	}
}

func TestCartPricingEngineNegativeModifierClampsLine(t *testing.T) {
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}

	priced, err := engine.Calculate(context.Background(), PriceCartCommand{
		Currency: "EUR",
		Entries: []domain.CartEntry{
			{ItemID: "item-fries", Quantity: 1, Options: []domain.CartEntryOption{{OptionChoiceID: "cho-promo"}}},
		},
		Catalog: testCatalog(),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	line := priced.Lines[0]
	if line.OptionsPrice != -2000 {
		t.Fatalf("expected options price -2000, got %d", line.OptionsPrice)
	}
	if line.TotalPrice != 0 {
		t.Fatalf("expected clamped line total 0, got %d", line.TotalPrice)
	}
	if priced.Subtotal != 0 {
		t.Fatalf("expected subtotal 0, got %d", priced.Subtotal)
	}
}

func TestCartPricingEngineValidation(t *testing.T) {
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}
	catalog := testCatalog()

	tests := []struct {
		name string
		cmd  PriceCartCommand
		want error
	}{
		{
			name: "empty cart",
			cmd:  PriceCartCommand{Currency: "EUR", Catalog: catalog},
			want: ErrCartPricingInvalidInput,
		},
		{
			name: "missing currency",
			cmd: PriceCartCommand{
				Entries: []domain.CartEntry{{ItemID: "item-fries", Quantity: 1}},
				Catalog: catalog,
			},
			want: ErrCartPricingInvalidInput,
		},
		{
			name: "zero quantity",
			cmd: PriceCartCommand{
				Currency: "EUR",
				Entries:  []domain.CartEntry{{ItemID: "item-fries", Quantity: 0}},
				Catalog:  catalog,
			},
			want: ErrCartPricingInvalidInput,
		},
		{
			name: "unknown item",
			cmd: PriceCartCommand{
				Currency: "EUR",
				Entries:  []domain.CartEntry{{ItemID: "item-missing", Quantity: 1}},
				Catalog:  catalog,
			},
			want: ErrCartPricingUnknownItem,
		},
		{
			name: "unknown choice",
			cmd: PriceCartCommand{
				Currency: "EUR",
				Entries: []domain.CartEntry{
					{ItemID: "item-fries", Quantity: 1, Options: []domain.CartEntryOption{{OptionChoiceID: "cho-missing"}}},
				},
				Catalog: catalog,
			},
			want: ErrCartPricingUnknownChoice,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Calculate(context.Background(), tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCartPricingEngineFallbackNames(t *testing.T) {
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}

	catalog := domain.CatalogSnapshot{
		Items: map[string]domain.CatalogItem{
			"item-x": {ID: "item-x", Price: 100},
		},
		Choices: map[string]domain.OptionChoice{
			"cho-x": {ID: "cho-x", OptionGroupID: "grp-gone", PriceModifier: 50},
		},
	}

	priced, err := engine.Calculate(context.Background(), PriceCartCommand{
		Currency: "EUR",
		Entries: []domain.CartEntry{
			{ItemID: "item-x", Quantity: 1, Options: []domain.CartEntryOption{{OptionChoiceID: "cho-x"}}},
		},
		Catalog: catalog,
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	line := priced.Lines[0]
	if line.Name != "Unknown Item" {
		t.Fatalf("expected fallback item name, got %s", line.Name)
	}
	if line.Options[0].GroupName != "Unknown Group" {
		t.Fatalf("expected fallback group name, got %s", line.Options[0].GroupName)
	}
	if line.Options[0].ChoiceName != "Unknown Choice" {
		t.Fatalf("expected fallback choice name, got %s", line.Options[0].ChoiceName)
	}
}
