package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
)

var (
	// ErrCartPricingInvalidInput signals bad request data such as empty carts or non-positive quantities.
	ErrCartPricingInvalidInput = errors.New("cart pricing: invalid input")
	// ErrCartPricingUnknownItem is returned when a cart entry references an item absent from the catalog snapshot.
	ErrCartPricingUnknownItem = errors.New("cart pricing: unknown item")
	// ErrCartPricingUnknownChoice is returned when a selected option choice is absent from the catalog snapshot.
	ErrCartPricingUnknownChoice = errors.New("cart pricing: unknown option choice")
)

const (
	fallbackItemName   = "Unknown Item"
	fallbackGroupName  = "Unknown Group"
	fallbackChoiceName = "Unknown Choice"
)

// CartPricingEngine computes line totals and the cart subtotal from a catalog
// snapshot. It performs no I/O; equal inputs always produce equal outputs.
type CartPricingEngine struct {
	logger func(context.Context, string, map[string]any)
}

type CartPricingEngineDeps struct {
	Logger func(context.Context, string, map[string]any)
}

func NewCartPricingEngine(deps CartPricingEngineDeps) (*CartPricingEngine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CartPricingEngine{logger: logger}, nil
}

type PriceCartCommand struct {
	Currency string
	Language string
	Entries  []domain.CartEntry
	Catalog  domain.CatalogSnapshot
}

// Calculate prices every entry against the snapshot. Line totals are
// (unitPrice + Σ modifier×optionQty) × quantity; DisplayOrder follows the
// input position. Negative option modifiers may discount a line but a line
// total never drops below zero.
func (e *CartPricingEngine) Calculate(ctx context.Context, cmd PriceCartCommand) (domain.PricedCart, error) {
	if err := validatePricingInput(cmd); err != nil {
		return domain.PricedCart{}, err
	}

	language := strings.TrimSpace(cmd.Language)
	lines := make([]domain.OrderLineItem, 0, len(cmd.Entries))
	var subtotal int64

	for position, entry := range cmd.Entries {
		item, ok := cmd.Catalog.Items[entry.ItemID]
		if !ok {
			return domain.PricedCart{}, fmt.Errorf("%w: %s", ErrCartPricingUnknownItem, entry.ItemID)
		}

		var optionsPrice int64
		options := make([]domain.OrderLineItemOption, 0, len(entry.Options))
		for _, selected := range entry.Options {
			choice, ok := cmd.Catalog.Choices[selected.OptionChoiceID]
			if !ok {
				return domain.PricedCart{}, fmt.Errorf("%w: %s", ErrCartPricingUnknownChoice, selected.OptionChoiceID)
			}

			optionQty := int64(selected.Quantity)
			if optionQty <= 0 {
				optionQty = 1
			}
			contribution, err := mulInt64(choice.PriceModifier, optionQty)
			if err != nil {
				return domain.PricedCart{}, fmt.Errorf("%w: option %s price overflow", ErrCartPricingInvalidInput, choice.ID)
			}
			optionsPrice, err = addInt64(optionsPrice, contribution)
			if err != nil {
				return domain.PricedCart{}, fmt.Errorf("%w: options price overflow for item %s", ErrCartPricingInvalidInput, entry.ItemID)
			}

			groupID := selected.OptionGroupID
			if groupID == "" {
				groupID = choice.OptionGroupID
			}
			groupName := fallbackGroupName
			if group, ok := cmd.Catalog.Groups[groupID]; ok {
				groupName = group.Names.Resolve(language, fallbackGroupName)
			}
			options = append(options, domain.OrderLineItemOption{
				OptionGroupID:  groupID,
				OptionChoiceID: choice.ID,
				GroupName:      groupName,
				ChoiceName:     choice.Names.Resolve(language, fallbackChoiceName),
				Quantity:       int(optionQty),
				PriceModifier:  choice.PriceModifier,
			})
		}

		perUnit, err := addInt64(item.Price, optionsPrice)
		if err != nil {
			return domain.PricedCart{}, fmt.Errorf("%w: line price overflow for item %s", ErrCartPricingInvalidInput, entry.ItemID)
		}
		lineTotal, err := mulInt64(perUnit, int64(entry.Quantity))
		if err != nil {
			return domain.PricedCart{}, fmt.Errorf("%w: line total overflow for item %s", ErrCartPricingInvalidInput, entry.ItemID)
		}
		if lineTotal < 0 {
			e.logger(ctx, "pricing_line_clamped", map[string]any{"itemId": entry.ItemID, "total": lineTotal})
			lineTotal = 0
		}

		subtotal, err = addInt64(subtotal, lineTotal)
		if err != nil {
			return domain.PricedCart{}, fmt.Errorf("%w: cart subtotal overflow", ErrCartPricingInvalidInput)
		}

		lines = append(lines, domain.OrderLineItem{
			ItemID:       item.ID,
			Name:         item.Names.Resolve(language, fallbackItemName),
			KitchenName:  item.KitchenName,
			Quantity:     entry.Quantity,
			UnitPrice:    item.Price,
			OptionsPrice: optionsPrice,
			TotalPrice:   lineTotal,
			DisplayOrder: position,
			Options:      options,
		})
	}

	return domain.PricedCart{
		Currency: strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Lines:    lines,
		Subtotal: subtotal,
	}, nil
}

func validatePricingInput(cmd PriceCartCommand) error {
	if len(cmd.Entries) == 0 {
		return fmt.Errorf("%w: cart has no entries", ErrCartPricingInvalidInput)
	}
	if strings.TrimSpace(cmd.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrCartPricingInvalidInput)
	}
	for _, entry := range cmd.Entries {
		if strings.TrimSpace(entry.ItemID) == "" {
			return fmt.Errorf("%w: entry item id is required", ErrCartPricingInvalidInput)
		}
		if entry.Quantity <= 0 {
			return fmt.Errorf("%w: item %s quantity must be positive", ErrCartPricingInvalidInput, entry.ItemID)
		}
		for _, opt := range entry.Options {
			if strings.TrimSpace(opt.OptionChoiceID) == "" {
				return fmt.Errorf("%w: item %s option choice id is required", ErrCartPricingInvalidInput, entry.ItemID)
			}
		}
	}
	return nil
}

func addInt64(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, errors.New("int64 overflow")
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, errors.New("int64 overflow")
	}
	return a + b, nil
}

func mulInt64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	result := a * b
	if result/b != a {
		return 0, errors.New("int64 overflow")
	}
	return result, nil
}
