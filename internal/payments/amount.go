package payments

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// MajorUnits renders a minor-unit amount as the decimal string PSP APIs expect,
// honouring the currency's exponent (EUR 1050 -> "10.50", JPY 1050 -> "1050").
func MajorUnits(amountMinor int64, code string) (string, error) {
	scale, err := currencyScale(code)
	if err != nil {
		return "", err
	}
	if scale == 0 {
		return strconv.FormatInt(amountMinor, 10), nil
	}

	negative := amountMinor < 0
	if negative {
		amountMinor = -amountMinor
	}
	pow := powerOfTen(scale)
	whole := amountMinor / pow
	frac := amountMinor % pow

	out := fmt.Sprintf("%d.%0*d", whole, scale, frac)
	if negative {
		out = "-" + out
	}
	return out, nil
}

// MinorUnits parses a decimal amount string back into minor units.
func MinorUnits(value string, code string) (int64, error) {
	scale, err := currencyScale(code)
	if err != nil {
		return 0, err
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("payments: empty amount")
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	wholePart := value
	fracPart := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		wholePart = value[:idx]
		fracPart = value[idx+1:]
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > scale {
		return 0, fmt.Errorf("payments: amount %q has more than %d decimal places", value, scale)
	}
	for len(fracPart) < scale {
		fracPart += "0"
	}

	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("payments: invalid amount %q: %w", value, err)
	}
	var frac int64
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("payments: invalid amount %q: %w", value, err)
		}
	}

	minor := whole*powerOfTen(scale) + frac
	if negative {
		minor = -minor
	}
	return minor, nil
}

func currencyScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("payments: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Cash.Rounding(unit)
	return scale, nil
}

func powerOfTen(scale int) int64 {
	result := int64(1)
	for i := 0; i < scale; i++ {
		result *= 10
	}
	return result
}
