// Package core holds the domain model for the recurrence engine: ledger
// entries, recurring templates, money, and the pure occurrence calculator.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseDecimalToPaise converts a decimal rupee string to paise with
// half-up rounding on the third decimal place.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// The result is always positive paise. Returns a ValidationError for
// invalid formats, signed values, or zero amounts.
func ParseDecimalToPaise(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: "amount", Reason: "cannot be empty"}
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed
		return 0, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, &ValidationError{Field: "amount", Reason: "not a decimal number"}
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, &ValidationError{Field: "amount", Reason: "not a decimal number"}
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, &ValidationError{Field: "amount", Reason: "not a decimal number"}
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "amount", Reason: "out of range"}
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, &ValidationError{Field: "amount", Reason: "out of range"}
	}
	// Take first two fractional digits; then half-up rounding on third
	var fracPaise int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		fracPaise = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			fracPaise += d2
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracPaise++
			}
		}
	}
	paise := iv*100 + fracPaise
	if paise <= 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return paise, nil
}

// Rupees returns the rupee value as a float64 for display purposes.
// Use paise for calculations to avoid floating-point precision issues.
func (m Money) Rupees() float64 {
	return float64(m.Paise) / 100.0
}
