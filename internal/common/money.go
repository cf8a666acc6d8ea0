package common

import (
	"math"
	"strings"
)

// ToMinorUnits converts a decimal EUR amount into integer cents. Rounding is
// half away from zero; the same conversion runs at checkout-intent creation
// and at verification so the two sides can never disagree on the amount.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// MaskSecret keeps a short prefix of a credential for log output and hides
// the rest.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "EMPTY"
	}
	if len(trimmed) <= 4 {
		return "****"
	}
	return trimmed[:4] + strings.Repeat("*", len(trimmed)-4)
}
