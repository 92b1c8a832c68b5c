package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseFormattedAmount parses user- or document-formatted money strings.
// Accepts common formatted values like:
// - "20,000"
// - "MMK 20,000"
// - "MMK -20,000"
// - "Ks 20000"
//
// Keep digits, '.', and a leading '-' only.
func ParseFormattedAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s != "" {
		s = strings.ReplaceAll(s, ",", "")
		s = strings.ReplaceAll(s, "MMK", "")
		s = strings.ReplaceAll(s, "mmk", "")
		s = strings.ReplaceAll(s, "Ks", "")
		s = strings.ReplaceAll(s, "ks", "")
		s = strings.TrimSpace(s)
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", value)
	}
	if neg {
		clean = "-" + clean
	}
	return decimal.NewFromString(clean)
}
