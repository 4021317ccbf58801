package extract

import (
	"strconv"
	"strings"
	"unicode"
)

// ParsePrice normalizes a displayed price into integer euros. Hidden
// prices ("sob consulta") and unparseable text map to zero.
func ParsePrice(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(trimmed), "consulta") {
		return 0
	}
	// Portals format prices as "335.000 €" or "335 000€"; cents are not
	// displayed on search results, so every digit run belongs to the
	// integer part.
	var digits strings.Builder
	for _, r := range trimmed {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	value, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return value
}
