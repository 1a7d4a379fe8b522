// Package masking redacts partner identity fields for viewers without a premium plan.
package masking

import (
	"strings"
	"unicode/utf8"
)

const (
	// Marker is appended to the visible prefix of a masked value.
	Marker = "****"
	// Placeholder replaces empty values for non-premium viewers.
	Placeholder = "*****"

	visiblePrefixRunes = 2
)

// Mask returns value unchanged for premium viewers. Otherwise it keeps the first two
// runes followed by Marker. Masking an already masked value is a no-op.
func Mask(value string, premium bool) string {
	if premium {
		return value
	}
	if value == "" {
		return Placeholder
	}
	if IsMasked(value) {
		return value
	}
	return prefix(value, visiblePrefixRunes) + Marker
}

// IsMasked reports whether value carries the mask marker.
func IsMasked(value string) bool {
	return strings.Contains(value, Marker)
}

func prefix(value string, runes int) string {
	if utf8.RuneCountInString(value) <= runes {
		return value
	}
	count := 0
	for index := range value {
		if count == runes {
			return value[:index]
		}
		count++
	}
	return value
}
