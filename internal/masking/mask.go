package masking

import "strings"

const (
	maskChar     = "*"
	visibleChars = 4
)

// MaskValue replaces all but the last four characters of value with '*'.
// Values of four characters or fewer are returned unchanged. The result
// always has the same length as the input.
func MaskValue(value string) string {
	runes := []rune(value)
	if len(runes) <= visibleChars {
		return value
	}

	masked := len(runes) - visibleChars
	return strings.Repeat(maskChar, masked) + string(runes[masked:])
}
