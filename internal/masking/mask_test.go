package masking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", ""},
		{"single char", "7", "7"},
		{"exactly four", "1234", "1234"},
		{"five", "12345", "*2345"},
		{"account number", "1234567890123", "*********0123"},
		{"letters", "ABCDEFGH", "****EFGH"},
		{"multibyte", "ÄÖÜßäöü", "***ßäöü"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskValue(tt.value))
		})
	}
}

func TestMaskValuePreservesLengthAndTail(t *testing.T) {
	for n := 0; n <= 40; n++ {
		value := strings.Repeat("9", n/2) + strings.Repeat("x", n-n/2)
		masked := MaskValue(value)

		assert.Equal(t, len([]rune(value)), len([]rune(masked)), "length for n=%d", n)
		if n <= 4 {
			assert.Equal(t, value, masked)
			continue
		}
		assert.Equal(t, value[n-4:], masked[n-4:])
		assert.Equal(t, strings.Repeat("*", n-4), masked[:n-4])
	}
}
