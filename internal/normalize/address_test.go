package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \t", ""},
		{"punctuation only", ".,-#", ""},
		{"basic", "1400 Crystal City Dr", "1400crystalcitydr"},
		{"punctuation and case", "1400 CRYSTAL-CITY Dr.", "1400crystalcitydr"},
		{"extra whitespace", "  1400   Crystal\tCity  Dr ", "1400crystalcitydr"},
		{"unit marker", "12 Main St, Apt #4", "12mainstapt4"},
		{"diacritics", "12 Rue Émile-Zola", "12rueemilezola"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Address(tt.in))
		})
	}
}

func TestAddress_EquivalentSpellingsMatch(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Address("1400 Crystal City Dr."), Address("1400 crystal city dr"))
	assert.NotEqual(t, Address("1400 Crystal City Dr"), Address("1401 Crystal City Dr"))
}
