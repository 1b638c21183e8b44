package barcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAccepts(t *testing.T) {
	cases := []struct {
		scan     string
		sku      string
		category string
	}{
		{"abc-123", "ABC-123", ""},
		{"  8901234567890\n", "8901234567890", ""},
		{"PB|bev|tea-01", "TEA-01", "BEV"},
		{"pb||TEA-01", "TEA-01", ""},
	}
	for _, tc := range cases {
		sku, category, err := Decode(tc.scan)
		require.NoError(t, err, tc.scan)
		assert.Equal(t, tc.sku, sku, tc.scan)
		assert.Equal(t, tc.category, category, tc.scan)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		scan string
		want error
	}{
		{"", ErrEmpty},
		{"   ", ErrEmpty},
		{"NOREAD", ErrUnreadable},
		{"error", ErrUnreadable},
		{"PB|noread|SKU1", ErrUnreadable},
		{"PB|BEV|ERROR", ErrUnreadable},
		{"ABC 123", ErrMalformed},
		{"PB|B EV|SKU1", ErrMalformed},
		{"PB|BEV", ErrMalformed},
		{"PB|BEV|SKU|X", ErrMalformed},
		{"XX|BEV|SKU1", ErrMalformed},
		{"PB|BEV|", ErrMissingSKU},
		{"SKU\x00", ErrNonPrinting},
		{"SK\x1bU", ErrNonPrinting},
		{"SKU\xff01", ErrMalformed},
		{"PB|BEV|\xc3", ErrMalformed},
	}
	for _, tc := range cases {
		_, _, err := Decode(tc.scan)
		assert.ErrorIs(t, err, tc.want, "%q", tc.scan)
	}
}
