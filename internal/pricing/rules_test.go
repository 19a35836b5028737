package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
)

func TestRules_DefaultEligibility(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		name    string
		voucher commerce.Voucher
		want    bool
	}{
		{"no minimum, no cap", commerce.Voucher{Code: "A"}, true},
		{"minimum met exactly", commerce.Voucher{Code: "B", MinOrderAmount: d(1000)}, true},
		{"minimum not met", commerce.Voucher{Code: "C", MinOrderAmount: d(1001)}, false},
		{"under cap", commerce.Voucher{Code: "D", UsageLimit: 5, UsedCount: 4}, true},
		{"cap reached", commerce.Voucher{Code: "E", UsageLimit: 5, UsedCount: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := r.Eligible(tt.voucher, d(1000))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestLoadRules_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	pack := `
voucherEligibility:
  "==":
    - var: voucher.type
    - free_shipping
`
	require.NoError(t, os.WriteFile(path, []byte(pack), 0o600))

	r, err := LoadRules(path)
	require.NoError(t, err)

	ok, err := r.Eligible(commerce.Voucher{Type: commerce.VoucherFreeShipping}, d(0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Eligible(commerce.Voucher{Type: commerce.VoucherFixed}, d(0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseRules_EmptyKeepsDefault(t *testing.T) {
	r, err := ParseRules([]byte("{}"))
	require.NoError(t, err)
	assert.NotEmpty(t, r.VoucherEligibility)
}
