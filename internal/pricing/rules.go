package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/diegoholiveira/jsonlogic"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
)

// DefaultVoucherEligibility keeps vouchers whose minimum order is met and
// whose usage cap, if any, is not yet reached.
const DefaultVoucherEligibility = `{
  "and": [
    {"<=": [{"var": "voucher.minOrderAmount"}, {"var": "subtotal"}]},
    {"or": [
      {"==": [{"var": "voucher.usageLimit"}, 0]},
      {"<": [{"var": "voucher.usedCount"}, {"var": "voucher.usageLimit"}]}
    ]}
  ]
}`

// Rules is the pricing rule pack. Rules are JsonLogic documents.
type Rules struct {
	VoucherEligibility map[string]any `yaml:"voucherEligibility" json:"voucherEligibility"`
}

func DefaultRules() Rules {
	var rule map[string]any
	if err := json.Unmarshal([]byte(DefaultVoucherEligibility), &rule); err != nil {
		panic(fmt.Sprintf("pricing: invalid default eligibility rule: %v", err))
	}
	return Rules{VoucherEligibility: rule}
}

// LoadRules reads a YAML rule pack. Rules missing from the file keep their
// defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, err
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (Rules, error) {
	var pack Rules
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return Rules{}, fmt.Errorf("pricing: failed to parse rule pack: %w", err)
	}
	if len(pack.VoucherEligibility) == 0 {
		pack.VoucherEligibility = DefaultRules().VoucherEligibility
	}
	return pack, nil
}

type voucherFacts struct {
	Code           string  `json:"code"`
	Type           string  `json:"type"`
	Value          float64 `json:"value"`
	MinOrderAmount float64 `json:"minOrderAmount"`
	UsageLimit     int     `json:"usageLimit"`
	UsedCount      int     `json:"usedCount"`
}

type eligibilityFacts struct {
	Subtotal float64      `json:"subtotal"`
	Voucher  voucherFacts `json:"voucher"`
}

// Eligible evaluates the eligibility rule for v against subtotal.
func (r Rules) Eligible(v commerce.Voucher, subtotal decimal.Decimal) (bool, error) {
	rule := r.VoucherEligibility
	if len(rule) == 0 {
		rule = DefaultRules().VoucherEligibility
	}
	ruleJSON, err := json.Marshal(rule)
	if err != nil {
		return false, err
	}
	dataJSON, err := json.Marshal(eligibilityFacts{
		Subtotal: subtotal.InexactFloat64(),
		Voucher: voucherFacts{
			Code:           v.Code,
			Type:           string(v.Type),
			Value:          v.Value.InexactFloat64(),
			MinOrderAmount: v.MinOrderAmount.InexactFloat64(),
			UsageLimit:     v.UsageLimit,
			UsedCount:      v.UsedCount,
		},
	})
	if err != nil {
		return false, err
	}

	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(ruleJSON), bytes.NewReader(dataJSON), &out); err != nil {
		return false, fmt.Errorf("pricing: eligibility rule failed: %w", err)
	}
	var res any
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		return false, fmt.Errorf("pricing: unexpected eligibility result %q: %w", out.String(), err)
	}
	return truthy(res), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	}
	return true
}
