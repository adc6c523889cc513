package reporting

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rate is a percentage rounded to two decimals. It marshals as a fixed
// two-decimal string ("7.00") when the denominator was positive and as the
// number 0 otherwise, so callers can tell "no traffic" from "0.00%".
type Rate struct {
	value   decimal.Decimal
	defined bool
}

// NewRate computes num / den * 100. A non-positive den yields the zero Rate.
func NewRate(num, den int64) Rate {
	if den <= 0 {
		return Rate{}
	}
	v := decimal.NewFromInt(num).Mul(hundred).DivRound(decimal.NewFromInt(den), 2)
	return Rate{value: v, defined: true}
}

// Float returns the rate as a float64 percentage.
func (r Rate) Float() float64 {
	f, _ := r.value.Float64()
	return f
}

// Defined reports whether the rate had a positive denominator.
func (r Rate) Defined() bool { return r.defined }

func (r Rate) String() string {
	if !r.defined {
		return "0"
	}
	return r.value.StringFixed(2)
}

// MarshalJSON implements json.Marshaler.
func (r Rate) MarshalJSON() ([]byte, error) {
	if !r.defined {
		return []byte("0"), nil
	}
	return json.Marshal(r.value.StringFixed(2))
}
