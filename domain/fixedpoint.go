package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FixedPointScale is the number of decimal places carried by a FixedPoint.
// 1e8 is enough for every venue this server speaks to.
const FixedPointScale = 8

var fixedPointFactor = decimal.New(1, FixedPointScale)

// FixedPoint is an unsigned price or quantity scaled by 1e8.
// Comparisons and equality on the raw integer are exact; there is no
// floating point anywhere between the wire and the book.
type FixedPoint uint64

// ParseFixedPoint converts a venue decimal string into a FixedPoint.
// The conversion is exact: negative values, more than 8 fractional
// digits, or magnitudes that do not fit an uint64 return ErrParse.
func ParseFixedPoint(s string) (FixedPoint, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %s", ErrParse, s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative value %q", ErrParse, s)
	}
	shifted := d.Shift(FixedPointScale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q exceeds %d decimal places", ErrParse, s, FixedPointScale)
	}
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrParse, s)
	}
	return FixedPoint(bi.Uint64()), nil
}

// Decimal converts back to an arbitrary precision decimal.
func (f FixedPoint) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(f)), -FixedPointScale)
}

// String renders the minimal decimal form: no trailing zeros, no
// scientific notation. FixedPoint(150000000).String() == "1.5".
func (f FixedPoint) String() string {
	v := uint64(f)
	exp := int32(-FixedPointScale)
	for exp < 0 && v%10 == 0 {
		v /= 10
		exp++
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), exp).String()
}

// MarshalJSON emits the decimal string form, matching the egress contract.
func (f FixedPoint) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare number.
func (f *FixedPoint) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := ParseFixedPoint(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// PriceLevel is one (price, quantity) pair of a book side. A zero
// quantity only ever appears inside a delta, where it means removal.
type PriceLevel struct {
	Price    FixedPoint `json:"price"`
	Quantity FixedPoint `json:"quantity"`
}

// ParsePriceLevels converts venue [price, quantity] string pairs.
// Malformed rows fail the whole batch so a half-parsed delta is never
// applied to a book.
func ParsePriceLevels(raw [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(raw))
	for _, row := range raw {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: level row has %d fields", ErrParse, len(row))
		}
		price, err := ParseFixedPoint(row[0])
		if err != nil {
			return nil, err
		}
		qty, err := ParseFixedPoint(row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}
