package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Fixed2 is a float rendered in JSON as a fixed-point number with two
// decimals. Used for money, percentages and risk scores.
type Fixed2 float64

// MarshalJSON implements json.Marshaler.
func (f Fixed2) MarshalJSON() ([]byte, error) {
	return marshalFixed(float64(f), 2)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fixed2) UnmarshalJSON(b []byte) error {
	v, err := unmarshalFixed(b)
	if err != nil {
		return err
	}
	*f = Fixed2(v)
	return nil
}

// Fixed4 is a float rendered with four decimals. Used for support,
// confidence and lift.
type Fixed4 float64

// MarshalJSON implements json.Marshaler.
func (f Fixed4) MarshalJSON() ([]byte, error) {
	return marshalFixed(float64(f), 4)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fixed4) UnmarshalJSON(b []byte) error {
	v, err := unmarshalFixed(b)
	if err != nil {
		return err
	}
	*f = Fixed4(v)
	return nil
}

// Round rounds v half away from zero to places decimals.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return r
}

func marshalFixed(v float64, places int32) ([]byte, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return []byte(decimal.NewFromFloat(v).StringFixed(places)), nil
}

func unmarshalFixed(b []byte) (float64, error) {
	s := string(b)
	if s == "null" {
		return 0, nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	v, _ := d.Float64()
	return v, nil
}
