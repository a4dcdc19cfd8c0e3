package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CardValue is the opaque value a participant picked. Clients may send it as
// a JSON string or number; it is always emitted as a string.
type CardValue string

// UnmarshalJSON accepts both "5" and 5.
func (c *CardValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CardValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = CardValue(n.String())
	return nil
}

// Numeric reports the card's value as a number when it has one. Cards such as
// "?" or "coffee" are not numeric, and neither are "Inf", "NaN" or values
// that overflow a float64.
func (c CardValue) Numeric() (float64, bool) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return 0, false
	}
	if s == "½" {
		return 0.5, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
