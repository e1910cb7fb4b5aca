package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Upstream panels disagree on JSON types: ids and counters arrive as numbers on
// some and as strings on others. The types below accept both.

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = flexString(n.String())

	return nil
}

// flexInt decodes an integer that may be quoted. Empty values decode to zero.
type flexInt int64

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*i = 0
		return nil
	}

	v, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		// Some panels send counters like "100.0".
		d, derr := decimal.NewFromString(string(s))
		if derr != nil {
			return fmt.Errorf("invalid integer %q", string(s))
		}
		v = d.IntPart()
	}
	*i = flexInt(v)

	return nil
}

// flexDecimal decodes a money amount that may be quoted. Empty values decode to zero.
type flexDecimal struct {
	decimal.Decimal
}

func (d *flexDecimal) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		d.Decimal = decimal.Zero
		return nil
	}

	v, err := decimal.NewFromString(string(s))
	if err != nil {
		return fmt.Errorf("invalid amount %q", string(s))
	}
	d.Decimal = v

	return nil
}

// errorResponse is the rejection payload shared by every action.
type errorResponse struct {
	Error flexString `json:"error"`
}

type addResponse struct {
	Order flexString `json:"order"`
}

type statusResponse struct {
	Charge     flexDecimal `json:"charge"`
	StartCount flexInt     `json:"start_count"`
	Status     flexString  `json:"status"`
	Remains    flexInt     `json:"remains"`
	Currency   flexString  `json:"currency"`
}

type refillResponse struct {
	Refill flexString `json:"refill"`
}

type refillStatusResponse struct {
	Status flexString `json:"status"`
}
