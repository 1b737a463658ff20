package timecamp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// The source API is loose about scalar types: ids arrive as numbers or
// numeric strings, flags as 1, "1" or true. These types absorb that.

// FlexInt decodes a number or a numeric string. Empty strings decode to 0.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		v, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("flexint %q: %w", s, err)
		}
		n = int64(v)
	}
	*f = FlexInt(n)
	return nil
}

// FlexFloat decodes a number or a numeric string.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flexfloat %q: %w", s, err)
	}
	*f = FlexFloat(v)
	return nil
}

// FlexString decodes a string or a bare number into its text form.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	*f = FlexString(unquote(b))
	return nil
}

// FlexBool decodes true/false, 1/0 and their string forms.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(unquote(b)) {
	case "1", "true", "yes":
		*f = true
	case "0", "false", "no", "", "null":
		*f = false
	default:
		return fmt.Errorf("flexbool: unexpected %s", b)
	}
	return nil
}

func unquote(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(b)
}
