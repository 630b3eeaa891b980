package canonical

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// DateLayout is the civil date layout used for date values.
const DateLayout = "2006-01-02"

// Value is a single typed scalar in a canonical record.
// The zero value is null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
}

var Null = Value{}

func String(s string) Value { return Value{kind: KindString, s: s} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Date holds a civil date in YYYY-MM-DD form. Callers should validate with
// ParseDate when the input is untrusted.
func Date(s string) Value { return Value{kind: KindDate, s: s} }

// ParseDate returns a date Value when s is a valid civil date.
func ParseDate(s string) (Value, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return Null, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date(s), nil
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Str() string { return v.s }
func (v Value) Num() float64 { return v.n }
func (v Value) Boolean() bool { return v.b }

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString, KindDate:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// String renders the value for messages and diffs.
func (v Value) String() string {
	switch v.kind {
	case KindString, KindDate:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString, KindDate:
		return json.Marshal(v.s)
	case KindNumber:
		return json.Marshal(v.n)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. Strings that look like civil dates
// stay strings; normalization against a mapping table turns them into dates.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Null
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	default:
		return fmt.Errorf("unsupported value %s: expected a scalar", string(data))
	}
	return nil
}
