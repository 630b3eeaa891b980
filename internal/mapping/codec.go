package mapping

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"mismobridge/internal/canonical"
	"mismobridge/internal/pack"
)

var (
	ErrKindMismatch = errors.New("value has the wrong type")
	ErrPrecision    = errors.New("value is not representable at the datatype's precision")
)

// Codec converts between canonical values and document text for one row
// under one pack.
type Codec struct {
	Kind     FormatKind
	Datatype *pack.Datatype
	EnumName string
	Enum     []string
}

// CodecFor resolves the row's format against the pack.
func CodecFor(row *Row, p *pack.Pack) (Codec, error) {
	switch row.Kind {
	case FormatEnum:
		values, ok := p.Enum(row.TypeName)
		if !ok {
			return Codec{}, fmt.Errorf("field %s: pack %s has no enumeration %s", row.Key(), p.ID, row.TypeName)
		}
		return Codec{Kind: FormatEnum, EnumName: row.TypeName, Enum: values}, nil
	case FormatDatatype:
		dt, ok := p.Datatype(row.TypeName)
		if !ok {
			return Codec{}, fmt.Errorf("field %s: pack %s has no datatype %s", row.Key(), p.ID, row.TypeName)
		}
		return Codec{Kind: FormatDatatype, Datatype: dt}, nil
	default:
		return Codec{Kind: FormatReference}, nil
	}
}

// Sensitive reports whether values of this codec must be masked in reports.
func (c Codec) Sensitive() bool {
	return c.Datatype != nil && c.Datatype.Sensitive
}

// Expected describes the accepted lexical form for messages.
func (c Codec) Expected() string {
	switch c.Kind {
	case FormatEnum:
		return "one of " + c.EnumName
	case FormatReference:
		return "entry index"
	}
	d := c.Datatype
	switch d.Base {
	case pack.BaseDecimal:
		return fmt.Sprintf("%s with %d decimal places", d.Name, d.Decimals)
	case pack.BaseDate:
		return "date YYYY-MM-DD"
	case pack.BaseInteger:
		return "integer"
	case pack.BaseBoolean:
		return "boolean"
	}
	if d.Pattern != "" {
		return fmt.Sprintf("%s matching %s", d.Name, d.Pattern)
	}
	return d.Name
}

// Render produces the document text for v. It does not check the pattern
// or enumeration membership; see Valid.
func (c Codec) Render(v canonical.Value) (string, error) {
	switch c.Kind {
	case FormatEnum:
		if v.Kind() != canonical.KindString {
			return "", fmt.Errorf("%w: expected string, got %s", ErrKindMismatch, v.Kind())
		}
		return v.Str(), nil
	case FormatReference:
		return renderInteger(v)
	}

	switch c.Datatype.Base {
	case pack.BaseString:
		if v.Kind() != canonical.KindString {
			return "", fmt.Errorf("%w: expected string, got %s", ErrKindMismatch, v.Kind())
		}
		return v.Str(), nil
	case pack.BaseDecimal:
		if v.Kind() != canonical.KindNumber {
			return "", fmt.Errorf("%w: expected number, got %s", ErrKindMismatch, v.Kind())
		}
		n := v.Num()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", fmt.Errorf("%w: %v", ErrPrecision, n)
		}
		text := strconv.FormatFloat(n, 'f', c.Datatype.Decimals, 64)
		if back, err := strconv.ParseFloat(text, 64); err != nil || back != n {
			return "", fmt.Errorf("%w: %s", ErrPrecision, strconv.FormatFloat(n, 'f', -1, 64))
		}
		return text, nil
	case pack.BaseInteger:
		return renderInteger(v)
	case pack.BaseBoolean:
		if v.Kind() != canonical.KindBool {
			return "", fmt.Errorf("%w: expected boolean, got %s", ErrKindMismatch, v.Kind())
		}
		return strconv.FormatBool(v.Boolean()), nil
	case pack.BaseDate:
		if v.Kind() != canonical.KindDate {
			return "", fmt.Errorf("%w: expected date, got %s", ErrKindMismatch, v.Kind())
		}
		return v.Str(), nil
	}
	return "", fmt.Errorf("unsupported datatype base %q", c.Datatype.Base)
}

func renderInteger(v canonical.Value) (string, error) {
	if v.Kind() != canonical.KindNumber {
		return "", fmt.Errorf("%w: expected number, got %s", ErrKindMismatch, v.Kind())
	}
	n := v.Num()
	if n != math.Trunc(n) || math.Abs(n) > 1e15 {
		return "", fmt.Errorf("%w: %s is not an integer", ErrPrecision, strconv.FormatFloat(n, 'f', -1, 64))
	}
	return strconv.FormatFloat(n, 'f', 0, 64), nil
}

// Valid reports whether text is acceptable under the pack: pattern and
// length for datatypes, exact membership for enumerations.
func (c Codec) Valid(text string) bool {
	switch c.Kind {
	case FormatEnum:
		return slices.Contains(c.Enum, text)
	case FormatDatatype:
		return c.Datatype.Match(text)
	}
	return true
}

// Parse reads document text back into a canonical value.
func (c Codec) Parse(text string) (canonical.Value, error) {
	text = strings.TrimSpace(text)
	switch c.Kind {
	case FormatEnum:
		if text == "" {
			return canonical.Null, errors.New("empty enumeration value")
		}
		return canonical.String(text), nil
	case FormatReference:
		n, err := strconv.Atoi(text)
		if err != nil {
			return canonical.Null, err
		}
		return canonical.Number(float64(n)), nil
	}

	switch c.Datatype.Base {
	case pack.BaseDecimal:
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return canonical.Null, fmt.Errorf("not a decimal: %q", text)
		}
		return canonical.Number(n), nil
	case pack.BaseInteger:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return canonical.Null, fmt.Errorf("not an integer: %q", text)
		}
		return canonical.Number(float64(n)), nil
	case pack.BaseBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return canonical.Null, fmt.Errorf("not a boolean: %q", text)
		}
		return canonical.Bool(b), nil
	case pack.BaseDate:
		return canonical.ParseDate(text)
	default:
		if text == "" {
			return canonical.Null, errors.New("empty value")
		}
		return canonical.String(text), nil
	}
}

// Coerce lifts loosely typed input into the codec's value kind: numeric
// strings become numbers, "true" becomes a boolean, enumeration values take
// the pack's spelling. Values that cannot be lifted are returned unchanged
// so validation can report them.
func (c Codec) Coerce(v canonical.Value) canonical.Value {
	if v.Kind() != canonical.KindString {
		return v
	}
	s := strings.TrimSpace(v.Str())
	if s == "" {
		return canonical.Null
	}
	switch c.Kind {
	case FormatEnum:
		for _, allowed := range c.Enum {
			if strings.EqualFold(allowed, s) {
				return canonical.String(allowed)
			}
		}
		return canonical.String(s)
	case FormatReference:
		if n, err := strconv.Atoi(s); err == nil {
			return canonical.Number(float64(n))
		}
		return canonical.String(s)
	}

	switch c.Datatype.Base {
	case pack.BaseDecimal, pack.BaseInteger:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return canonical.Number(n)
		}
	case pack.BaseBoolean:
		switch strings.ToLower(s) {
		case "true":
			return canonical.Bool(true)
		case "false":
			return canonical.Bool(false)
		}
	case pack.BaseDate:
		if d, err := canonical.ParseDate(s); err == nil {
			return d
		}
	}
	return canonical.String(s)
}
