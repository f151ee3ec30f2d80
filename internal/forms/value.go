package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type scalar uint8

const (
	scalarString scalar = iota + 1
	scalarNumber
	scalarBool
)

// Value is a collected answer: a string, a number or a boolean.
// The zero Value is invalid; use the constructors.
type Value struct {
	kind scalar
	str  string
	num  float64
	b    bool
}

func StringValue(s string) Value { return Value{kind: scalarString, str: s} }
func NumberValue(n float64) Value { return Value{kind: scalarNumber, num: n} }
func BoolValue(b bool) Value { return Value{kind: scalarBool, b: b} }
func (v Value) IsValid() bool { return v.kind != 0 }
func (v Value) AsString() (string, bool) { return v.str, v.kind == scalarString }
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == scalarNumber }
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == scalarBool }

// Interface returns the underlying Go scalar (string, float64 or bool).
func (v Value) Interface() any {
	switch v.kind {
	case scalarString:
		return v.str
	case scalarNumber:
		return v.num
	case scalarBool:
		return v.b
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case scalarString:
		return v.str
	case scalarNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case scalarBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsValid() {
		return []byte("null"), nil
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	if parsed == nil {
		return fmt.Errorf("forms: value must not be null")
	}
	*v = *parsed
	return nil
}

// ParseValue decodes a JSON scalar. JSON null yields (nil, nil); objects and
// arrays are rejected.
func ParseValue(raw []byte) (*Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("forms: decode value: %w", err)
	}
	var v Value
	switch x := decoded.(type) {
	case string:
		v = StringValue(x)
	case float64:
		v = NumberValue(x)
	case bool:
		v = BoolValue(x)
	default:
		return nil, fmt.Errorf("forms: value must be a string, number or boolean, got %s", raw)
	}
	return &v, nil
}
