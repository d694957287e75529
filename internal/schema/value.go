package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

// Value kinds.
const (
	KindNull Kind = iota
	KindString
	KindBool
	KindList
)

// Value is a form value: a string, a boolean, a list of strings for
// multi-selects, or null.
type Value struct {
	kind Kind
	str  string
	b    bool
	list []string
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value. A nil list is stored as an empty list.
func List(items ...string) Value {
	l := make([]string, len(items))
	copy(l, items)
	return Value{kind: KindList, list: l}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string form of v. Lists join with commas, booleans render
// as "true" or "false" and null renders empty.
func (v Value) Str() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.list, ",")
	default:
		return ""
	}
}

// Truthy reports the boolean reading of v: true for Bool(true) and for
// strings other than "", "0" and "false".
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		s := strings.TrimSpace(v.str)
		return s != "" && s != "0" && !strings.EqualFold(s, "false")
	case KindList:
		return len(v.list) > 0
	default:
		return false
	}
}

// Strings returns the list held by v, or nil for other kinds.
func (v Value) Strings() []string {
	if v.kind != KindList {
		return nil
	}
	out := make([]string, len(v.list))
	copy(out, v.list)
	return out
}

// Blank reports whether v carries no usable content: null, a string that
// is empty after trimming, or an empty list.
func (v Value) Blank() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindList:
		return len(v.list) == 0
	default:
		return false
	}
}

// Equal reports whether two values hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
	}
	return true
}

// Any returns v as a plain Go value suitable for encoding: nil, string,
// bool or []string.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindList:
		return v.Strings()
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.str)
	case KindList:
		return fmt.Sprintf("%q", v.list)
	default:
		return v.Str()
	}
}

// MarshalJSON encodes v as a JSON null, string, boolean or array.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindList && v.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON accepts null, strings, booleans, numbers (kept as their
// literal text) and arrays of strings or numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null()
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		items := make([]string, 0, len(raw))
		for _, r := range raw {
			var elem Value
			if err := elem.UnmarshalJSON(r); err != nil {
				return err
			}
			if elem.kind == KindList {
				return fmt.Errorf("nested lists are not supported")
			}
			items = append(items, elem.Str())
		}
		*v = List(items...)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported form value %s", data)
		}
		*v = String(n.String())
	}
	return nil
}

// FormValues maps field names to the operator's current input.
type FormValues map[string]Value

// InitialValues seeds form values from each field's default.
func InitialValues(fields []Field) FormValues {
	vals := make(FormValues, len(fields))
	for _, f := range fields {
		vals[f.Name] = f.Default
	}
	return vals
}
