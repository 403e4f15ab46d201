package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ValueKind identifies the type of a payload field value.
// Payloads carry arbitrary entity data between systems; the kind set is
// deliberately closed so that comparison and merging stay well-defined.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindJSON // nested object or array, kept as raw JSON
)

// Value is a single payload field value.
type Value struct {
	kind ValueKind
	str  string
	num  decimal.Decimal
	b    bool
	raw  json.RawMessage
}

// NullValue returns the null value.
func NullValue() Value {
	return Value{kind: KindNull}
}

// StringValue wraps a string.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// NumberValue wraps a decimal number.
func NumberValue(d decimal.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

// IntValue wraps an integer.
func IntValue(i int64) Value {
	return Value{kind: KindNumber, num: decimal.NewFromInt(i)}
}

// BoolValue wraps a boolean.
func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// JSONValue wraps a nested object or array. The raw bytes are compacted
// so that equality is whitespace-insensitive.
func JSONValue(raw json.RawMessage) Value {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Value{kind: KindJSON, raw: raw}
	}
	return Value{kind: KindJSON, raw: buf.Bytes()}
}

// Kind returns the value kind.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Str returns the string content for KindString values.
func (v Value) Str() string {
	return v.str
}

// Num returns the numeric content for KindNumber values.
func (v Value) Num() decimal.Decimal {
	return v.num
}

// Bool returns the boolean content for KindBool values.
func (v Value) Bool() bool {
	return v.b
}

// Raw returns the raw JSON content for KindJSON values.
func (v Value) Raw() json.RawMessage {
	return v.raw
}

// Equal reports whether two values are equal. Values of different kinds
// are never equal.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num.Equal(other.num)
	case KindBool:
		return v.b == other.b
	case KindJSON:
		return bytes.Equal(v.raw, other.raw)
	}
	return false
}

// String returns a display representation of the value.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindJSON:
		return string(v.raw)
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.num.String()), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindJSON:
		return v.raw, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler, classifying the raw token
// into one of the closed value kinds.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value")
	}
	switch trimmed[0] {
	case 'n':
		*v = NullValue()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	case '{', '[':
		*v = JSONValue(trimmed)
		return nil
	default:
		d, err := decimal.NewFromString(string(trimmed))
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", trimmed, err)
		}
		*v = NumberValue(d)
		return nil
	}
}

// Payload is the opaque field map carried by a sync item. Both the
// source snapshot (data) and the pending change (delta) use this shape.
type Payload map[string]Value

// ParsePayload decodes a JSON object into a Payload.
func ParsePayload(data []byte) (Payload, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return p, nil
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal reports whether both payloads hold the same fields with equal values.
func (p Payload) Equal(other Payload) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Diff returns the sorted names of fields where target disagrees with p.
// A field counts as differing when both sides carry it with different
// values, or when the target carries a non-null field absent from p.
// Fields named in ignore are not compared.
func (p Payload) Diff(target Payload, ignore ...string) []string {
	skip := make(map[string]struct{}, len(ignore))
	for _, f := range ignore {
		skip[f] = struct{}{}
	}

	var fields []string
	for k, tv := range target {
		if _, ok := skip[k]; ok {
			continue
		}
		sv, ok := p[k]
		if !ok {
			if !tv.IsNull() {
				fields = append(fields, k)
			}
			continue
		}
		if !sv.Equal(tv) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

// Merge produces a new payload with p as the base and every field of
// target applied on top. Neither input is modified.
func (p Payload) Merge(target Payload) Payload {
	out := p.Clone()
	for k, v := range target {
		out[k] = v
	}
	return out
}
