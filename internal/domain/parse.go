package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Parse decodes a JSON domain such as [["age", ">=", 18], "|", ["a","=",1], ["b","=",2]].
// The result is validated; internal operators are rejected.
func Parse(data []byte) (Domain, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, NewSyntaxError(-1, "invalid JSON domain: %v", err)
	}
	d, err := FromAny(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(d, false); err != nil {
		return nil, err
	}
	return d, nil
}

// FromAny converts a decoded JSON or YAML list into a Domain. Operators are
// strings, leaves are 3-element lists. Values are normalized with NormalizeValue.
// The result is not validated.
func FromAny(raw []any) (Domain, error) {
	d := make(Domain, 0, len(raw))
	for i, el := range raw {
		switch v := el.(type) {
		case string:
			d = append(d, Operator(v))
		case []any:
			if len(v) != 3 {
				return nil, NewSyntaxError(i, "leaf must have 3 elements, got %d", len(v))
			}
			field, ok := leafField(v[0])
			if !ok {
				return nil, NewSyntaxError(i, "leaf field must be a string, got %T", v[0])
			}
			op, ok := v[1].(string)
			if !ok {
				return nil, NewSyntaxError(i, "leaf operator must be a string, got %T", v[1])
			}
			d = append(d, Leaf{Field: field, Op: strings.ToLower(op), Value: NormalizeValue(v[2])})
		case Leaf:
			d = append(d, v)
		case Operator:
			d = append(d, v)
		default:
			return nil, NewSyntaxError(i, "unexpected element %T", el)
		}
	}
	return d, nil
}

// leafField accepts the numeric placeholder field used by (1, "=", 1).
func leafField(v any) (string, bool) {
	switch f := NormalizeValue(v).(type) {
	case string:
		return f, true
	case int64:
		if f == 1 {
			return dummyField, true
		}
	}
	return "", false
}

// NormalizeValue maps decoded and native Go values onto the value set used
// by leaves: nil, bool, int64, float64, string and []any.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, string, SubSelect:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = NormalizeValue(e)
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	default:
		return fmt.Sprint(x)
	}
}

func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// MarshalJSON encodes the domain in the same shape Parse accepts.
func (d Domain) MarshalJSON() ([]byte, error) {
	out := make([]any, 0, len(d))
	for _, t := range d {
		switch v := t.(type) {
		case Operator:
			out = append(out, string(v))
		case Leaf:
			if v.IsDummy() {
				out = append(out, []any{int64(1), v.Op, v.Value})
				continue
			}
			val := v.Value
			if ss, ok := val.(SubSelect); ok {
				val = map[string]any{"sql": ss.SQL, "params": ss.Params}
			}
			out = append(out, []any{v.Field, v.Op, val})
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a domain without validating it.
func (d *Domain) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
