package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Layouts of date and datetime values.
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = "2006-01-02 15:04:05"
	// StampLayout is the layout of create_date and write_date as stored.
	// Microseconds keep two writes in the same second apart, which the
	// concurrency check relies on.
	StampLayout = "2006-01-02 15:04:05.000000"
)

// FormatStamp returns a stored create or write date in StampLayout. Values
// stored with second precision gain zero microseconds.
func FormatStamp(v any) (string, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(StampLayout), true
	case []byte:
		return FormatStamp(string(x))
	case string:
		s := strings.Replace(x, "T", " ", 1)
		for _, layout := range []string{StampLayout, "2006-01-02 15:04:05.999999999", DatetimeLayout} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(StampLayout), true
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t.UTC().Format(StampLayout), true
		}
	}
	return "", false
}

// ToDB converts a caller-supplied value into the SQL parameter stored in the
// column. false and nil both mean NULL for non-boolean columns; a boolean
// column stores false for them. Character values are NFC-normalized.
func (c *Column) ToDB(model string, v any) (any, error) {
	kind := c.ValueKind()
	mismatch := func() error {
		return &TypeMismatchError{Code: ErrCodeTypeMismatch, Model: model, Field: c.Name, Expected: kind, Value: v}
	}

	if kind == KindBoolean {
		switch x := v.(type) {
		case nil:
			return false, nil
		case bool:
			return x, nil
		case int, int64:
			return toInt(x) != 0, nil
		default:
			return nil, mismatch()
		}
	}
	if v == nil {
		return nil, nil
	}
	if b, ok := v.(bool); ok {
		if !b {
			return nil, nil
		}
		return nil, mismatch()
	}

	switch kind {
	case KindChar, KindText, KindSelection:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		s = norm.NFC.String(s)
		if c.Size > 0 && kind == KindChar {
			if r := []rune(s); len(r) > c.Size {
				s = string(r[:c.Size])
			}
		}
		return s, nil
	case KindInteger, KindMany2One:
		i, ok := asInt(v)
		if !ok {
			return nil, mismatch()
		}
		if kind == KindMany2One && i == 0 {
			return nil, nil
		}
		return i, nil
	case KindFloat:
		f, ok := asFloat(v)
		if !ok {
			return nil, mismatch()
		}
		return f, nil
	case KindDate:
		switch x := v.(type) {
		case time.Time:
			return x.Format(DateLayout), nil
		case string:
			if _, err := time.Parse(DateLayout, x); err != nil {
				return nil, mismatch()
			}
			return x, nil
		}
		return nil, mismatch()
	case KindDatetime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC().Format(DatetimeLayout), nil
		case string:
			return normalizeDatetime(x, mismatch)
		}
		return nil, mismatch()
	}
	return nil, mismatch()
}

func normalizeDatetime(s string, mismatch func() error) (any, error) {
	if t, err := time.Parse(DatetimeLayout, s); err == nil {
		return t.Format(DatetimeLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(DatetimeLayout), nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DatetimeLayout), nil
	}
	return nil, mismatch()
}

// FromDB normalizes a value read from the backend for the column's kind.
func (c *Column) FromDB(v any) any {
	switch c.ValueKind() {
	case KindBoolean:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case nil:
			return false
		}
	case KindDate:
		if s, ok := v.(string); ok && len(s) > len(DateLayout) {
			return s[:len(DateLayout)]
		}
	case KindDatetime:
		if s, ok := v.(string); ok {
			if len(s) > len(DatetimeLayout) {
				s = strings.Replace(s, "T", " ", 1)
				return s[:len(DatetimeLayout)]
			}
		}
	case KindFloat:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case KindInteger, KindMany2One:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	}
	return v
}

// asInt converts integral numbers to int64.
func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		i, err := x.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int, int32, int64:
		return float64(toInt(x)), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) int64 {
	i, _ := asInt(v)
	return i
}

// AsID converts a record reference (id, or [id, name] pair) to an id.
// Returns 0 for empty references.
func AsID(v any) (int64, error) {
	switch x := v.(type) {
	case nil, bool:
		return 0, nil
	case []any:
		if len(x) == 0 {
			return 0, nil
		}
		return AsID(x[0])
	}
	if i, ok := asInt(v); ok {
		return i, nil
	}
	return 0, fmt.Errorf("not a record id: %T (%v)", v, v)
}

// AsIDs converts a list of record references to ids.
func AsIDs(v any) ([]int64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []int64:
		return x, nil
	case []any:
		out := make([]int64, 0, len(x))
		for _, e := range x {
			id, err := AsID(e)
			if err != nil {
				return nil, err
			}
			if id != 0 {
				out = append(out, id)
			}
		}
		return out, nil
	}
	id, err := AsID(v)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return []int64{id}, nil
}
