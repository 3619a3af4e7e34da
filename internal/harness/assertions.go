package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/roach88/recordkit/internal/domain"
)

// AssertionError describes a failed expectation.
type AssertionError struct {
	Type     string // ids, count, values
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("expect.%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// checkExpect compares the outcome of a step with its expectations and
// returns one message per mismatch.
func (h *Harness) checkExpect(exp *Expect, ids []int64, rows []map[string]interface{}) []string {
	var failures []string
	fail := func(err error) {
		failures = append(failures, err.Error())
	}

	if exp.IDs != nil {
		want, err := h.resolveIDs(exp.IDs)
		if err != nil {
			fail(err)
		} else if err := assertIDs(want, ids); err != nil {
			fail(err)
		}
	}
	if exp.Count != nil && *exp.Count != len(ids) {
		fail(&AssertionError{Type: "count", Expected: fmt.Sprint(*exp.Count), Actual: fmt.Sprint(len(ids))})
	}
	if exp.Values != nil {
		want := make([]map[string]interface{}, len(exp.Values))
		for i, row := range exp.Values {
			resolved, err := h.resolveMap(row)
			if err != nil {
				fail(err)
				return failures
			}
			want[i] = resolved
		}
		if err := assertRows(want, rows); err != nil {
			fail(err)
		}
	}
	return failures
}

// assertIDs checks an exact, ordered id list.
func assertIDs(want, got []int64) error {
	if len(want) == 0 && len(got) == 0 {
		return nil
	}
	if reflect.DeepEqual(want, got) {
		return nil
	}
	return &AssertionError{Type: "ids", Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
}

// assertRows checks rows in order. Only the keys listed in want are
// compared.
func assertRows(want, got []map[string]interface{}) error {
	if len(want) != len(got) {
		return &AssertionError{Type: "values", Expected: fmt.Sprintf("%d rows", len(want)), Actual: fmt.Sprintf("%d rows", len(got))}
	}
	for i := range want {
		keys := make([]string, 0, len(want[i]))
		for k := range want[i] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			actual, ok := got[i][k]
			if !ok {
				return &AssertionError{Type: "values", Expected: fmt.Sprintf("row %d field %s", i, k), Actual: "field not read"}
			}
			if !valuesEqual(want[i][k], actual) {
				return &AssertionError{
					Type:     "values",
					Expected: fmt.Sprintf("row %d %s = %v", i, k, want[i][k]),
					Actual:   fmt.Sprintf("%v", actual),
				}
			}
		}
	}
	return nil
}

// valuesEqual compares a YAML expectation with an ORM value. Integers of
// any width, []int64 and []any compare by content.
func valuesEqual(want, got interface{}) bool {
	w, g := normalize(want), normalize(got)
	if reflect.DeepEqual(w, g) {
		return true
	}
	return fmt.Sprint(w) == fmt.Sprint(g)
}

func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		if x.Equal(x.Truncate(24 * time.Hour)) {
			return x.UTC().Format(time.DateOnly)
		}
		return x.UTC().Format(time.DateTime)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case string:
		return strings.TrimSpace(x)
	}
	n := domain.NormalizeValue(v)
	if list, ok := n.([]interface{}); ok {
		return normalize(list)
	}
	return n
}
