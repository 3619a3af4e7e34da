package orm

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/recordkit/internal/browse"
	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/store"
)

func qcol(table, column string) string {
	return store.Quote(table) + "." + store.Quote(column)
}

func inClause(expr string, n int) string {
	return fmt.Sprintf("%s IN (%s)", expr, store.Placeholders(n))
}

// uniqueIDs drops zero and repeated ids, keeping the first occurrence.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func idValues(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func missingError(modelName string, ids, existing []int64) error {
	found := make(map[int64]bool, len(existing))
	for _, id := range existing {
		found[id] = true
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return browse.NewMissingRecordError(modelName, missing...)
}

// normalizeValue maps caller numbers onto int64/float64 and leaves the
// other values alone.
func normalizeValue(v any) any {
	switch v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64, json.Number, []int, []int64:
		return domain.NormalizeValue(v)
	}
	return v
}

// isMagicField reports whether name is maintained by the pipeline only.
func isMagicField(name string) bool {
	switch name {
	case model.FieldID, model.FieldCreateDate, model.FieldWriteDate,
		model.FieldParentLeft, model.FieldParentRight, model.FieldVPtr:
		return true
	}
	return false
}

// storedFieldNames returns the local stored columns of m, magic ones
// included, in declaration order.
func storedFieldNames(m *model.Model) []string {
	var out []string
	for _, name := range m.ColumnNames() {
		if m.Columns[name].Stored() {
			out = append(out, name)
		}
	}
	return out
}

// fieldValue normalizes a value produced outside the store (compute
// functions, related paths) to the shape Read returns.
func fieldValue(col *model.Column, v any) any {
	switch col.ValueKind() {
	case model.KindMany2One:
		if r, ok := v.(*browse.Record); ok {
			if r == nil {
				return nil
			}
			return r.ID()
		}
		id, err := model.AsID(v)
		if err != nil || id == 0 {
			return nil
		}
		return id
	case model.KindOne2Many, model.KindMany2Many:
		if l, ok := v.(browse.RecordList); ok {
			return l.IDs()
		}
		ids, err := model.AsIDs(v)
		if err != nil || ids == nil {
			return []int64{}
		}
		return ids
	}
	return col.FromDB(v)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
