package orm

import (
	"context"
	"fmt"

	"github.com/roach88/recordkit/internal/model"
)

// DefaultGet returns the default values of fields on a new record of
// modelName; no fields means every field. Sources, lowest precedence first:
//
//	defaults of delegated parents (first delegation wins)
//	column defaults
//	the model defaults provider
//	default_<field> context values
func (e *Env) DefaultGet(ctx context.Context, modelName string, fields []string) (map[string]any, error) {
	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = m.FieldNames()
	}
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	out := make(map[string]any)

	for _, d := range m.Inherits {
		parent := e.reg.MustModel(d.Parent)
		var pf []string
		for _, f := range fields {
			if _, local := m.Columns[f]; !local && parent.HasField(f) {
				pf = append(pf, f)
			}
		}
		if len(pf) == 0 {
			continue
		}
		pvals, err := e.DefaultGet(ctx, parent.Name, pf)
		if err != nil {
			return nil, err
		}
		for k, v := range pvals {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}

	for _, f := range fields {
		col, ok := m.Columns[f]
		if !ok || col.Magic {
			continue
		}
		switch {
		case col.DefaultFunc != nil:
			v, err := col.DefaultFunc(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("default of %s.%s: %w", m.Name, f, err)
			}
			out[f] = v
		case col.Default != nil:
			out[f] = col.Default
		case f == model.FieldActive && m.HasActive():
			out[f] = true
		}
	}

	if m.Defaults != nil {
		vals, err := m.Defaults(ctx, e, fields)
		if err != nil {
			return nil, fmt.Errorf("defaults of %s: %w", m.Name, err)
		}
		for k, v := range vals {
			if want[k] {
				out[k] = v
			}
		}
	}

	for _, f := range fields {
		if v, ok := e.opts.Context[ContextDefaultPrefix+f]; ok {
			out[f] = v
		}
	}
	return out, nil
}
