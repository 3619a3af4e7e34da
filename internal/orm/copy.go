package orm

import (
	"context"
	"maps"

	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/security"
)

// Copy duplicates the record id of modelName and returns the new id.
// Columns marked NoCopy take their defaults, one2many children are
// duplicated along, many2many links are shared, and overrides win over
// every copied value.
func (e *Env) Copy(ctx context.Context, modelName string, id int64, overrides map[string]any) (newID int64, err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "copy", metrics.Status(err)).Inc()
	}()

	m, err := e.reg.Model(modelName)
	if err != nil {
		return 0, err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpRead); err != nil {
		return 0, err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpCreate); err != nil {
		return 0, err
	}
	err = e.atomic(ctx, func() error {
		if err := e.mustExist(ctx, m, []int64{id}); err != nil {
			return err
		}
		if err := e.checkRules(ctx, m, []int64{id}, security.OpRead); err != nil {
			return err
		}
		data, err := e.copyData(ctx, m, id)
		if err != nil {
			return err
		}
		maps.Copy(data, overrides)
		newID, err = e.create(ctx, m, data)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logger.Debug("record copied", "model", m.Name, "from", id, "to", newID)
	return newID, nil
}

// copyData returns the create values duplicating id.
func (e *Env) copyData(ctx context.Context, m *model.Model, id int64) (map[string]any, error) {
	var fields []string
	for _, f := range m.FieldNames() {
		if isMagicField(f) || m.IsLinkField(f) {
			continue
		}
		res, err := e.reg.ResolveField(m.Name, f)
		if err != nil {
			return nil, err
		}
		col := res.Column
		if col.NoCopy {
			continue
		}
		if col.Derived() && (col.Kind != model.KindComputed || col.Inverse == nil) {
			continue
		}
		fields = append(fields, f)
	}

	rows, err := e.read(ctx, m, []int64{id}, fields)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, missingError(m.Name, []int64{id}, nil)
	}
	row := rows[0]

	data := make(map[string]any, len(fields))
	for _, f := range fields {
		res, _ := e.reg.ResolveField(m.Name, f)
		col := res.Column
		switch col.Kind {
		case model.KindOne2Many:
			co := e.reg.MustModel(col.Relation)
			children, _ := model.AsIDs(row[f])
			cmds := make([]any, 0, len(children))
			for _, child := range children {
				cd, err := e.copyData(ctx, co, child)
				if err != nil {
					return nil, err
				}
				delete(cd, col.InverseName)
				cmds = append(cmds, []any{int64(CmdCreate), int64(0), cd})
			}
			data[f] = cmds
		case model.KindMany2Many:
			ids, _ := model.AsIDs(row[f])
			data[f] = []any{[]any{int64(CmdReplace), int64(0), idValues(ids)}}
		default:
			data[f] = row[f]
		}
	}
	return data, nil
}
