package orm

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/store"
)

// Commands accepted as the value of one2many and many2many fields:
//
//	[0, 0, values]  create a record from values and link it
//	[1, id, values] update the linked record id
//	[2, id]         delete the record id
//	[3, id]         unlink id without deleting it
//	[4, id]         link the existing record id
//	[5]             unlink every record
//	[6, 0, ids]     replace the linked records by ids
//
// A plain id list is shorthand for command 6.
const (
	CmdCreate    = 0
	CmdUpdate    = 1
	CmdDelete    = 2
	CmdUnlink    = 3
	CmdLink      = 4
	CmdUnlinkAll = 5
	CmdReplace   = 6
)

type command struct {
	op     int64
	id     int64
	values map[string]any
	ids    []int64
}

// parseCommands reads an x2many value. Nil and false leave the relation
// untouched.
func parseCommands(modelName, field string, value any) ([]command, error) {
	mismatch := func() error {
		return &model.TypeMismatchError{Code: model.ErrCodeTypeMismatch, Model: modelName, Field: field, Expected: "x2many commands", Value: value}
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return nil, mismatch()
		}
		return nil, nil
	case []int64:
		return []command{{op: CmdReplace, ids: v}}, nil
	case []any:
		if len(v) == 0 {
			return []command{{op: CmdReplace, ids: []int64{}}}, nil
		}
		if _, isList := v[0].([]any); !isList {
			ids, err := model.AsIDs(v)
			if err != nil {
				return nil, mismatch()
			}
			return []command{{op: CmdReplace, ids: ids}}, nil
		}
		out := make([]command, 0, len(v))
		for _, raw := range v {
			c, err := parseCommand(raw)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", modelName, field, err)
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, mismatch()
}

func parseCommand(raw any) (command, error) {
	parts, ok := raw.([]any)
	if !ok || len(parts) == 0 {
		return command{}, fmt.Errorf("malformed command %v", raw)
	}
	op, err := model.AsID(domain.NormalizeValue(parts[0]))
	if err != nil {
		return command{}, fmt.Errorf("malformed command %v", raw)
	}
	c := command{op: op}
	arg := func(i int) any {
		if i >= len(parts) {
			return nil
		}
		if vals, ok := parts[i].(map[string]any); ok {
			return vals
		}
		return domain.NormalizeValue(parts[i])
	}
	values := func() (map[string]any, error) {
		switch vals := arg(2).(type) {
		case map[string]any:
			return vals, nil
		case nil:
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("command %d expects a values map, got %v", op, parts[2])
	}

	switch op {
	case CmdCreate:
		c.values, err = values()
	case CmdUpdate:
		if c.id, err = model.AsID(arg(1)); err == nil {
			c.values, err = values()
		}
	case CmdDelete, CmdUnlink, CmdLink:
		c.id, err = model.AsID(arg(1))
		if err == nil && c.id == 0 {
			err = fmt.Errorf("command %d needs an id", op)
		}
	case CmdUnlinkAll:
	case CmdReplace:
		c.ids, err = model.AsIDs(arg(2))
		if c.ids == nil {
			c.ids = []int64{}
		}
	default:
		err = fmt.Errorf("unknown command %d", op)
	}
	return c, err
}

func (e *Env) setOne2Many(ctx context.Context, m *model.Model, id int64, col *model.Column, value any) error {
	cmds, err := parseCommands(m.Name, col.Name, value)
	if err != nil {
		return err
	}
	co := e.reg.MustModel(col.Relation)
	inv := col.InverseName
	attach := func(ids []int64, parent any) error {
		if len(ids) == 0 {
			return nil
		}
		if parent != nil {
			if err := e.mustExist(ctx, co, ids); err != nil {
				return err
			}
		}
		return e.write(ctx, co, ids, map[string]any{inv: parent})
	}

	for _, c := range cmds {
		switch c.op {
		case CmdCreate:
			vals := maps.Clone(c.values)
			vals[inv] = id
			if _, err = e.create(ctx, co, vals); err != nil {
				return err
			}
		case CmdUpdate:
			err = e.write(ctx, co, []int64{c.id}, c.values)
		case CmdDelete:
			err = e.unlink(ctx, co, []int64{c.id})
		case CmdUnlink:
			err = attach([]int64{c.id}, nil)
		case CmdLink:
			err = attach([]int64{c.id}, id)
		case CmdUnlinkAll, CmdReplace:
			var current []int64
			if current, err = e.linkedChildren(ctx, co, inv, id); err != nil {
				return err
			}
			keep := make(map[int64]bool, len(c.ids))
			for _, cid := range c.ids {
				keep[cid] = true
			}
			var drop []int64
			for _, cid := range current {
				if !keep[cid] {
					drop = append(drop, cid)
				}
			}
			if err = attach(drop, nil); err == nil {
				err = attach(uniqueIDs(c.ids), id)
			}
		}
		if err != nil {
			return err
		}
	}
	e.cache.Invalidate(m.Name, []int64{id}, []string{col.Name})
	return nil
}

// linkedChildren returns every record of co whose inverse points at id,
// archived ones included.
func (e *Env) linkedChildren(ctx context.Context, co *model.Model, inverse string, id int64) ([]int64, error) {
	q := query.New(co.Table)
	d := domain.Domain{domain.Leaf{Field: inverse, Op: domain.OpEq, Value: id}}
	if err := e.compiler.CompileInto(ctx, q, co, d); err != nil {
		return nil, err
	}
	sql, params := q.Select(qcol(co.Table, model.FieldID))
	ids, err := e.tx.QueryInts(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("read children of %s: %w", co.Name, err)
	}
	return ids, nil
}

func (e *Env) setMany2Many(ctx context.Context, m *model.Model, id int64, col *model.Column, value any) error {
	cmds, err := parseCommands(m.Name, col.Name, value)
	if err != nil {
		return err
	}
	co := e.reg.MustModel(col.Relation)
	rel, c1, c2 := store.Quote(col.RelTable), store.Quote(col.Column1), store.Quote(col.Column2)
	exec := func(stmt string, args ...any) error {
		if _, err := e.tx.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("set %s.%s: %w", m.Name, col.Name, err)
		}
		return nil
	}
	link := func(target int64) error {
		return exec(fmt.Sprintf(
			"INSERT INTO %s (%s, %s) SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s = ? AND %s = ?)",
			rel, c1, c2, rel, c1, c2), id, target, id, target)
	}
	unlinkOne := func(target int64) error {
		return exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?", rel, c1, c2), id, target)
	}
	unlinkAll := func() error {
		return exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rel, c1), id)
	}

	for _, c := range cmds {
		switch c.op {
		case CmdCreate:
			var nid int64
			if nid, err = e.create(ctx, co, c.values); err == nil {
				err = link(nid)
			}
		case CmdUpdate:
			err = e.write(ctx, co, []int64{c.id}, c.values)
		case CmdDelete:
			err = e.unlink(ctx, co, []int64{c.id})
		case CmdUnlink:
			err = unlinkOne(c.id)
		case CmdLink:
			if err = e.mustExist(ctx, co, []int64{c.id}); err == nil {
				err = link(c.id)
			}
		case CmdUnlinkAll:
			err = unlinkAll()
		case CmdReplace:
			ids := uniqueIDs(c.ids)
			if err = e.mustExist(ctx, co, ids); err != nil {
				return err
			}
			if err = unlinkAll(); err != nil {
				break
			}
			for _, target := range ids {
				if err = link(target); err != nil {
					break
				}
			}
		}
		if err != nil {
			return err
		}
	}
	e.cache.Invalidate(m.Name, []int64{id}, []string{col.Name})
	return nil
}
