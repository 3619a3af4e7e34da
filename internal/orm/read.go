package orm

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/security"
	"github.com/roach88/recordkit/internal/store"
)

// Read returns one map per id, in id order, holding the requested fields
// and "id". No fields means every field. Many2one values are ids or nil,
// x2many values id lists. Fails with a MissingRecordError when an id has
// no row.
func (e *Env) Read(ctx context.Context, modelName string, ids []int64, fields []string) (rows []map[string]any, err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "read", metrics.Status(err)).Inc()
	}()

	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpRead); err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)
	if err := e.checkRules(ctx, m, ids, security.OpRead); err != nil {
		return nil, err
	}
	rows, err = e.read(ctx, m, ids, fields)
	if err != nil {
		return nil, err
	}
	if len(rows) < len(ids) {
		found := make([]int64, len(rows))
		for i, r := range rows {
			found[i] = r[model.FieldID].(int64)
		}
		return nil, missingError(m.Name, ids, found)
	}
	return rows, nil
}

// read returns the rows of the existing ids among ids, which must be unique.
func (e *Env) read(ctx context.Context, m *model.Model, ids []int64, fields []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if fields == nil {
		fields = m.FieldNames()
	}

	var stored, derived []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f == model.FieldID || seen[f] {
			continue
		}
		seen[f] = true
		res, err := e.reg.ResolveField(m.Name, f)
		if err != nil {
			return nil, err
		}
		if res.Column.Stored() {
			stored = append(stored, f)
		} else {
			derived = append(derived, f)
		}
	}

	byID, err := e.readStored(ctx, m, ids, stored)
	if err != nil {
		return nil, err
	}
	existing := make([]int64, 0, len(byID))
	for _, id := range ids {
		if _, ok := byID[id]; ok {
			existing = append(existing, id)
		}
	}
	if len(existing) > 0 && len(derived) > 0 {
		if err := e.readDerived(ctx, m, existing, derived, byID); err != nil {
			return nil, err
		}
	}

	out := make([]map[string]any, len(existing))
	for i, id := range existing {
		out[i] = byID[id]
	}
	return out, nil
}

// readStored selects the stored fields, local or inherited, of ids and
// applies translations.
func (e *Env) readStored(ctx context.Context, m *model.Model, ids []int64, fields []string) (map[int64]map[string]any, error) {
	out := make(map[int64]map[string]any, len(ids))
	resolved := make([]model.FieldResolution, len(fields))
	for i, f := range fields {
		res, err := e.reg.ResolveField(m.Name, f)
		if err != nil {
			return nil, err
		}
		resolved[i] = res
	}

	// owners maps a translatable inherited field to the id of the row
	// holding it, per record.
	owners := make(map[string]map[int64]int64)

	for _, chunk := range e.tx.SplitForIn(ids) {
		q := query.New(m.Table)
		cols := []string{qcol(m.Table, model.FieldID) + " AS " + store.Quote(model.FieldID)}
		for i, f := range fields {
			res := resolved[i]
			table := m.Table
			if res.Inherited() {
				table = e.joinPath(q, m, res.Path)
				if res.Column.Translate {
					cols = append(cols, qcol(table, model.FieldID)+" AS "+store.Quote(ownerAlias(f)))
				}
			}
			cols = append(cols, qcol(table, res.Column.Name)+" AS "+store.Quote(f))
		}
		q.AddWhere(inClause(qcol(m.Table, model.FieldID), len(chunk)), store.Args(chunk)...)
		sql, params := q.Select(strings.Join(cols, ", "))
		rows, err := e.tx.QueryMaps(ctx, sql, params...)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", m.Name, err)
		}
		for _, row := range rows {
			id, err := model.AsID(row[model.FieldID])
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", m.Name, err)
			}
			rec := make(map[string]any, len(fields)+1)
			rec[model.FieldID] = id
			for i, f := range fields {
				rec[f] = resolved[i].Column.FromDB(row[f])
				if owner, ok := row[ownerAlias(f)]; ok {
					if owners[f] == nil {
						owners[f] = make(map[int64]int64)
					}
					owners[f][id], _ = model.AsID(owner)
				}
			}
			out[id] = rec
		}
	}

	if e.translating() {
		if err := e.translate(ctx, m, fields, resolved, owners, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func ownerAlias(field string) string {
	return field + "__owner"
}

// translate replaces translatable values by their translation in the
// current language, when one exists.
func (e *Env) translate(ctx context.Context, m *model.Model, fields []string, resolved []model.FieldResolution,
	owners map[string]map[int64]int64, rows map[int64]map[string]any) error {
	for i, f := range fields {
		res := resolved[i]
		if !res.Column.Translate {
			continue
		}
		ownerOf := func(id int64) int64 {
			if res.Inherited() {
				return owners[f][id]
			}
			return id
		}
		keys := make([]int64, 0, len(rows))
		for id := range rows {
			keys = append(keys, ownerOf(id))
		}
		values, err := e.opts.Translations.Resolve(ctx, e.tx, res.Owner.Name, res.Column.Name, e.opts.Lang, uniqueIDs(keys))
		if err != nil {
			return fmt.Errorf("translate %s.%s: %w", m.Name, f, err)
		}
		for id, row := range rows {
			if v, ok := values[ownerOf(id)]; ok {
				row[f] = v
			}
		}
	}
	return nil
}

// readDerived fills the x2many, computed and related fields of ids.
func (e *Env) readDerived(ctx context.Context, m *model.Model, ids []int64, fields []string, rows map[int64]map[string]any) error {
	type group struct {
		col   *model.Column
		names []string
	}
	var groups []*group
	byMulti := make(map[string]*group)

	for _, f := range fields {
		res, err := e.reg.ResolveField(m.Name, f)
		if err != nil {
			return err
		}
		if res.Inherited() {
			if err := e.readInherited(ctx, m, ids, f, res.Path[0], rows); err != nil {
				return err
			}
			continue
		}

		col := res.Column
		switch col.Kind {
		case model.KindOne2Many:
			err = e.readOne2Many(ctx, ids, col, rows)
		case model.KindMany2Many:
			err = e.readMany2Many(ctx, ids, col, rows)
		case model.KindRelated:
			err = e.readRelated(ctx, m, ids, col, rows)
		case model.KindComputed:
			if col.Multi == "" {
				groups = append(groups, &group{col: col, names: []string{f}})
				continue
			}
			g, ok := byMulti[col.Multi]
			if !ok {
				g = &group{col: col}
				byMulti[col.Multi] = g
				groups = append(groups, g)
			}
			g.names = append(g.names, f)
		}
		if err != nil {
			return err
		}
	}

	for _, g := range groups {
		values, err := g.col.Compute(ctx, e, ids, g.names)
		if err != nil {
			return fmt.Errorf("compute %s.%s: %w", m.Name, strings.Join(g.names, ","), err)
		}
		for _, name := range g.names {
			col := m.Columns[name]
			for _, id := range ids {
				rows[id][name] = fieldValue(col, values[id][name])
			}
		}
	}
	return nil
}

// readInherited reads a non-stored inherited field through the first
// delegation link.
func (e *Env) readInherited(ctx context.Context, m *model.Model, ids []int64, field string, d model.Delegation, rows map[int64]map[string]any) error {
	links, err := e.readStored(ctx, m, ids, []string{d.Field})
	if err != nil {
		return err
	}
	parentOf := make(map[int64]int64, len(ids))
	var pids []int64
	for _, id := range ids {
		pid, _ := model.AsID(links[id][d.Field])
		parentOf[id] = pid
		pids = append(pids, pid)
	}
	parent := e.reg.MustModel(d.Parent)
	prows, err := e.read(ctx, parent, uniqueIDs(pids), []string{field})
	if err != nil {
		return err
	}
	values := make(map[int64]any, len(prows))
	for _, r := range prows {
		values[r[model.FieldID].(int64)] = r[field]
	}
	col, _ := parent.Field(field)
	for _, id := range ids {
		v, ok := values[parentOf[id]]
		if !ok {
			v = fieldValue(col, nil)
		}
		rows[id][field] = v
	}
	return nil
}

func (e *Env) readOne2Many(ctx context.Context, ids []int64, col *model.Column, rows map[int64]map[string]any) error {
	co := e.reg.MustModel(col.Relation)
	inverse, err := e.reg.ResolveField(co.Name, col.InverseName)
	if err != nil {
		return err
	}
	children := make(map[int64][]int64, len(ids))

	for _, chunk := range e.tx.SplitForIn(ids) {
		q := query.New(co.Table)
		d := domain.AndDomains(
			domain.Domain{domain.Leaf{Field: col.InverseName, Op: domain.OpIn, Value: idValues(chunk)}},
			col.Domain,
		)
		if err := e.compiler.CompileInto(ctx, q, co, e.withActive(co, d)); err != nil {
			return fmt.Errorf("read %s: %w", col.Name, err)
		}
		table := co.Table
		if inverse.Inherited() {
			table = e.joinPath(q, co, inverse.Path)
		}
		order, err := e.orderBy(q, co, "")
		if err != nil {
			return err
		}
		sql, params := q.Select(qcol(co.Table, model.FieldID) + " AS " + store.Quote("child") + ", " +
			qcol(table, col.InverseName) + " AS " + store.Quote("parent"))
		if order != "" {
			sql += " ORDER BY " + order
		}
		found, err := e.tx.QueryMaps(ctx, sql, params...)
		if err != nil {
			return fmt.Errorf("read %s: %w", col.Name, err)
		}
		for _, r := range found {
			parent, _ := model.AsID(r["parent"])
			child, _ := model.AsID(r["child"])
			children[parent] = append(children[parent], child)
		}
	}

	for _, id := range ids {
		if children[id] == nil {
			children[id] = []int64{}
		}
		rows[id][col.Name] = children[id]
	}
	return nil
}

func (e *Env) readMany2Many(ctx context.Context, ids []int64, col *model.Column, rows map[int64]map[string]any) error {
	co := e.reg.MustModel(col.Relation)
	linked := make(map[int64][]int64, len(ids))

	for _, chunk := range e.tx.SplitForIn(ids) {
		q := query.New(co.Table)
		q.AddTable(col.RelTable)
		q.AddWhere(qcol(col.RelTable, col.Column2) + " = " + qcol(co.Table, model.FieldID))
		q.AddWhere(inClause(qcol(col.RelTable, col.Column1), len(chunk)), store.Args(chunk)...)
		if err := e.compiler.CompileInto(ctx, q, co, e.withActive(co, col.Domain)); err != nil {
			return fmt.Errorf("read %s: %w", col.Name, err)
		}
		order, err := e.orderBy(q, co, "")
		if err != nil {
			return err
		}
		sql, params := q.Select(qcol(col.RelTable, col.Column1) + " AS " + store.Quote("parent") + ", " +
			qcol(co.Table, model.FieldID) + " AS " + store.Quote("child"))
		if order != "" {
			sql += " ORDER BY " + order
		}
		found, err := e.tx.QueryMaps(ctx, sql, params...)
		if err != nil {
			return fmt.Errorf("read %s: %w", col.Name, err)
		}
		for _, r := range found {
			parent, _ := model.AsID(r["parent"])
			child, _ := model.AsID(r["child"])
			linked[parent] = append(linked[parent], child)
		}
	}

	for _, id := range ids {
		if linked[id] == nil {
			linked[id] = []int64{}
		}
		rows[id][col.Name] = linked[id]
	}
	return nil
}

// readRelated follows the many2one path of a related column.
func (e *Env) readRelated(ctx context.Context, m *model.Model, ids []int64, col *model.Column, rows map[int64]map[string]any) error {
	target, last, err := e.followPath(ctx, m, ids, col.Related)
	if err != nil {
		return err
	}
	var tids []int64
	for _, t := range target.ids {
		tids = append(tids, t)
	}
	values := make(map[int64]any)
	if tids = uniqueIDs(tids); len(tids) > 0 {
		trows, err := e.read(ctx, target.model, tids, []string{last})
		if err != nil {
			return err
		}
		for _, r := range trows {
			values[r[model.FieldID].(int64)] = r[last]
		}
	}
	for _, id := range ids {
		v, ok := values[target.ids[id]]
		if !ok {
			v = fieldValue(col, nil)
		}
		rows[id][col.Name] = v
	}
	return nil
}

// pathTarget maps each starting id to the id reached on model.
type pathTarget struct {
	model *model.Model
	ids   map[int64]int64
}

// followPath walks every segment but the last of path, which must be
// many2one fields, and returns where each id lands plus the last segment.
func (e *Env) followPath(ctx context.Context, m *model.Model, ids []int64, path []string) (pathTarget, string, error) {
	cur := m
	at := make(map[int64]int64, len(ids))
	for _, id := range ids {
		at[id] = id
	}
	for _, seg := range path[:len(path)-1] {
		res, err := e.reg.ResolveField(cur.Name, seg)
		if err != nil {
			return pathTarget{}, "", err
		}
		var from []int64
		for _, v := range at {
			from = append(from, v)
		}
		srows, err := e.read(ctx, cur, uniqueIDs(from), []string{seg})
		if err != nil {
			return pathTarget{}, "", err
		}
		next := make(map[int64]int64, len(srows))
		for _, r := range srows {
			nid, _ := model.AsID(r[seg])
			next[r[model.FieldID].(int64)] = nid
		}
		for id, v := range at {
			at[id] = next[v]
		}
		cur = e.reg.MustModel(res.Column.Relation)
	}
	return pathTarget{model: cur, ids: at}, path[len(path)-1], nil
}
