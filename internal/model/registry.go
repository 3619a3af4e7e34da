package model

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Registry holds every model definition. It is built once, finalized, and
// then only read; concurrent reads are safe after Finalize.
type Registry struct {
	models    map[string]*Model
	order     []string
	triggers  map[string][]*StoreTrigger
	finalized bool
}

// StoreTrigger is a finalized stored-compute dependency: writes to Fields of
// Source require recomputing Target.Field on the ids returned by Mapper.
type StoreTrigger struct {
	Target   string
	Field    string
	Source   string
	Fields   []string
	Mapper   MapperFunc
	Priority int
	Horizon  time.Duration
}

// Matches reports whether writing fields fires the trigger. A nil fields
// slice means "every field" (creation and deletion).
func (t *StoreTrigger) Matches(fields []string) bool {
	if len(t.Fields) == 0 || fields == nil {
		return true
	}
	for _, f := range fields {
		for _, tf := range t.Fields {
			if f == tf {
				return true
			}
		}
	}
	return false
}

// FieldResolution locates a field reachable from a model.
type FieldResolution struct {
	Model  *Model
	Owner  *Model
	Column *Column
	// Path is empty for local columns; otherwise the delegation chain to Owner.
	Path []Delegation
}

// Inherited reports whether the field lives on a delegated parent.
func (f FieldResolution) Inherited() bool {
	return len(f.Path) > 0
}

// ColumnRef names a column of a model.
type ColumnRef struct {
	Model  *Model
	Column *Column
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]*Model),
		triggers: make(map[string][]*StoreTrigger),
	}
}

// Register validates m, fills defaults and adds magic and delegation-link columns.
func (r *Registry) Register(m *Model) error {
	if r.finalized {
		return definitionError(m.Name, "", "registry is already finalized")
	}
	if m.Name == "" {
		return definitionError("", "", "model name is required")
	}
	if _, dup := r.models[m.Name]; dup {
		return definitionError(m.Name, "", "model is registered twice")
	}
	if m.Table == "" {
		m.Table = strings.ReplaceAll(m.Name, ".", "_")
	}
	if m.Description == "" {
		m.Description = m.Name
	}
	if m.Order == "" {
		m.Order = FieldID
	}

	m.Columns = make(map[string]*Column, len(m.Fields)+4)
	m.columnOrder = m.columnOrder[:0]
	m.inheritFields = nil
	m.vtable = nil

	m.addMagic(&Column{Name: FieldID, Kind: KindInteger, Label: "ID", Readonly: true, NoCopy: true})
	for _, c := range m.Fields {
		if err := checkColumn(m, c); err != nil {
			return err
		}
		if _, dup := m.Columns[c.Name]; dup {
			return definitionError(m.Name, c.Name, "column declared twice")
		}
		if c.Label == "" {
			c.Label = c.Name
		}
		m.Columns[c.Name] = c
		m.columnOrder = append(m.columnOrder, c.Name)
	}
	if m.LogAccess {
		m.addMagic(&Column{Name: FieldCreateDate, Kind: KindDatetime, Label: "Created on", Readonly: true, NoCopy: true})
		m.addMagic(&Column{Name: FieldWriteDate, Kind: KindDatetime, Label: "Last Updated on", Readonly: true, NoCopy: true})
	}
	if m.ParentStore {
		m.addMagic(&Column{Name: FieldParentLeft, Kind: KindInteger, Label: "Left Parent", Index: true, NoCopy: true})
		m.addMagic(&Column{Name: FieldParentRight, Kind: KindInteger, Label: "Right Parent", Index: true, NoCopy: true})
	}

	for _, d := range m.Inherits {
		if d.Parent == "" || d.Field == "" {
			return definitionError(m.Name, d.Field, "delegation needs a parent and a link field")
		}
		c, ok := m.Columns[d.Field]
		if !ok {
			c = &Column{Name: d.Field, Kind: KindMany2One, Relation: d.Parent, Label: d.Field}
			m.Columns[d.Field] = c
			m.columnOrder = append(m.columnOrder, d.Field)
		}
		if c.Kind != KindMany2One || c.Relation != d.Parent {
			return definitionError(m.Name, d.Field, "delegation link must be a many2one to %s", d.Parent)
		}
		// Delegation links are always required and cascade on delete.
		c.Required = true
		c.OnDelete = OnDeleteCascade
	}

	for _, c := range m.Constraints {
		if err := c.compile(); err != nil {
			return definitionError(m.Name, "", "constraint %s: %v", c.Name, err)
		}
	}

	if m.RecName == "" {
		if _, ok := m.Columns["name"]; ok {
			m.RecName = "name"
		} else {
			m.RecName = FieldID
		}
	}

	r.models[m.Name] = m
	r.order = append(r.order, m.Name)
	return nil
}

func (m *Model) addMagic(c *Column) {
	if _, ok := m.Columns[c.Name]; ok {
		return
	}
	c.Magic = true
	m.Columns[c.Name] = c
	m.columnOrder = append(m.columnOrder, c.Name)
}

func checkColumn(m *Model, c *Column) error {
	if c == nil || !validIdent(c.Name) || strings.Contains(c.Name, ".") {
		return definitionError(m.Name, "", "invalid column name")
	}
	if !c.Kind.Valid() {
		return definitionError(m.Name, c.Name, "unknown kind %q", c.Kind)
	}
	switch c.Kind {
	case KindMany2One, KindMany2Many:
		if c.Relation == "" {
			return definitionError(m.Name, c.Name, "%s needs a relation", c.Kind)
		}
	case KindOne2Many:
		if c.Relation == "" || c.InverseName == "" {
			return definitionError(m.Name, c.Name, "one2many needs a relation and an inverse field")
		}
	case KindSelection:
		if len(c.Selection) == 0 {
			return definitionError(m.Name, c.Name, "selection needs options")
		}
	case KindComputed:
		if c.Compute == nil {
			return definitionError(m.Name, c.Name, "computed column needs a compute function")
		}
		if c.Type == "" {
			c.Type = KindChar
		}
		if !c.Type.Valid() || c.Type == KindComputed || c.Type == KindRelated {
			return definitionError(m.Name, c.Name, "invalid result type %q", c.Type)
		}
	case KindRelated:
		if len(c.Related) < 2 {
			return definitionError(m.Name, c.Name, "related path needs at least two segments")
		}
	}
	if c.OnDelete == "" && c.Kind == KindMany2One {
		c.OnDelete = OnDeleteSetNull
	}
	return nil
}

// Finalize computes inherited field maps, virtual field sets and
// stored-compute triggers, and cross-checks every reference between models.
func (r *Registry) Finalize() error {
	if r.finalized {
		return nil
	}
	if err := r.checkDelegationCycles(); err != nil {
		return err
	}
	for _, name := range r.order {
		for _, d := range r.models[name].Inherits {
			if _, ok := r.models[d.Parent]; !ok {
				return definitionError(name, d.Field, "delegated parent %q is not registered", d.Parent)
			}
		}
	}

	done := make(map[string]bool)
	for _, name := range r.order {
		r.computeInherited(r.models[name], done)
	}

	if err := r.computeVTables(); err != nil {
		return err
	}

	for _, name := range r.order {
		if err := r.checkModel(r.models[name]); err != nil {
			return err
		}
	}

	if err := r.buildTriggers(); err != nil {
		return err
	}

	r.finalized = true
	slog.Debug("registry finalized", "models", len(r.order))
	return nil
}

// Finalized reports whether Finalize succeeded.
func (r *Registry) Finalized() bool {
	return r.finalized
}

func (r *Registry) checkDelegationCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		stack = append(stack, name)
		m := r.models[name]
		if m != nil {
			for _, d := range m.Inherits {
				switch color[d.Parent] {
				case grey:
					return definitionError(name, d.Field, "delegation cycle: %s -> %s", strings.Join(stack, " -> "), d.Parent)
				case white:
					if err := visit(d.Parent); err != nil {
						return err
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range r.order {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeInherited fills m.inheritFields. Local columns take precedence; among
// parents, the first declared delegation wins.
func (r *Registry) computeInherited(m *Model, done map[string]bool) {
	if done[m.Name] {
		return
	}
	done[m.Name] = true
	m.inheritFields = make(map[string]InheritedField)

	for _, d := range m.Inherits {
		p := r.models[d.Parent]
		r.computeInherited(p, done)

		for _, name := range p.columnOrder {
			c := p.Columns[name]
			if c.Magic {
				continue
			}
			if _, local := m.Columns[name]; local {
				continue
			}
			if _, seen := m.inheritFields[name]; seen {
				continue
			}
			m.inheritFields[name] = InheritedField{Owner: p.Name, Path: []Delegation{d}, Column: c}
		}
		for _, name := range p.InheritedNames() {
			f := p.inheritFields[name]
			if _, local := m.Columns[name]; local {
				continue
			}
			if _, seen := m.inheritFields[name]; seen {
				continue
			}
			path := append([]Delegation{d}, f.Path...)
			m.inheritFields[name] = InheritedField{Owner: f.Owner, Path: path, Column: f.Column}
		}
	}
}

// computeVTables propagates each model's virtual fields to every transitive
// delegated parent and adds the _vptr discriminator to the models that get one.
func (r *Registry) computeVTables() error {
	for _, name := range r.order {
		m := r.models[name]
		for _, f := range m.Virtuals {
			if !m.HasField(f) {
				return definitionError(name, f, "virtual field is not a field of the model")
			}
			if m.vtable == nil {
				m.vtable = make(map[string]bool)
			}
			m.vtable[f] = true
		}
	}

	for _, name := range r.order {
		m := r.models[name]
		if len(m.Virtuals) == 0 {
			continue
		}
		seen := map[string]bool{name: true}
		queue := []*Model{m}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, d := range cur.Inherits {
				p := r.models[d.Parent]
				if p.vtable == nil {
					p.vtable = make(map[string]bool)
				}
				for _, f := range m.Virtuals {
					p.vtable[f] = true
				}
				if !seen[p.Name] {
					seen[p.Name] = true
					queue = append(queue, p)
				}
			}
		}
	}

	for _, name := range r.order {
		m := r.models[name]
		if m.HasVTable() {
			m.addMagic(&Column{Name: FieldVPtr, Kind: KindChar, Label: "Subtype", Readonly: true, NoCopy: true, Size: 64})
		}
	}
	return nil
}

func (r *Registry) checkModel(m *Model) error {
	for _, name := range m.columnOrder {
		c := m.Columns[name]
		if c.Relation != "" {
			if _, ok := r.models[c.Relation]; !ok {
				return definitionError(m.Name, c.Name, "relation %q is not registered", c.Relation)
			}
		}
		switch c.Kind {
		case KindOne2Many:
			co := r.models[c.Relation]
			inv, ok := co.Field(c.InverseName)
			if !ok || inv.Kind != KindMany2One {
				return definitionError(m.Name, c.Name, "inverse %s.%s must be a many2one", c.Relation, c.InverseName)
			}
			if _, inherited := co.Inherited(c.InverseName); inherited {
				return definitionError(m.Name, c.Name, "inverse %s.%s must be a local column", c.Relation, c.InverseName)
			}
		case KindMany2Many:
			co := r.models[c.Relation]
			if c.RelTable == "" {
				a, b := m.Table, co.Table
				if b < a {
					a, b = b, a
				}
				c.RelTable = a + "_" + b + "_rel"
			}
			if c.Column1 == "" {
				c.Column1 = m.Table + "_id"
			}
			if c.Column2 == "" {
				c.Column2 = co.Table + "_id"
			}
			if c.Column1 == c.Column2 {
				return definitionError(m.Name, c.Name, "many2many columns must differ, set column1/column2")
			}
		case KindRelated:
			if err := r.checkRelated(m, c); err != nil {
				return err
			}
		case KindSelection:
			if s, ok := c.Default.(string); ok && !c.HasOption(s) {
				return definitionError(m.Name, c.Name, "default %q is not a selection option", s)
			}
		}
	}

	if m.ParentName != "" {
		c, ok := m.Columns[m.ParentName]
		if !ok || c.Kind != KindMany2One || c.Relation != m.Name {
			return definitionError(m.Name, m.ParentName, "parent field must be a local many2one to %s", m.Name)
		}
	} else if m.ParentStore {
		return definitionError(m.Name, "", "parent_store requires a parent field")
	}

	for _, spec := range []string{m.Order, m.ParentOrder} {
		parts, ok := ParseOrder(spec)
		if !ok {
			return definitionError(m.Name, "", "invalid order %q", spec)
		}
		for _, p := range parts {
			if !m.HasField(p.Field) {
				return definitionError(m.Name, p.Field, "order field does not exist")
			}
		}
	}
	if !m.HasField(m.RecName) {
		return definitionError(m.Name, m.RecName, "rec_name field does not exist")
	}
	return nil
}

// checkRelated walks a related path and fills the column's value kind and relation.
func (r *Registry) checkRelated(m *Model, c *Column) error {
	cur := m
	for i, seg := range c.Related {
		f, ok := cur.Field(seg)
		if !ok {
			return definitionError(m.Name, c.Name, "related path %s: unknown field %q on %s", strings.Join(c.Related, "."), seg, cur.Name)
		}
		if i == len(c.Related)-1 {
			c.Type = f.ValueKind()
			if c.Relation == "" {
				c.Relation = f.Relation
			}
			if len(c.Selection) == 0 {
				c.Selection = f.Selection
			}
			return nil
		}
		if f.ValueKind() != KindMany2One {
			return definitionError(m.Name, c.Name, "related path %s: %q is not a many2one", strings.Join(c.Related, "."), seg)
		}
		cur = r.models[f.Relation]
	}
	return nil
}

func (r *Registry) buildTriggers() error {
	type key struct{ target, field, source, fields string }
	seen := make(map[key]bool)

	for _, name := range r.order {
		m := r.models[name]
		for _, cname := range m.columnOrder {
			c := m.Columns[cname]
			if !c.Derived() || !c.Store {
				continue
			}
			triggers := c.Triggers
			if len(triggers) == 0 {
				triggers = []Trigger{{Model: m.Name}}
			}
			for _, t := range triggers {
				src, ok := r.models[t.Model]
				if !ok {
					return definitionError(m.Name, c.Name, "trigger model %q is not registered", t.Model)
				}
				for _, f := range t.Fields {
					if !src.HasField(f) {
						return definitionError(m.Name, c.Name, "trigger field %s.%s does not exist", t.Model, f)
					}
				}
				prio := t.Priority
				if prio == 0 {
					prio = c.Priority
				}
				k := key{m.Name, c.Name, t.Model, strings.Join(t.Fields, ",")}
				if seen[k] {
					continue
				}
				seen[k] = true
				mapper := t.Mapper
				if mapper == nil {
					if t.Model != m.Name {
						return definitionError(m.Name, c.Name, "trigger on %s needs a mapper", t.Model)
					}
					mapper = Identity
				}
				r.triggers[t.Model] = append(r.triggers[t.Model], &StoreTrigger{
					Target:   m.Name,
					Field:    c.Name,
					Source:   t.Model,
					Fields:   t.Fields,
					Mapper:   mapper,
					Priority: prio,
					Horizon:  c.Horizon,
				})
			}
		}
	}

	for src := range r.triggers {
		ts := r.triggers[src]
		sort.SliceStable(ts, func(i, j int) bool {
			if ts[i].Priority != ts[j].Priority {
				return ts[i].Priority < ts[j].Priority
			}
			if ts[i].Target != ts[j].Target {
				return ts[i].Target < ts[j].Target
			}
			return ts[i].Field < ts[j].Field
		})
	}
	return nil
}

// Model returns a registered model.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, &UnknownModelError{Code: ErrCodeUnknownModel, Model: name}
	}
	return m, nil
}

// MustModel returns a registered model or panics. For tests and fixtures.
func (r *Registry) MustModel(name string) *Model {
	m, err := r.Model(name)
	if err != nil {
		panic(err)
	}
	return m
}

// Models returns every model in registration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.models[name])
	}
	return out
}

// ResolveField locates a (non-dotted) field on model, descending through
// delegated parents. Fails with UnknownFieldError only when exhausted.
func (r *Registry) ResolveField(model, field string) (FieldResolution, error) {
	m, err := r.Model(model)
	if err != nil {
		return FieldResolution{}, err
	}
	if c, ok := m.Columns[field]; ok {
		return FieldResolution{Model: m, Owner: m, Column: c}, nil
	}
	if f, ok := m.inheritFields[field]; ok {
		return FieldResolution{Model: m, Owner: r.models[f.Owner], Column: f.Column, Path: f.Path}, nil
	}
	return FieldResolution{}, NewUnknownFieldError(model, field)
}

// EffectiveColumns returns the union of local and inherited columns, local
// columns taking precedence.
func (r *Registry) EffectiveColumns(model string) (map[string]*Column, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Column, len(m.Columns)+len(m.inheritFields))
	for name, f := range m.inheritFields {
		out[name] = f.Column
	}
	for name, c := range m.Columns {
		out[name] = c
	}
	return out, nil
}

// Triggers returns the stored-compute triggers whose source is model,
// sorted by priority.
func (r *Registry) Triggers(model string) []*StoreTrigger {
	return r.triggers[model]
}

// ReferencesTo returns the many2one columns of every model pointing at target.
func (r *Registry) ReferencesTo(target string) []ColumnRef {
	var out []ColumnRef
	for _, name := range r.order {
		m := r.models[name]
		for _, cname := range m.columnOrder {
			c := m.Columns[cname]
			if c.Kind == KindMany2One && c.Relation == target {
				out = append(out, ColumnRef{Model: m, Column: c})
			}
		}
	}
	return out
}

// Children returns the models delegating to parent.
func (r *Registry) Children(parent string) []*Model {
	var out []*Model
	for _, name := range r.order {
		m := r.models[name]
		if _, ok := m.LinkField(parent); ok {
			out = append(out, m)
		}
	}
	return out
}

// String summarizes the registry for debugging.
func (r *Registry) String() string {
	return fmt.Sprintf("Registry{models: %d, finalized: %v}", len(r.order), r.finalized)
}
