package model

import (
	"sort"
	"strings"
)

// Delegation links a model to a delegated parent through a many2one Field.
type Delegation struct {
	Parent string
	Field  string
}

// InheritedField locates a field owned by a transitively delegated parent.
type InheritedField struct {
	// Owner is the model declaring the column.
	Owner string
	// Path is the chain of delegations from the inheriting model to Owner.
	Path   []Delegation
	Column *Column
}

// Model is a named entity mapped onto one table.
type Model struct {
	Name        string
	Table       string
	Description string

	// Order is the default sort order, e.g. "name, id desc".
	Order string

	// RecName is the field used as display name.
	RecName string

	// ParentName is the hierarchy many2one; ParentStore maintains the
	// parent_left/parent_right nested-set columns for it.
	ParentName  string
	ParentStore bool
	ParentOrder string

	// LogAccess adds create_date/write_date.
	LogAccess bool

	Inherits []Delegation

	// Virtuals are fields this model overrides for the parents it delegates to.
	Virtuals []string

	// Fields declares the local columns in order. Register indexes them
	// into Columns and adds the magic columns.
	Fields      []*Column
	Columns     map[string]*Column
	Constraints []*Constraint
	Defaults    DefaultsProvider

	columnOrder   []string
	inheritFields map[string]InheritedField
	vtable        map[string]bool
}

// Magic column names present on every model that opts into them.
const (
	FieldID          = "id"
	FieldCreateDate  = "create_date"
	FieldWriteDate   = "write_date"
	FieldParentLeft  = "parent_left"
	FieldParentRight = "parent_right"
	FieldVPtr        = "_vptr"
	FieldActive      = "active"
)

// Sequence returns the id sequence name of the model.
func (m *Model) Sequence() string {
	return m.Table + "_id_seq"
}

// Column returns a local column.
func (m *Model) Column(name string) (*Column, bool) {
	c, ok := m.Columns[name]
	return c, ok
}

// Inherited returns an inherited field entry.
func (m *Model) Inherited(name string) (InheritedField, bool) {
	f, ok := m.inheritFields[name]
	return f, ok
}

// Field returns a local or inherited column.
func (m *Model) Field(name string) (*Column, bool) {
	if c, ok := m.Columns[name]; ok {
		return c, true
	}
	if f, ok := m.inheritFields[name]; ok {
		return f.Column, true
	}
	return nil, false
}

// HasField reports whether name is a local or inherited field.
func (m *Model) HasField(name string) bool {
	_, ok := m.Field(name)
	return ok
}

// ColumnNames returns the local column names in declaration order.
func (m *Model) ColumnNames() []string {
	out := make([]string, len(m.columnOrder))
	copy(out, m.columnOrder)
	return out
}

// InheritedNames returns the inherited field names, sorted.
func (m *Model) InheritedNames() []string {
	out := make([]string, 0, len(m.inheritFields))
	for name := range m.inheritFields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FieldNames returns local then inherited field names.
func (m *Model) FieldNames() []string {
	return append(m.ColumnNames(), m.InheritedNames()...)
}

// LinkField returns the field delegating to parent.
func (m *Model) LinkField(parent string) (string, bool) {
	for _, d := range m.Inherits {
		if d.Parent == parent {
			return d.Field, true
		}
	}
	return "", false
}

// IsLinkField reports whether name is a delegation link of m.
func (m *Model) IsLinkField(name string) bool {
	for _, d := range m.Inherits {
		if d.Field == name {
			return true
		}
	}
	return false
}

// HasVTable reports whether some fields of m are dispatched to subtypes.
func (m *Model) HasVTable() bool {
	return len(m.vtable) > 0
}

// IsVirtual reports whether reads of name are dispatched to the row's subtype.
func (m *Model) IsVirtual(name string) bool {
	return m.vtable[name]
}

// VirtualFields returns the virtual field set, sorted.
func (m *Model) VirtualFields() []string {
	out := make([]string, 0, len(m.vtable))
	for f := range m.vtable {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HasActive reports whether the model filters inactive records by default.
func (m *Model) HasActive() bool {
	c, ok := m.Columns[FieldActive]
	return ok && c.Kind == KindBoolean
}

// OrderSpec is one parsed element of an order string.
type OrderSpec struct {
	Field string
	Desc  bool
}

// ParseOrder splits "name, id desc" into order elements. Quoted names are
// unquoted. Returns false when an element is malformed.
func ParseOrder(spec string) ([]OrderSpec, bool) {
	var out []OrderSpec
	if strings.TrimSpace(spec) == "" {
		return nil, true
	}
	for _, part := range strings.Split(spec, ",") {
		words := strings.Fields(part)
		if len(words) == 0 || len(words) > 2 {
			return nil, false
		}
		field := strings.Trim(words[0], `"`)
		if !validIdent(field) {
			return nil, false
		}
		o := OrderSpec{Field: field}
		if len(words) == 2 {
			switch strings.ToLower(words[1]) {
			case "asc":
			case "desc":
				o.Desc = true
			default:
				return nil, false
			}
		}
		out = append(out, o)
	}
	return out, true
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case r == '.' && i > 0:
		default:
			return false
		}
	}
	return true
}
