package model

import (
	"time"

	"github.com/roach88/recordkit/internal/domain"
)

// Kind is the closed set of column kinds.
type Kind string

const (
	KindChar      Kind = "char"
	KindText      Kind = "text"
	KindInteger   Kind = "integer"
	KindFloat     Kind = "float"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindDatetime  Kind = "datetime"
	KindSelection Kind = "selection"
	KindMany2One  Kind = "many2one"
	KindOne2Many  Kind = "one2many"
	KindMany2Many Kind = "many2many"
	KindComputed  Kind = "computed"
	KindRelated   Kind = "related"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindChar, KindText, KindInteger, KindFloat, KindBoolean, KindDate, KindDatetime,
		KindSelection, KindMany2One, KindOne2Many, KindMany2Many, KindComputed, KindRelated:
		return true
	}
	return false
}

// Scalar reports whether values of kind k are stored as a single SQL value.
func (k Kind) Scalar() bool {
	switch k {
	case KindChar, KindText, KindInteger, KindFloat, KindBoolean, KindDate, KindDatetime, KindSelection, KindMany2One:
		return true
	}
	return false
}

// OnDelete is the referential action of a many2one.
type OnDelete string

const (
	OnDeleteSetNull  OnDelete = "set null"
	OnDeleteCascade  OnDelete = "cascade"
	OnDeleteRestrict OnDelete = "restrict"
)

// SelectionOption is one allowed value of a selection column.
type SelectionOption struct {
	Value string
	Label string
}

// Trigger declares that writes to Fields of Model require recomputing the
// stored computed column it is attached to. Mapper maps written ids to the
// ids to recompute; nil means identity. Empty Fields means any field.
type Trigger struct {
	Model    string
	Fields   []string
	Mapper   MapperFunc
	Priority int
}

// Column is a typed field descriptor.
type Column struct {
	Name      string
	Kind      Kind
	Label     string
	Required  bool
	Readonly  bool
	Translate bool
	Index     bool
	NoCopy    bool

	// Size truncates char values when positive.
	Size int

	Selection []SelectionOption

	// Default is a static default; DefaultFunc wins when both are set.
	Default     any
	DefaultFunc DefaultFunc

	// Relation is the comodel of relational columns and of computed or
	// related columns whose value is a record.
	Relation string

	// InverseName is the many2one on the comodel backing a one2many.
	InverseName string

	// RelTable, Column1 and Column2 describe a many2many relation table:
	// Column1 references this model, Column2 the comodel.
	RelTable string
	Column1  string
	Column2  string

	OnDelete OnDelete

	// Domain restricts the comodel records a relational column reads.
	Domain domain.Domain

	// Type is the value kind of computed and related columns.
	Type Kind

	Compute ComputeFunc
	Inverse InverseFunc
	Search  SearchFunc
	Store   bool
	Multi   string

	// Triggers lists the (model, fields) whose writes require a recompute.
	// A stored column without triggers is recomputed on any write to its own model.
	Triggers []Trigger

	// Priority orders deferred setters and recomputations, ascending.
	Priority int

	// Horizon keeps a stored value fresh for this long after the row's
	// last write; zero recomputes every time.
	Horizon time.Duration

	// Related is the dotted path of a related column.
	Related []string

	// Magic marks columns the registry adds to every model.
	Magic bool
}

// ValueKind returns the kind of the values the column holds.
func (c *Column) ValueKind() Kind {
	if (c.Kind == KindComputed || c.Kind == KindRelated) && c.Type != "" {
		return c.Type
	}
	return c.Kind
}

// Derived reports whether the column is computed or related.
func (c *Column) Derived() bool {
	return c.Kind == KindComputed || c.Kind == KindRelated
}

// Classic reports whether the column is a scalar stored directly in the table.
func (c *Column) Classic() bool {
	return !c.Derived() && c.Kind.Scalar()
}

// Stored reports whether the column has a backing table column.
func (c *Column) Stored() bool {
	if c.Derived() {
		return c.Store && c.ValueKind().Scalar()
	}
	return c.Kind.Scalar()
}

// Prefetchable reports whether reading the column can be batched with the
// other table columns.
func (c *Column) Prefetchable() bool {
	return c.Stored()
}

// Relational reports whether the column's values are records.
func (c *Column) Relational() bool {
	switch c.ValueKind() {
	case KindMany2One, KindOne2Many, KindMany2Many:
		return true
	}
	return false
}

// ToMany reports whether the column's values are lists of records.
func (c *Column) ToMany() bool {
	k := c.ValueKind()
	return k == KindOne2Many || k == KindMany2Many
}

// HasOption reports whether v is an allowed selection value.
func (c *Column) HasOption(v string) bool {
	for _, o := range c.Selection {
		if o.Value == v {
			return true
		}
	}
	return false
}
