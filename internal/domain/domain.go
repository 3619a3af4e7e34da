package domain

import (
	"fmt"
	"strings"
)

// Term is one element of a Domain: an Operator or a Leaf.
type Term interface {
	term()
}

// Operator is a logical prefix operator.
type Operator string

const (
	And Operator = "&"
	Or  Operator = "|"
	Not Operator = "!"
)

func (Operator) term() {}

// Arity returns the number of operands the operator consumes.
func (o Operator) Arity() int {
	if o == Not {
		return 1
	}
	return 2
}

// Comparison operators accepted in leaves.
const (
	OpEq          = "="
	OpNe          = "!="
	OpNeAlt       = "<>"
	OpLt          = "<"
	OpLe          = "<="
	OpGt          = ">"
	OpGe          = ">="
	OpEqMaybe     = "=?"
	OpEqLike      = "=like"
	OpLike        = "like"
	OpNotLike     = "not like"
	OpILike       = "ilike"
	OpNotILike    = "not ilike"
	OpIn          = "in"
	OpNotIn       = "not in"
	OpChildOf     = "child_of"
	OpInSelect    = "inselect"
	OpNotInSelect = "not inselect"
)

var publicOps = map[string]bool{
	OpEq: true, OpNe: true, OpNeAlt: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpEqMaybe: true, OpEqLike: true, OpLike: true, OpNotLike: true, OpILike: true,
	OpNotILike: true, OpIn: true, OpNotIn: true, OpChildOf: true,
}

// IsOperator reports whether op is a valid leaf operator. Internal operators
// (inselect, not inselect) are only accepted when internal is true.
func IsOperator(op string, internal bool) bool {
	if publicOps[op] {
		return true
	}
	return internal && (op == OpInSelect || op == OpNotInSelect)
}

// IsLikeOp reports whether op is one of the pattern-matching operators.
func IsLikeOp(op string) bool {
	switch op {
	case OpLike, OpNotLike, OpILike, OpNotILike, OpEqLike:
		return true
	}
	return false
}

// IsNegative reports whether op excludes rather than selects matches.
func IsNegative(op string) bool {
	switch op {
	case OpNe, OpNeAlt, OpNotLike, OpNotILike, OpNotIn, OpNotInSelect:
		return true
	}
	return false
}

// Leaf is an atomic condition (field, operator, value).
//
// Field may be a dotted path ("partner_id.country_id.code"). Value holds
// one of: nil, bool, int64, float64, string, []any, or SubSelect for the
// internal inselect operators.
type Leaf struct {
	Field string
	Op    string
	Value any
}

func (Leaf) term() {}

// String renders the leaf for logs and error messages.
func (l Leaf) String() string {
	return fmt.Sprintf("(%q, %q, %v)", l.Field, l.Op, l.Value)
}

// SubSelect is the value of an inselect leaf: a complete SELECT returning ids.
type SubSelect struct {
	SQL    string
	Params []any
}

// dummyField marks the placeholder leaves; it never names a real column.
const dummyField = "1"

// Tautology is the always-true placeholder leaf (1, =, 1).
var Tautology = Leaf{Field: dummyField, Op: OpEq, Value: int64(1)}

// Contradiction is the always-false placeholder leaf (1, =, 0).
var Contradiction = Leaf{Field: dummyField, Op: OpEq, Value: int64(0)}

// IsTautology reports whether l is the always-true placeholder.
func (l Leaf) IsTautology() bool {
	return l.Field == dummyField && l.Op == OpEq && l.Value == int64(1)
}

// IsContradiction reports whether l is the always-false placeholder.
func (l Leaf) IsContradiction() bool {
	return l.Field == dummyField && l.Op == OpEq && l.Value == int64(0)
}

// IsDummy reports whether l is one of the placeholder leaves.
func (l Leaf) IsDummy() bool {
	return l.Field == dummyField
}

// Head returns the first segment of a dotted field path.
func (l Leaf) Head() string {
	head, _, _ := strings.Cut(l.Field, ".")
	return head
}

// Tail returns the remainder of a dotted field path after the first segment.
func (l Leaf) Tail() string {
	_, tail, _ := strings.Cut(l.Field, ".")
	return tail
}

// Domain is a prefix-notation filter.
type Domain []Term

// Leaves returns the leaves of d in order.
func (d Domain) Leaves() []Leaf {
	var out []Leaf
	for _, t := range d {
		if l, ok := t.(Leaf); ok {
			out = append(out, l)
		}
	}
	return out
}

// HasField reports whether any leaf filters on field (first path segment).
func (d Domain) HasField(field string) bool {
	for _, l := range d.Leaves() {
		if l.Head() == field {
			return true
		}
	}
	return false
}

// Clone returns a shallow copy of d.
func (d Domain) Clone() Domain {
	if d == nil {
		return nil
	}
	out := make(Domain, len(d))
	copy(out, d)
	return out
}

// String renders d in its JSON form.
func (d Domain) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%#v", []Term(d))
	}
	return string(b)
}

// Normalize makes every implicit AND explicit so that the result reduces to a
// single boolean value. A valid domain is expected; an empty one stays empty.
func Normalize(d Domain) Domain {
	if len(d) == 0 {
		return d
	}
	var out Domain
	expected := 1
	for _, t := range d {
		if expected == 0 {
			out = append(Domain{And}, out...)
			expected = 1
		}
		expected--
		if op, ok := t.(Operator); ok {
			expected += op.Arity()
		}
		out = append(out, t)
	}
	return out
}

// AndDomains combines domains with AND, skipping empty ones.
func AndDomains(domains ...Domain) Domain {
	var parts []Domain
	for _, d := range domains {
		if len(d) > 0 {
			parts = append(parts, Normalize(d))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	var out Domain
	for i := 0; i < len(parts)-1; i++ {
		out = append(out, And)
	}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
