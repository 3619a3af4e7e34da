// Package domain defines the prefix-notation filter language.
//
// A Domain is a flat sequence of Terms. Each Term is either an Operator
// ("&", "|", "!") or a Leaf (field, operator, value). Operators are prefix:
// "&" and "|" consume the two terms that follow them, "!" consumes one.
// Adjacent top-level terms are implicitly AND-ed.
//
//	["&", ["age", ">=", 18], ["age", "<", 65]]
//	[["name", "ilike", "ann"], "|", ["city", "=", "Paris"], ["city", "=", "Lyon"]]
package domain
