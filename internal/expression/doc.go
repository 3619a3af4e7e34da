// Package expression compiles domains into SQL.
//
// Compilation runs in two passes over the prefix-notation domain.
//
// The rewriting pass walks the leaves left to right and resolves each field
// against the model registry. Fields owned by delegated parents add inner
// joins. Leaves the database cannot evaluate directly are replaced:
//
//   - non-stored computed fields become the domain of their search function,
//     or the always-true placeholder when they have none
//   - one2many and many2many leaves become "id in (...)" over reverse lookups
//   - child_of leaves expand to nested-set interval tests or to the
//     transitive closure of the parent relation
//   - dotted paths through relations search the target model first
//   - translatable fields match either their translation or the stored value
//   - leaves on unknown fields are ignored
//
// The rendering pass walks the rewritten domain right to left with an
// operand stack and produces one WHERE fragment with its parameters.
package expression
