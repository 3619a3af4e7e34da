// Package model is the metadata registry: the single source of truth for
// field classification, delegated inheritance and virtual dispatch.
//
// Models are registered once, then the registry is finalized:
//
//	reg := model.NewRegistry()
//	reg.Register(&model.Model{Name: "res.partner", Columns: ...})
//	reg.Register(&model.Model{Name: "res.users", Inherits: []model.Delegation{{Parent: "res.partner", Field: "partner_id"}}})
//	err := reg.Finalize()
//
// Finalize computes every derived table up front (inherited field maps,
// virtual field sets, stored-compute triggers) so that lookups at request
// time never re-derive them.
//
// # Field Kinds
//
// Column kinds form a closed set (see Kind). Classic kinds and many2one are
// stored in the model's own table. one2many and many2many are stored on the
// other side or in a relation table. Computed and related columns are derived
// and optionally stored.
//
// # Definitions
//
// Models can be declared in YAML (validated against a JSON schema) or CUE and
// turned into a registry with Build. Named functions (computes, searches,
// mappers, default providers) are looked up in a Funcs table.
package model
