// Package orm is the CRUD pipeline of recordkit.
//
// An Env binds a model registry to one store transaction together with the
// collaborators every operation consults: the access checker, the row-level
// rule provider, the translation store and the hook dispatcher. All reads
// and writes of a transaction go through its Env, which also owns the
// transaction's browse cache.
//
// Create, Write and Unlink run inside a savepoint. A failing operation,
// including a failed constraint, rolls back to it and leaves the
// transaction usable; nothing of the operation is kept. Stored computed
// columns depending on the written fields are recomputed before the
// savepoint is released, in ascending trigger priority.
//
// Hierarchical models with ParentStore keep parent_left and parent_right
// consistent across every mutation:
//
//	create   splice the node in after its preceding sibling
//	write    relocate moved subtrees as blocks
//	unlink   close the gaps left by deleted subtrees
package orm
