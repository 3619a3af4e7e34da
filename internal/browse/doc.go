// Package browse implements the transaction-scoped record cache.
//
// A Cache owns one value map per (model, id). Records are cheap handles
// into it: every Record for the same (model, id) reads and observes the same
// map. The first read of a missing field triggers one batched fetch of that
// field for every cached id of the model lacking it, together with a
// prefetch set chosen by the cache Policy.
//
// Prefetch modes:
//
//	all     every stored field of the model
//	single  only the field being read
//	fields  the field plus Policy.Fields
//	auto    the field plus the most read fields of the model (see Stats)
//
// Fields declared virtual are dispatched at read time to the subtype named
// by the row's _vptr column.
package browse
