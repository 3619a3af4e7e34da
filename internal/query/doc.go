// Package query accumulates the pieces of a single SELECT statement.
//
// A Query collects three things while a domain is compiled and ordering is
// resolved:
//
//   - Tables: the quoted tables of the FROM list, in insertion order
//   - Where clauses: SQL fragments combined with AND, each with its params
//   - Outer joins: LEFT OUTER JOIN chains hanging off a FROM table
//
// Implicit (inner) joins are expressed the classic way: the joined table is
// added to the FROM list and the equality goes into the WHERE clauses.
//
// Rendering:
//
//	from, where, params := q.SQL()
//	// from:   "res_partner" LEFT OUTER JOIN "res_country" AS "res_partner__country_id" ON (...), "res_users"
//	// where:  ("res_users"."partner_id" = "res_partner"."id") AND (...)
//
// CRITICAL: All values are parameterized, never interpolated. Output is
// deterministic: identical call sequences yield byte-identical SQL.
package query
