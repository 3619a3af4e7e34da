// Package security holds the access-control and row-level-rule
// collaborators consulted by the ORM.
//
// An AccessChecker answers once per CRUD call whether a principal may
// perform an operation on a model. A RuleProvider contributes extra WHERE
// fragments that restrict the rows an operation sees.
package security
