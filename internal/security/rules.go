package security

import (
	"context"
	"sync"
)

// Rule is a row-level restriction: SQL fragments ANDed into the WHERE
// clause, their parameters and the extra tables they reference.
type Rule struct {
	Clauses []string
	Params  []any
	Tables  []string
}

// Empty reports whether the rule restricts nothing.
func (r Rule) Empty() bool {
	return len(r.Clauses) == 0
}

// Merge appends other to r.
func (r Rule) Merge(other Rule) Rule {
	return Rule{
		Clauses: append(append([]string{}, r.Clauses...), other.Clauses...),
		Params:  append(append([]any{}, r.Params...), other.Params...),
		Tables:  append(append([]string{}, r.Tables...), other.Tables...),
	}
}

// RuleProvider returns the row-level rule of model for op and principal.
// Clauses reference tables by their quoted names.
type RuleProvider interface {
	RulesFor(ctx context.Context, model string, op Operation, principal string) (Rule, error)
}

// NoRules restricts nothing.
type NoRules struct{}

// RulesFor implements RuleProvider.
func (NoRules) RulesFor(context.Context, string, Operation, string) (Rule, error) {
	return Rule{}, nil
}

// StaticRules is an in-memory RuleProvider. Rules apply to every principal
// except Superuser.
type StaticRules struct {
	mu    sync.RWMutex
	rules map[string]map[Operation][]Rule
}

// NewStaticRules creates an empty rule set.
func NewStaticRules() *StaticRules {
	return &StaticRules{rules: make(map[string]map[Operation][]Rule)}
}

// Add registers rule on model for ops; no ops means every operation.
func (s *StaticRules) Add(model string, rule Rule, ops ...Operation) {
	if len(ops) == 0 {
		ops = []Operation{OpRead, OpWrite, OpCreate, OpUnlink}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byOp := s.rules[model]
	if byOp == nil {
		byOp = make(map[Operation][]Rule)
		s.rules[model] = byOp
	}
	for _, op := range ops {
		byOp[op] = append(byOp[op], rule)
	}
}

// RulesFor implements RuleProvider.
func (s *StaticRules) RulesFor(_ context.Context, model string, op Operation, principal string) (Rule, error) {
	if principal == Superuser {
		return Rule{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out Rule
	for _, r := range s.rules[model][op] {
		out = out.Merge(r)
	}
	return out, nil
}
