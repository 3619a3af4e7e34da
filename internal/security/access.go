package security

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v3"
	casbinmodel "github.com/casbin/casbin/v3/model"
)

// Operation is a CRUD operation checked by the collaborators.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpCreate Operation = "create"
	OpUnlink Operation = "unlink"
)

// Superuser is the principal every checker allows.
const Superuser = "root"

// AccessChecker decides whether principal may perform op on model.
// It returns an AccessError when the operation is denied.
type AccessChecker interface {
	Check(ctx context.Context, principal, model string, op Operation) error
}

// AllowAll permits every operation.
type AllowAll struct{}

// Check implements AccessChecker.
func (AllowAll) Check(context.Context, string, string, Operation) error {
	return nil
}

// rbacModel grants (role, model, operation) triples to roles; "*" matches
// any model or operation.
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// CasbinAccess is an RBAC AccessChecker backed by a casbin enforcer.
type CasbinAccess struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

// NewCasbinAccess creates an empty RBAC checker: nothing is allowed until
// granted, except for the Superuser principal.
func NewCasbinAccess() (*CasbinAccess, error) {
	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	return &CasbinAccess{enforcer: e}, nil
}

// Grant allows role to perform ops on model. Use "*" for any model; no
// ops means every operation.
func (c *CasbinAccess) Grant(role, model string, ops ...Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ops) == 0 {
		_, err := c.enforcer.AddPolicy(role, model, "*")
		return err
	}
	for _, op := range ops {
		if _, err := c.enforcer.AddPolicy(role, model, string(op)); err != nil {
			return err
		}
	}
	return nil
}

// Assign gives principal the role. Roles may also be assigned to roles.
func (c *CasbinAccess) Assign(principal, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.enforcer.AddGroupingPolicy(principal, role)
	return err
}

// Check implements AccessChecker.
func (c *CasbinAccess) Check(_ context.Context, principal, model string, op Operation) error {
	if principal == Superuser {
		return nil
	}
	c.mu.RLock()
	allowed, err := c.enforcer.Enforce(principal, model, string(op))
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("enforce %s %s: %w", op, model, err)
	}
	if !allowed {
		return NewAccessError(principal, model, op)
	}
	return nil
}
