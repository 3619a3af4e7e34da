package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CheckFunc validates records in code; it returns false when the constraint fails.
type CheckFunc func(ctx context.Context, env Env, ids []int64) (bool, error)

// Constraint is a business rule checked after create and write.
//
// Expr is a CEL expression over the variable "record", a map of the
// record's Fields (plus "id"):
//
//	record.age >= 0 && record.age < 150
//
// Check is used instead of Expr when set.
type Constraint struct {
	Name    string
	Fields  []string
	Message string
	Expr    string
	Check   CheckFunc

	program cel.Program
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func constraintEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

func (c *Constraint) compile() error {
	if c.Check != nil {
		return nil
	}
	if c.Expr == "" {
		return fmt.Errorf("needs an expression or a check function")
	}
	env, err := constraintEnv()
	if err != nil {
		return err
	}
	ast, issues := env.Compile(c.Expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %s", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("program construction error: %s", err)
	}
	c.program = prg
	return nil
}

// Eval evaluates the CEL expression against one record.
func (c *Constraint) Eval(record map[string]any) (bool, error) {
	if c.program == nil {
		if err := c.compile(); err != nil {
			return false, err
		}
	}
	out, _, err := c.program.Eval(map[string]any{"record": record})
	if err != nil {
		return false, fmt.Errorf("constraint %s: eval error: %s", c.Name, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("constraint %s: must return boolean", c.Name)
	}
	return ok, nil
}

// Watches reports whether writing fields requires re-checking c.
// Constraints without Fields are always re-checked.
func (c *Constraint) Watches(fields []string) bool {
	if len(c.Fields) == 0 || fields == nil {
		return true
	}
	for _, f := range fields {
		for _, cf := range c.Fields {
			if f == cf {
				return true
			}
		}
	}
	return false
}
