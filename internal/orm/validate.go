package orm

import (
	"context"
	"fmt"

	"github.com/roach88/recordkit/internal/model"
)

// validate runs the constraints of m watching fields on ids. Nil fields
// means every constraint.
func (e *Env) validate(ctx context.Context, m *model.Model, ids []int64, fields []string) error {
	var watching []*model.Constraint
	needRows := false
	for _, c := range m.Constraints {
		if !c.Watches(fields) {
			continue
		}
		watching = append(watching, c)
		if c.Check == nil {
			needRows = true
		}
	}
	if len(watching) == 0 {
		return nil
	}

	var rows []map[string]any
	if needRows {
		var err error
		if rows, err = e.read(ctx, m, ids, storedFieldNames(m)); err != nil {
			return err
		}
	}

	var failures []Failure
	for _, c := range watching {
		ok := true
		if c.Check != nil {
			var err error
			if ok, err = c.Check(ctx, e, ids); err != nil {
				return fmt.Errorf("check %s on %s: %w", c.Name, m.Name, err)
			}
		} else {
			for _, r := range rows {
				passed, err := c.Eval(r)
				if err != nil {
					return err
				}
				if !passed {
					ok = false
					break
				}
			}
		}
		if ok {
			continue
		}
		msg := c.Message
		if msg == "" {
			msg = fmt.Sprintf("constraint %s failed", c.Name)
		}
		field := ""
		if len(c.Fields) > 0 {
			field = c.Fields[0]
		}
		failures = append(failures, Failure{Field: field, Message: msg})
	}
	if len(failures) > 0 {
		e.logger.Debug("constraints failed", "model", m.Name, "ids", ids, "failures", len(failures))
		return newValidationError(m.Name, failures...)
	}
	return nil
}
