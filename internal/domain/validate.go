package domain

// Validate checks the structure of d.
//
// Every leaf must use a known operator and every operator must find enough
// operands. Scanning right to left, leaves push one value, "!" keeps the
// count and "&"/"|" pop two and push one. Several values left at the end
// are fine: they are joined by implicit AND. Internal operators are only
// accepted when internal is true.
func Validate(d Domain, internal bool) error {
	stack := 0
	for i := len(d) - 1; i >= 0; i-- {
		switch t := d[i].(type) {
		case Leaf:
			if t.Field == "" {
				return NewSyntaxError(i, "leaf has an empty field")
			}
			if !IsOperator(t.Op, internal) {
				return NewSyntaxError(i, "invalid operator %q", t.Op)
			}
			if err := checkValue(i, t); err != nil {
				return err
			}
			stack++
		case Operator:
			switch t {
			case And, Or, Not:
			default:
				return NewSyntaxError(i, "invalid logical operator %q", string(t))
			}
			if stack < t.Arity() {
				return NewSyntaxError(i, "operator %q is missing operands", string(t))
			}
			stack -= t.Arity() - 1
		case nil:
			return NewSyntaxError(i, "nil term")
		default:
			return NewSyntaxError(i, "unexpected term %T", t)
		}
	}
	return nil
}

func checkValue(i int, l Leaf) error {
	switch l.Op {
	case OpIn, OpNotIn:
		if _, ok := l.Value.([]any); !ok {
			return NewSyntaxError(i, "operator %q on %q needs a list value", l.Op, l.Field)
		}
	case OpInSelect, OpNotInSelect:
		if _, ok := l.Value.(SubSelect); !ok {
			return NewSyntaxError(i, "operator %q needs a sub-select", l.Op)
		}
	}
	return nil
}
