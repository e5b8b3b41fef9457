package expressions

import (
	"fmt"

	"github.com/rendis/assertflow/pkg/schema"
)

// evaluator walks a parsed native condition against a set of variables.
// It never mutates vars.
type evaluator struct {
	vars Vars
}

func (e *evaluator) evalBool(n node) (bool, error) {
	v, err := e.eval(n)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, schema.TypeMismatch("expected boolean at position %d, got %s", n.position(), typeName(v))
	}
	return b, nil
}

func (e *evaluator) eval(n node) (any, error) {
	switch v := n.(type) {
	case *literalNode:
		return v.value, nil
	case *identNode:
		val, ok := e.vars.Lookup(v.name)
		if !ok {
			return nil, schema.UnboundVariable(v.name)
		}
		return val, nil
	case *notNode:
		b, err := e.evalBool(v.operand)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case *negNode:
		val, err := e.eval(v.operand)
		if err != nil {
			return nil, err
		}
		f, ok := val.(float64)
		if !ok {
			return nil, schema.TypeMismatch("cannot negate %s at position %d", typeName(val), v.at)
		}
		return -f, nil
	case *logicalNode:
		left, err := e.evalBool(v.left)
		if err != nil {
			return nil, err
		}
		// Short-circuit: the right operand is not evaluated once the result is known.
		if v.op == tokAnd && !left {
			return false, nil
		}
		if v.op == tokOr && left {
			return true, nil
		}
		return e.evalBool(v.right)
	case *compareNode:
		left, err := e.eval(v.left)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(v.right)
		if err != nil {
			return nil, err
		}
		return compare(v.op, left, right, v.at)
	default:
		return nil, fmt.Errorf("unknown node type %T", n)
	}
}

func compare(op tokenKind, left, right any, at int) (bool, error) {
	switch op {
	case tokEq, tokNe:
		if typeName(left) != typeName(right) {
			return false, schema.TypeMismatch("cannot compare %s %s %s at position %d",
				typeName(left), op, typeName(right), at)
		}
		equal := left == right
		if op == tokNe {
			return !equal, nil
		}
		return equal, nil
	}

	var cmp int
	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		if !ok {
			return false, schema.TypeMismatch("cannot compare number %s %s at position %d", op, typeName(right), at)
		}
		cmp = compareOrdered(l, r)
	case string:
		r, ok := right.(string)
		if !ok {
			return false, schema.TypeMismatch("cannot compare string %s %s at position %d", op, typeName(right), at)
		}
		cmp = compareOrdered(l, r)
	default:
		return false, schema.TypeMismatch("operator %s is not defined for %s at position %d", op, typeName(left), at)
	}

	switch op {
	case tokLt:
		return cmp < 0, nil
	case tokLe:
		return cmp <= 0, nil
	case tokGt:
		return cmp > 0, nil
	case tokGe:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unknown comparison operator %s", op)
	}
}

func compareOrdered[T float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
