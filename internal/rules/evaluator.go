package rules

import "fmt"

// Eval evaluates node against record (a single Evidence or Finding encoded
// as a map of its fields) and reports whether it matches. A Name
// referencing a field absent from record makes the whole expression false,
// no matter which branch it appears in, never an error.
func Eval(node Node, record map[string]interface{}) bool {
	if !namesPresent(node, record) {
		return false
	}
	return evalBool(node, record)
}

// namesPresent walks the whole expression up front and reports whether
// every Name it references exists in record. This runs before any boolean
// short-circuiting, so a satisfied disjunction branch cannot mask an
// absent name elsewhere in the expression.
func namesPresent(node Node, record map[string]interface{}) bool {
	switch n := node.(type) {
	case And:
		for _, op := range n.Operands {
			if !namesPresent(op, record) {
				return false
			}
		}
		return true
	case Or:
		for _, op := range n.Operands {
			if !namesPresent(op, record) {
				return false
			}
		}
		return true
	case Not:
		return namesPresent(n.Operand, record)
	case Compare:
		return namesPresent(n.Left, record) && namesPresent(n.Right, record)
	case ListLiteral:
		for _, item := range n.Items {
			if !namesPresent(item, record) {
				return false
			}
		}
		return true
	case Name:
		_, present := record[n.Ident]
		return present
	default:
		return true
	}
}

func evalBool(node Node, record map[string]interface{}) bool {
	switch n := node.(type) {
	case And:
		for _, op := range n.Operands {
			if !evalBool(op, record) {
				return false
			}
		}
		return true
	case Or:
		for _, op := range n.Operands {
			if evalBool(op, record) {
				return true
			}
		}
		return false
	case Not:
		return !evalBool(n.Operand, record)
	case Compare:
		return evalCompare(n, record)
	default:
		// A bare Name/Literal used as a boolean is not part of the permitted
		// grammar's top-level forms but is harmless to treat as truthy-check.
		b, isBool := evalValue(node, record).(bool)
		return isBool && b
	}
}

func evalCompare(c Compare, record map[string]interface{}) bool {
	left := evalValue(c.Left, record)

	switch c.Op {
	case OpEq:
		return valuesEqual(left, evalValue(c.Right, record))
	case OpNeq:
		return !valuesEqual(left, evalValue(c.Right, record))
	case OpIn:
		list, isList := c.Right.(ListLiteral)
		if !isList {
			return false
		}
		for _, item := range list.Items {
			if valuesEqual(left, evalValue(item, record)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evalValue(node Node, record map[string]interface{}) interface{} {
	switch n := node.(type) {
	case Literal:
		return n.Value
	case Name:
		return record[n.Ident]
	default:
		return nil
	}
}

func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
