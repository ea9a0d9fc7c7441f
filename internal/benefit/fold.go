package benefit

import (
	"go/token"

	"github.com/sirkon/tentload/internal/ir"
)

// evaluate folds an instruction over constant operands. It returns nil when
// the result cannot be computed.
func evaluate(i *ir.Instruction, ops []ir.Value) ir.Value {
	switch i.Op {
	case ir.OpBinary:
		x, ok := ops[0].(*ir.ConstInt)
		if !ok {
			return nil
		}
		y, ok := ops[1].(*ir.ConstInt)
		if !ok {
			return nil
		}
		return binary(i.Operator, x, y)
	case ir.OpCompare:
		return compare(i.Operator, ops[0], ops[1])
	default:
		return nil
	}
}

func binary(op token.Token, x, y *ir.ConstInt) ir.Value {
	bits := x.Bits
	if bits > 64 || y.Bits > 64 {
		return nil
	}
	if op != token.SHL && op != token.SHR && x.Bits != y.Bits {
		return nil
	}

	m := mask(bits)
	a, b := x.Value&m, y.Value&mask(y.Bits)

	var v uint64
	switch op {
	case token.ADD:
		v = a + b
	case token.SUB:
		v = a - b
	case token.MUL:
		v = a * b
	case token.AND:
		v = a & b
	case token.OR:
		v = a | b
	case token.XOR:
		v = a ^ b
	case token.AND_NOT:
		v = a &^ b
	case token.SHL:
		if b < uint64(bits) {
			v = a << b
		}
	case token.SHR, token.QUO, token.REM:
		// Signedness is not known, fold only where both readings agree.
		if negative(x) || negative(y) {
			return nil
		}

		switch op {
		case token.SHR:
			if b < uint64(bits) {
				v = a >> b
			}
		case token.QUO:
			if b == 0 {
				return nil
			}
			v = a / b
		default:
			if b == 0 {
				return nil
			}
			v = a % b
		}
	default:
		return nil
	}

	return ir.Int(bits, v&m)
}

func compare(op token.Token, x, y ir.Value) ir.Value {
	switch op {
	case token.EQL, token.NEQ:
		eq, ok := equal(x, y)
		if !ok {
			return nil
		}
		return boolean(eq == (op == token.EQL))
	case token.LSS, token.LEQ, token.GTR, token.GEQ:
		a, ok := x.(*ir.ConstInt)
		if !ok {
			return nil
		}
		b, ok := y.(*ir.ConstInt)
		if !ok || a.Bits != b.Bits || a.Bits > 64 || negative(a) || negative(b) {
			return nil
		}

		m := mask(a.Bits)
		u, v := a.Value&m, b.Value&m
		switch op {
		case token.LSS:
			return boolean(u < v)
		case token.LEQ:
			return boolean(u <= v)
		case token.GTR:
			return boolean(u > v)
		default:
			return boolean(u >= v)
		}
	default:
		return nil
	}
}

// equal compares constants. Constants which cannot be told apart at this
// level are not comparable.
func equal(x, y ir.Value) (bool, bool) {
	switch a := x.(type) {
	case *ir.ConstInt:
		b, ok := y.(*ir.ConstInt)
		if !ok || a.Bits != b.Bits {
			return false, false
		}
		m := mask(a.Bits)
		return a.Value&m == b.Value&m, true
	case *ir.Global:
		switch b := y.(type) {
		case *ir.Global:
			return a == b, true
		default:
			if ir.IsNull(b) {
				return false, true
			}
		}
	case *ir.Function:
		if b, ok := y.(*ir.Function); ok {
			return a == b, true
		}
	default:
		if ir.IsNull(x) {
			if ir.IsNull(y) {
				return true, true
			}
			if _, ok := y.(*ir.Global); ok {
				return false, true
			}
		}
	}

	return false, false
}

// same tells constants are identical.
func same(x, y ir.Value) bool {
	switch a := x.(type) {
	case *ir.ConstInt:
		b, ok := y.(*ir.ConstInt)
		return ok && a.Bits == b.Bits && a.Value&mask(a.Bits) == b.Value&mask(b.Bits)
	case *ir.ConstOther:
		b, ok := y.(*ir.ConstOther)
		return ok && a.Text == b.Text
	default:
		return x == y
	}
}

func boolean(v bool) *ir.ConstInt {
	if v {
		return ir.Int(1, 1)
	}

	return ir.Int(1, 0)
}

func mask(bits int) uint64 {
	if bits <= 0 || bits >= 64 {
		return ^uint64(0)
	}

	return 1<<bits - 1
}

func negative(c *ir.ConstInt) bool {
	if c.Bits <= 0 || c.Bits > 64 {
		return false
	}

	return c.Value>>(c.Bits-1)&1 == 1
}

func hasSideEffects(i *ir.Instruction) bool {
	switch i.Op {
	case ir.OpStore, ir.OpCall, ir.OpMemSet, ir.OpMemCopy, ir.OpAlloc, ir.OpReturn, ir.OpUnreachable:
		return true
	case ir.OpLoad:
		return i.Volatile
	default:
		return false
	}
}

func readsMemory(i *ir.Instruction) bool {
	switch i.Op {
	case ir.OpLoad, ir.OpMemCopy, ir.OpCall:
		return true
	default:
		return false
	}
}
