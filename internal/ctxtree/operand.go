package ctxtree

import (
	"fmt"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/values"
)

// OperandKind is the representation of a resolved operand.
type OperandKind int

const (
	// OperandNone is a block operand or an instruction with no record in reach.
	OperandNone OperandKind = iota
	OperandInst
	OperandGlobal
	OperandArg
	OperandInt8
	OperandInt16
	OperandInt32
	OperandInt64

	// OperandIntWide is an integer literal of any other width.
	OperandIntWide

	// OperandConst is any other constant, null and functions included.
	OperandConst
)

var operandKindNames = map[OperandKind]string{
	OperandNone:    "none",
	OperandInst:    "inst",
	OperandGlobal:  "global",
	OperandArg:     "arg",
	OperandInt8:    "i8",
	OperandInt16:   "i16",
	OperandInt32:   "i32",
	OperandInt64:   "i64",
	OperandIntWide: "int",
	OperandConst:   "const",
}

func (k OperandKind) String() string {
	v, ok := operandKindNames[k]
	if !ok {
		return fmt.Sprintf("operand-kind-invalid(%d)", k)
	}

	return v
}

// IsInt tells the operand is an integer literal.
func (k OperandKind) IsInt() bool {
	return k >= OperandInt8 && k <= OperandIntWide
}

// Operand is an instruction operand resolved in a context.
type Operand struct {
	Kind OperandKind

	Inst   *Instruction
	Global *shadow.Global
	Arg    *Arg

	// Int is the value of integer literals truncated to their width.
	Int uint64

	// Const is the literal of integer and other constants.
	Const ir.Value
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandInst:
		return o.Inst.String()
	case OperandGlobal:
		return o.Global.G.String()
	case OperandArg:
		return o.Arg.Invar.P.String()
	case OperandNone:
		return "<none>"
	default:
		return fmt.Sprint(o.Const)
	}
}

// Values returns the abstract value of the operand, nil when nothing is known.
func (o Operand) Values() values.Set {
	switch o.Kind {
	case OperandInst:
		return o.Inst.PB
	case OperandGlobal:
		return values.PointerTo(values.Target{Alloc: o.Global.Alloc, Global: o.Global})
	case OperandArg:
		return o.Arg.Values()
	case OperandConst:
		if ir.IsNull(o.Const) {
			return values.PointerTo(values.Target{Null: true})
		}
		if _, ok := o.Const.(*ir.Function); ok {
			return nil
		}
		return values.Scalar(o.Const)
	case OperandNone:
		return nil
	case OperandIntWide:
		return values.Scalar(o.Const)
	default:
		return values.Scalar(ir.Int(o.Kind.bits(), o.Int))
	}
}

func (k OperandKind) bits() int {
	switch k {
	case OperandInt8:
		return 8
	case OperandInt16:
		return 16
	case OperandInt32:
		return 32
	default:
		return 64
	}
}

func operand(i *Instruction, n int) Operand {
	ref := i.Invar.Operands[n]
	v := i.Invar.I.Operands[n]
	ctx := i.Ctx()

	switch ref.Kind {
	case shadow.RefInst:
		inst := ctx.ResolveInstruction(ref.Block, ref.Inst)
		if inst == nil {
			return Operand{}
		}
		return Operand{Kind: OperandInst, Inst: inst}
	case shadow.RefGlobal:
		return Operand{Kind: OperandGlobal, Global: ctx.Session().GlobalAt(ref.Inst)}
	case shadow.RefArg:
		return Operand{Kind: OperandArg, Arg: ctx.FunctionRoot().Args[ref.Inst]}
	case shadow.RefConst:
		c, ok := v.(*ir.ConstInt)
		if !ok {
			return Operand{Kind: OperandConst, Const: v}
		}
		return intOperand(c)
	default:
		return Operand{}
	}
}

func intOperand(c *ir.ConstInt) Operand {
	switch c.Bits {
	case 8:
		return Operand{Kind: OperandInt8, Int: uint64(uint8(c.Value)), Const: c}
	case 16:
		return Operand{Kind: OperandInt16, Int: uint64(uint16(c.Value)), Const: c}
	case 32:
		return Operand{Kind: OperandInt32, Int: uint64(uint32(c.Value)), Const: c}
	case 64:
		return Operand{Kind: OperandInt64, Int: c.Value, Const: c}
	default:
		return Operand{Kind: OperandIntWide, Int: c.Value, Const: c}
	}
}
