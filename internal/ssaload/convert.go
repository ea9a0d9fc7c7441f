package ssaload

import (
	"fmt"
	"go/token"
	"go/types"
	"strconv"

	"golang.org/x/tools/go/ssa"

	"github.com/sirkon/tentload/internal/ir"
)

type converter struct {
	l  *Loader
	fn *ssa.Function
	f  *ir.Function

	blocks map[*ssa.BasicBlock]*ir.Block
	params map[ssa.Value]*ir.Param
	insts  map[ssa.Value]*ir.Instruction
}

func (l *Loader) convert(fn *ssa.Function, f *ir.Function) error {
	if fn.Signature.TypeParams().Len() > 0 || fn.Signature.RecvTypeParams().Len() > 0 {
		return ErrGeneric
	}
	if len(fn.Blocks) == 0 {
		return ErrNoBody
	}

	c := &converter{
		l:      l,
		fn:     fn,
		f:      f,
		blocks: make(map[*ssa.BasicBlock]*ir.Block, len(fn.Blocks)),
		params: map[ssa.Value]*ir.Param{},
		insts:  map[ssa.Value]*ir.Instruction{},
	}

	f.Params = nil
	for _, p := range fn.Params {
		c.param(p, p.Name(), p.Type())
	}
	for _, fv := range fn.FreeVars {
		c.param(fv, fv.Name(), fv.Type())
	}

	// Placeholders first, operands may refer to values of any block.
	f.Blocks = nil
	for _, b := range fn.Blocks {
		blk := &ir.Block{Name: strconv.Itoa(b.Index) + "." + b.Comment, Func: f}
		f.Blocks = append(f.Blocks, blk)
		c.blocks[b] = blk
		for _, in := range b.Instrs {
			if v, ok := in.(ssa.Value); ok {
				inst := &ir.Instruction{Block: blk}
				c.insts[v] = inst
				if isPointer(v.Type()) {
					l.pointers[inst] = struct{}{}
				}
			}
		}
	}

	for _, b := range fn.Blocks {
		blk := c.blocks[b]
		for _, in := range b.Instrs {
			if inst := c.instr(in); inst != nil {
				inst.Block = blk
				blk.Instrs = append(blk.Instrs, inst)
			}
		}
		if blk.Terminator() == nil {
			return fmt.Errorf("block %s has no terminator", blk.Name)
		}
	}

	return shape(f)
}

func (c *converter) param(v ssa.Value, name string, t types.Type) {
	p := &ir.Param{
		Name:    name,
		Index:   len(c.f.Params),
		Func:    c.f,
		Pointer: isPointer(t),
	}
	c.f.Params = append(c.f.Params, p)
	c.params[v] = p
}

func (c *converter) value(v ssa.Value) ir.Value {
	switch x := v.(type) {
	case *ssa.Const:
		return c.l.constant(x)
	case *ssa.Global:
		return c.l.Global(x)
	case *ssa.Function:
		return c.l.declare(x)
	case *ssa.Builtin:
		return &ir.ConstOther{Text: x.Name()}
	case *ssa.Parameter, *ssa.FreeVar:
		return c.params[v]
	}

	if inst, ok := c.insts[v]; ok {
		return inst
	}

	return &ir.ConstOther{Text: v.Name()}
}

func (c *converter) values(vs []ssa.Value) []ir.Value {
	res := make([]ir.Value, 0, len(vs))
	for _, v := range vs {
		res = append(res, c.value(v))
	}

	return res
}

func (c *converter) operands(in ssa.Instruction) []ir.Value {
	var res []ir.Value
	for _, op := range in.Operands(nil) {
		if *op != nil {
			res = append(res, c.value(*op))
		}
	}

	return res
}

// instr fills the record of the instruction. Nil means the instruction
// has no counterpart.
func (c *converter) instr(in ssa.Instruction) *ir.Instruction {
	res, ok := c.insts[valueOf(in)]
	if !ok {
		res = &ir.Instruction{}
	} else if named(in) {
		res.Name = valueOf(in).Name()
	}
	res.Pos = in.Pos()

	switch in := in.(type) {
	case *ssa.DebugRef:
		return nil

	case *ssa.Alloc:
		size := c.l.elemSize(in.Type())
		if in.Heap {
			c.runtime(res, "runtime.newobject", ir.Int(64, size))
			break
		}
		res.Op = ir.OpAlloc
		res.Size = size

	case *ssa.UnOp:
		switch in.Op {
		case token.MUL:
			res.Op = ir.OpLoad
			res.Operands = []ir.Value{c.value(in.X)}
			res.Size = c.l.sizeof(in.Type())
		case token.ARROW:
			name := "runtime.chanrecv1"
			if in.CommaOk {
				name = "runtime.chanrecv2"
			}
			c.runtime(res, name, c.value(in.X))
		default:
			res.Op = ir.OpOther
			res.Operator = in.Op
			res.Operands = []ir.Value{c.value(in.X)}
		}

	case *ssa.Store:
		res.Op = ir.OpStore
		res.Operands = []ir.Value{c.value(in.Val), c.value(in.Addr)}
		res.Size = c.l.sizeof(in.Val.Type())

	case *ssa.BinOp:
		res.Op = ir.OpBinary
		switch in.Op {
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
			res.Op = ir.OpCompare
		}
		res.Operator = in.Op
		res.Operands = []ir.Value{c.value(in.X), c.value(in.Y)}

	case *ssa.FieldAddr:
		off, ok := c.l.fieldOffset(in.X.Type(), in.Field)
		if !ok {
			c.opaque(res, in)
			break
		}
		res.Op = ir.OpPtrAdd
		res.Operands = []ir.Value{c.value(in.X)}
		res.Offset = off

	case *ssa.IndexAddr:
		off, ok := c.indexOffset(in)
		if !ok {
			c.opaque(res, in)
			break
		}
		res.Op = ir.OpPtrAdd
		res.Operands = []ir.Value{c.value(in.X)}
		res.Offset = off

	case *ssa.Phi:
		res.Op = ir.OpPhi
		res.Operands = c.values(in.Edges)
		for _, p := range in.Block().Preds {
			res.Incoming = append(res.Incoming, c.blocks[p])
		}

	case *ssa.Call:
		c.call(res, in.Common())

	case *ssa.Go:
		c.runtime(res, "runtime.newproc", c.value(in.Call.Value))

	case *ssa.Send:
		c.runtime(res, "runtime.chansend1", c.value(in.Chan), c.value(in.X))

	case *ssa.Select:
		c.runtime(res, "runtime.selectgo", c.operands(in)...)

	case *ssa.MapUpdate:
		c.runtime(res, "runtime.mapassign", c.value(in.Map), c.value(in.Key), c.value(in.Value))

	case *ssa.RunDefers:
		// Deferred calls are not resolved.
		res.Op = ir.OpCall
		res.Operands = []ir.Value{&ir.ConstOther{Text: "rundefers"}}

	case *ssa.Defer:
		res.Op = ir.OpOther
		res.Operands = c.operands(in)

	case *ssa.If:
		succs := in.Block().Succs
		res.Op = ir.OpBranch
		res.Operands = []ir.Value{c.value(in.Cond), c.blocks[succs[0]], c.blocks[succs[1]]}

	case *ssa.Jump:
		res.Op = ir.OpBranch
		res.Operands = []ir.Value{c.blocks[in.Block().Succs[0]]}

	case *ssa.Return:
		res.Op = ir.OpReturn
		res.Operands = c.values(in.Results)

	case *ssa.Panic:
		res.Op = ir.OpUnreachable

	default:
		if _, ok := in.(ssa.Value); !ok {
			c.l.unsupported(fmt.Sprintf("%T", in), in.Pos())
		}
		c.opaque(res, in)
	}

	return res
}

func (c *converter) opaque(res *ir.Instruction, in ssa.Instruction) {
	res.Op = ir.OpOther
	res.Operands = c.operands(in)
}

func (c *converter) runtime(res *ir.Instruction, name string, args ...ir.Value) {
	res.Op = ir.OpCall
	res.Operands = append([]ir.Value{c.l.external(name)}, args...)
}

func (c *converter) call(res *ir.Instruction, call *ssa.CallCommon) {
	args := c.values(call.Args)

	if call.IsInvoke() {
		// Interface method calls go through the receiver's method table.
		res.Op = ir.OpCall
		res.Operands = append([]ir.Value{c.value(call.Value)}, args...)
		return
	}

	if b, ok := call.Value.(*ssa.Builtin); ok {
		res.Op = ir.OpOther
		res.Operands = append([]ir.Value{&ir.ConstOther{Text: b.Name()}}, args...)
		return
	}

	var callee ir.Value
	if fn := call.StaticCallee(); fn != nil {
		callee = c.l.declare(fn)
	} else {
		callee = c.value(call.Value)
	}

	res.Op = ir.OpCall
	res.Operands = append([]ir.Value{callee}, args...)
}

// indexOffset of a constant index into an array the address points to.
func (c *converter) indexOffset(in *ssa.IndexAddr) (int64, bool) {
	p, ok := in.X.Type().Underlying().(*types.Pointer)
	if !ok {
		return 0, false
	}
	arr, ok := p.Elem().Underlying().(*types.Array)
	if !ok {
		return 0, false
	}
	idx, ok := in.Index.(*ssa.Const)
	if !ok || idx.Value == nil {
		return 0, false
	}
	k, ok := c.l.constant(idx).(*ir.ConstInt)
	if !ok || k.Value >= uint64(arr.Len()) {
		return 0, false
	}

	return int64(k.Value) * c.l.sizes.Sizeof(arr.Elem()), true
}

func valueOf(in ssa.Instruction) ssa.Value {
	v, _ := in.(ssa.Value)
	return v
}

// named tells the instruction produces something.
func named(in ssa.Instruction) bool {
	v, ok := in.(ssa.Value)
	if !ok {
		return false
	}
	if t, ok := v.Type().(*types.Tuple); ok {
		return t.Len() > 0
	}

	return true
}
