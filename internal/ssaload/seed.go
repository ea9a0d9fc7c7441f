package ssaload

import (
	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/values"
)

// Seed sets the values of instruction records of the context and all of
// its children. Records must exist, see ctxtree.AssumeAllLive.
func (l *Loader) Seed(ctx ctxtree.Context) {
	start, end := ctx.Blocks()
	for idx := start; idx < end; idx++ {
		if ctx.PeeledFor(idx) != nil {
			continue
		}

		rec, _ := ctx.GetBlock(idx)
		if rec == nil {
			continue
		}
		for _, inst := range rec.Insts {
			inst.PB = l.seed(inst)
		}
	}

	for _, pa := range ctx.PeelChildren() {
		for _, it := range pa.Iterations {
			l.Seed(it)
		}
	}
	for _, ia := range ctx.InlineChildren() {
		l.Seed(ia)
	}
	for _, ia := range ctx.PathChildren() {
		l.Seed(ia)
	}
}

func (l *Loader) seed(inst *ctxtree.Instruction) values.Set {
	i := inst.I()
	switch i.Op {
	case ir.OpAlloc:
		return values.PointerTo(values.Target{Alloc: inst.Alloc()})
	case ir.OpPtrAdd:
		p, ok := values.UniquePointer(inst.Operand(0).Values())
		if !ok {
			return values.Unknown()
		}
		p.Offset += i.Offset
		return values.Pointer(p)
	case ir.OpLoad:
		return l.specialized(i)
	case ir.OpCall:
		if a := inst.Alloc(); a != nil {
			return values.PointerTo(values.Target{Alloc: a})
		}
		if i.Name == "" {
			return nil
		}
		return l.specialized(i)
	default:
		return nil
	}
}

// specialized stands for a value the specializer computed. Addresses stay
// unknown since nothing tells where they point.
func (l *Loader) specialized(i *ir.Instruction) values.Set {
	if l.IsPointer(i) {
		return values.Unknown()
	}

	return values.Scalar(&ir.ConstOther{Text: "specialized"})
}
