package tentative

import (
	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/values"
)

// shouldCheckLoad classifies a read against the store of its block.
func (a *Analysis) shouldCheckLoad(inst *ctxtree.Instruction) ctxtree.ThreadLocalState {
	if a.reg.SingleThreaded() {
		return ctxtree.NeverCheck
	}

	switch inst.I().Op {
	case ir.OpLoad:
		// Nothing is assumed about the result, there is nothing to check.
		if s, ok := inst.PB.(*values.Single); ok && s.WhollyUnknown() {
			return ctxtree.NeverCheck
		}

		ptr, ok := inst.Operand(0).Values().(*values.Single)
		if !ok || ptr.WhollyUnknown() || ptr.Kind != values.KindPointer {
			return ctxtree.NeverCheck
		}

		res := ctxtree.NeverCheck
		for _, v := range ptr.Values {
			res = min(res, a.shouldCheckLoadFrom(inst, v))
			if res == ctxtree.MustCheck {
				break
			}
		}
		return res
	case ir.OpMemCopy:
		return a.shouldCheckCopy(inst, inst.Operand(1))
	case ir.OpCall:
		fn, ok := inst.Special()
		if !ok || fn.Kind != specials.KindRealloc || fn.PtrArg >= inst.I().NumCallArgs() {
			return ctxtree.NeverCheck
		}
		return a.shouldCheckCopy(inst, inst.CallArg(fn.PtrArg))
	default:
		return ctxtree.NeverCheck
	}
}

// shouldCheckLoadFrom classifies a load through one pointer candidate.
// Multi-range results are checked per known range.
func (a *Analysis) shouldCheckLoadFrom(inst *ctxtree.Instruction, p values.Improved) ctxtree.ThreadLocalState {
	if p.Base.NullOrConst() {
		return ctxtree.NeverCheck
	}

	if m, ok := inst.PB.(*values.Multi); ok {
		for _, r := range m.Ranges {
			if r.Val.WhollyUnknown() {
				continue
			}
			if a.shouldCheckRead(inst.Parent, shift(p, r.Start), r.Stop-r.Start) {
				return ctxtree.MustCheck
			}
		}
		return ctxtree.NoCheck
	}

	if a.shouldCheckRead(inst.Parent, p, inst.I().Size) {
		return ctxtree.MustCheck
	}

	return ctxtree.NoCheck
}

// shouldCheckCopy classifies a copy from the source by the values it carried.
func (a *Analysis) shouldCheckCopy(inst *ctxtree.Instruction, src ctxtree.Operand) ctxtree.ThreadLocalState {
	n, ok := copyLen(inst)
	if !ok || n == 0 {
		return ctxtree.NeverCheck
	}

	p, ok := values.UniquePointer(src.Values())
	if !ok || len(inst.CopyValues) == 0 {
		return ctxtree.NeverCheck
	}

	for _, r := range inst.CopyValues {
		if r.Val.WhollyUnknown() {
			continue
		}
		if a.shouldCheckRead(inst.Parent, shift(p, r.Start), r.Stop-r.Start) {
			return ctxtree.MustCheck
		}
	}

	return ctxtree.NoCheck
}

// shouldCheckRead tells bytes [p, p+size) are not known to be safe.
func (a *Analysis) shouldCheckRead(rec *ctxtree.Block, p values.Improved, size uint64) bool {
	if p.Base.NullOrConst() {
		return false
	}

	store := rec.TLStore
	alloc := p.Base.Alloc
	if alloc == nil || !inStore(store, alloc) {
		return store.AllOthersClobbered()
	}

	set, ok := store.Readable(alloc, alloc.Frame)
	if !ok {
		return store.AllOthersClobbered()
	}
	if p.Offset < 0 {
		return true
	}

	off := uint64(p.Offset)
	return !set.Covers(off, off+size)
}

func shift(p values.Improved, by uint64) values.Improved {
	p.Offset += int64(by)
	return p
}
