package tentative

import (
	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/tlstore"
	"github.com/sirkon/tentload/internal/values"
)

// analyse classifies a read and applies the effect of the instruction to
// the store of its block. Reads the first pass over a loop found tentative
// keep their state and leave the store as it is.
func (a *Analysis) analyse(inst *ctxtree.Instruction, disabled, second bool) {
	if a.reads(inst) {
		if second && inst.ThreadLocal == ctxtree.MustCheck {
			return
		}

		inst.ThreadLocal = a.shouldCheckLoad(inst)
		if inst.ThreadLocal == ctxtree.MustCheck {
			inst.Ctx().TL().ReadsTentativeData = true
		}
	}

	a.updateStore(inst, !disabled)
}

// reads tells the instruction reads memory other threads may write.
func (a *Analysis) reads(inst *ctxtree.Instruction) bool {
	return inst.I().Op == ir.OpLoad || isCopy(inst)
}

// isCopy tells the instruction copies memory, reallocations included.
func isCopy(inst *ctxtree.Instruction) bool {
	switch inst.I().Op {
	case ir.OpMemCopy:
		return true
	case ir.OpCall:
		fn, ok := inst.Special()
		return ok && fn.Kind == specials.KindRealloc
	default:
		return false
	}
}

// copyLen is the number of bytes the copy carries when it is known.
func copyLen(inst *ctxtree.Instruction) (uint64, bool) {
	if inst.I().Op == ir.OpMemCopy {
		return values.ConstantInt(inst.Operand(2).Values())
	}

	fn, ok := inst.Special()
	if !ok || fn.SizeArg >= inst.I().NumCallArgs() {
		return 0, false
	}
	n, ok := values.ConstantInt(inst.CallArg(fn.SizeArg).Values())
	if !ok {
		return 0, false
	}

	return fn.Bytes(n), true
}

// updateStore marks bytes the instruction writes as safe and forgets
// everything at yield points.
func (a *Analysis) updateStore(inst *ctxtree.Instruction, enabled bool) {
	rec := inst.Parent
	i := inst.I()

	switch i.Op {
	case ir.OpAlloc:
		alloc := inst.Alloc()
		a.markGoodBytes(rec, values.PointerTo(values.Target{Alloc: alloc}), alloc.StoreSize, enabled, 0)
	case ir.OpLoad:
		if i.Volatile && !a.reg.SingleThreaded() && !a.opts.SimpleVolatileLoads {
			clobberAll(rec)
			return
		}
		a.markGoodBytes(rec, inst.Operand(0).Values(), i.Size, enabled, 0)
	case ir.OpStore:
		a.markGoodBytes(rec, inst.Operand(1).Values(), i.Size, enabled, 0)
	case ir.OpMemSet:
		if n, ok := values.ConstantInt(inst.Operand(2).Values()); ok {
			a.markGoodBytes(rec, inst.Operand(0).Values(), n, enabled, 0)
		}
	case ir.OpMemCopy:
		if n, ok := copyLen(inst); ok {
			a.walkCopy(rec, inst.Operand(1).Values(), inst.Operand(0).Values(), n, enabled)
		}
	case ir.OpCall:
		a.updateCall(inst, enabled)
	}
}

func (a *Analysis) updateCall(inst *ctxtree.Instruction, enabled bool) {
	rec := inst.Parent
	fn, special := inst.Special()

	if special {
		switch fn.Kind {
		case specials.KindRealloc:
			to := values.PointerTo(values.Target{Alloc: inst.Alloc()})
			n, ok := copyLen(inst)
			if ok && fn.PtrArg < inst.I().NumCallArgs() {
				a.walkCopy(rec, inst.CallArg(fn.PtrArg).Values(), to, n, enabled)
			}
			fallthrough
		case specials.KindMalloc:
			alloc := inst.Alloc()
			a.markGoodBytes(rec, values.PointerTo(values.Target{Alloc: alloc}), alloc.StoreSize, enabled, 0)
			return
		case specials.KindReadFile:
			// The result is the number of bytes read.
			n, ok := values.ConstantInt(inst.PB)
			if ok && fn.PtrArg < inst.I().NumCallArgs() {
				a.markGoodBytes(rec, inst.CallArg(fn.PtrArg).Values(), n, enabled, 0)
			}
			return
		}
	}

	callee := inst.I().StaticCallee()
	name := ""
	if callee != nil {
		name = callee.Name
	}
	if !(callee == nil && !a.reg.SingleThreaded()) && !a.reg.IsYield(name) {
		return
	}

	site := a.site(inst)
	if a.reg.IsPessimisticLock(site) {
		return
	}

	domains, ok := a.reg.LockDomains(site, name)
	if !ok {
		clobberAll(rec)
		return
	}

	for _, d := range domains {
		g := a.session.GlobalByName(d)
		if g == nil || g.Alloc == nil {
			continue
		}
		rec.TLStore = rec.TLStore.Writable()
		rec.TLStore.Put(g.Alloc, tlstore.HeapFrame, tlstore.Bytes{})
	}
}

func (a *Analysis) site(inst *ctxtree.Instruction) specials.Site {
	return specials.Site{
		Function: inst.Ctx().Invar().F.Name,
		Block:    inst.Parent.Invar.BB.Name,
		Index:    int(inst.Invar.Idx),
	}
}

func clobberAll(rec *ctxtree.Block) {
	rec.TLStore = rec.TLStore.Writable()
	rec.TLStore.ClobberAll()
}

// walkCopy marks both the destination and the source of a copy with a
// known length. The source is left as it was read, the destination now
// holds what the specialized thread wrote.
func (a *Analysis) walkCopy(rec *ctxtree.Block, from, to values.Set, size uint64, enabled bool) {
	a.markGoodBytes(rec, to, size, enabled, 0)
	a.markGoodBytes(rec, from, size, enabled, 0)
}

// markGoodBytes adds bytes [off, off+size) of the object the pointer refers
// to, shifted by offset, to the safe ones. Nothing is marked unless the
// object is unique and the store knows nothing of other objects.
func (a *Analysis) markGoodBytes(rec *ctxtree.Block, ptr values.Set, size uint64, enabled bool, offset uint64) {
	if !enabled || !rec.TLStore.AllOthersClobbered() {
		return
	}

	p, ok := values.UniquePointer(ptr)
	if !ok || p.Base.NullOrConst() || p.Base.Alloc == nil {
		return
	}

	start := p.Offset + int64(offset)
	alloc := p.Base.Alloc
	if start < 0 || !inStore(rec.TLStore, alloc) {
		return
	}

	lo, hi := uint64(start), uint64(start)+size
	set, _ := rec.TLStore.Readable(alloc, alloc.Frame)
	if set.Covers(lo, hi) {
		return
	}

	rec.TLStore = rec.TLStore.Writable()
	rec.TLStore.Put(alloc, alloc.Frame, set.Add(lo, hi))
}

// inStore tells the frame of the object is open in the store.
func inStore(s *ctxtree.Store, alloc *shadow.Alloc) bool {
	return alloc.Frame == tlstore.HeapFrame || (alloc.Frame >= 0 && alloc.Frame < s.Depth())
}

// pathTarget resolves the object of a path condition, nil when there is none.
func pathTarget(s *shadow.Session, root *ctxtree.InlineAttempt, global string, param int) values.Set {
	if global != "" {
		g := s.GlobalByName(global)
		if g == nil {
			return nil
		}
		return values.PointerTo(values.Target{Alloc: g.Alloc, Global: g})
	}

	if param < 0 || param >= len(root.Args) {
		return nil
	}

	return root.Args[param].Values()
}
