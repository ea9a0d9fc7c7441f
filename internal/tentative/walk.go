package tentative

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/tlstore"
)

// walkInline walks the function of the attempt. The entry record must hold
// the store the attempt is entered with, the root gets a fresh one.
func (a *Analysis) walkInline(ia *ctxtree.InlineAttempt, disabled, second bool) {
	entry, _ := ia.GetBlock(0)
	if entry == nil {
		return
	}

	if ia.Parent() == nil {
		entry.TLStore = tlstore.New[*shadow.Alloc](&a.ledger, a.opts.EntryClobbered)
	}
	if entry.TLStore == nil {
		return
	}

	if ia.PushesFrame() {
		entry.TLStore = entry.TLStore.Writable()
		entry.TLStore.PushFrame(ia.FrameIndex())
	}

	a.walkLoop(ia, nil, nil, disabled, second, false)
}

// walkLoop walks blocks of l kept by the context, l is nil for the whole
// function. Blocks of nested loops are handed to walkChildLoop.
//
// When l is not the context scope it is walked through the unbounded path:
// with latchToHeader the pass feeds the header back and keeps the exits
// closed, otherwise the back edge is closed. Nothing leaves the fence loop
// unless it is nil.
func (a *Analysis) walkLoop(
	ctx ctxtree.Context,
	l *shadow.LoopInvar,
	fence *shadow.LoopInvar,
	disabled bool,
	second bool,
	latchToHeader bool,
) {
	fi := ctx.Invar()
	start, end := ctx.Blocks()
	if l != nil {
		start = l.HeaderIdx
	}

	for i := start; i < end && (l == nil || l.ContainsBlock(i)); i++ {
		bi := fi.BBs[i]
		if bi.NaturalScope != l {
			child := l.ImmediateChild(bi.NaturalScope)
			a.walkChildLoop(ctx, child, fence, disabled, second)
			i = child.HeaderIdx + child.NBlocks - 1
			continue
		}

		rec, _ := ctx.GetBlock(i)
		if rec == nil {
			if i != start {
				drain(ctx, i)
			}
			continue
		}

		if i != start {
			rec.TLStore = tlstore.Merge(lo.FilterMap(ctx.LivePredecessors(i), func(p *ctxtree.Block, _ int) (*ctxtree.Store, bool) {
				return p.TLStore, p.TLStore != nil
			})...)
		}
		if rec.TLStore == nil {
			continue
		}

		a.walkPathConditions(ctx, rec, second)
		if rec.TLStore == nil {
			continue
		}
		if !a.walkInstructions(ctx, rec, disabled, second) {
			continue
		}

		for k, s := range bi.Succs {
			if !rec.SuccsAlive[k] || !keepsEdge(ctx, l, fence, s, latchToHeader) {
				continue
			}
			rec.TLStore.Ref()
		}

		if len(bi.Succs) == 0 && ctx.FunctionRoot().PushesFrame() {
			rec.TLStore = rec.TLStore.Writable()
			rec.TLStore.PopFrame()
		}

		// Returning blocks keep their reference for the caller unless the
		// pass keeps loop exits closed.
		if !returns(bi) || fence != nil {
			rec.TLStore.Drop()
		}
	}
}

func returns(bi *shadow.BlockInvar) bool {
	term := bi.BB.Terminator()
	return term != nil && term.Op == ir.OpReturn
}

// takeReturns collects stores returning blocks of the context and of its
// peeled iterations end with and clears them in the records.
func takeReturns(ctx ctxtree.Context, res []*ctxtree.Store) []*ctxtree.Store {
	start, end := ctx.Blocks()
	for i := start; i < end; i++ {
		rec, _ := ctx.GetBlock(i)
		if rec == nil || rec.TLStore == nil || !returns(rec.Invar) || ctx.PeeledFor(i) != nil {
			continue
		}
		res = append(res, rec.TLStore)
		rec.TLStore = nil
	}

	for _, pa := range ctx.PeelChildren() {
		if !pa.Terminated {
			continue
		}
		for _, it := range pa.Iterations {
			res = takeReturns(it, res)
		}
	}

	return res
}

// keepsEdge tells a live edge of the walk to the block hands it the store.
func keepsEdge(ctx ctxtree.Context, l, fence *shadow.LoopInvar, to uint32, latchToHeader bool) bool {
	if fence != nil && !fence.ContainsBlock(to) {
		return false
	}
	if l == nil {
		return true
	}

	if l != ctx.Scope() {
		if latchToHeader {
			return l.ContainsBlock(to)
		}
		return to != l.HeaderIdx
	}

	// The last iteration never enters the header again.
	it := ctx.(*ctxtree.PeelIteration)
	return to != l.HeaderIdx || it.Next() != nil
}

// drain releases references live predecessors handed to a block without a record.
func drain(ctx ctxtree.Context, idx uint32) {
	for _, p := range ctx.LivePredecessors(idx) {
		if p.TLStore != nil {
			p.TLStore.Drop()
		}
	}
}

// edgeStore returns the store the block hands over the live edge.
func edgeStore(from *ctxtree.Block, to uint32) *ctxtree.Store {
	if from == nil || from.TLStore == nil || !from.EdgeAlive(to) {
		return nil
	}

	return from.TLStore
}

func handOver(to *ctxtree.Block, s *ctxtree.Store) {
	if to == nil {
		if s != nil {
			s.Drop()
		}
		return
	}

	to.TLStore = s
}

// walkChildLoop walks a loop nested in the current one. Iterations of a
// terminated peel attempt are walked in order, any other loop is walked by
// the context itself.
func (a *Analysis) walkChildLoop(ctx ctxtree.Context, l, fence *shadow.LoopInvar, disabled, second bool) {
	pre, _ := ctx.GetBlock(l.PreheaderIdx)

	pa := ctx.PeelChild(l)
	if pa == nil || !pa.Terminated {
		a.walkUnbounded(ctx, l, fence, pre, disabled || (pa != nil && !pa.Enabled), second)
		return
	}

	disabled = disabled || !pa.Enabled
	store := edgeStore(pre, l.HeaderIdx)
	for _, it := range pa.Iterations {
		handOver(it.Header(), store)
		a.walkLoop(it, l, fence, disabled, second, false)

		store = nil
		if it.Next() != nil {
			latch, _ := it.GetBlock(l.LatchIdx)
			store = edgeStore(latch, l.HeaderIdx)
		}
	}
}

// walkUnbounded walks a loop with an unknown iteration count on behalf of
// the context. The first pass feeds the state the latch ends with back into
// the header, the second one analyses the body with that state. Reads found
// tentative by the first pass stay so and do not update the store.
func (a *Analysis) walkUnbounded(
	ctx ctxtree.Context,
	l *shadow.LoopInvar,
	fence *shadow.LoopInvar,
	pre *ctxtree.Block,
	disabled bool,
	second bool,
) {
	header, _ := ctx.GetBlock(l.HeaderIdx)
	handOver(header, edgeStore(pre, l.HeaderIdx))
	if header == nil {
		return
	}

	if ctx.EdgeIsDead(l.LatchIdx, l.HeaderIdx) {
		a.walkLoop(ctx, l, fence, disabled, second, false)
		return
	}

	if !second {
		a.walkLoop(ctx, l, l, disabled, false, true)

		latch, _ := ctx.GetBlock(l.LatchIdx)
		header.TLStore = edgeStore(latch, l.HeaderIdx)
		a.report.Report(
			diag.TL021UnboundedLoopWidened,
			fmt.Sprintf("%s of %s is analysed with the state of its latch", l, ctx.Invar().F.Name),
			header.Invar.BB.Pos(),
		)
	}

	a.walkLoop(ctx, l, fence, disabled, true, false)
}

// walkInstructions analyses instructions of the block and descends into
// inlined calls. It tells control may leave the block.
func (a *Analysis) walkInstructions(ctx ctxtree.Context, rec *ctxtree.Block, disabled, second bool) bool {
	for _, inst := range rec.Insts {
		a.analyse(inst, disabled, second)

		if inst.I().Op != ir.OpCall {
			continue
		}
		ia := ctx.InlineChild(inst)
		if ia == nil {
			continue
		}

		a.walkCall(rec, ia, disabled, second)
		if rec.TLStore == nil {
			return false
		}
	}

	return true
}

// walkCall walks the inlined callee with the store of the calling block and
// continues the block with the join of the stores its returns end with.
//
// Results of disabled callees are not committed, so the caller resumes from
// the store it called with. When the callee reads tentative data the call
// itself is checked and nothing is known to be safe after it.
func (a *Analysis) walkCall(rec *ctxtree.Block, ia *ctxtree.InlineAttempt, disabled, second bool) {
	entry, _ := ia.GetBlock(0)
	if entry == nil {
		return
	}

	var backup *ctxtree.Store
	if !ia.Enabled() {
		backup = rec.TLStore.Ref()
		ia.BackupStore = backup
	}

	entry.TLStore = rec.TLStore
	rec.TLStore = nil
	a.walkInline(ia, disabled || !ia.Enabled(), second)

	rec.TLStore = tlstore.Merge(takeReturns(ia, nil)...)

	if backup == nil {
		return
	}
	ia.BackupStore = nil

	switch {
	case rec.TLStore == nil:
		backup.Drop()
	case ia.ReadsTentativeData():
		rec.TLStore = rec.TLStore.Writable()
		rec.TLStore.ClobberAll()
		backup.Drop()
		a.report.Report(
			diag.TL020DisabledReadsTentative,
			fmt.Sprintf("call of %s is not specialized and reads tentative data", ia.F.Name),
			ia.CallSite.I().Pos,
		)
	default:
		rec.TLStore.Drop()
		rec.TLStore = backup
	}
}

// walkPathConditions marks bytes asserted at the start of the block and
// walks the functions asserted there, the block continues with the join of
// the stores they return with. The caller is responsible for the assertion,
// so they apply in disabled contexts too.
func (a *Analysis) walkPathConditions(ctx ctxtree.Context, rec *ctxtree.Block, second bool) {
	root := ctx.FunctionRoot()
	conds := a.reg.PathConditions(ctx.Invar().F.Name, rec.Invar.BB.Name, root.Depth())

	for _, c := range conds {
		if c.Kind == specials.PathKindFunc {
			continue
		}
		target := pathTarget(a.session, root, c.Global, c.Param)
		if target == nil {
			continue
		}
		a.markGoodBytes(rec, target, c.Len, true, c.Offset)
	}

	for _, ia := range ctx.PathFunctions(rec.Idx()) {
		entry, _ := ia.GetBlock(0)
		if entry == nil {
			continue
		}

		entry.TLStore = rec.TLStore
		rec.TLStore = nil
		a.walkInline(ia, false, second)
		rec.TLStore = tlstore.Merge(takeReturns(ia, nil)...)
		if rec.TLStore == nil {
			return
		}
	}
}
