package tentative

import (
	"fmt"

	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/ir"
)

// RequiresRuntimeCheck tells the specialized instruction must be checked
// at run time. Checks requested by special handling of the instruction are
// included on demand.
func (a *Analysis) RequiresRuntimeCheck(inst *ctxtree.Instruction, includeSpecial bool) bool {
	if a.opts.OmitChecks {
		return false
	}

	// Unspecialized code is committed as is, path conditions never are.
	ctx := inst.Ctx()
	if !ctx.AllAncestorsEnabled() || ctxtree.InPathCondition(ctx) {
		return false
	}

	// Checks of copies compare the copied memory, not a result.
	if isCopy(inst) {
		return requested(inst, includeSpecial) || inst.ThreadLocal == ctxtree.MustCheck
	}

	if !producesValue(inst.I()) || inst.PB == nil {
		return false
	}
	if requested(inst, includeSpecial) {
		return true
	}

	switch inst.I().Op {
	case ir.OpLoad:
		return inst.ThreadLocal == ctxtree.MustCheck
	case ir.OpCall:
		ia := ctx.InlineChild(inst)
		return ia != nil && !ia.Enabled() && ia.ReadsTentativeData() && !inst.PB.WhollyUnknown()
	case ir.OpPhi:
		return a.phiReadsDisabledLoop(inst) && !inst.PB.WhollyUnknown()
	default:
		return false
	}
}

func requested(inst *ctxtree.Instruction, includeSpecial bool) bool {
	switch inst.NeedsRuntimeCheck {
	case ctxtree.RuntimeCheckAsExpected:
		return true
	case ctxtree.RuntimeCheckSpecial:
		return includeSpecial
	default:
		return false
	}
}

// phiReadsDisabledLoop tells an incoming value of the PHI comes from a
// loop peeled to termination whose disabled iterations read tentative data.
func (a *Analysis) phiReadsDisabledLoop(inst *ctxtree.Instruction) bool {
	ctx := inst.Ctx()
	for _, from := range inst.Invar.OperandBlocks {
		pa := ctx.PeeledFor(from)
		if pa != nil && !pa.Enabled && pa.ContainsTentativeLoads() {
			return true
		}
	}

	return false
}

// producesValue tells the instruction has a result a check could compare.
func producesValue(i *ir.Instruction) bool {
	switch i.Op {
	case ir.OpStore, ir.OpMemSet, ir.OpMemCopy, ir.OpBranch, ir.OpReturn, ir.OpUnreachable:
		return false
	case ir.OpCall:
		return i.Name != ""
	default:
		return true
	}
}

// CountTentativeInstructions counts instructions of the tree needing a
// check for interference alone and reports each of them.
func (a *Analysis) CountTentativeInstructions(ctx ctxtree.Context) int {
	tl := ctx.TL()
	tl.CheckedHere = 0

	start, end := ctx.Blocks()
	for i := start; i < end; i++ {
		if ctx.PeeledFor(i) != nil {
			continue
		}
		rec, _ := ctx.GetBlock(i)
		if rec == nil {
			continue
		}

		for _, inst := range rec.Insts {
			if inst.NeedsRuntimeCheck != ctxtree.RuntimeCheckNone || !a.RequiresRuntimeCheck(inst, false) {
				continue
			}
			tl.CheckedHere++
			a.reportCheck(inst)
		}
	}

	tl.CheckedChildren = tl.CheckedHere
	forChildren(ctx, func(c ctxtree.Context) {
		tl.CheckedChildren += a.CountTentativeInstructions(c)
	})

	return tl.CheckedChildren
}

func (a *Analysis) reportCheck(inst *ctxtree.Instruction) {
	rule := diag.TL000MustCheckLoad
	switch {
	case isCopy(inst):
		rule = diag.TL001MustCheckCopy
	case inst.I().Op == ir.OpLoad:
	default:
		a.report.Report(
			diag.TL020DisabledReadsTentative,
			fmt.Sprintf("%s depends on unspecialized code reading tentative data", inst),
			inst.I().Pos,
		)
		return
	}

	a.report.Report(rule, fmt.Sprintf("%s needs a runtime interference check", inst), inst.I().Pos)
}

// AddCheckpointFailedBlocks marks on the function roots of the tree the
// blocks that may run unspecialized once a check fails.
func (a *Analysis) AddCheckpointFailedBlocks(ctx ctxtree.Context) {
	root := ctx.FunctionRoot()

	start, end := ctx.Blocks()
	for i := start; i < end; i++ {
		if pa := ctx.PeeledFor(i); pa != nil && pa.Enabled {
			continue
		}
		rec, _ := ctx.GetBlock(i)
		if rec == nil {
			continue
		}

		for j, inst := range rec.Insts {
			idx := uint32(j)
			switch {
			case a.RequiresRuntimeCheck(inst, false):
				// A check of a PHI is placed after the last PHI of the block.
				if inst.I().Op == ir.OpPhi && j+1 < len(rec.Insts) && rec.Insts[j+1].I().Op == ir.OpPhi {
					continue
				}
				root.MarkBlockAndSuccsFailed(i, idx+1)
			case inst.NeedsRuntimeCheck == ctxtree.RuntimeCheckSpecial:
				root.MarkBlockAndSuccsFailed(i, idx)
			default:
				ia := ctx.InlineChild(inst)
				if ia == nil || !ia.Enabled() {
					continue
				}
				a.AddCheckpointFailedBlocks(ia)
				if ia.HasFailedReturnPath() {
					root.MarkBlockAndSuccsFailed(i, idx+1)
				}
			}
		}
	}

	for _, pa := range ctx.PeelChildren() {
		if !pa.Terminated || !pa.Enabled {
			continue
		}
		for _, it := range pa.Iterations {
			a.AddCheckpointFailedBlocks(it)
		}
	}
}
