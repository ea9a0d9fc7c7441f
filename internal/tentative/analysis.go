package tentative

import (
	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/tlstore"
)

// Options of the analysis.
type Options struct {
	// EntryClobbered starts the root with nothing known to be safe. Without
	// it memory the root has not seen yet is assumed untouched by others.
	EntryClobbered bool

	// SimpleVolatileLoads treats volatile loads as ordinary reads instead
	// of yield points.
	SimpleVolatileLoads bool

	// OmitChecks makes RequiresRuntimeCheck answer false for everything.
	OmitChecks bool
}

// Analysis runs the tentative-load walk over context trees of a session.
type Analysis struct {
	session *shadow.Session
	reg     *specials.Registry
	opts    Options
	ledger  tlstore.Ledger
	report  *diag.PhaseReporter
}

// New creates the analysis of the session.
func New(s *shadow.Session, opts Options) *Analysis {
	return &Analysis{
		session: s,
		reg:     s.Registry,
		opts:    opts,
		report:  s.Reporter(diag.PhaseAnalysis),
	}
}

// Ledger counts interference stores created and freed by the analysis.
func (a *Analysis) Ledger() *tlstore.Ledger {
	return &a.ledger
}

// Run walks the tree of the root context. Contexts walked before are left
// as they are until Reset.
func (a *Analysis) Run(root *ctxtree.InlineAttempt) {
	if root.Parent() != nil {
		panic("tentative: run on an inlined context " + root.String())
	}
	if root.TL().Run {
		return
	}

	a.walkInline(root, false, false)
	for _, s := range takeReturns(root, nil) {
		s.Drop()
	}

	markRun(root)
}

func markRun(ctx ctxtree.Context) {
	ctx.TL().Run = true
	forChildren(ctx, markRun)
	for _, ia := range ctx.PathChildren() {
		markRun(ia)
	}
}

// Reset forgets the analysis results of the context tree so that the next
// Run walks it again.
func Reset(ctx ctxtree.Context) {
	tl := ctx.TL()
	tl.Run = false
	tl.ReadsTentativeData = false
	tl.CheckedHere = 0
	tl.CheckedChildren = 0

	start, end := ctx.Blocks()
	for i := start; i < end; i++ {
		if rec, _ := ctx.GetBlock(i); rec != nil {
			rec.TLStore = nil
		}
	}

	if ia, ok := ctx.(*ctxtree.InlineAttempt); ok {
		ia.ResetFailedBlocks()
	}

	forChildren(ctx, Reset)
	for _, ia := range ctx.PathChildren() {
		Reset(ia)
	}
}

// forChildren calls fn for inline children and iterations of terminated
// peel attempts. Path functions are never committed and are left out.
func forChildren(ctx ctxtree.Context, fn func(ctxtree.Context)) {
	for _, ia := range ctx.InlineChildren() {
		fn(ia)
	}

	for _, pa := range ctx.PeelChildren() {
		if !pa.Terminated {
			continue
		}
		for _, it := range pa.Iterations {
			fn(it)
		}
	}
}

// ContainsTentativeLoads tells the context reads data that must be checked.
func ContainsTentativeLoads(ctx ctxtree.Context) bool {
	return ctx.ReadsTentativeData()
}

// TotalChecked is the number of checked instructions of the tree the last
// CountTentativeInstructions counted.
func (a *Analysis) TotalChecked(root *ctxtree.InlineAttempt) int {
	return root.TL().CheckedChildren
}
