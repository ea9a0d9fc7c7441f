package benefit

import (
	"cmp"
	"maps"
	"slices"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
)

// Result of an estimate.
type Result struct {
	// EliminatedInstructions were folded into constants or left in dead blocks.
	EliminatedInstructions []shadow.InstIdx

	// EliminatedEdges can no longer be taken.
	EliminatedEdges []shadow.EdgeIdx

	// DeadBlocks lost every incoming edge.
	DeadBlocks []uint32

	// Constants are the values instructions and arguments were found to
	// take. A nil value is a constant whose value is not known.
	Constants map[shadow.InstIdx]ir.Value
}

// Benefit is the number of instructions that would go away.
func (r Result) Benefit() int {
	return len(r.EliminatedInstructions)
}

// Estimate folds the function assuming the roots take the given values,
// a nil value stands for a constant whose value is not known. Only blocks
// of the loop are folded, a nil loop stands for the whole function. Edges
// listed in assumeDead are removed before anything else.
func Estimate(
	fi *shadow.FunctionInvar,
	l *shadow.LoopInvar,
	roots map[shadow.InstIdx]ir.Value,
	assumeDead ...shadow.EdgeIdx,
) Result {
	f := &folder{
		fi:      fi,
		loop:    l,
		consts:  map[shadow.InstIdx]ir.Value{},
		ignored: map[shadow.EdgeIdx]struct{}{},
		dead:    map[uint32]struct{}{},
		gone:    map[shadow.InstIdx]struct{}{},
	}

	for _, e := range assumeDead {
		f.removeEdge(e.From, e.To)
	}

	for _, r := range slices.SortedFunc(maps.Keys(roots), compareRefs) {
		f.constant(r, roots[r])
	}

	for f.forwardLoads() {
	}

	return f.result()
}

// EstimatePeel estimates what a peeled first iteration of the loop would
// save. Header PHIs take the constants coming from the preheader and the
// optimistic edge of the loop is assumed dead.
func EstimatePeel(fi *shadow.FunctionInvar, l *shadow.LoopInvar) Result {
	roots := map[shadow.InstIdx]ir.Value{}
	for _, ii := range fi.BBs[l.HeaderIdx].Insts {
		if ii.I.Op != ir.OpPhi {
			break
		}

		k := slices.Index(ii.OperandBlocks, l.PreheaderIdx)
		if k < 0 {
			continue
		}
		switch ii.Operands[k].Kind {
		case shadow.RefConst, shadow.RefGlobal:
			roots[at(ii)] = ii.I.Operands[k]
		}
	}

	var dead []shadow.EdgeIdx
	if l.HasOptimisticEdge {
		dead = append(dead, l.OptimisticEdge)
	}

	return Estimate(fi, l, roots, dead...)
}

type folder struct {
	fi   *shadow.FunctionInvar
	loop *shadow.LoopInvar

	consts  map[shadow.InstIdx]ir.Value
	ignored map[shadow.EdgeIdx]struct{}
	dead    map[uint32]struct{}
	gone    map[shadow.InstIdx]struct{}

	res Result
}

func (f *folder) result() Result {
	res := f.res
	slices.SortFunc(res.EliminatedInstructions, compareRefs)
	slices.SortFunc(res.EliminatedEdges, func(a, b shadow.EdgeIdx) int {
		return cmp.Or(cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
	})
	slices.Sort(res.DeadBlocks)
	res.Constants = f.consts

	return res
}

// blocks returns the index range under consideration.
func (f *folder) blocks() (uint32, uint32) {
	if f.loop == nil {
		return 0, uint32(len(f.fi.BBs))
	}

	return f.loop.HeaderIdx, f.loop.HeaderIdx + f.loop.NBlocks
}

func (f *folder) inScope(idx uint32) bool {
	return f.loop == nil || f.loop.ContainsBlock(idx)
}

func (f *folder) isDead(idx uint32) bool {
	_, ok := f.dead[idx]
	return ok
}

func (f *folder) edgeIgnored(from, to uint32) bool {
	if from == shadow.Invalid {
		return true
	}

	_, ok := f.ignored[shadow.EdgeIdx{From: from, To: to}]
	return ok
}

func (f *folder) eliminate(ref shadow.InstIdx) {
	if _, ok := f.gone[ref]; ok {
		return
	}

	f.gone[ref] = struct{}{}
	f.res.EliminatedInstructions = append(f.res.EliminatedInstructions, ref)
}

// removeEdge drops the edge. A block losing its last incoming edge dies
// along with its instructions and outgoing edges, PHIs of a surviving block
// are checked for having become constant.
func (f *folder) removeEdge(from, to uint32) {
	e := shadow.EdgeIdx{From: from, To: to}
	if _, ok := f.ignored[e]; ok {
		return
	}
	f.ignored[e] = struct{}{}
	f.res.EliminatedEdges = append(f.res.EliminatedEdges, e)

	if !f.inScope(to) {
		return
	}

	bi := f.fi.BBs[to]
	if !f.unreachable(bi) {
		for _, ii := range bi.Insts {
			if ii.I.Op != ir.OpPhi {
				break
			}
			f.phi(ii)
		}
		return
	}

	f.dead[to] = struct{}{}
	f.res.DeadBlocks = append(f.res.DeadBlocks, to)
	for _, ii := range bi.Insts {
		if ii.I.Op == ir.OpPhi {
			continue
		}
		if _, ok := f.consts[at(ii)]; ok {
			continue
		}
		f.eliminate(at(ii))
	}

	for _, s := range bi.Succs {
		f.removeEdge(to, s)
	}
}

// unreachable tells every incoming edge of the block is gone. The entry is
// always reachable.
func (f *folder) unreachable(bi *shadow.BlockInvar) bool {
	if bi.Idx == 0 {
		return false
	}

	for _, p := range bi.Preds {
		if !f.edgeIgnored(p, bi.Idx) {
			return false
		}
	}

	return true
}

// phi makes the PHI constant when all live incoming values agree.
func (f *folder) phi(ii *shadow.InstInvar) {
	if _, ok := f.consts[at(ii)]; ok {
		return
	}

	var c ir.Value
	for k, from := range ii.OperandBlocks {
		if f.edgeIgnored(from, ii.BlockIdx) {
			continue
		}

		v, ok := f.known(ii, k)
		if !ok || v == nil {
			return
		}
		if c != nil && !same(c, v) {
			return
		}
		c = v
	}

	if c == nil {
		return
	}

	f.constant(at(ii), c)
}

// known returns the constant the k-th operand takes.
func (f *folder) known(ii *shadow.InstInvar, k int) (ir.Value, bool) {
	op := ii.Operands[k]
	switch op.Kind {
	case shadow.RefConst, shadow.RefGlobal:
		return ii.I.Operands[k], true
	case shadow.RefInst, shadow.RefArg:
		c, ok := f.consts[op]
		return c, ok
	default:
		return nil, false
	}
}

// constant records the value of ref and propagates it to its users.
func (f *folder) constant(ref shadow.InstIdx, c ir.Value) {
	if ref.Kind == shadow.RefInst && !f.inScope(ref.Block) {
		return
	}
	if _, ok := f.consts[ref]; ok {
		return
	}
	f.consts[ref] = c

	var users []shadow.InstIdx
	switch ref.Kind {
	case shadow.RefInst:
		ii := f.fi.Inst(ref.Block, ref.Inst)
		if ii.I.Op != ir.OpPhi && !hasSideEffects(ii.I) {
			f.eliminate(ref)
		}
		users = ii.Users
	case shadow.RefArg:
		users = f.fi.Args[ref.Inst].Users
	default:
		return
	}

	for _, u := range users {
		if u.Kind != shadow.RefInst || !f.inScope(u.Block) || f.isDead(u.Block) {
			continue
		}

		ui := f.fi.Inst(u.Block, u.Inst)
		switch ui.I.Op {
		case ir.OpBranch:
			f.branch(ui, c)
		case ir.OpPhi:
			f.phi(ui)
		default:
			f.fold(ui)
		}
	}
}

// branch removes the edges a branch on a known condition never takes.
// Multiway branches lose the instruction only.
func (f *folder) branch(ii *shadow.InstInvar, c ir.Value) {
	if v, ok := c.(*ir.ConstInt); ok && len(ii.Operands) == 3 {
		target := ii.Operands[1].Block
		if v.Value&mask(v.Bits) == 0 {
			target = ii.Operands[2].Block
		}

		for _, s := range ii.Parent.Succs {
			if s != target {
				f.removeEdge(ii.BlockIdx, s)
			}
		}
	}

	f.eliminate(at(ii))
}

// fold evaluates an instruction all of whose operands are constant.
func (f *folder) fold(ii *shadow.InstInvar) {
	ops := make([]ir.Value, len(ii.Operands))
	unknown := false
	for k := range ii.Operands {
		v, ok := f.known(ii, k)
		if !ok {
			return
		}
		if v == nil {
			unknown = true
		}
		ops[k] = v
	}

	var c ir.Value
	if !unknown {
		c = evaluate(ii.I, ops)
	}
	if c == nil && (readsMemory(ii.I) || hasSideEffects(ii.I)) {
		return
	}

	f.constant(at(ii), c)
}

func at(ii *shadow.InstInvar) shadow.InstIdx {
	return shadow.InstIdx{Kind: shadow.RefInst, Block: ii.BlockIdx, Inst: ii.Idx}
}

func compareRefs(a, b shadow.InstIdx) int {
	return cmp.Or(
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.Block, b.Block),
		cmp.Compare(a.Inst, b.Inst),
	)
}
