package shadow

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/ir"
)

// FunctionInvar returns the model of the function, building it on the first request.
// It panics with a *PreconditionError if the function is malformed.
func (s *Session) FunctionInvar(f *ir.Function) *FunctionInvar {
	if fi, ok := s.funcs[f]; ok {
		return fi
	}

	if f.External() {
		panic(fmt.Sprintf("shadow: function %s has no body", f.Name))
	}

	if err := ir.CheckLoopForm(f); err != nil {
		Violated(f.Name, "", err)
	}

	fi := s.buildFunction(f)
	s.funcs[f] = fi

	return fi
}

func (s *Session) buildFunction(f *ir.Function) *FunctionInvar {
	loopOf := lo.Associate(f.Blocks, func(b *ir.Block) (*ir.Block, *ir.Loop) {
		return b, f.LoopFor(b)
	})
	order := topoOrder(f, loopOf)

	fi := &FunctionInvar{
		F:     f,
		BBs:   make([]*BlockInvar, len(order)),
		Args:  make([]*ArgInvar, len(f.Params)),
		LInfo: map[*ir.Loop]*LoopInvar{},
		Spans: newLoopSpans(),
		index: make(map[*ir.Block]uint32, len(order)),
	}

	instIdx := map[*ir.Instruction]uint32{}
	for i, b := range order {
		fi.index[b] = uint32(i)
		for j, inst := range b.Instrs {
			instIdx[inst] = uint32(j)
		}
	}

	for i, p := range f.Params {
		fi.Args[i] = &ArgInvar{P: p}
	}

	for i, b := range order {
		bi := &BlockInvar{
			Idx: uint32(i),
			F:   fi,
			BB:  b,
		}
		fi.BBs[i] = bi

		for _, succ := range b.Succs {
			bi.Succs = append(bi.Succs, fi.index[succ])
		}

		for _, pred := range b.Preds {
			idx, ok := fi.index[pred]
			if !ok {
				// Unreachable predecessor.
				continue
			}
			bi.Preds = append(bi.Preds, idx)

			if idx > uint32(i) {
				if l := loopOf[b]; l == nil || l.Header != b {
					s.Reporter(diag.PhaseBuild).Report(diag.TL011NonNestedOrder, fmt.Sprintf(
						"block %s in %s has predecessor %s that comes after it, but it is not a loop header",
						b.Name, f.Name, pred.Name,
					), b.Instrs[0].Pos)
					Violated(f.Name, b.Name, ErrNotNested)
				}
			}
		}

		bi.Insts = make([]*InstInvar, len(b.Instrs))
		for j, inst := range b.Instrs {
			ii := &InstInvar{
				Idx:      uint32(j),
				BlockIdx: uint32(i),
				I:        inst,
				Parent:   bi,
				Operands: make([]InstIdx, len(inst.Operands)),
			}
			here := InstIdx{Kind: RefInst, Block: uint32(i), Inst: uint32(j)}

			for k, op := range inst.Operands {
				ii.Operands[k] = s.ref(fi, instIdx, op)
				if p, ok := op.(*ir.Param); ok && p.Func == f {
					fi.Args[p.Index].Users = append(fi.Args[p.Index].Users, here)
				}
			}

			if inst.Op == ir.OpPhi {
				ii.OperandBlocks = make([]uint32, len(inst.Incoming))
				for k, in := range inst.Incoming {
					idx, ok := fi.index[in]
					if !ok {
						idx = Invalid
					}
					ii.OperandBlocks[k] = idx
				}
			}

			for _, user := range inst.Users {
				ii.Users = append(ii.Users, s.ref(fi, instIdx, user))
			}

			bi.Insts[j] = ii
		}
	}

	// Loop nest, enclosing loops go first.
	for _, l := range f.Loops {
		fi.TopLevelLoops = append(fi.TopLevelLoops, s.buildLoop(fi, l, nil))
	}

	for i, bi := range fi.BBs {
		bi.NaturalScope = fi.Spans.Innermost(uint32(i))
		if want := fi.LInfo[loopOf[bi.BB]]; bi.NaturalScope != want {
			Violated(f.Name, bi.BB.Name, ErrNotContiguous)
		}
	}

	fi.FrameSize = s.frameSize(f)

	return fi
}

func (s *Session) ref(fi *FunctionInvar, instIdx map[*ir.Instruction]uint32, v ir.Value) InstIdx {
	switch v := v.(type) {
	case *ir.Instruction:
		b, ok := fi.index[v.Block]
		if !ok {
			return InstIdx{Kind: RefNone, Block: Invalid, Inst: Invalid}
		}
		return InstIdx{Kind: RefInst, Block: b, Inst: instIdx[v]}
	case *ir.Global:
		g := s.Global(v)
		if g == nil {
			return InstIdx{Kind: RefNone, Block: Invalid, Inst: Invalid}
		}
		return InstIdx{Kind: RefGlobal, Block: Invalid, Inst: g.Index}
	case *ir.Param:
		return InstIdx{Kind: RefArg, Block: Invalid, Inst: uint32(v.Index)}
	case *ir.Block:
		b, ok := fi.index[v]
		if !ok {
			return InstIdx{Kind: RefNone, Block: Invalid, Inst: Invalid}
		}
		return InstIdx{Kind: RefBlock, Block: b, Inst: Invalid}
	case nil:
		return InstIdx{Kind: RefNone, Block: Invalid, Inst: Invalid}
	default:
		return InstIdx{Kind: RefConst, Block: Invalid, Inst: Invalid}
	}
}

func (s *Session) buildLoop(fi *FunctionInvar, l *ir.Loop, parent *LoopInvar) *LoopInvar {
	f := fi.F
	reachable := func(b *ir.Block) bool {
		_, ok := fi.index[b]
		return ok
	}

	li := &LoopInvar{
		L:            l,
		HeaderIdx:    fi.index[l.Header],
		PreheaderIdx: fi.index[l.Preheader()],
		LatchIdx:     fi.index[l.Latch()],
		NBlocks:      uint32(lo.CountBy(l.Blocks, reachable)),
		Parent:       parent,
	}

	for _, e := range l.ExitEdges() {
		li.ExitEdges = append(li.ExitEdges, EdgeIdx{From: fi.index[e.From], To: fi.index[e.To]})
	}
	li.ExitingBlocks = lo.Map(l.ExitingBlocks(), func(b *ir.Block, _ int) uint32 { return fi.index[b] })
	li.ExitBlocks = lo.Map(l.ExitBlocks(), func(b *ir.Block, _ int) uint32 { return fi.index[b] })

	end := li.HeaderIdx + li.NBlocks
	if int(end) > len(fi.BBs) {
		Violated(f.Name, l.Header.Name, ErrNotContiguous)
	}
	for i := li.HeaderIdx; i < end; i++ {
		bb := fi.BBs[i].BB
		if !l.Contains(bb) {
			Violated(f.Name, bb.Name, ErrNotContiguous)
		}

		to, ok := s.Registry.OptimisticEdge(f.Name, bb.Name)
		if !ok {
			continue
		}
		sink := slices.IndexFunc(fi.BBs, func(b *BlockInvar) bool { return b.BB.Name == to })
		if sink < 0 {
			continue
		}
		if li.HasOptimisticEdge {
			Violated(f.Name, bb.Name, fmt.Errorf("loop at %s has more than one optimistic edge", l.Header.Name))
		}
		li.OptimisticEdge = EdgeIdx{From: i, To: uint32(sink)}
		li.HasOptimisticEdge = true
	}

	li.AlwaysIterate = s.Registry.AlwaysIterate(f.Name, l.Header.Name)

	fi.LInfo[l] = li
	fi.Spans.add(li)

	for _, c := range l.Children {
		li.Children = append(li.Children, s.buildLoop(fi, c, li))
	}

	return li
}

// frameSize counts stack allocations leading the entry block. Functions
// other than the session root that never allocate on the stack get NoFrame.
func (s *Session) frameSize(f *ir.Function) int {
	var n int
	for _, inst := range f.Entry().Instrs {
		if inst.Op != ir.OpAlloc {
			break
		}
		n++
	}

	if n > 0 || f == s.root {
		return n
	}

	for _, b := range f.Blocks {
		for _, inst := range b.Instrs {
			if inst.Op == ir.OpAlloc {
				return 0
			}
		}
	}

	return NoFrame
}

// topoOrder sorts blocks reachable from the entry so that each loop ends up
// contiguous: exits of a loop are visited before its body, which makes them
// follow the body once the postorder is reversed.
func topoOrder(f *ir.Function, loopOf map[*ir.Block]*ir.Loop) []*ir.Block {
	var res []*ir.Block
	visited := map[*ir.Block]struct{}{}

	var visit func(b *ir.Block, scope *ir.Loop)
	visit = func(b *ir.Block, scope *ir.Loop) {
		bl := loopOf[b]

		// Drifted out of scope.
		if scope != bl && (bl == nil || bl.ContainsLoop(scope)) {
			return
		}

		if _, ok := visited[b]; ok {
			return
		}
		visited[b] = struct{}{}

		if scope != bl {
			for _, exit := range bl.ExitBlocks() {
				visit(exit, scope)
			}
		}

		for _, succ := range b.Succs {
			visit(succ, bl)
		}

		res = append(res, b)
	}

	visit(f.Entry(), nil)
	slices.Reverse(res)

	return res
}
