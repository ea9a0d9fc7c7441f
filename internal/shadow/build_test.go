package shadow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/sirkon/deepequal"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/specials"
)

// nested builds a function with a loop nested into another one. Blocks are
// declared out of their topological order on purpose.
func nested(m *ir.Module) *ir.Function {
	g := ir.NewGlobal(m, "g", 8, false)

	b := ir.NewFunction(m, "nested", "p")
	entry := b.Block("entry")
	exit := b.Block("exit")
	outerLatch := b.Block("outer.latch")
	innerLatch := b.Block("inner.latch")
	inner := b.Block("inner")
	innerPre := b.Block("inner.pre")
	outer := b.Block("outer")
	outerPre := b.Block("outer.pre")

	b.At(entry)
	x := b.Alloc("x", 8)
	b.Store(ir.Int(64, 1), x, 8)
	b.Load("v", x, 8)
	b.Store(b.Param(0), g, 8)
	b.Jump(outerPre)

	b.At(outerPre).Jump(outer)
	b.At(outer).Branch(ir.Int(1, 1), innerPre, exit)
	b.At(innerPre).Jump(inner)
	b.At(inner).Branch(ir.Int(1, 0), innerLatch, outerLatch)
	b.At(innerLatch).Jump(inner)
	b.At(outerLatch).Jump(outer)
	b.At(exit).Return()

	ol := b.Loop(nil, outer, innerPre, inner, innerLatch, outerLatch)
	b.Loop(ol, inner, innerLatch)

	return b.Finish()
}

func TestFunctionInvar_Order(t *testing.T) {
	m := &ir.Module{}
	f := nested(m)

	reg := specials.New(nil)
	reg.AddOptimisticEdge("nested", "inner", "outer.latch")
	reg.AddAlwaysIterate("nested", "outer")

	s := NewSession(m, reg, f)
	fi := s.FunctionInvar(f)

	var order []string
	for _, bi := range fi.BBs {
		order = append(order, bi.BB.Name)
	}
	expected := []string{"entry", "outer.pre", "outer", "inner.pre", "inner", "inner.latch", "outer.latch", "exit"}
	if !reflect.DeepEqual(expected, order) {
		deepequal.SideBySide(t, "order", expected, order)
	}

	outer := fi.LoopOf(f.Loops[0])
	inner := fi.LoopOf(f.Loops[0].Children[0])

	type loopFacts struct {
		Header, Preheader, Latch, N uint32
		Exits                       []EdgeIdx
	}
	facts := func(l *LoopInvar) loopFacts {
		return loopFacts{l.HeaderIdx, l.PreheaderIdx, l.LatchIdx, l.NBlocks, l.ExitEdges}
	}

	if got, want := facts(outer), (loopFacts{2, 1, 6, 5, []EdgeIdx{{2, 7}}}); !reflect.DeepEqual(want, got) {
		deepequal.SideBySide(t, "outer", want, got)
	}
	if got, want := facts(inner), (loopFacts{4, 3, 5, 2, []EdgeIdx{{4, 6}}}); !reflect.DeepEqual(want, got) {
		deepequal.SideBySide(t, "inner", want, got)
	}

	if inner.Parent != outer || len(outer.Children) != 1 || outer.Children[0] != inner {
		t.Error("loop tree does not mirror the loop nest")
	}

	if !outer.AlwaysIterate || inner.AlwaysIterate {
		t.Error("always iterate flag is misplaced")
	}
	if !inner.HasOptimisticEdge || inner.OptimisticEdge != (EdgeIdx{From: 4, To: 6}) {
		t.Errorf("unexpected optimistic edge %+v", inner.OptimisticEdge)
	}

	scopes := []*LoopInvar{nil, nil, outer, outer, inner, inner, outer, nil}
	for i, bi := range fi.BBs {
		if bi.NaturalScope != scopes[i] {
			t.Errorf("block %s: unexpected natural scope %v", bi, bi.NaturalScope)
		}
	}
}

func TestFunctionInvar_Contiguity(t *testing.T) {
	m := &ir.Module{}
	f := nested(m)
	fi := NewSession(m, nil, f).FunctionInvar(f)

	for _, l := range f.AllLoops() {
		li := fi.LoopOf(l)
		for i, bi := range fi.BBs {
			inRange := li.ContainsBlock(uint32(i))
			if inRange != l.Contains(bi.BB) {
				t.Errorf("%s: block %s range membership is %v", li, bi, inRange)
			}
		}
	}
}

func TestFunctionInvar_References(t *testing.T) {
	m := &ir.Module{}
	f := nested(m)
	s := NewSession(m, nil, f)
	fi := s.FunctionInvar(f)

	if again := s.FunctionInvar(f); again != fi {
		t.Error("model must be built once")
	}

	entry := fi.BBs[0]
	store := entry.Insts[1]
	if want := []InstIdx{
		{Kind: RefConst, Block: Invalid, Inst: Invalid},
		{Kind: RefInst, Block: 0, Inst: 0},
	}; !reflect.DeepEqual(want, store.Operands) {
		deepequal.SideBySide(t, "store operands", want, store.Operands)
	}

	alloc := entry.Insts[0]
	if want := []InstIdx{
		{Kind: RefInst, Block: 0, Inst: 1},
		{Kind: RefInst, Block: 0, Inst: 2},
	}; !reflect.DeepEqual(want, alloc.Users) {
		deepequal.SideBySide(t, "alloc users", want, alloc.Users)
	}

	globalStore := entry.Insts[3]
	if want := []InstIdx{
		{Kind: RefArg, Block: Invalid, Inst: 0},
		{Kind: RefGlobal, Block: Invalid, Inst: 0},
	}; !reflect.DeepEqual(want, globalStore.Operands) {
		deepequal.SideBySide(t, "global store operands", want, globalStore.Operands)
	}
	if users := fi.Args[0].Users; len(users) != 1 || users[0] != (InstIdx{Kind: RefInst, Block: 0, Inst: 3}) {
		t.Errorf("unexpected argument users %v", users)
	}

	jump := entry.Insts[4]
	if want := (InstIdx{Kind: RefBlock, Block: 1, Inst: Invalid}); jump.Operands[0] != want {
		t.Errorf("jump target %s, want %s", jump.Operands[0], want)
	}

	g := s.GlobalByName("g")
	if g == nil || g.Alloc == nil || !g.Alloc.Committed || g.Alloc.Kind != AllocGlobal {
		t.Errorf("mutable global must be backed by a committed allocation: %+v", g)
	}
}

func TestFunctionInvar_FrameSize(t *testing.T) {
	m := &ir.Module{}

	build := func(name string, allocAt int) *ir.Function {
		b := ir.NewFunction(m, name)
		entry := b.Block("entry")
		if allocAt == 0 {
			b.Alloc("a", 4)
			b.Alloc("b", 4)
		}
		next := b.Block("next")
		b.At(entry).Jump(next)
		b.At(next)
		if allocAt == 1 {
			b.Alloc("late", 4)
		}
		b.Return()
		return b.Finish()
	}

	leading := build("leading", 0)
	late := build("late", 1)
	none := build("none", -1)
	root := build("root", -1)

	s := NewSession(m, nil, root)
	tests := []struct {
		name string
		f    *ir.Function
		want int
	}{
		{"leading allocs", leading, 2},
		{"late alloc", late, 0},
		{"no allocs", none, NoFrame},
		{"root without allocs", root, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.FunctionInvar(tt.f).FrameSize; got != tt.want {
				t.Errorf("frame size %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFunctionInvar_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		build func(m *ir.Module) *ir.Function
		err   error
	}{
		{
			name: "cycle without a loop",
			build: func(m *ir.Module) *ir.Function {
				b := ir.NewFunction(m, "cycle")
				entry := b.Block("entry")
				a := b.Block("a")
				c := b.Block("c")
				b.At(entry).Jump(a)
				b.At(a).Jump(c)
				b.At(c).Branch(ir.Int(1, 1), a, entry)
				return b.Finish()
			},
			err: ErrNotNested,
		},
		{
			name: "loop without preheader",
			build: func(m *ir.Module) *ir.Function {
				b := ir.NewFunction(m, "nopre")
				entry := b.Block("entry")
				head := b.Block("head")
				exit := b.Block("exit")
				b.At(entry).Branch(ir.Int(1, 1), head, exit)
				b.At(head).Branch(ir.Int(1, 1), head, exit)
				b.At(exit).Return()
				b.Loop(nil, head)
				return b.Finish()
			},
			err: ir.ErrLoopForm,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &ir.Module{}
			f := tt.build(m)

			defer func() {
				r := recover()
				perr, ok := r.(*PreconditionError)
				if !ok {
					t.Fatalf("precondition error expected, got %v", r)
				}
				if !errors.Is(perr, tt.err) {
					t.Errorf("unexpected violation %s", perr)
				}
				t.Log(perr)
			}()

			NewSession(m, nil, nil).FunctionInvar(f)
		})
	}
}

func TestLoopSpans(t *testing.T) {
	spans := newLoopSpans()
	outer := &LoopInvar{HeaderIdx: 2, NBlocks: 10}
	first := &LoopInvar{HeaderIdx: 3, NBlocks: 3, Parent: outer}
	deep := &LoopInvar{HeaderIdx: 4, NBlocks: 1, Parent: first}
	second := &LoopInvar{HeaderIdx: 8, NBlocks: 2, Parent: outer}
	for _, l := range []*LoopInvar{outer, first, deep, second} {
		spans.add(l)
	}

	tests := []struct {
		idx  uint32
		want *LoopInvar
	}{
		{0, nil},
		{2, outer},
		{3, first},
		{4, deep},
		{5, first},
		{6, outer},
		{8, second},
		{9, second},
		{11, outer},
		{12, nil},
	}

	for _, tt := range tests {
		if got := spans.Innermost(tt.idx); got != tt.want {
			t.Errorf("block %d: got %v, want %v", tt.idx, got, tt.want)
		}
	}
}
