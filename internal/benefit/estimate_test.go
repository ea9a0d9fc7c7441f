package benefit

import (
	"go/token"
	"reflect"
	"slices"
	"testing"

	"github.com/sirkon/deepequal"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
)

// diamond builds
//
//	entry: x = p + 1; c = x == 5; br c, then, else
//	then:  y = x * 2
//	else:  z = x - 1
//	join:  r = phi(y, z)
type diamond struct {
	fi *shadow.FunctionInvar

	x, c, br      *ir.Instruction
	y, yJump      *ir.Instruction
	z, zJump      *ir.Instruction
	r             *ir.Instruction
	then, els     *ir.Block
	entry, join   *ir.Block
	arg           shadow.InstIdx
	thenIdx, eIdx uint32
}

func newDiamond(t *testing.T) *diamond {
	t.Helper()

	m := &ir.Module{}
	b := ir.NewFunction(m, "diamond", "p")
	d := &diamond{}
	d.entry = b.Block("entry")
	d.then = b.Block("then")
	d.els = b.Block("else")
	d.join = b.Block("join")

	b.At(d.entry)
	d.x = b.Binary("x", token.ADD, b.Param(0), ir.Int(64, 1))
	d.c = b.Compare("c", token.EQL, d.x, ir.Int(64, 5))
	d.br = b.Branch(d.c, d.then, d.els)
	b.At(d.then)
	d.y = b.Binary("y", token.MUL, d.x, ir.Int(64, 2))
	d.yJump = b.Jump(d.join)
	b.At(d.els)
	d.z = b.Binary("z", token.SUB, d.x, ir.Int(64, 1))
	d.zJump = b.Jump(d.join)
	b.At(d.join)
	d.r = b.Phi("r", d.y, d.then, d.z, d.els)
	b.Return(d.r)

	f := b.Finish()
	d.fi = shadow.NewSession(m, nil, f).FunctionInvar(f)
	d.arg = shadow.InstIdx{Kind: shadow.RefArg, Block: shadow.Invalid, Inst: 0}
	d.thenIdx = blockIdx(t, d.fi, d.then)
	d.eIdx = blockIdx(t, d.fi, d.els)

	return d
}

func blockIdx(t *testing.T, fi *shadow.FunctionInvar, b *ir.Block) uint32 {
	t.Helper()

	idx, ok := fi.BlockIndex(b)
	if !ok {
		t.Fatalf("block %s is not in the model", b)
	}

	return idx
}

func refOf(t *testing.T, fi *shadow.FunctionInvar, inst *ir.Instruction) shadow.InstIdx {
	t.Helper()

	return shadow.InstIdx{Kind: shadow.RefInst, Block: blockIdx(t, fi, inst.Block), Inst: uint32(inst.Index())}
}

func refsOf(t *testing.T, fi *shadow.FunctionInvar, insts ...*ir.Instruction) []shadow.InstIdx {
	t.Helper()

	var res []shadow.InstIdx
	for _, inst := range insts {
		res = append(res, refOf(t, fi, inst))
	}
	slices.SortFunc(res, compareRefs)

	return res
}

type outcome struct {
	Eliminated []shadow.InstIdx
	Edges      []shadow.EdgeIdx
	Dead       []uint32
}

func outcomeOf(r Result) outcome {
	return outcome{r.EliminatedInstructions, r.EliminatedEdges, r.DeadBlocks}
}

func TestEstimate_Diamond(t *testing.T) {
	t.Run("known root", func(t *testing.T) {
		d := newDiamond(t)
		res := Estimate(d.fi, nil, map[shadow.InstIdx]ir.Value{d.arg: ir.Int(64, 4)})

		expected := outcome{
			Eliminated: refsOf(t, d.fi, d.x, d.c, d.br, d.y, d.z, d.zJump),
			Edges: []shadow.EdgeIdx{
				{From: 0, To: d.eIdx},
				{From: d.eIdx, To: blockIdx(t, d.fi, d.join)},
			},
			Dead: []uint32{d.eIdx},
		}
		if got := outcomeOf(res); !reflect.DeepEqual(expected, got) {
			deepequal.SideBySide(t, "outcome", expected, got)
		}

		consts := map[shadow.InstIdx]ir.Value{
			d.arg:               ir.Int(64, 4),
			refOf(t, d.fi, d.x): ir.Int(64, 5),
			refOf(t, d.fi, d.c): ir.Int(1, 1),
			refOf(t, d.fi, d.y): ir.Int(64, 10),
			refOf(t, d.fi, d.r): ir.Int(64, 10),
		}
		if !reflect.DeepEqual(consts, res.Constants) {
			deepequal.SideBySide(t, "constants", consts, res.Constants)
		}
		if res.Benefit() != 6 {
			t.Errorf("benefit %d, want 6", res.Benefit())
		}
	})

	t.Run("unknown root", func(t *testing.T) {
		d := newDiamond(t)
		res := Estimate(d.fi, nil, map[shadow.InstIdx]ir.Value{d.arg: nil})

		expected := outcome{Eliminated: refsOf(t, d.fi, d.x, d.c, d.br, d.y, d.z)}
		if got := outcomeOf(res); !reflect.DeepEqual(expected, got) {
			deepequal.SideBySide(t, "outcome", expected, got)
		}
		if _, ok := res.Constants[refOf(t, d.fi, d.r)]; ok {
			t.Error("phi of unknown constants must not be constant")
		}
	})

	t.Run("assumed dead edge", func(t *testing.T) {
		d := newDiamond(t)
		res := Estimate(d.fi, nil, nil, shadow.EdgeIdx{From: 0, To: d.thenIdx})

		expected := outcome{
			Eliminated: refsOf(t, d.fi, d.y, d.yJump),
			Edges: []shadow.EdgeIdx{
				{From: 0, To: d.thenIdx},
				{From: d.thenIdx, To: blockIdx(t, d.fi, d.join)},
			},
			Dead: []uint32{d.thenIdx},
		}
		if got := outcomeOf(res); !reflect.DeepEqual(expected, got) {
			deepequal.SideBySide(t, "outcome", expected, got)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		d := newDiamond(t)
		roots := map[shadow.InstIdx]ir.Value{d.arg: ir.Int(64, 0)}
		first := outcomeOf(Estimate(d.fi, nil, roots))
		for range 4 {
			if got := outcomeOf(Estimate(d.fi, nil, roots)); !reflect.DeepEqual(first, got) {
				deepequal.SideBySide(t, "outcome", first, got)
			}
		}
	})
}

func TestEstimatePeel(t *testing.T) {
	m := &ir.Module{}
	b := ir.NewFunction(m, "counted")
	entry := b.Block("entry")
	pre := b.Block("pre")
	head := b.Block("head")
	latch := b.Block("latch")
	exit := b.Block("exit")

	b.At(entry).Jump(pre)
	b.At(pre).Jump(head)
	b.At(head)
	i := b.Phi("i", ir.Int(64, 0), pre, nil, latch)
	c := b.Compare("c", token.LSS, i, ir.Int(64, 1))
	br := b.Branch(c, latch, exit)
	b.At(latch)
	next := b.Binary("next", token.ADD, i, ir.Int(64, 1))
	i.Operands[1] = next
	b.Jump(head)
	b.At(exit)
	last := b.Phi("last", i, head)
	b.Return(last)
	b.Loop(nil, head, latch)

	f := b.Finish()
	fi := shadow.NewSession(m, nil, f).FunctionInvar(f)
	l := fi.LoopOf(f.Loops[0])

	res := EstimatePeel(fi, l)
	expected := outcome{
		Eliminated: refsOf(t, fi, c, br, next),
		Edges:      []shadow.EdgeIdx{{From: l.HeaderIdx, To: blockIdx(t, fi, exit)}},
	}
	if got := outcomeOf(res); !reflect.DeepEqual(expected, got) {
		deepequal.SideBySide(t, "outcome", expected, got)
	}

	if _, ok := res.Constants[refOf(t, fi, last)]; ok {
		t.Error("blocks outside of the loop must not be folded")
	}
	if v := res.Constants[refOf(t, fi, next)]; !reflect.DeepEqual(v, ir.Value(ir.Int(64, 1))) {
		t.Errorf("next is %v, want i64 1", v)
	}
}

func TestEstimate_Forwarding(t *testing.T) {
	type fixture struct {
		fi          *shadow.FunctionInvar
		v, w, c, br *ir.Instruction
		u, noRet    *ir.Instruction
		no          *ir.Block
	}
	build := func(t *testing.T, clobber bool) fixture {
		t.Helper()

		m := &ir.Module{}
		g := ir.NewGlobal(m, "g", 8, false)
		h := ir.NewExternal(m, "h")
		b := ir.NewFunction(m, "forward", "p")
		entry := b.Block("entry")
		yes := b.Block("yes")
		no := b.Block("no")

		var fx fixture
		fx.no = no
		b.At(entry)
		a := b.Alloc("a", 16)
		q := b.PtrAdd("q", a, 8)
		b.Store(ir.Int(64, 7), a, 8)
		b.Store(b.Param(0), q, 8)
		b.Store(ir.Int(64, 1), g, 8)
		if clobber {
			b.Call("", h)
		}
		fx.v = b.Load("v", a, 8)
		fx.w = b.Load("w", q, 8)
		fx.c = b.Compare("c", token.EQL, fx.v, ir.Int(64, 7))
		fx.br = b.Branch(fx.c, yes, no)
		b.At(yes)
		fx.u = b.Load("u", a, 8)
		b.Return(fx.u)
		b.At(no)
		fx.noRet = b.Return()

		f := b.Finish()
		fx.fi = shadow.NewSession(m, nil, f).FunctionInvar(f)
		return fx
	}

	t.Run("forwarded", func(t *testing.T) {
		fx := build(t, false)
		res := Estimate(fx.fi, nil, nil)

		noIdx := blockIdx(t, fx.fi, fx.no)
		expected := outcome{
			Eliminated: refsOf(t, fx.fi, fx.v, fx.c, fx.br, fx.u, fx.noRet),
			Edges:      []shadow.EdgeIdx{{From: 0, To: noIdx}},
			Dead:       []uint32{noIdx},
		}
		if got := outcomeOf(res); !reflect.DeepEqual(expected, got) {
			deepequal.SideBySide(t, "outcome", expected, got)
		}
		if _, ok := res.Constants[refOf(t, fx.fi, fx.w)]; ok {
			t.Error("load of a non-constant store must not be constant")
		}
	})

	t.Run("clobbered", func(t *testing.T) {
		fx := build(t, true)
		res := Estimate(fx.fi, nil, nil)

		if expected := (outcome{}); !reflect.DeepEqual(expected, outcomeOf(res)) {
			deepequal.SideBySide(t, "outcome", expected, outcomeOf(res))
		}
	})
}

func TestEvaluate(t *testing.T) {
	g := &ir.Global{Name: "g"}
	tests := []struct {
		name string
		op   ir.Op
		tok  token.Token
		x, y ir.Value
		want ir.Value
	}{
		{"add wraps", ir.OpBinary, token.ADD, ir.Int(8, 255), ir.Int(8, 1), ir.Int(8, 0)},
		{"sub", ir.OpBinary, token.SUB, ir.Int(32, 10), ir.Int(32, 3), ir.Int(32, 7)},
		{"and not", ir.OpBinary, token.AND_NOT, ir.Int(8, 0xff), ir.Int(8, 0x0f), ir.Int(8, 0xf0)},
		{"shift out", ir.OpBinary, token.SHL, ir.Int(8, 1), ir.Int(64, 9), ir.Int(8, 0)},
		{"division by zero", ir.OpBinary, token.QUO, ir.Int(64, 1), ir.Int(64, 0), nil},
		{"signed division", ir.OpBinary, token.QUO, ir.Int(8, 0x80), ir.Int(8, 2), nil},
		{"remainder", ir.OpBinary, token.REM, ir.Int(64, 7), ir.Int(64, 3), ir.Int(64, 1)},
		{"width mismatch", ir.OpBinary, token.ADD, ir.Int(8, 1), ir.Int(16, 1), nil},
		{"not an int", ir.OpBinary, token.ADD, ir.Null, ir.Int(64, 1), nil},
		{"unknown operator", ir.OpBinary, token.ILLEGAL, ir.Int(64, 1), ir.Int(64, 1), nil},
		{"less", ir.OpCompare, token.LSS, ir.Int(64, 1), ir.Int(64, 2), ir.Int(1, 1)},
		{"greater or equal", ir.OpCompare, token.GEQ, ir.Int(64, 1), ir.Int(64, 2), ir.Int(1, 0)},
		{"signed order", ir.OpCompare, token.LSS, ir.Int(8, 0x80), ir.Int(8, 1), nil},
		{"null equals null", ir.OpCompare, token.EQL, ir.Null, ir.Null, ir.Int(1, 1)},
		{"global is not null", ir.OpCompare, token.NEQ, g, ir.Null, ir.Int(1, 1)},
		{"global equals itself", ir.OpCompare, token.EQL, g, g, ir.Int(1, 1)},
		{"opaque constants", ir.OpCompare, token.EQL, &ir.ConstOther{Text: "1.5"}, &ir.ConstOther{Text: "1.5"}, nil},
		{"other op", ir.OpOther, token.ADD, ir.Int(64, 1), ir.Int(64, 1), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := &ir.Instruction{Op: tt.op, Operator: tt.tok, Operands: []ir.Value{tt.x, tt.y}}
			got := evaluate(inst, inst.Operands)
			if !reflect.DeepEqual(tt.want, got) {
				deepequal.SideBySide(t, "value", tt.want, got)
			}
		})
	}
}
