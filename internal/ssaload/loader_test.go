package ssaload

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"reflect"
	"strings"
	"testing"

	"github.com/sirkon/deepequal"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/values"
)

const source = `package p

var g int

func Straight(x *int) int {
	*x = 1
	g = 2
	return *x + g
}

func Wait(ch chan int) int {
	g = 1
	<-ch
	return g
}

func Local() int {
	var a [2]int
	p := &a[1]
	*p = 3
	return a[1]
}

func Sum(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		s += i
	}
	return s
}

func Grid(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			s += j
		}
	}
	return s
}
`

func build(t *testing.T) *ssa.Package {
	t.Helper()

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "p.go", source, parser.ParseComments)
	if err != nil {
		t.Fatal(err)
	}

	pkg, _, err := ssautil.BuildPackage(
		&types.Config{Importer: importer.Default()},
		fset,
		types.NewPackage("p", ""),
		[]*ast.File{file},
		ssa.SanityCheckFunctions,
	)
	if err != nil {
		t.Fatal(err)
	}

	return pkg
}

func load(t *testing.T, name string) (*Loader, *ir.Function) {
	t.Helper()

	pkg := build(t)
	l := New(nil, nil)
	f, err := l.Function(pkg.Func(name))
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}

	return l, f
}

func ops(f *ir.Function) []string {
	var res []string
	for _, b := range f.Blocks {
		for _, inst := range b.Instrs {
			res = append(res, inst.Op.String())
		}
	}

	return res
}

func TestLoader_Straight(t *testing.T) {
	l, f := load(t, "Straight")

	expected := []string{"store", "store", "load", "load", "binop", "ret"}
	if got := ops(f); !reflect.DeepEqual(expected, got) {
		deepequal.SideBySide(t, "ops", expected, got)
	}

	g := l.Module().Global("p.g")
	if g == nil || g.Size != 8 {
		t.Fatalf("unexpected global %v", g)
	}

	entry := f.Entry()
	if entry.Name != "0.entry" {
		t.Errorf("unexpected entry name %s", entry.Name)
	}
	if entry.Instrs[1].Operands[1] != ir.Value(g) {
		t.Errorf("the second store must write the global, got %v", entry.Instrs[1].Operands[1])
	}
	if entry.Instrs[2].Size != 8 || entry.Instrs[2].Operands[0] != ir.Value(f.Params[0]) {
		t.Errorf("unexpected load %v", entry.Instrs[2])
	}
	if !f.Params[0].Pointer {
		t.Error("pointer parameter is not marked")
	}
	if add := entry.Instrs[4]; add.Operator != token.ADD {
		t.Errorf("unexpected operator %s", add.Operator)
	}
}

func TestLoader_Receive(t *testing.T) {
	_, f := load(t, "Wait")

	expected := []string{"store", "call", "load", "ret"}
	if got := ops(f); !reflect.DeepEqual(expected, got) {
		deepequal.SideBySide(t, "ops", expected, got)
	}

	recv := f.Entry().Instrs[1]
	if callee := recv.StaticCallee(); callee == nil || callee.Name != "runtime.chanrecv1" {
		t.Errorf("unexpected callee %v", recv.Callee())
	}

	reg := specials.New(nil)
	if !reg.IsYield(recv.StaticCallee().Name) {
		t.Error("channel receive must yield")
	}
}

func TestLoader_Loops(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		_, f := load(t, "Sum")

		if len(f.Loops) != 1 {
			t.Fatalf("expected a single loop, got %d", len(f.Loops))
		}
		l := f.Loops[0]
		if !strings.HasSuffix(l.Header.Name, "for.loop") {
			t.Errorf("unexpected header %s", l.Header.Name)
		}

		exits := l.ExitBlocks()
		if len(exits) != 1 {
			t.Fatalf("expected a single exit, got %v", exits)
		}
		phi := exits[0].Instrs[0]
		if phi.Op != ir.OpPhi || !strings.HasSuffix(phi.Name, ".lcssa") {
			t.Fatalf("the sum does not leave the loop through a phi, got %v", phi)
		}
		if ret := exits[0].Terminator(); ret.Op != ir.OpReturn || ret.Operands[0] != ir.Value(phi) {
			t.Errorf("unexpected return %v", ret.Operands)
		}
	})

	t.Run("nested", func(t *testing.T) {
		_, f := load(t, "Grid")

		if len(f.Loops) != 1 || len(f.Loops[0].Children) != 1 {
			t.Fatalf("unexpected loop nest %v", f.Loops)
		}
		if d := f.Loops[0].Children[0].Depth(); d != 2 {
			t.Errorf("unexpected inner loop depth %d", d)
		}
		if err := ir.CheckLoopForm(f); err != nil {
			t.Error(err)
		}
	})
}

func TestLoader_Seed(t *testing.T) {
	l, f := load(t, "Local")

	expected := []string{"alloc", "ptradd", "store", "ptradd", "load", "ret"}
	if got := ops(f); !reflect.DeepEqual(expected, got) {
		deepequal.SideBySide(t, "ops", expected, got)
	}

	s := shadow.NewSession(l.Module(), specials.New(nil), f)
	root := ctxtree.NewRoot(s, f)
	ctxtree.AssumeAllLive(root)
	l.Seed(root)

	rec, _ := root.GetBlock(0)
	base, ok := values.UniquePointer(rec.Insts[0].PB)
	if !ok || base.Base.Alloc == nil {
		t.Fatalf("alloc does not point to itself: %v", rec.Insts[0].PB)
	}

	elem, ok := values.UniquePointer(rec.Insts[1].PB)
	if !ok || elem.Base.Alloc != base.Base.Alloc || elem.Offset != 8 {
		t.Errorf("unexpected element address %v", rec.Insts[1].PB)
	}

	if _, ok := rec.Insts[4].PB.(*values.Single); !ok {
		t.Errorf("load is not seeded: %v", rec.Insts[4].PB)
	}
}

func TestLoader_Once(t *testing.T) {
	pkg := build(t)
	l := New(nil, nil)

	first, err := l.Function(pkg.Func("Sum"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Function(pkg.Func("Sum"))
	if err != nil {
		t.Fatal(err)
	}
	if first != second || len(l.Module().Functions) != 1 {
		t.Errorf("function converted twice")
	}
}
