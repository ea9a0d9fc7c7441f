package ssaload

import (
	"errors"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"

	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/ir"
)

var (
	// ErrNoBody is returned for functions without SSA blocks.
	ErrNoBody = errors.New("function has no body")

	// ErrGeneric is returned for uninstantiated generic functions.
	ErrGeneric = errors.New("generic function")

	// ErrIrreducible is returned for control flow having loops with several entries.
	ErrIrreducible = errors.New("irreducible control flow")

	// ErrLoopShape is returned when loops cannot be brought into the normal form.
	ErrLoopShape = errors.New("loops cannot be normalized")
)

// Loader converts SSA functions into a single module. Every function and
// global is converted once. Callees are declared on first reference and get
// a body only when they are converted themselves.
type Loader struct {
	sizes  types.Sizes
	module *ir.Module
	rep    *diag.PhaseReporter

	funcs   map[*ssa.Function]*ir.Function
	sources map[*ir.Function]*ssa.Function
	byName  map[string]*ir.Function
	globals map[*ssa.Global]*ir.Global
	done    map[*ssa.Function]error

	// pointers are instructions producing addresses.
	pointers map[*ir.Instruction]struct{}

	// offsets caches struct field offsets by type identity.
	offsets typeutil.Map
}

// New creates a loader. A nil sizes stands for the gc compiler on amd64,
// rep may be nil to drop reports about unsupported instructions.
func New(sizes types.Sizes, rep *diag.PhaseReporter) *Loader {
	if sizes == nil {
		sizes = types.SizesFor("gc", "amd64")
	}

	return &Loader{
		sizes:    sizes,
		module:   &ir.Module{},
		rep:      rep,
		funcs:    map[*ssa.Function]*ir.Function{},
		sources:  map[*ir.Function]*ssa.Function{},
		byName:   map[string]*ir.Function{},
		globals:  map[*ssa.Global]*ir.Global{},
		done:     map[*ssa.Function]error{},
		pointers: map[*ir.Instruction]struct{}{},
	}
}

// Module the loader fills.
func (l *Loader) Module() *ir.Module {
	return l.module
}

// Function converts the body of fn. The function stays external when
// conversion fails.
func (l *Loader) Function(fn *ssa.Function) (*ir.Function, error) {
	f := l.declare(fn)
	if err, ok := l.done[fn]; ok {
		return f, err
	}

	err := l.convert(fn, f)
	if err != nil {
		f.Blocks = nil
		f.Loops = nil
		err = fmt.Errorf("convert %s: %w", fn, err)
	}
	l.done[fn] = err

	return f, err
}

// IsPointer tells the instruction produces an address.
func (l *Loader) IsPointer(inst *ir.Instruction) bool {
	_, ok := l.pointers[inst]
	return ok
}

func (l *Loader) declare(fn *ssa.Function) *ir.Function {
	if f, ok := l.funcs[fn]; ok {
		return f
	}

	name := fn.String()
	f := l.byName[name]
	if f == nil {
		f = ir.NewExternal(l.module, name)
		l.byName[name] = f
	}
	l.funcs[fn] = f
	if _, ok := l.sources[f]; !ok {
		l.sources[f] = fn
	}

	return f
}

// Source of the converted or declared function, nil for runtime helpers.
func (l *Loader) Source(f *ir.Function) *ssa.Function {
	return l.sources[f]
}

// external declares a runtime helper the conversion calls into.
func (l *Loader) external(name string) *ir.Function {
	if f, ok := l.byName[name]; ok {
		return f
	}

	f := ir.NewExternal(l.module, name)
	l.byName[name] = f
	return f
}

// Global declares the global in the module. Globals must be declared before
// sessions over the module are created.
func (l *Loader) Global(g *ssa.Global) *ir.Global {
	if v, ok := l.globals[g]; ok {
		return v
	}

	v := ir.NewGlobal(l.module, g.String(), l.elemSize(g.Type()), false)
	l.globals[g] = v
	return v
}

func (l *Loader) constant(c *ssa.Const) ir.Value {
	if c.Value == nil {
		if c.IsNil() {
			return ir.Null
		}
		return &ir.ConstOther{Text: "zero " + c.Type().String()}
	}

	switch c.Value.Kind() {
	case constant.Bool:
		if constant.BoolVal(c.Value) {
			return ir.Int(1, 1)
		}
		return ir.Int(1, 0)
	case constant.Int:
		v, exact := constant.Uint64Val(c.Value)
		if !exact {
			i, ok := constant.Int64Val(c.Value)
			if !ok {
				return &ir.ConstOther{Text: c.Value.ExactString()}
			}
			v = uint64(i)
		}
		return ir.Int(l.bits(c.Type()), v)
	default:
		return &ir.ConstOther{Text: c.Value.ExactString()}
	}
}

func (l *Loader) bits(t types.Type) int {
	if b, ok := t.Underlying().(*types.Basic); ok && b.Info()&types.IsBoolean != 0 {
		return 1
	}

	return int(l.sizes.Sizeof(t)) * 8
}

func (l *Loader) sizeof(t types.Type) uint64 {
	if tuple, ok := t.(*types.Tuple); ok {
		var size int64
		for v := range tuple.Variables() {
			size += l.sizes.Sizeof(v.Type())
		}
		return uint64(size)
	}

	return uint64(l.sizes.Sizeof(t))
}

// elemSize of the type a pointer type points to.
func (l *Loader) elemSize(t types.Type) uint64 {
	p, ok := t.Underlying().(*types.Pointer)
	if !ok {
		return 0
	}

	return l.sizeof(p.Elem())
}

// fieldOffset of the i-th field of the struct a pointer type points to.
func (l *Loader) fieldOffset(t types.Type, i int) (int64, bool) {
	p, ok := t.Underlying().(*types.Pointer)
	if !ok {
		return 0, false
	}
	st, ok := p.Elem().Underlying().(*types.Struct)
	if !ok || i >= st.NumFields() {
		return 0, false
	}

	offsets, _ := l.offsets.At(st).([]int64)
	if offsets == nil {
		fields := make([]*types.Var, st.NumFields())
		for k := range fields {
			fields[k] = st.Field(k)
		}
		offsets = l.sizes.Offsetsof(fields)
		l.offsets.Set(st, offsets)
	}

	return offsets[i], true
}

func isPointer(t types.Type) bool {
	switch u := t.Underlying().(type) {
	case *types.Pointer:
		return true
	case *types.Basic:
		return u.Kind() == types.UnsafePointer
	default:
		return false
	}
}

func (l *Loader) unsupported(what string, pos token.Pos) {
	if l.rep == nil {
		return
	}

	l.rep.Report(diag.TL030UnsupportedInstruction, what+" is treated as opaque", pos)
}
