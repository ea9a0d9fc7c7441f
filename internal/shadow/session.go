package shadow

import (
	"fmt"

	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/tlstore"
)

// AllocKind tells where an allocation lives.
type AllocKind int

const (
	AllocInvalid AllocKind = iota
	AllocHeap
	AllocStack
	AllocGlobal
)

var allocKindNames = map[AllocKind]string{
	AllocHeap:   "heap",
	AllocStack:  "stack",
	AllocGlobal: "global",
}

func (k AllocKind) String() string {
	v, ok := allocKindNames[k]
	if !ok {
		return fmt.Sprintf("alloc-kind-invalid(%d)", k)
	}

	return v
}

// Alloc describes an allocated object.
type Alloc struct {
	// Index is the position in the session heap table or in the owner frame.
	Index int
	Kind  AllocKind

	StoreSize uint64
	Committed bool

	// Global is set for allocations backing mutable globals.
	Global *Global

	// Storage is the concrete storage the allocation maps to once the commit stage resolved it.
	Storage any

	// Owner is the allocating instruction record, nil for globals.
	Owner any

	// Frame is the stack frame of a stack allocation, tlstore.HeapFrame for the rest.
	Frame int
}

func (a *Alloc) String() string {
	if a.Global != nil {
		return a.Global.G.String()
	}

	return fmt.Sprintf("%s#%d", a.Kind, a.Index)
}

// Global is the model of a module global.
type Global struct {
	Index     uint32
	G         *ir.Global
	StoreSize uint64

	// Alloc is nil for constant globals.
	Alloc *Alloc
}

// Session holds everything shared by a single analysis run over a module.
type Session struct {
	Module   *ir.Module
	Registry *specials.Registry

	globals   []*Global
	globalIdx map[*ir.Global]uint32
	heap      []*Alloc
	funcs     map[*ir.Function]*FunctionInvar
	root      *ir.Function
	reporter  *diag.Reporter
}

// NewSession initializes the analysis of the module. Globals get dense
// indexes and mutable ones are backed by committed heap allocations. The
// root function is the entry of the specialization, it may be nil.
func NewSession(m *ir.Module, reg *specials.Registry, root *ir.Function) *Session {
	if reg == nil {
		reg = specials.New(nil)
	}

	s := &Session{
		Module:    m,
		Registry:  reg,
		globalIdx: make(map[*ir.Global]uint32, len(m.Globals)),
		funcs:     map[*ir.Function]*FunctionInvar{},
		root:      root,
	}

	// All globals get numbers first.
	for i, g := range m.Globals {
		s.globals = append(s.globals, &Global{Index: uint32(i), G: g, StoreSize: g.Size})
		s.globalIdx[g] = uint32(i)
	}

	for _, g := range s.globals {
		if g.G.Constant {
			continue
		}

		a := s.NewHeapAlloc(g.StoreSize, nil)
		a.Kind = AllocGlobal
		a.Committed = true
		a.Global = g
		g.Alloc = a
	}

	return s
}

// SetReporter sets the reporter of findings. Reports are dropped without it.
func (s *Session) SetReporter(r *diag.Reporter) {
	s.reporter = r
}

// Reporter bound to the given phase and to the root function, nil when no
// reporter was set.
func (s *Session) Reporter(p diag.Phase) *diag.PhaseReporter {
	if s.reporter == nil {
		return nil
	}

	rep := s.reporter.Phase(p)
	if s.root != nil {
		rep = rep.In(s.root.Name)
	}

	return rep
}

// Root is the function the specialization starts from.
func (s *Session) Root() *ir.Function {
	return s.root
}

// Globals in index order.
func (s *Session) Globals() []*Global {
	return s.globals
}

// Global returns the model of the global, nil for globals of another module.
func (s *Session) Global(g *ir.Global) *Global {
	idx, ok := s.globalIdx[g]
	if !ok {
		return nil
	}

	return s.globals[idx]
}

// GlobalByName returns the model of the named global.
func (s *Session) GlobalByName(name string) *Global {
	g := s.Module.Global(name)
	if g == nil {
		return nil
	}

	return s.Global(g)
}

// GlobalAt returns the global with the given index.
func (s *Session) GlobalAt(idx uint32) *Global {
	return s.globals[idx]
}

// NewHeapAlloc registers an uncommitted heap allocation.
func (s *Session) NewHeapAlloc(size uint64, owner any) *Alloc {
	a := &Alloc{
		Index:     len(s.heap),
		Kind:      AllocHeap,
		StoreSize: size,
		Owner:     owner,
		Frame:     tlstore.HeapFrame,
	}
	s.heap = append(s.heap, a)

	return a
}

// Heap lists heap allocations in index order.
func (s *Session) Heap() []*Alloc {
	return s.heap
}
