package ctxtree

import (
	"fmt"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/tlstore"
	"github.com/sirkon/tentload/internal/values"
)

// Store is the interference store of a block.
type Store = tlstore.Store[*shadow.Alloc]

// Status is the execution certainty of a block.
type Status int

const (
	StatusUnknown Status = iota
	StatusAssumed
	StatusCertain
)

var statusNames = map[Status]string{
	StatusUnknown: "unknown",
	StatusAssumed: "assumed",
	StatusCertain: "certain",
}

func (s Status) String() string {
	v, ok := statusNames[s]
	if !ok {
		return fmt.Sprintf("status-invalid(%d)", s)
	}

	return v
}

// ThreadLocalState tells if a read needs a runtime check against concurrent
// writes. States are ordered from the most to the least demanding one.
type ThreadLocalState int

const (
	// MustCheck is the state of a read of bytes not known to be safe. It is
	// also the initial state of every instruction.
	MustCheck ThreadLocalState = iota

	// NoCheck is the state of a read of bytes known to be safe.
	NoCheck

	// NeverCheck is the state of a read checking which would be moot.
	NeverCheck
)

var threadLocalNames = map[ThreadLocalState]string{
	MustCheck:  "must-check",
	NoCheck:    "no-check",
	NeverCheck: "never-check",
}

func (s ThreadLocalState) String() string {
	v, ok := threadLocalNames[s]
	if !ok {
		return fmt.Sprintf("thread-local-invalid(%d)", s)
	}

	return v
}

// RuntimeCheck is a check requested for other reasons than thread interference.
type RuntimeCheck int

const (
	RuntimeCheckNone RuntimeCheck = iota

	// RuntimeCheckAsExpected checks the result is what specialization assumed.
	RuntimeCheckAsExpected

	// RuntimeCheckSpecial checks precede the instruction.
	RuntimeCheckSpecial
)

var runtimeCheckNames = map[RuntimeCheck]string{
	RuntimeCheckNone:       "none",
	RuntimeCheckAsExpected: "as-expected",
	RuntimeCheckSpecial:    "special",
}

func (c RuntimeCheck) String() string {
	v, ok := runtimeCheckNames[c]
	if !ok {
		return fmt.Sprintf("runtime-check-invalid(%d)", c)
	}

	return v
}

// Block is the mutable record of a block in a context.
type Block struct {
	Invar *shadow.BlockInvar
	Ctx   Context

	// SuccsAlive is parallel to Invar.Succs. A dead edge cannot execute.
	SuccsAlive []bool
	Status     Status
	Insts      []*Instruction

	// TLStore is the interference store the block ends with, nil when it
	// was not computed or control never leaves the block.
	TLStore *Store
}

// Idx is the block index in the function model.
func (b *Block) Idx() uint32 {
	return b.Invar.Idx
}

// EdgeAlive tells if the edge to the successor with the given index is live.
func (b *Block) EdgeAlive(to uint32) bool {
	k := b.Invar.SuccIndex(to)
	return k >= 0 && b.SuccsAlive[k]
}

// SetEdgeAlive sets liveness of every edge to the successor with the given index.
func (b *Block) SetEdgeAlive(to uint32, alive bool) {
	for k, s := range b.Invar.Succs {
		if s == to {
			b.SuccsAlive[k] = alive
		}
	}
}

// AssumedToExecute tells the block is not known to be unreachable.
func (b *Block) AssumedToExecute() bool {
	return b.Status != StatusUnknown
}

func (b *Block) String() string {
	return fmt.Sprintf("%s in %s", b.Invar, b.Ctx)
}

// Instruction is the mutable record of an instruction in a context.
type Instruction struct {
	Invar  *shadow.InstInvar
	Parent *Block

	ThreadLocal       ThreadLocalState
	NeedsRuntimeCheck RuntimeCheck

	// Scratch is free for specialization stages to use.
	Scratch any

	// PB is the value the propagation engine computed, nil when it never ran here.
	PB values.Set

	// CopyValues are values a memory copy carried, offsets are relative to
	// the copy source.
	CopyValues []values.Range

	alloc *shadow.Alloc
}

// I is the underlying instruction.
func (i *Instruction) I() *ir.Instruction {
	return i.Invar.I
}

// Ctx is the context of the instruction.
func (i *Instruction) Ctx() Context {
	return i.Parent.Ctx
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%s in %s", i.Invar, i.Parent.Ctx)
}

// Special returns the registry entry of the called function.
func (i *Instruction) Special() (specials.Func, bool) {
	callee := i.Invar.I.StaticCallee()
	if callee == nil {
		return specials.Func{}, false
	}

	return i.Ctx().Session().Registry.Lookup(callee.Name)
}

// Alloc returns the allocation the instruction makes, creating its
// descriptor on the first request. It is nil for instructions that allocate
// nothing. Stack allocations belong to the frame of the function root.
func (i *Instruction) Alloc() *shadow.Alloc {
	if i.alloc != nil {
		return i.alloc
	}

	inst := i.Invar.I
	switch inst.Op {
	case ir.OpAlloc:
		i.alloc = i.Ctx().FunctionRoot().newStackAlloc(inst.Size, i)
	case ir.OpCall:
		fn, ok := i.Special()
		if !ok || (fn.Kind != specials.KindMalloc && fn.Kind != specials.KindRealloc) {
			return nil
		}

		var size uint64
		if fn.SizeArg < inst.NumCallArgs() {
			n, _ := values.ConstantInt(i.CallArg(fn.SizeArg).Values())
			size = fn.Bytes(n)
		}
		i.alloc = i.Ctx().Session().NewHeapAlloc(size, i)
	}

	return i.alloc
}

// Operand returns the resolved i-th operand.
func (i *Instruction) Operand(n int) Operand {
	return operand(i, n)
}

// CallArg returns the resolved n-th call argument.
func (i *Instruction) CallArg(n int) Operand {
	return operand(i, n+1)
}

// Arg is the record of a function root argument.
type Arg struct {
	Invar *shadow.ArgInvar
	IA    *InlineAttempt

	// PB is the value of the argument, nil means it is forwarded from the call site.
	PB values.Set
}

// Values of the argument.
func (a *Arg) Values() values.Set {
	if a.PB != nil {
		return a.PB
	}

	if a.IA.CallSite == nil {
		return nil
	}

	idx := a.Invar.P.Index
	if idx >= a.IA.CallSite.Invar.I.NumCallArgs() {
		return nil
	}

	return a.IA.CallSite.CallArg(idx).Values()
}
