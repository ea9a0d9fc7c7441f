package ctxtree

import (
	"fmt"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
)

// Context is a specialization context.
type Context interface {
	isContext()

	Session() *shadow.Session
	Invar() *shadow.FunctionInvar

	// Scope is the loop the context is restricted to, nil for inline attempts.
	Scope() *shadow.LoopInvar
	Parent() Context
	FunctionRoot() *InlineAttempt

	Enabled() bool
	AllAncestorsEnabled() bool

	// GetOrCreateBlock returns the record of the block. The block must be in the context scope.
	GetOrCreateBlock(idx uint32) *Block

	// GetBlock returns the record of the block and if the index is in the context scope.
	GetBlock(idx uint32) (*Block, bool)

	// ResolveInstruction returns the record of the instruction, from an
	// enclosing context when it is out of scope.
	ResolveInstruction(block, inst uint32) *Instruction

	// Blocks returns the range of indexes in scope.
	Blocks() (start, end uint32)

	// CreateBlock creates the record of the block, it must not exist yet.
	CreateBlock(idx uint32) *Block
	UniqueBlockRising(idx uint32) *Block

	Inline(call *Instruction) *InlineAttempt
	InlineChild(call *Instruction) *InlineAttempt
	InlineChildren() []*InlineAttempt
	Peel(l *shadow.LoopInvar) *PeelAttempt
	PeelChild(l *shadow.LoopInvar) *PeelAttempt
	PeelChildren() []*PeelAttempt

	// PathFunction returns the attempt of f asserted at the start of the block.
	PathFunction(block uint32, f *ir.Function) *InlineAttempt
	PathFunctions(block uint32) []*InlineAttempt
	PathChildren() []*InlineAttempt

	EdgeIsDead(from, to uint32) bool
	EdgeIsDeadRising(from, to uint32, ignoreThisScope bool) bool
	LivePredecessors(idx uint32) []*Block

	// PeeledFor returns the peel attempt terminated iterations of which own the block.
	PeeledFor(idx uint32) *PeelAttempt
	CopyLoopExitingDeadEdges(pa *PeelAttempt)

	// TL is the tentative-load analysis state of the context.
	TL() *TLState

	// ReadsTentativeData tells the context has reads that must be checked.
	ReadsTentativeData() bool

	String() string
}

var (
	_ Context = new(InlineAttempt)
	_ Context = new(PeelIteration)
)

func (*InlineAttempt) isContext() {}
func (*PeelIteration) isContext() {}

// TLState is the tentative-load analysis state of a context.
type TLState struct {
	// Run is set once the context was walked.
	Run bool

	ReadsTentativeData bool

	// CheckedHere counts checked instructions of the context itself,
	// CheckedChildren adds the counts of its children.
	CheckedHere     int
	CheckedChildren int
}

// base is shared by both context kinds.
type base struct {
	self    Context
	session *shadow.Session
	invar   *shadow.FunctionInvar
	scope   *shadow.LoopInvar
	parent  Context

	offset uint32
	blocks []*Block

	inlines     map[*Instruction]*InlineAttempt
	inlineOrder []*InlineAttempt
	peels       map[*shadow.LoopInvar]*PeelAttempt
	peelOrder   []*PeelAttempt
	paths       map[pathKey]*InlineAttempt
	pathOrder   []*InlineAttempt

	tl TLState
}

func newBase(self Context, s *shadow.Session, fi *shadow.FunctionInvar, scope *shadow.LoopInvar, parent Context) base {
	b := base{
		self:    self,
		session: s,
		invar:   fi,
		scope:   scope,
		parent:  parent,
		inlines: map[*Instruction]*InlineAttempt{},
		peels:   map[*shadow.LoopInvar]*PeelAttempt{},
	}

	if scope == nil {
		b.blocks = make([]*Block, len(fi.BBs))
	} else {
		b.offset = scope.HeaderIdx
		b.blocks = make([]*Block, scope.NBlocks)
	}

	return b
}

func (b *base) Session() *shadow.Session         { return b.session }
func (b *base) Invar() *shadow.FunctionInvar     { return b.invar }
func (b *base) Scope() *shadow.LoopInvar         { return b.scope }
func (b *base) TL() *TLState                     { return &b.tl }
func (b *base) ReadsTentativeData() bool         { return b.tl.ReadsTentativeData }
func (b *base) InlineChildren() []*InlineAttempt { return b.inlineOrder }
func (b *base) PeelChildren() []*PeelAttempt     { return b.peelOrder }

// Parent returns nil for the root.
func (b *base) Parent() Context {
	return b.parent
}

func (b *base) Blocks() (start, end uint32) {
	return b.offset, b.offset + uint32(len(b.blocks))
}

func (b *base) inScope(idx uint32) bool {
	return idx >= b.offset && idx-b.offset < uint32(len(b.blocks))
}

func (b *base) GetBlock(idx uint32) (*Block, bool) {
	if !b.inScope(idx) {
		return nil, false
	}

	return b.blocks[idx-b.offset], true
}

func (b *base) blockName(idx uint32) string {
	if int(idx) < len(b.invar.BBs) {
		return b.invar.BBs[idx].BB.Name
	}

	return fmt.Sprintf("#%d", idx)
}

func (b *base) GetOrCreateBlock(idx uint32) *Block {
	if !b.inScope(idx) {
		shadow.Violated(b.invar.F.Name, b.blockName(idx), shadow.ErrOutOfScope)
	}

	if rec := b.blocks[idx-b.offset]; rec != nil {
		return rec
	}

	return b.createBlock(idx)
}

// CreateBlock creates the record of the block. A record must not exist yet.
func (b *base) CreateBlock(idx uint32) *Block {
	if !b.inScope(idx) {
		shadow.Violated(b.invar.F.Name, b.blockName(idx), shadow.ErrOutOfScope)
	}

	return b.createBlock(idx)
}

func (b *base) createBlock(idx uint32) *Block {
	bi := b.invar.BBs[idx]
	if b.blocks[idx-b.offset] != nil {
		shadow.Violated(b.invar.F.Name, bi.BB.Name, shadow.ErrBlockRecreated)
	}

	rec := &Block{
		Invar:      bi,
		Ctx:        b.self,
		SuccsAlive: make([]bool, len(bi.Succs)),
		Insts:      make([]*Instruction, len(bi.Insts)),
	}
	for i, ii := range bi.Insts {
		rec.Insts[i] = &Instruction{
			Invar:       ii,
			Parent:      rec,
			ThreadLocal: MustCheck,
		}
	}
	b.blocks[idx-b.offset] = rec

	return rec
}

func (b *base) ResolveInstruction(block, inst uint32) *Instruction {
	rec, inScope := b.GetBlock(block)
	if !inScope {
		if b.parent == nil {
			shadow.Violated(b.invar.F.Name, b.blockName(block), shadow.ErrOutOfScope)
		}
		return b.parent.ResolveInstruction(block, inst)
	}

	if rec == nil || b.peeledFor(block) != nil {
		rec = b.UniqueBlockRising(block)
	}
	if rec == nil {
		return nil
	}

	return rec.Insts[inst]
}

func (b *base) PeeledFor(idx uint32) *PeelAttempt {
	return b.peeledFor(idx)
}

// peeledFor returns the terminated peel attempt of this context the block
// belongs to, nil when the context keeps the block itself.
func (b *base) peeledFor(idx uint32) *PeelAttempt {
	inner := b.invar.BBs[idx].NaturalScope
	if inner == b.scope || !b.scope.ContainsLoop(inner) {
		return nil
	}

	for l := b.scope.ImmediateChild(inner); l != nil; l = l.ImmediateChild(inner) {
		if pa := b.peels[l]; pa != nil && pa.Terminated {
			return pa
		}
	}

	return nil
}

// UniqueBlockRising returns the record of the block in this context or, for
// blocks of loops peeled to termination, in the last iteration when it is
// the only one leaving the loop.
func (b *base) UniqueBlockRising(idx uint32) *Block {
	pa := b.peeledFor(idx)
	if pa == nil {
		rec, _ := b.GetBlock(idx)
		return rec
	}

	last := pa.Iterations[len(pa.Iterations)-1]
	if !last.IsOnlyExitingIteration() {
		return nil
	}

	return last.UniqueBlockRising(idx)
}

func (b *base) InlineChild(call *Instruction) *InlineAttempt {
	return b.inlines[call]
}

func (b *base) PeelChild(l *shadow.LoopInvar) *PeelAttempt {
	if l == nil {
		return nil
	}

	return b.peels[l]
}

// Inline returns the inline attempt of the call, creating it on the first
// request. It returns nil for calls without a static callee with a body.
func (b *base) Inline(call *Instruction) *InlineAttempt {
	if ia, ok := b.inlines[call]; ok {
		return ia
	}

	if call.Ctx() != b.self {
		panic(fmt.Sprintf("ctxtree: call %s is inlined into a context it does not belong to", call))
	}

	callee := call.I().StaticCallee()
	if callee == nil || callee.External() {
		return nil
	}

	ia := newInlineAttempt(b.session, callee, b.self, call)
	b.inlines[call] = ia
	b.inlineOrder = append(b.inlineOrder, ia)

	return ia
}

// Peel returns the peel attempt of the loop, creating it on the first request.
// The loop must be nested in the context scope.
func (b *base) Peel(l *shadow.LoopInvar) *PeelAttempt {
	if pa, ok := b.peels[l]; ok {
		return pa
	}

	if l == b.scope || !b.scope.ContainsLoop(l) {
		panic(fmt.Sprintf("ctxtree: %s is not nested in %s", l, b.self))
	}

	pa := &PeelAttempt{
		L:       l,
		Parent:  b.self,
		Enabled: true,
	}
	b.peels[l] = pa
	b.peelOrder = append(b.peelOrder, pa)

	return pa
}

// EdgeIsDead tells the edge cannot execute in this context. Blocks without
// a record are dead.
func (b *base) EdgeIsDead(from, to uint32) bool {
	rec, inScope := b.GetBlock(from)
	if !inScope {
		if b.parent == nil {
			return false
		}
		return b.parent.EdgeIsDead(from, to)
	}

	if rec == nil {
		return true
	}

	return !rec.EdgeAlive(to)
}

// EdgeIsDeadRising is EdgeIsDead that looks into loops peeled to
// termination: such an edge is dead when it is dead in every iteration.
func (b *base) EdgeIsDeadRising(from, to uint32, ignoreThisScope bool) bool {
	if pa := b.peeledFor(from); pa != nil {
		for _, it := range pa.Iterations {
			if !it.EdgeIsDeadRising(from, to, false) {
				return false
			}
		}
		return true
	}

	if ignoreThisScope {
		return false
	}

	return b.EdgeIsDead(from, to)
}

// CopyLoopExitingDeadEdges makes exit edges of the peeled loop live in this
// context iff some iteration may take them.
func (b *base) CopyLoopExitingDeadEdges(pa *PeelAttempt) {
	for _, e := range pa.L.ExitEdges {
		rec := b.GetOrCreateBlock(e.From)
		rec.SetEdgeAlive(e.To, !b.EdgeIsDeadRising(e.From, e.To, true))
	}
}

// LivePredecessors returns records of predecessors having a live edge to
// the block. Predecessors in child loops peeled to termination are taken
// from every iteration.
func (b *base) LivePredecessors(idx uint32) []*Block {
	var res []*Block
	for _, p := range b.invar.BBs[idx].Preds {
		res = b.collectLive(p, idx, res)
	}

	return res
}

func (b *base) collectLive(from, to uint32, res []*Block) []*Block {
	if pa := b.peeledFor(from); pa != nil {
		for _, it := range pa.Iterations {
			res = it.collectLive(from, to, res)
		}
		return res
	}

	if prec, _ := b.GetBlock(from); prec != nil && prec.EdgeAlive(to) {
		res = append(res, prec)
	}

	return res
}
