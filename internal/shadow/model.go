package shadow

import (
	"fmt"

	"github.com/sirkon/tentload/internal/ir"
)

// Invalid marks a missing block or instruction index.
const Invalid = ^uint32(0)

// NoFrame is the frame size of functions that never allocate on the stack.
// Frame processing is skipped for them altogether.
const NoFrame = -1

// RefKind tells what an InstIdx refers to.
type RefKind int

const (
	// RefNone is a reference to nothing the model tracks.
	RefNone RefKind = iota

	// RefInst is an instruction at (Block, Inst).
	RefInst

	// RefGlobal is a global, Inst holds its session index.
	RefGlobal

	// RefArg is a function parameter, Inst holds its position.
	RefArg

	// RefConst is a literal or a function.
	RefConst

	// RefBlock is a control transfer target, Block holds its index.
	RefBlock
)

var refKindNames = map[RefKind]string{
	RefNone:   "none",
	RefInst:   "inst",
	RefGlobal: "global",
	RefArg:    "arg",
	RefConst:  "const",
	RefBlock:  "block",
}

func (k RefKind) String() string {
	v, ok := refKindNames[k]
	if !ok {
		return fmt.Sprintf("ref-kind-invalid(%d)", k)
	}

	return v
}

// InstIdx is a resolved cross reference of an operand or a use.
type InstIdx struct {
	Kind  RefKind
	Block uint32
	Inst  uint32
}

func (x InstIdx) String() string {
	switch x.Kind {
	case RefInst:
		return fmt.Sprintf("%d:%d", x.Block, x.Inst)
	case RefGlobal:
		return fmt.Sprintf("global#%d", x.Inst)
	case RefArg:
		return fmt.Sprintf("arg#%d", x.Inst)
	case RefBlock:
		return fmt.Sprintf("block#%d", x.Block)
	default:
		return x.Kind.String()
	}
}

// FunctionInvar is the immutable model of a function.
type FunctionInvar struct {
	F             *ir.Function
	BBs           []*BlockInvar
	Args          []*ArgInvar
	TopLevelLoops []*LoopInvar
	LInfo         map[*ir.Loop]*LoopInvar
	Spans         *LoopSpans

	// FrameSize is the number of stack allocations leading the entry block or NoFrame.
	FrameSize int

	index map[*ir.Block]uint32
}

// BlockIndex returns the index of the block, false for blocks not reachable from the entry.
func (fi *FunctionInvar) BlockIndex(b *ir.Block) (uint32, bool) {
	idx, ok := fi.index[b]
	return idx, ok
}

// Inst returns the instruction model at the given indexes.
func (fi *FunctionInvar) Inst(block, inst uint32) *InstInvar {
	return fi.BBs[block].Insts[inst]
}

// LoopOf returns the model of the loop.
func (fi *FunctionInvar) LoopOf(l *ir.Loop) *LoopInvar {
	return fi.LInfo[l]
}

// ArgInvar is the model of a function parameter.
type ArgInvar struct {
	P     *ir.Param
	Users []InstIdx
}

// BlockInvar is the immutable model of a block.
type BlockInvar struct {
	Idx   uint32
	Succs []uint32
	Preds []uint32
	F     *FunctionInvar

	// NaturalScope is the innermost loop containing the block, nil outside loops.
	NaturalScope *LoopInvar

	Insts []*InstInvar
	BB    *ir.Block
}

func (b *BlockInvar) String() string {
	return fmt.Sprintf("%s#%d", b.BB.Name, b.Idx)
}

// SuccIndex returns the position of the successor with the given index, -1 when there is no such edge.
func (b *BlockInvar) SuccIndex(idx uint32) int {
	for i, s := range b.Succs {
		if s == idx {
			return i
		}
	}

	return -1
}

// InstInvar is the immutable model of an instruction.
type InstInvar struct {
	Idx      uint32
	BlockIdx uint32
	Operands []InstIdx

	// OperandBlocks are indices of PHI incoming blocks, parallel to Operands.
	OperandBlocks []uint32

	Users  []InstIdx
	I      *ir.Instruction
	Parent *BlockInvar
}

func (i *InstInvar) String() string {
	return fmt.Sprintf("%s@%d:%d", i.I, i.BlockIdx, i.Idx)
}

// EdgeIdx is a control flow edge between block indexes.
type EdgeIdx struct {
	From uint32
	To   uint32
}

// LoopInvar is the immutable model of a natural loop.
type LoopInvar struct {
	L            *ir.Loop
	HeaderIdx    uint32
	PreheaderIdx uint32
	LatchIdx     uint32
	NBlocks      uint32

	ExitEdges     []EdgeIdx
	ExitingBlocks []uint32
	ExitBlocks    []uint32

	// OptimisticEdge is an in-loop edge the peeling heuristic may assume dead.
	OptimisticEdge    EdgeIdx
	HasOptimisticEdge bool

	// AlwaysIterate loops run their body at least once.
	AlwaysIterate bool

	Parent   *LoopInvar
	Children []*LoopInvar
}

// ContainsBlock tells if the block index belongs to the loop or any loop nested in it.
func (l *LoopInvar) ContainsBlock(idx uint32) bool {
	return idx >= l.HeaderIdx && idx-l.HeaderIdx < l.NBlocks
}

// ContainsLoop tells if other is l or nested in l. A nil other is the
// function level and is contained by nothing but nil.
func (l *LoopInvar) ContainsLoop(other *LoopInvar) bool {
	if l == nil {
		return true
	}

	for ; other != nil; other = other.Parent {
		if other == l {
			return true
		}
	}

	return false
}

// ImmediateChild returns the loop directly nested in l that contains inner.
// A nil l is the function level.
func (l *LoopInvar) ImmediateChild(inner *LoopInvar) *LoopInvar {
	for c := inner; c != nil; c = c.Parent {
		if c.Parent == l {
			return c
		}
	}

	return nil
}

func (l *LoopInvar) String() string {
	return fmt.Sprintf("loop[%d,%d)", l.HeaderIdx, l.HeaderIdx+l.NBlocks)
}
