package ir

import (
	"fmt"
	"go/token"
)

// Op is an instruction opcode.
type Op int

const (
	OpInvalid Op = iota

	// OpAlloc reserves Size bytes in the current stack frame.
	OpAlloc

	// OpLoad reads Size bytes from Operands[0].
	OpLoad

	// OpStore writes Operands[0] (Size bytes) to the address Operands[1].
	OpStore

	// OpCall calls Operands[0] with arguments Operands[1:].
	OpCall

	// OpMemSet fills Operands[2] bytes at Operands[0] with Operands[1].
	OpMemSet

	// OpMemCopy copies Operands[2] bytes from Operands[1] to Operands[0].
	OpMemCopy

	// OpPtrAdd computes Operands[0] + Offset.
	OpPtrAdd

	// OpPhi selects Operands[i] when control arrives from Incoming[i].
	OpPhi

	// OpBranch transfers control. Conditional form: Operands = [cond, then, else].
	// Unconditional form: Operands = [target]. Switches list further targets.
	OpBranch

	// OpReturn leaves the function, Operands optionally hold results.
	OpReturn

	// OpUnreachable terminates a block control never leaves.
	OpUnreachable

	OpBinary
	OpCompare
	OpOther
)

var opNames = map[Op]string{
	OpAlloc:       "alloc",
	OpLoad:        "load",
	OpStore:       "store",
	OpCall:        "call",
	OpMemSet:      "memset",
	OpMemCopy:     "memcopy",
	OpPtrAdd:      "ptradd",
	OpPhi:         "phi",
	OpBranch:      "br",
	OpReturn:      "ret",
	OpUnreachable: "unreachable",
	OpBinary:      "binop",
	OpCompare:     "cmp",
	OpOther:       "other",
}

func (o Op) String() string {
	v, ok := opNames[o]
	if !ok {
		return fmt.Sprintf("op-invalid(%d)", o)
	}

	return v
}

// IsTerminator tells if the opcode ends a block.
func (o Op) IsTerminator() bool {
	switch o {
	case OpBranch, OpReturn, OpUnreachable:
		return true
	default:
		return false
	}
}

// Module is a unit of analysis: the globals and the functions that may refer to them.
type Module struct {
	Globals   []*Global
	Functions []*Function
}

// Function by name. Returns nil if there is no such function.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}

	return nil
}

// Global by name. Returns nil if there is no such global.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}

	return nil
}

// Function is a function with or without a body. External functions have no blocks.
type Function struct {
	Name   string
	Params []*Param
	Blocks []*Block

	// Loops are the top-level natural loops, nested ones are reachable through Children.
	Loops []*Loop

	Module *Module
}

// External tells the function has no body available.
func (f *Function) External() bool {
	return len(f.Blocks) == 0
}

// Entry block. Nil for external functions.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}

	return f.Blocks[0]
}

func (f *Function) String() string {
	return f.Name
}

// Block is a basic block.
type Block struct {
	Name   string
	Instrs []*Instruction
	Func   *Function

	// Succs and Preds are derived from terminators by Function.Seal.
	Succs []*Block
	Preds []*Block
}

func (b *Block) String() string {
	return b.Name
}

// Pos is the first valid position of the block instructions.
func (b *Block) Pos() token.Pos {
	for _, inst := range b.Instrs {
		if inst.Pos.IsValid() {
			return inst.Pos
		}
	}

	return token.NoPos
}

// Terminator of the block, nil when the block is still under construction.
func (b *Block) Terminator() *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}

	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}

	return last
}

// Instruction is a single operation.
type Instruction struct {
	Name     string
	Op       Op
	Operands []Value

	// Incoming blocks of a PHI, parallel to Operands.
	Incoming []*Block

	// Size is the access size of loads and stores and the store size of allocs.
	Size uint64

	// Offset of an OpPtrAdd.
	Offset int64

	// Operator of OpBinary and OpCompare, token.ILLEGAL when unknown.
	Operator token.Token

	Volatile bool
	Pos      token.Pos

	Block *Block

	// Users are derived by Function.Seal.
	Users []*Instruction
}

// Index of the instruction within its block.
func (i *Instruction) Index() int {
	for k, v := range i.Block.Instrs {
		if v == i {
			return k
		}
	}

	panic(fmt.Sprintf("ir: instruction %s is not in its block %s", i.Name, i.Block.Name))
}

// Callee of a call, nil for any other instruction.
func (i *Instruction) Callee() Value {
	if i.Op != OpCall || len(i.Operands) == 0 {
		return nil
	}

	return i.Operands[0]
}

// StaticCallee of a call, nil for indirect calls and non-calls.
func (i *Instruction) StaticCallee() *Function {
	f, _ := i.Callee().(*Function)
	return f
}

// CallArg returns the n-th call argument.
func (i *Instruction) CallArg(n int) Value {
	return i.Operands[n+1]
}

// NumCallArgs returns the number of call arguments.
func (i *Instruction) NumCallArgs() int {
	if i.Op != OpCall || len(i.Operands) == 0 {
		return 0
	}

	return len(i.Operands) - 1
}

func (i *Instruction) String() string {
	if i.Name == "" {
		return i.Op.String()
	}

	return "%" + i.Name
}

// Seal derives block successors, predecessors and instruction users from the
// function body. It must be called once construction is complete and before
// the function is handed to the model builder.
func (f *Function) Seal() {
	for _, b := range f.Blocks {
		b.Func = f
		b.Succs = nil
		b.Preds = nil
		for _, inst := range b.Instrs {
			inst.Block = b
			inst.Users = nil
		}
	}

	for _, b := range f.Blocks {
		term := b.Terminator()
		if term == nil {
			panic(fmt.Sprintf("ir: block %s of %s has no terminator", b.Name, f.Name))
		}

		for _, op := range term.Operands {
			if succ, ok := op.(*Block); ok {
				b.Succs = append(b.Succs, succ)
				succ.Preds = append(succ.Preds, b)
			}
		}

		for _, inst := range b.Instrs {
			for _, op := range inst.Operands {
				if def, ok := op.(*Instruction); ok {
					def.Users = append(def.Users, inst)
				}
			}
		}
	}

	for _, p := range f.Params {
		p.Func = f
	}
}
