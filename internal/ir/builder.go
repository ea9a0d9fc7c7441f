package ir

import "go/token"

// Builder assembles a function body block by block.
type Builder struct {
	f   *Function
	cur *Block
}

// NewFunction starts a function in the module. Params are given by name.
func NewFunction(m *Module, name string, params ...string) *Builder {
	f := &Function{Name: name, Module: m}
	for i, p := range params {
		f.Params = append(f.Params, &Param{Name: p, Index: i, Func: f})
	}
	if m != nil {
		m.Functions = append(m.Functions, f)
	}

	return &Builder{f: f}
}

// NewExternal declares a bodyless function in the module.
func NewExternal(m *Module, name string) *Function {
	f := &Function{Name: name, Module: m}
	if m != nil {
		m.Functions = append(m.Functions, f)
	}

	return f
}

// NewGlobal declares a global in the module.
func NewGlobal(m *Module, name string, size uint64, constant bool) *Global {
	g := &Global{Name: name, Size: size, Constant: constant}
	m.Globals = append(m.Globals, g)
	return g
}

// Func returns the function under construction.
func (b *Builder) Func() *Function {
	return b.f
}

// Param by index.
func (b *Builder) Param(i int) *Param {
	return b.f.Params[i]
}

// Block creates a new block and makes it current.
func (b *Builder) Block(name string) *Block {
	blk := &Block{Name: name, Func: b.f}
	b.f.Blocks = append(b.f.Blocks, blk)
	b.cur = blk
	return blk
}

// At makes the block current.
func (b *Builder) At(blk *Block) *Builder {
	b.cur = blk
	return b
}

// Emit appends an instruction to the current block.
func (b *Builder) Emit(inst *Instruction) *Instruction {
	inst.Block = b.cur
	b.cur.Instrs = append(b.cur.Instrs, inst)
	return inst
}

func (b *Builder) Alloc(name string, size uint64) *Instruction {
	return b.Emit(&Instruction{Name: name, Op: OpAlloc, Size: size})
}

func (b *Builder) Load(name string, ptr Value, size uint64) *Instruction {
	return b.Emit(&Instruction{Name: name, Op: OpLoad, Operands: []Value{ptr}, Size: size})
}

func (b *Builder) Store(val, ptr Value, size uint64) *Instruction {
	return b.Emit(&Instruction{Op: OpStore, Operands: []Value{val, ptr}, Size: size})
}

func (b *Builder) Call(name string, callee Value, args ...Value) *Instruction {
	ops := append([]Value{callee}, args...)
	return b.Emit(&Instruction{Name: name, Op: OpCall, Operands: ops})
}

func (b *Builder) MemSet(dst, val, n Value) *Instruction {
	return b.Emit(&Instruction{Op: OpMemSet, Operands: []Value{dst, val, n}})
}

func (b *Builder) MemCopy(dst, src, n Value) *Instruction {
	return b.Emit(&Instruction{Op: OpMemCopy, Operands: []Value{dst, src, n}})
}

func (b *Builder) PtrAdd(name string, base Value, offset int64) *Instruction {
	return b.Emit(&Instruction{Name: name, Op: OpPtrAdd, Operands: []Value{base}, Offset: offset})
}

func (b *Builder) Binary(name string, op token.Token, x, y Value) *Instruction {
	return b.Emit(&Instruction{Name: name, Op: OpBinary, Operator: op, Operands: []Value{x, y}})
}

func (b *Builder) Compare(name string, op token.Token, x, y Value) *Instruction {
	return b.Emit(&Instruction{Name: name, Op: OpCompare, Operator: op, Operands: []Value{x, y}})
}

// Phi takes operands and incoming blocks in pairs. A nil operand may be
// filled in later, for values defined further down the loop body.
func (b *Builder) Phi(name string, pairs ...any) *Instruction {
	inst := &Instruction{Name: name, Op: OpPhi}
	for i := 0; i+1 < len(pairs); i += 2 {
		v, _ := pairs[i].(Value)
		inst.Operands = append(inst.Operands, v)
		inst.Incoming = append(inst.Incoming, pairs[i+1].(*Block))
	}

	// PHIs lead the block.
	inst.Block = b.cur
	n := 0
	for n < len(b.cur.Instrs) && b.cur.Instrs[n].Op == OpPhi {
		n++
	}
	b.cur.Instrs = append(b.cur.Instrs, nil)
	copy(b.cur.Instrs[n+1:], b.cur.Instrs[n:])
	b.cur.Instrs[n] = inst

	return inst
}

func (b *Builder) Jump(target *Block) *Instruction {
	return b.Emit(&Instruction{Op: OpBranch, Operands: []Value{target}})
}

func (b *Builder) Branch(cond Value, then, els *Block) *Instruction {
	return b.Emit(&Instruction{Op: OpBranch, Operands: []Value{cond, then, els}})
}

func (b *Builder) Return(vals ...Value) *Instruction {
	return b.Emit(&Instruction{Op: OpReturn, Operands: vals})
}

func (b *Builder) Unreachable() *Instruction {
	return b.Emit(&Instruction{Op: OpUnreachable})
}

// Loop declares a natural loop, header first. Nest it with Loop.AddChild or
// pass a parent here.
func (b *Builder) Loop(parent *Loop, blocks ...*Block) *Loop {
	l := NewLoop(blocks...)
	if parent != nil {
		parent.AddChild(l)
	} else {
		b.f.Loops = append(b.f.Loops, l)
	}

	return l
}

// Finish seals the function.
func (b *Builder) Finish() *Function {
	b.f.Seal()
	return b.f
}
