package ir

import (
	"fmt"
)

// Value is anything that can be an instruction operand.
type Value interface {
	isValue()
}

// Global is a module-level variable.
type Global struct {
	Name string

	// Size is the store size of the variable contents in bytes.
	Size uint64

	// Constant globals are never written after initialization.
	Constant bool
}

// Param is a formal parameter of a function.
type Param struct {
	Name  string
	Index int
	Func  *Function

	// Pointer tells the parameter holds an address.
	Pointer bool
}

// ConstInt is an integer literal of the given bit width.
type ConstInt struct {
	Bits  int
	Value uint64
}

// ConstOther is a constant that is not an integer literal: floats, strings,
// aggregate literals and such. Text is only used for rendering.
type ConstOther struct {
	Text string
}

type null struct{}

// Null is the null pointer constant.
var Null Value = null{}

// IsNull tells if v is the null pointer constant.
func IsNull(v Value) bool {
	_, ok := v.(null)
	return ok
}

// Int is a shortcut for a ConstInt literal.
func Int(bits int, v uint64) *ConstInt {
	return &ConstInt{Bits: bits, Value: v}
}

func (g *Global) String() string { return "@" + g.Name }

func (p *Param) String() string { return "%" + p.Name }

func (c *ConstInt) String() string { return fmt.Sprintf("i%d %d", c.Bits, c.Value) }

func (c *ConstOther) String() string { return c.Text }

func (null) String() string { return "null" }

func (*Global) isValue()      {}
func (*Param) isValue()       {}
func (*ConstInt) isValue()    {}
func (*ConstOther) isValue()  {}
func (null) isValue()         {}
func (*Instruction) isValue() {}
func (*Block) isValue()       {}
func (*Function) isValue()    {}
