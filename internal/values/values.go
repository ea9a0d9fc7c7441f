// Package values defines abstract values the propagation engine attaches to
// instructions. The tentative-load analysis only reads them.
package values

import (
	"fmt"
	"strings"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
)

// Set is a closed set of abstract value representations.
type Set interface {
	isSet()

	// WhollyUnknown tells the set carries no information at all.
	WhollyUnknown() bool
	String() string
}

var (
	_ Set = new(Single)
	_ Set = new(Multi)
)

func (*Single) isSet() {}
func (*Multi) isSet()  {}

// Kind of values a Single set holds.
type Kind int

const (
	KindUnknown Kind = iota

	// KindScalar sets hold constants.
	KindScalar

	// KindPointer sets hold pointers into tracked objects.
	KindPointer
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindScalar:  "scalar",
	KindPointer: "pointer",
}

func (k Kind) String() string {
	v, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind-invalid(%d)", k)
	}

	return v
}

// Target is the object a pointer refers to.
type Target struct {
	// Alloc is the allocation of stack, heap and mutable global objects.
	Alloc *shadow.Alloc

	// Global is set for pointers to globals, it is the only field set for constant ones.
	Global *shadow.Global

	Null bool
}

// Constant tells the target is a never written global.
func (t Target) Constant() bool {
	return t.Global != nil && t.Global.Alloc == nil
}

// NullOrConst tells reads from the target never race with anything.
func (t Target) NullOrConst() bool {
	return t.Null || t.Constant()
}

func (t Target) String() string {
	switch {
	case t.Null:
		return "null"
	case t.Global != nil:
		return t.Global.G.String()
	case t.Alloc != nil:
		return t.Alloc.String()
	default:
		return "<nowhere>"
	}
}

// Improved is a single candidate value: a pointer with an offset into
// its target or a scalar constant.
type Improved struct {
	Base   Target
	Offset int64

	// Scalar is the constant of a scalar candidate.
	Scalar ir.Value
}

func (v Improved) String() string {
	if v.Scalar != nil {
		return fmt.Sprint(v.Scalar)
	}

	return fmt.Sprintf("%s+%d", v.Base, v.Offset)
}

// Single is a set of candidate values of a single representation.
type Single struct {
	Kind   Kind
	Values []Improved

	// Overdef means the value may be anything of its kind.
	Overdef bool
}

// Unknown returns a set carrying no information.
func Unknown() *Single {
	return &Single{Overdef: true}
}

// Pointer returns a set of pointers to the given candidates.
func Pointer(vals ...Improved) *Single {
	return &Single{Kind: KindPointer, Values: vals}
}

// PointerTo returns a set of a single pointer to the object start.
func PointerTo(t Target) *Single {
	return Pointer(Improved{Base: t})
}

// Scalar returns a set of a single constant.
func Scalar(v ir.Value) *Single {
	return &Single{Kind: KindScalar, Values: []Improved{{Scalar: v}}}
}

func (s *Single) WhollyUnknown() bool {
	return s.Overdef || (s.Kind == KindUnknown && len(s.Values) == 0)
}

// Unique returns the only candidate of the set.
func (s *Single) Unique() (Improved, bool) {
	if s.Overdef || len(s.Values) != 1 {
		return Improved{}, false
	}

	return s.Values[0], true
}

func (s *Single) String() string {
	if s.WhollyUnknown() {
		return "?"
	}

	parts := make([]string, len(s.Values))
	for i, v := range s.Values {
		parts[i] = v.String()
	}
	if s.Overdef {
		parts = append(parts, "...")
	}

	return fmt.Sprintf("%s{%s}", s.Kind, strings.Join(parts, ", "))
}

// Range is a [Start, Stop) byte range of an aggregate and the value stored there.
type Range struct {
	Start uint64
	Stop  uint64
	Val   *Single
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)=%s", r.Start, r.Stop, r.Val)
}

// Multi describes an aggregate value as a set of disjoint byte ranges.
type Multi struct {
	Ranges []Range
}

func (m *Multi) WhollyUnknown() bool {
	for _, r := range m.Ranges {
		if !r.Val.WhollyUnknown() {
			return false
		}
	}

	return true
}

func (m *Multi) String() string {
	parts := make([]string, len(m.Ranges))
	for i, r := range m.Ranges {
		parts[i] = r.String()
	}

	return "{" + strings.Join(parts, ", ") + "}"
}

// UniquePointer returns the only pointer candidate of the set.
func UniquePointer(s Set) (Improved, bool) {
	single, ok := s.(*Single)
	if !ok || single.Kind != KindPointer {
		return Improved{}, false
	}

	return single.Unique()
}

// ConstantInt returns the integer the set is known to hold.
func ConstantInt(s Set) (uint64, bool) {
	single, ok := s.(*Single)
	if !ok || single.Kind != KindScalar {
		return 0, false
	}

	v, ok := single.Unique()
	if !ok {
		return 0, false
	}

	c, ok := v.Scalar.(*ir.ConstInt)
	if !ok {
		return 0, false
	}

	return c.Value, true
}
