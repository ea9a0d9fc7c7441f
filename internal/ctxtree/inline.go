package ctxtree

import (
	"fmt"
	"slices"

	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/tlstore"
)

// InlineAttempt is the context of the root call or of an inlined call.
type InlineAttempt struct {
	base

	F *ir.Function

	// CallSite is nil for the root and for path conditions.
	CallSite *Instruction
	Args     []*Arg

	// IsPathCondition marks attempts run at the start of PathBlock of the
	// parent to establish what a path condition asserts.
	IsPathCondition bool
	PathBlock       uint32

	// BackupStore is the store a disabled attempt was entered with, the
	// caller resumes from it once the walk finds the attempt reads nothing tentative.
	BackupStore *Store

	enabled    bool
	depth      int
	frameIndex int
	stack      []*shadow.Alloc

	// failed maps blocks reachable on a failed check to the first
	// instruction of the block running after the failure.
	failed map[uint32]uint32
}

// NewRoot creates the root context of the specialization of f.
func NewRoot(s *shadow.Session, f *ir.Function) *InlineAttempt {
	return newInlineAttempt(s, f, nil, nil)
}

func newInlineAttempt(s *shadow.Session, f *ir.Function, parent Context, call *Instruction) *InlineAttempt {
	ia := &InlineAttempt{
		F:        f,
		CallSite: call,
		enabled:  true,
		failed:   map[uint32]uint32{},
	}
	ia.base = newBase(ia, s, s.FunctionInvar(f), nil, parent)

	for _, a := range ia.invar.Args {
		ia.Args = append(ia.Args, &Arg{Invar: a, IA: ia})
	}

	if parent != nil {
		caller := parent.FunctionRoot()
		ia.depth = caller.depth + 1
		ia.frameIndex = caller.frameIndex
		if ia.invar.FrameSize != shadow.NoFrame {
			ia.frameIndex++
		}
	}

	return ia
}

func (ia *InlineAttempt) FunctionRoot() *InlineAttempt {
	return ia
}

// Enabled tells specialization results of the attempt will be committed.
// The root is always enabled.
func (ia *InlineAttempt) Enabled() bool {
	return ia.enabled
}

// SetEnabled enables or disables the attempt. The root cannot be disabled.
func (ia *InlineAttempt) SetEnabled(v bool) {
	if ia.parent == nil && !v {
		panic("ctxtree: the root context cannot be disabled")
	}

	ia.enabled = v
}

func (ia *InlineAttempt) AllAncestorsEnabled() bool {
	if !ia.enabled {
		return false
	}

	if ia.parent == nil {
		return true
	}

	return ia.parent.AllAncestorsEnabled()
}

// Depth is the number of inlined calls between the root and the attempt.
func (ia *InlineAttempt) Depth() int {
	return ia.depth
}

// PushesFrame tells entering the attempt opens a stack frame.
func (ia *InlineAttempt) PushesFrame() bool {
	return ia.invar.FrameSize != shadow.NoFrame || ia.parent == nil
}

// FrameIndex is the position of the attempt frame in the frame stack of the
// interference store, if the attempt pushes one.
func (ia *InlineAttempt) FrameIndex() int {
	return ia.frameIndex
}

func (ia *InlineAttempt) newStackAlloc(size uint64, owner *Instruction) *shadow.Alloc {
	a := &shadow.Alloc{
		Index:     len(ia.stack),
		Kind:      shadow.AllocStack,
		StoreSize: size,
		Owner:     owner,
		Frame:     ia.frameIndex,
	}
	if !ia.PushesFrame() {
		a.Frame = tlstore.HeapFrame
	}
	ia.stack = append(ia.stack, a)

	return a
}

// MarkBlockAndSuccsFailed records that a failed check at the given
// instruction leaves specialized code, so the rest of the block and every
// block reachable from it may run unspecialized.
func (ia *InlineAttempt) MarkBlockAndSuccsFailed(block, inst uint32) {
	type item struct{ block, inst uint32 }
	work := []item{{block, inst}}

	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]

		if prev, ok := ia.failed[it.block]; ok && prev <= it.inst {
			continue
		}
		ia.failed[it.block] = it.inst

		for _, s := range ia.invar.BBs[it.block].Succs {
			work = append(work, item{s, 0})
		}
	}
}

// FailedFrom returns the first instruction of the block that may run after
// a failed check.
func (ia *InlineAttempt) FailedFrom(block uint32) (uint32, bool) {
	inst, ok := ia.failed[block]
	return inst, ok
}

// FailedBlocks lists blocks reachable on a failed check in index order.
func (ia *InlineAttempt) FailedBlocks() []uint32 {
	res := make([]uint32, 0, len(ia.failed))
	for b := range ia.failed {
		res = append(res, b)
	}
	slices.Sort(res)

	return res
}

// HasFailedCheckpoints tells some check of the attempt may fail.
func (ia *InlineAttempt) HasFailedCheckpoints() bool {
	return len(ia.failed) > 0
}

// HasFailedReturnPath tells a failed check may reach a return.
func (ia *InlineAttempt) HasFailedReturnPath() bool {
	for b := range ia.failed {
		if term := ia.invar.BBs[b].BB.Terminator(); term != nil && term.Op == ir.OpReturn {
			return true
		}
	}

	return false
}

// ResetFailedBlocks forgets failed check marks, the next
// marking starts from scratch.
func (ia *InlineAttempt) ResetFailedBlocks() {
	clear(ia.failed)
}

func (ia *InlineAttempt) String() string {
	switch {
	case ia.IsPathCondition:
		return fmt.Sprintf("%s asserted at %s of %s", ia.F.Name, ia.parent.Invar().BBs[ia.PathBlock].BB.Name, ia.parent)
	case ia.CallSite == nil:
		return "root " + ia.F.Name
	}

	return fmt.Sprintf("%s inlined at %s", ia.F.Name, ia.CallSite.Invar)
}
