package ir

import (
	"errors"
	"fmt"
	"slices"
)

// Loop is a natural loop. Blocks includes the blocks of nested loops.
type Loop struct {
	Header   *Block
	Blocks   []*Block
	Parent   *Loop
	Children []*Loop

	set map[*Block]struct{}
}

// NewLoop creates a loop over the given blocks, the first of them is the header.
func NewLoop(blocks ...*Block) *Loop {
	l := &Loop{
		Header: blocks[0],
		Blocks: blocks,
	}
	l.index()

	return l
}

// AddChild links a nested loop.
func (l *Loop) AddChild(c *Loop) {
	c.Parent = l
	l.Children = append(l.Children, c)
}

func (l *Loop) index() {
	l.set = make(map[*Block]struct{}, len(l.Blocks))
	for _, b := range l.Blocks {
		l.set[b] = struct{}{}
	}
}

// Contains tells if the block belongs to the loop or any of its nested loops.
func (l *Loop) Contains(b *Block) bool {
	if l.set == nil || len(l.set) != len(l.Blocks) {
		l.index()
	}

	_, ok := l.set[b]
	return ok
}

// ContainsLoop tells if other is l or is nested in l.
func (l *Loop) ContainsLoop(other *Loop) bool {
	for ; other != nil; other = other.Parent {
		if other == l {
			return true
		}
	}

	return false
}

// Depth of the loop, top-level loops have depth 1.
func (l *Loop) Depth() int {
	d := 0
	for c := l; c != nil; c = c.Parent {
		d++
	}

	return d
}

// Preheader is the unique out-of-loop predecessor of the header whose only
// successor is the header. Returns nil if there is no such block.
func (l *Loop) Preheader() *Block {
	var pre *Block
	for _, p := range l.Header.Preds {
		if l.Contains(p) {
			continue
		}
		if pre != nil && pre != p {
			return nil
		}
		pre = p
	}

	if pre == nil || len(pre.Succs) != 1 {
		return nil
	}

	return pre
}

// Latch is the unique in-loop predecessor of the header. Returns nil when
// there are several back edge sources.
func (l *Loop) Latch() *Block {
	var latch *Block
	for _, p := range l.Header.Preds {
		if !l.Contains(p) {
			continue
		}
		if latch != nil && latch != p {
			return nil
		}
		latch = p
	}

	return latch
}

// Edge is a control flow edge.
type Edge struct {
	From *Block
	To   *Block
}

// ExitEdges lists edges leaving the loop in block order.
func (l *Loop) ExitEdges() []Edge {
	var res []Edge
	for _, b := range l.Blocks {
		for _, s := range b.Succs {
			if !l.Contains(s) {
				res = append(res, Edge{From: b, To: s})
			}
		}
	}

	return res
}

// ExitingBlocks lists in-loop blocks having a successor outside the loop.
func (l *Loop) ExitingBlocks() []*Block {
	var res []*Block
	for _, e := range l.ExitEdges() {
		if !slices.Contains(res, e.From) {
			res = append(res, e.From)
		}
	}

	return res
}

// ExitBlocks lists out-of-loop blocks having a predecessor inside the loop.
func (l *Loop) ExitBlocks() []*Block {
	var res []*Block
	for _, e := range l.ExitEdges() {
		if !slices.Contains(res, e.To) {
			res = append(res, e.To)
		}
	}

	return res
}

// LoopFor returns the innermost loop that contains the block, nil if it is not in a loop.
func (f *Function) LoopFor(b *Block) *Loop {
	var search func(loops []*Loop) *Loop
	search = func(loops []*Loop) *Loop {
		for _, l := range loops {
			if !l.Contains(b) {
				continue
			}
			if inner := search(l.Children); inner != nil {
				return inner
			}
			return l
		}
		return nil
	}

	return search(f.Loops)
}

// AllLoops lists every loop of the function, parents before children.
func (f *Function) AllLoops() []*Loop {
	var res []*Loop
	var walk func(loops []*Loop)
	walk = func(loops []*Loop) {
		for _, l := range loops {
			res = append(res, l)
			walk(l.Children)
		}
	}
	walk(f.Loops)

	return res
}

// ErrLoopForm is the root of loop normal form violations reported by CheckLoopForm.
var ErrLoopForm = errors.New("loop is not in simplified LCSSA form")

// CheckLoopForm verifies every loop of the function is in simplified and
// LCSSA form and the nest is properly nested.
func CheckLoopForm(f *Function) error {
	for _, l := range f.AllLoops() {
		if err := checkLoop(f, l); err != nil {
			return fmt.Errorf("%s: loop at %s: %w", f.Name, l.Header.Name, err)
		}
	}

	return nil
}

func checkLoop(f *Function, l *Loop) error {
	if !l.Contains(l.Header) {
		return fmt.Errorf("header is not a member: %w", ErrLoopForm)
	}

	if l.Parent != nil {
		for _, b := range l.Blocks {
			if !l.Parent.Contains(b) {
				return fmt.Errorf("block %s escapes the parent loop: %w", b.Name, ErrLoopForm)
			}
		}
	}

	if l.Preheader() == nil {
		return fmt.Errorf("no dedicated preheader: %w", ErrLoopForm)
	}

	if l.Latch() == nil {
		return fmt.Errorf("no unique latch: %w", ErrLoopForm)
	}

	for _, b := range l.Blocks {
		if b == l.Header {
			continue
		}
		for _, p := range b.Preds {
			if !l.Contains(p) {
				return fmt.Errorf("block %s is entered from %s outside the loop: %w", b.Name, p.Name, ErrLoopForm)
			}
		}
	}

	for _, exit := range l.ExitBlocks() {
		for _, p := range exit.Preds {
			if !l.Contains(p) {
				return fmt.Errorf("exit block %s is not dedicated: %w", exit.Name, ErrLoopForm)
			}
		}
	}

	for _, b := range l.Blocks {
		for _, inst := range b.Instrs {
			for _, user := range inst.Users {
				if l.Contains(user.Block) {
					continue
				}
				if !usedThroughExitPhi(l, inst, user) {
					return fmt.Errorf(
						"%s defined in %s is used by %s outside the loop: %w",
						inst, b.Name, user, ErrLoopForm,
					)
				}
			}
		}
	}

	if f.LoopFor(l.Header) != l {
		return fmt.Errorf("header is claimed by a nested loop: %w", ErrLoopForm)
	}

	return nil
}

func usedThroughExitPhi(l *Loop, def, user *Instruction) bool {
	if user.Op != OpPhi {
		return false
	}

	for k, op := range user.Operands {
		if op == def && !l.Contains(user.Incoming[k]) {
			return false
		}
	}

	return true
}
