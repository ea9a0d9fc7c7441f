package shadow

import (
	"github.com/sirkon/rbtree"
)

// LoopSpans indexes loops by the block index ranges they occupy.
type LoopSpans struct {
	tree *rbtree.Tree[*loopSpan]
}

// loopSpan is a [start,end] block index range of a loop and, if any, spans
// of the loops nested in it.
type loopSpan struct {
	start uint32
	end   uint32

	loop     *LoopInvar
	children *rbtree.Tree[*loopSpan]
}

// Cmp orders spans as disjoint ranges, overlapping ones are equal.
// Index contiguity of loops makes any overlap a strict containment.
func (n *loopSpan) Cmp(other *loopSpan) int {
	if n.end < other.start {
		return -1
	}
	if n.start > other.end {
		return 1
	}
	return 0
}

func (n *loopSpan) covers(other *loopSpan) bool {
	return n.start <= other.start && n.end >= other.end
}

func newLoopSpans() *LoopSpans {
	return &LoopSpans{tree: rbtree.New[*loopSpan]()}
}

// add registers the loop span. Enclosing loops must be added before the
// loops nested in them.
func (s *LoopSpans) add(l *LoopInvar) {
	attachSpan(s.tree, &loopSpan{
		start: l.HeaderIdx,
		end:   l.HeaderIdx + l.NBlocks - 1,
		loop:  l,
	})
}

// attachSpan inserts the span into t. An overlapping span found there must
// cover the new one, then the new span descends into its children.
func attachSpan(t *rbtree.Tree[*loopSpan], s *loopSpan) {
	r := t.InsertReturn(s)
	if r == s {
		return
	}

	if r.covers(s) && !s.covers(r) {
		if r.children == nil {
			r.children = rbtree.New[*loopSpan]()
		}
		attachSpan(r.children, s)
		return
	}

	panic("shadow: loop spans overlap without strict containment")
}

// Innermost returns the deepest loop whose span contains the block index,
// nil if the block is outside every loop.
func (s *LoopSpans) Innermost(idx uint32) *LoopInvar {
	point := &loopSpan{start: idx, end: idx}

	var res *LoopInvar
	for t := s.tree; t != nil; {
		n := t.Search(point)
		if n == nil {
			break
		}
		res = n.loop
		t = n.children
	}

	return res
}
