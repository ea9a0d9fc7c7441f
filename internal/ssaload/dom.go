package ssaload

import (
	"github.com/sirkon/tentload/internal/ir"
)

// postorder of the blocks reachable from the entry.
func postorder(f *ir.Function) []*ir.Block {
	type blockAndIndex struct {
		b     *ir.Block
		index int // number of successor edges of b already explored
	}

	entry := f.Entry()
	seen := map[*ir.Block]bool{entry: true}
	order := make([]*ir.Block, 0, len(f.Blocks))

	s := []blockAndIndex{{b: entry}}
	for len(s) > 0 {
		tos := len(s) - 1
		x := s[tos]
		if i := x.index; i < len(x.b.Succs) {
			s[tos].index++
			bb := x.b.Succs[i]
			if !seen[bb] {
				seen[bb] = true
				s = append(s, blockAndIndex{b: bb})
			}
			continue
		}

		s = s[:tos]
		order = append(order, x.b)
	}

	return order
}

// dominators is the dominator tree of the blocks reachable from the entry.
type dominators struct {
	entry   *ir.Block
	idom    map[*ir.Block]*ir.Block
	postnum map[*ir.Block]int
}

// newDominators computes immediate dominators with the iterative algorithm
// of Cooper, Harvey and Kennedy.
func newDominators(f *ir.Function) *dominators {
	po := postorder(f)
	d := &dominators{
		entry:   f.Entry(),
		idom:    make(map[*ir.Block]*ir.Block, len(po)),
		postnum: make(map[*ir.Block]int, len(po)),
	}
	for i, b := range po {
		d.postnum[b] = i
	}
	d.idom[d.entry] = d.entry

	for changed := true; changed; {
		changed = false

		// Reverse postorder, the entry is the last one.
		for i := len(po) - 2; i >= 0; i-- {
			b := po[i]

			var nd *ir.Block
			for _, p := range b.Preds {
				if d.idom[p] == nil {
					continue
				}
				if nd == nil {
					nd = p
					continue
				}
				nd = d.intersect(p, nd)
			}

			if d.idom[b] != nd {
				d.idom[b] = nd
				changed = true
			}
		}
	}

	return d
}

// intersect finds the closest dominator of both b and c.
func (d *dominators) intersect(b, c *ir.Block) *ir.Block {
	for b != c {
		if d.postnum[b] < d.postnum[c] {
			b = d.idom[b]
		} else {
			c = d.idom[c]
		}
	}

	return b
}

func (d *dominators) reachable(b *ir.Block) bool {
	return d.idom[b] != nil
}

// dominates tells every path from the entry to b passes a.
func (d *dominators) dominates(a, b *ir.Block) bool {
	if !d.reachable(a) || !d.reachable(b) {
		return false
	}

	for {
		if a == b {
			return true
		}
		if b == d.entry {
			return false
		}
		b = d.idom[b]
	}
}
