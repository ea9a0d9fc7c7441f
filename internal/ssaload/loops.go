package ssaload

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/sirkon/tentload/internal/ir"
)

// shape seals the function, finds its loop nest and brings every loop into
// simplified LCSSA form.
func shape(f *ir.Function) error {
	f.Seal()

	d := newDominators(f)
	top, err := findLoops(f, d)
	if err != nil {
		return err
	}
	f.Loops = top

	if err := normalize(f); err != nil {
		return err
	}
	if err := lcssa(f); err != nil {
		return err
	}

	return ir.CheckLoopForm(f)
}

// checkReducible looks for retreating edges whose target does not dominate
// their source.
func checkReducible(f *ir.Function, d *dominators) error {
	type blockAndIndex struct {
		b     *ir.Block
		index int
	}

	entry := f.Entry()
	seen := map[*ir.Block]bool{entry: true}
	onStack := map[*ir.Block]bool{entry: true}

	s := []blockAndIndex{{b: entry}}
	for len(s) > 0 {
		tos := len(s) - 1
		x := s[tos]
		if i := x.index; i < len(x.b.Succs) {
			s[tos].index++
			bb := x.b.Succs[i]
			if onStack[bb] && !d.dominates(bb, x.b) {
				return fmt.Errorf("%s is entered from %s bypassing it: %w", bb.Name, x.b.Name, ErrIrreducible)
			}
			if !seen[bb] {
				seen[bb] = true
				onStack[bb] = true
				s = append(s, blockAndIndex{b: bb})
			}
			continue
		}

		s = s[:tos]
		onStack[x.b] = false
	}

	return nil
}

// findLoops builds the natural loop nest from back edges, edges whose target
// dominates their source. Loops sharing a header are merged.
func findLoops(f *ir.Function, d *dominators) ([]*ir.Loop, error) {
	if err := checkReducible(f, d); err != nil {
		return nil, err
	}

	bodies := map[*ir.Block]map[*ir.Block]struct{}{}
	var headers []*ir.Block
	for _, b := range f.Blocks {
		if !d.reachable(b) {
			continue
		}

		for _, h := range b.Succs {
			if !d.dominates(h, b) {
				continue
			}

			body, ok := bodies[h]
			if !ok {
				body = map[*ir.Block]struct{}{h: {}}
				bodies[h] = body
				headers = append(headers, h)
			}

			// Everything reaching the back edge source without passing the header.
			work := []*ir.Block{b}
			for len(work) > 0 {
				x := work[len(work)-1]
				work = work[:len(work)-1]
				if _, ok := body[x]; ok {
					continue
				}
				body[x] = struct{}{}
				for _, p := range x.Preds {
					if d.reachable(p) {
						work = append(work, p)
					}
				}
			}
		}
	}

	order := make(map[*ir.Block]int, len(f.Blocks))
	for i, b := range f.Blocks {
		order[b] = i
	}
	slices.SortFunc(headers, func(a, b *ir.Block) int {
		return cmp.Compare(order[a], order[b])
	})

	loops := make([]*ir.Loop, 0, len(headers))
	for _, h := range headers {
		blocks := []*ir.Block{h}
		for _, b := range f.Blocks {
			if _, ok := bodies[h][b]; ok && b != h {
				blocks = append(blocks, b)
			}
		}
		loops = append(loops, ir.NewLoop(blocks...))
	}

	// The smallest loop containing the header is the parent one.
	bySize := slices.Clone(loops)
	slices.SortStableFunc(bySize, func(a, b *ir.Loop) int {
		return cmp.Compare(len(a.Blocks), len(b.Blocks))
	})
	parents := map[*ir.Loop]*ir.Loop{}
	for i, l := range bySize {
		for _, m := range bySize[i+1:] {
			if m.Contains(l.Header) {
				parents[l] = m
				break
			}
		}
	}

	var top []*ir.Loop
	for _, l := range loops {
		if p, ok := parents[l]; ok {
			p.AddChild(l)
			continue
		}
		top = append(top, l)
	}

	return top, nil
}

// normalize gives loops preheaders, unique latches and dedicated exits.
// Inner loops go first so blocks added for them join the enclosing ones.
func normalize(f *ir.Function) error {
	limit := 4*len(f.AllLoops()) + 4
	for round := 0; ; round++ {
		if round > limit {
			return fmt.Errorf("%s does not settle: %w", f.Name, ErrLoopShape)
		}

		loops := f.AllLoops()
		slices.Reverse(loops)

		changed := false
		for _, l := range loops {
			c, err := normalizeLoop(f, l)
			if err != nil {
				return err
			}
			changed = changed || c
		}
		if !changed {
			return nil
		}
	}
}

func normalizeLoop(f *ir.Function, l *ir.Loop) (bool, error) {
	changed := false

	latches := lo.Uniq(lo.Filter(l.Header.Preds, func(p *ir.Block, _ int) bool {
		return l.Contains(p)
	}))
	if len(latches) > 1 {
		join(split(f, l.Header, latches, l.Header.Name+".latch"), l)
		changed = true
	}

	outer := lo.Uniq(lo.Filter(l.Header.Preds, func(p *ir.Block, _ int) bool {
		return !l.Contains(p)
	}))
	switch {
	case len(outer) == 0:
		return false, fmt.Errorf("loop at %s is not entered from outside: %w", l.Header.Name, ErrLoopShape)
	case len(outer) > 1 || len(outer[0].Succs) != 1:
		join(split(f, l.Header, outer, l.Header.Name+".pre"), l.Parent)
		changed = true
	}

	for _, exit := range l.ExitBlocks() {
		inside := lo.Uniq(lo.Filter(exit.Preds, func(p *ir.Block, _ int) bool {
			return l.Contains(p)
		}))
		if len(inside) == len(lo.Uniq(exit.Preds)) {
			continue
		}

		join(split(f, exit, inside, exit.Name+".exit"), enclosing(l.Parent, exit))
		changed = true
	}

	return changed, nil
}

// split inserts a block between the given predecessors of the target and
// the target itself. PHIs of the target take the values from the new block,
// differing ones are merged by a PHI there.
func split(f *ir.Function, target *ir.Block, preds []*ir.Block, name string) *ir.Block {
	nb := &ir.Block{Name: name, Func: f}
	from := lo.SliceToMap(preds, func(p *ir.Block) (*ir.Block, struct{}) {
		return p, struct{}{}
	})

	for _, p := range preds {
		term := p.Terminator()
		for k, op := range term.Operands {
			if op == ir.Value(target) {
				term.Operands[k] = nb
			}
		}
	}

	for _, phi := range target.Instrs {
		if phi.Op != ir.OpPhi {
			break
		}

		var kept, moved []ir.Value
		var keptFrom, movedFrom []*ir.Block
		for k, op := range phi.Operands {
			if _, ok := from[phi.Incoming[k]]; ok {
				moved = append(moved, op)
				movedFrom = append(movedFrom, phi.Incoming[k])
				continue
			}
			kept = append(kept, op)
			keptFrom = append(keptFrom, phi.Incoming[k])
		}
		if len(moved) == 0 {
			continue
		}

		v := moved[0]
		if lo.CountBy(moved, func(x ir.Value) bool { return x != v }) > 0 {
			merged := &ir.Instruction{
				Name:     phi.Name + "." + name,
				Op:       ir.OpPhi,
				Operands: moved,
				Incoming: movedFrom,
				Pos:      phi.Pos,
				Block:    nb,
			}
			nb.Instrs = append(nb.Instrs, merged)
			v = merged
		}

		phi.Operands = append(kept, v)
		phi.Incoming = append(keptFrom, nb)
	}

	nb.Instrs = append(nb.Instrs, &ir.Instruction{
		Op:       ir.OpBranch,
		Operands: []ir.Value{target},
		Pos:      target.Pos(),
		Block:    nb,
	})
	f.Blocks = append(f.Blocks, nb)
	f.Seal()

	return nb
}

// join adds the block to the loop and its ancestors.
func join(b *ir.Block, l *ir.Loop) {
	for ; l != nil; l = l.Parent {
		l.Blocks = append(l.Blocks, b)
	}
}

// enclosing is the innermost of l and its ancestors containing the block.
func enclosing(l *ir.Loop, b *ir.Block) *ir.Loop {
	for ; l != nil; l = l.Parent {
		if l.Contains(b) {
			return l
		}
	}

	return nil
}

// lcssa routes values used outside of their loop through PHIs of the
// loop exit. Values of loops with several exits are not repaired.
func lcssa(f *ir.Function) error {
	d := newDominators(f)

	loops := f.AllLoops()
	slices.Reverse(loops)
	for _, l := range loops {
		for _, b := range l.Blocks {
			for _, def := range b.Instrs {
				outside := lo.Filter(lo.Uniq(def.Users), func(u *ir.Instruction, _ int) bool {
					return !l.Contains(u.Block) && !throughExitPhi(l, def, u)
				})
				if len(outside) == 0 {
					continue
				}

				exits := l.ExitBlocks()
				if len(exits) != 1 {
					return fmt.Errorf(
						"%s escapes the loop at %s having %d exits: %w",
						def, l.Header.Name, len(exits), ErrLoopShape,
					)
				}
				exit := exits[0]
				for _, p := range exit.Preds {
					if !d.dominates(def.Block, p) {
						return fmt.Errorf("%s does not reach the exit %s: %w", def, exit.Name, ErrLoopShape)
					}
				}

				phi := &ir.Instruction{
					Name:  def.Name + ".lcssa",
					Op:    ir.OpPhi,
					Pos:   def.Pos,
					Block: exit,
				}
				for _, p := range exit.Preds {
					phi.Operands = append(phi.Operands, def)
					phi.Incoming = append(phi.Incoming, p)
				}
				exit.Instrs = slices.Insert(exit.Instrs, 0, phi)

				for _, u := range outside {
					replaceUse(l, u, def, phi)
				}
				f.Seal()
			}
		}
	}

	return nil
}

// throughExitPhi tells every operand of the PHI equal to def comes from the loop.
func throughExitPhi(l *ir.Loop, def, user *ir.Instruction) bool {
	if user.Op != ir.OpPhi {
		return false
	}

	for k, op := range user.Operands {
		if op == ir.Value(def) && !l.Contains(user.Incoming[k]) {
			return false
		}
	}

	return true
}

func replaceUse(l *ir.Loop, user, def, by *ir.Instruction) {
	for k, op := range user.Operands {
		if op != ir.Value(def) {
			continue
		}
		if user.Op == ir.OpPhi && l.Contains(user.Incoming[k]) {
			continue
		}
		user.Operands[k] = by
	}
}
