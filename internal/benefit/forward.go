package benefit

import (
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
)

// forwardLoads replaces loads with constants stored before them. It tells
// whether any load became constant.
func (f *folder) forwardLoads() bool {
	progress := false

	start, end := f.blocks()
	for idx := start; idx < end; idx++ {
		if f.isDead(idx) {
			continue
		}

		for _, ii := range f.fi.BBs[idx].Insts {
			if ii.I.Op != ir.OpLoad || ii.I.Volatile {
				continue
			}
			if _, ok := f.consts[at(ii)]; ok {
				continue
			}

			c, ok := f.reaching(ii)
			if !ok {
				continue
			}
			f.constant(at(ii), c)
			progress = true
		}
	}

	return progress
}

type effect int

const (
	unrelated effect = iota
	defines
	clobbers
)

// reaching finds the constant the load reads. The search goes up the block
// and then further up through unique live predecessors.
func (f *folder) reaching(load *shadow.InstInvar) (ir.Value, bool) {
	loc, ok := f.locate(load, 0)
	if !ok {
		return nil, false
	}

	bi := load.Parent
	insts := bi.Insts[:load.Idx]
	seen := map[uint32]struct{}{}
	for {
		for j := len(insts) - 1; j >= 0; j-- {
			c, eff := f.effect(insts[j], loc, load.I.Size)
			switch eff {
			case defines:
				return c, c != nil
			case clobbers:
				return nil, false
			}
		}

		seen[bi.Idx] = struct{}{}
		pred, ok := f.uniquePred(bi)
		if !ok {
			return nil, false
		}
		if _, ok := seen[pred]; ok {
			return nil, false
		}

		bi = f.fi.BBs[pred]
		insts = bi.Insts
	}
}

// effect of the instruction on size bytes at loc. The value is only set
// for definitions.
func (f *folder) effect(ii *shadow.InstInvar, loc location, size uint64) (ir.Value, effect) {
	switch ii.I.Op {
	case ir.OpStore:
		dst, ok := f.locate(ii, 1)
		switch {
		case !ok:
			return nil, clobbers
		case dst.mustAlias(ii.I.Size, loc, size):
			v, _ := f.known(ii, 0)
			return v, defines
		case dst.noAlias(ii.I.Size, loc, size):
			return nil, unrelated
		default:
			return nil, clobbers
		}
	case ir.OpLoad:
		src, ok := f.locate(ii, 0)
		if !ok || !src.mustAlias(ii.I.Size, loc, size) {
			return nil, unrelated
		}
		return f.consts[at(ii)], defines
	case ir.OpAlloc:
		// Nothing is stored into fresh memory yet.
		if loc.base.ref == at(ii) {
			return nil, clobbers
		}
		return nil, unrelated
	case ir.OpMemSet, ir.OpMemCopy:
		if dst, ok := f.locate(ii, 0); ok && dst.object && loc.object && dst.base != loc.base {
			return nil, unrelated
		}
		return nil, clobbers
	case ir.OpCall:
		return nil, clobbers
	default:
		return nil, unrelated
	}
}

// uniquePred returns the only live predecessor of the block under consideration.
func (f *folder) uniquePred(bi *shadow.BlockInvar) (uint32, bool) {
	pred := shadow.Invalid
	for _, p := range bi.Preds {
		if f.edgeIgnored(p, bi.Idx) || f.isDead(p) {
			continue
		}
		if pred != shadow.Invalid {
			return 0, false
		}
		pred = p
	}

	if pred == shadow.Invalid || !f.inScope(pred) {
		return 0, false
	}

	return pred, true
}

type base struct {
	ref    shadow.InstIdx
	global *ir.Global
}

// location is an address as a base plus a constant offset.
type location struct {
	base   base
	offset int64

	// object bases are allocations or globals, distinct ones never overlap.
	object bool
}

func (l location) mustAlias(size uint64, other location, otherSize uint64) bool {
	return l.base == other.base && l.offset == other.offset && size == otherSize
}

func (l location) noAlias(size uint64, other location, otherSize uint64) bool {
	if l.base != other.base {
		return l.object && other.object
	}

	return l.offset+int64(size) <= other.offset || other.offset+int64(otherSize) <= l.offset
}

// locate resolves the address the k-th operand points to.
func (f *folder) locate(ii *shadow.InstInvar, k int) (location, bool) {
	op, v := ii.Operands[k], ii.I.Operands[k]

	var off int64
	for {
		if c, ok := f.consts[op]; ok && c != nil {
			v = c
		}

		switch x := v.(type) {
		case *ir.Global:
			return location{base: base{global: x}, offset: off, object: true}, true
		case *ir.Param:
			return location{base: base{ref: op}, offset: off}, true
		case *ir.Instruction:
			if op.Kind != shadow.RefInst {
				return location{}, false
			}

			def := f.fi.Inst(op.Block, op.Inst)
			switch def.I.Op {
			case ir.OpPtrAdd:
				off += def.I.Offset
				op, v = def.Operands[0], def.I.Operands[0]
			case ir.OpAlloc:
				return location{base: base{ref: op}, offset: off, object: true}, true
			default:
				return location{base: base{ref: op}, offset: off}, true
			}
		default:
			return location{}, false
		}
	}
}
