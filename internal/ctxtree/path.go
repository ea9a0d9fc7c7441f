package ctxtree

import (
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/specials"
)

type pathKey struct {
	block uint32
	f     *ir.Function
}

// PathFunction returns the attempt of f run as a path condition at the start
// of the block, creating it on the first request. It returns nil for
// functions without a body.
func (b *base) PathFunction(block uint32, f *ir.Function) *InlineAttempt {
	k := pathKey{block: block, f: f}
	if ia, ok := b.paths[k]; ok {
		return ia
	}

	if f == nil || f.External() {
		return nil
	}
	if !b.inScope(block) {
		panic("ctxtree: path condition of block " + b.blockName(block) + " out of " + b.self.String())
	}

	ia := newInlineAttempt(b.session, f, b.self, nil)
	ia.PathBlock = block
	ia.IsPathCondition = true
	if b.paths == nil {
		b.paths = map[pathKey]*InlineAttempt{}
	}
	b.paths[k] = ia
	b.pathOrder = append(b.pathOrder, ia)

	return ia
}

// PathFunctions run at the start of the block in order of creation.
func (b *base) PathFunctions(block uint32) []*InlineAttempt {
	var res []*InlineAttempt
	for _, ia := range b.pathOrder {
		if ia.PathBlock == block {
			res = append(res, ia)
		}
	}

	return res
}

func (b *base) PathChildren() []*InlineAttempt {
	return b.pathOrder
}

// AttachPathFunctions creates attempts of functions the registry asserts
// at the start of blocks of the context and of its children. Path
// functions get none of their own.
func AttachPathFunctions(ctx Context) {
	reg := ctx.Session().Registry
	fi := ctx.Invar()
	depth := ctx.FunctionRoot().Depth()

	start, end := ctx.Blocks()
	for i := start; i < end; i++ {
		if ctx.PeeledFor(i) != nil {
			continue
		}

		for _, c := range reg.PathConditions(fi.F.Name, fi.BBs[i].BB.Name, depth) {
			if c.Kind != specials.PathKindFunc {
				continue
			}
			ctx.PathFunction(i, ctx.Session().Module.Function(c.Callee))
		}
	}

	for _, pa := range ctx.PeelChildren() {
		for _, it := range pa.Iterations {
			AttachPathFunctions(it)
		}
	}
	for _, ia := range ctx.InlineChildren() {
		AttachPathFunctions(ia)
	}
}

// InPathCondition tells the context runs on behalf of a path condition.
// Such code is never committed, the user vouches for what it asserts.
func InPathCondition(ctx Context) bool {
	for c := ctx; c != nil; c = c.Parent() {
		if c.FunctionRoot().IsPathCondition {
			return true
		}
	}

	return false
}
