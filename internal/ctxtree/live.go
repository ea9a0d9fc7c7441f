package ctxtree

// AssumeAllLive seeds the context and its existing children, path
// functions included, with records of
// every block they keep and marks all edges live and certain. The back edge
// of the last iteration of a terminated peel attempt stays dead, exit edges
// of terminated loops are live in the parent iff some iteration takes them.
//
// Inline children are created on records, so callers attach them after the
// first call and call AssumeAllLive again.
func AssumeAllLive(ctx Context) {
	for _, pa := range ctx.PeelChildren() {
		for _, it := range pa.Iterations {
			AssumeAllLive(it)
		}
	}

	start, end := ctx.Blocks()
	for i := start; i < end; i++ {
		if ctx.PeeledFor(i) != nil {
			continue
		}

		rec := ctx.GetOrCreateBlock(i)
		rec.Status = StatusCertain
		for k := range rec.SuccsAlive {
			rec.SuccsAlive[k] = true
		}
	}

	if it, ok := ctx.(*PeelIteration); ok && it.Attempt.Terminated && it.Next() == nil {
		l := it.Attempt.L
		if latch, _ := it.GetBlock(l.LatchIdx); latch != nil {
			latch.SetEdgeAlive(l.HeaderIdx, false)
		}
	}

	for _, pa := range ctx.PeelChildren() {
		if pa.Terminated {
			ctx.CopyLoopExitingDeadEdges(pa)
		}
	}

	for _, ia := range ctx.InlineChildren() {
		AssumeAllLive(ia)
	}
	for _, ia := range ctx.PathChildren() {
		AssumeAllLive(ia)
	}
}
