// Package shadow builds the immutable, index-addressed mirror of functions
// the specializer reasons about, and holds the analysis session.
//
// Core components:
//
//   - FunctionInvar
//     Blocks in a loop-aware topological order, so that every natural loop
//     occupies the contiguous index range [header, header+NBlocks). Each
//     instruction refers to its operands and users through InstIdx values
//     rather than pointers.
//
//   - LoopInvar
//     Mirror of the loop nest with header, preheader and latch indices, exit
//     edges and the optimistic edge of the peeling heuristic. Membership of a
//     block is an index range test.
//
//   - LoopSpans
//     Containment tree of loop index ranges answering which loop directly
//     contains a block.
//
//   - Session
//     One per analyzed module: dense global indexes, heap allocation table,
//     special functions registry and the cache of function models.
//
// Malformed input, that is loops which are not in simplified LCSSA form or a
// block order that is not well nested, is a broken upstream invariant. The
// builder panics with a *PreconditionError then.
package shadow
