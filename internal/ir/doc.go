// Package ir defines the read-only program facts the specializer consumes.
//
// A Module carries globals and functions. Each Function holds basic blocks of
// instructions plus its natural loop nest, which upstream tooling is expected
// to deliver already normalized:
//
//   - every loop has a unique preheader and a unique latch,
//   - every loop exit block is dedicated (all its predecessors are in the loop),
//   - values defined inside a loop are used outside it only through PHI nodes
//     placed in its exit blocks (LCSSA).
//
// CheckLoopForm verifies these properties. Nothing in this package repairs
// them.
//
// Values referenced by instruction operands form a closed set: *Instruction,
// *Global, *Param, *ConstInt, *ConstOther, *Block, *Function and Null.
package ir
