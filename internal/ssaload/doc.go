// Package ssaload converts functions of golang.org/x/tools/go/ssa into
// program facts of package ir.
//
// Besides translating instructions it finds the natural loop nest of every
// function and brings it into the shape the model builder expects: loops
// get dedicated preheaders, unique latches and dedicated exit blocks, and
// values escaping a loop are routed through PHI nodes of its exit block.
// Functions that cannot be brought into this shape are reported as errors
// and stay bodyless in the module.
//
// Seed stands in for the value propagation engine with the few facts that
// follow from the code alone: allocations point to themselves, constant
// offsets move pointers, and every non-pointer load and call result is
// assumed to be specialized.
package ssaload
