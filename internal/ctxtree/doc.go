// Package ctxtree implements specialization contexts layered over the
// immutable function model.
//
// A root call and inlined calls are *InlineAttempt, each owning records for
// every block of its function. Peeled loop iterations are *PeelIteration,
// owning records for the blocks of a single loop only. An iteration belongs
// to a *PeelAttempt which in turn belongs to the context that encloses the
// loop. Lookups of blocks outside the own range fall to the parent context.
//
// Functions asserted by path conditions get inline attempts of their own,
// attached to the block they are asserted at instead of a call site.
package ctxtree
