// Package tentative decides which reads of a specialized context tree may
// observe memory written by concurrently running threads.
//
// The walk follows the block order of every context, carrying an
// interference store that records bytes known to be written by the
// specialized thread itself since the last yield point. A read of any other
// byte is tentative: its result was computed at specialization time but
// must be checked at run time.
//
// Peeled iterations of a loop are walked one after another, loops that were
// not peeled are walked twice: once with the state entering the loop and
// once more with the state the latch carries back to the header.
//
// Path functions are walked at the start of the block they are asserted at
// and the block goes on with what they return with. They are never checked.
package tentative
