// Package benefit estimates how much of a loop body would fold away if some
// of its values were known constants.
//
// It is a cheap hypothetical constant folder: given roots with assumed
// values it propagates them through arithmetic, comparisons and PHI nodes,
// folds conditional branches, removes the edges and blocks that become dead
// and forwards stored constants to later loads, repeating the latter until
// nothing changes. The function model is only read, the estimate never
// feeds back into specialization.
package benefit
