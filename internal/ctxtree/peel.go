package ctxtree

import (
	"fmt"

	"github.com/sirkon/tentload/internal/shadow"
)

// PeelAttempt holds peeled iterations of a loop.
type PeelAttempt struct {
	L          *shadow.LoopInvar
	Parent     Context
	Iterations []*PeelIteration

	// Terminated means the iteration count is known, the last iteration
	// never enters the header again.
	Terminated bool
	Enabled    bool
}

// NewIteration appends an iteration.
func (pa *PeelAttempt) NewIteration() *PeelIteration {
	if pa.Terminated {
		panic(fmt.Sprintf("ctxtree: iteration added to terminated %s", pa))
	}

	it := &PeelIteration{
		Attempt: pa,
		N:       len(pa.Iterations),
	}
	it.base = newBase(it, pa.Parent.Session(), pa.Parent.Invar(), pa.L, pa.Parent)
	pa.Iterations = append(pa.Iterations, it)

	return it
}

// Terminate marks the last iteration final.
func (pa *PeelAttempt) Terminate() {
	if len(pa.Iterations) == 0 {
		panic(fmt.Sprintf("ctxtree: %s terminated without iterations", pa))
	}

	pa.Terminated = true
}

// ContainsTentativeLoads tells some iteration reads tentative data.
func (pa *PeelAttempt) ContainsTentativeLoads() bool {
	for _, it := range pa.Iterations {
		if it.ReadsTentativeData() {
			return true
		}
	}

	return false
}

func (pa *PeelAttempt) String() string {
	return fmt.Sprintf("peel of %s in %s", pa.L, pa.Parent)
}

// PeelIteration is the context of a single peeled iteration of a loop.
type PeelIteration struct {
	base

	Attempt *PeelAttempt
	N       int
}

func (it *PeelIteration) FunctionRoot() *InlineAttempt {
	return it.parent.FunctionRoot()
}

// Enabled tells the peel attempt is enabled.
func (it *PeelIteration) Enabled() bool {
	return it.Attempt.Enabled
}

func (it *PeelIteration) AllAncestorsEnabled() bool {
	return it.Attempt.Enabled && it.parent.AllAncestorsEnabled()
}

// Header is the record of the loop header, nil until created.
func (it *PeelIteration) Header() *Block {
	return it.blocks[0]
}

// Next is the following iteration, nil for the last one.
func (it *PeelIteration) Next() *PeelIteration {
	if it.N+1 < len(it.Attempt.Iterations) {
		return it.Attempt.Iterations[it.N+1]
	}

	return nil
}

// IsOnlyExitingIteration tells the iteration is the last of a terminated
// attempt and no earlier iteration may leave the loop.
func (it *PeelIteration) IsOnlyExitingIteration() bool {
	pa := it.Attempt
	if !pa.Terminated || it.N != len(pa.Iterations)-1 {
		return false
	}

	for _, prev := range pa.Iterations[:it.N] {
		for _, e := range pa.L.ExitEdges {
			if !prev.EdgeIsDeadRising(e.From, e.To, false) {
				return false
			}
		}
	}

	return true
}

func (it *PeelIteration) String() string {
	return fmt.Sprintf("iteration %d of %s", it.N, it.Attempt)
}
