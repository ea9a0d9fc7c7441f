package shadow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotNested means a block has a predecessor ordered after it which is not its loop header.
	ErrNotNested = errors.New("block order is not well nested")

	// ErrNotContiguous means the blocks of a loop do not occupy a contiguous index range.
	ErrNotContiguous = errors.New("loop blocks are not index contiguous")

	// ErrBlockRecreated means a context record was created twice for the same block.
	ErrBlockRecreated = errors.New("block record already exists")

	// ErrOutOfScope means a root context was asked for a block it does not own.
	ErrOutOfScope = errors.New("block is out of the root context scope")
)

// PreconditionError describes a broken upstream invariant. It is never
// returned, the model panics with it.
type PreconditionError struct {
	Function string
	Block    string
	Err      error
}

func (e *PreconditionError) Error() string {
	if e.Block == "" {
		return fmt.Sprintf("%s: %s", e.Function, e.Err)
	}

	return fmt.Sprintf("%s: block %s: %s", e.Function, e.Block, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// Violated panics with a PreconditionError.
func Violated(function, block string, err error) {
	panic(&PreconditionError{
		Function: function,
		Block:    block,
		Err:      err,
	})
}
