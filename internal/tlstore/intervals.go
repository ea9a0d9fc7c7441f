package tlstore

import (
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// Interval is a half-open range [Lo, Hi).
type Interval[T constraints.Integer] struct {
	Lo T
	Hi T
}

func (i Interval[T]) String() string {
	return fmt.Sprintf("[%d,%d)", i.Lo, i.Hi)
}

// Set is an immutable set of sorted, disjoint and non-adjacent intervals.
// The zero value is an empty set. Operations never modify their operands.
type Set[T constraints.Integer] struct {
	ivs []Interval[T]
}

// Bytes is the set of known safe byte offsets of an object.
type Bytes = Set[uint64]

// Of creates a set out of the given range.
func Of[T constraints.Integer](lo, hi T) Set[T] {
	var s Set[T]
	return s.Add(lo, hi)
}

// Empty tells if there is nothing in the set.
func (s Set[T]) Empty() bool {
	return len(s.ivs) == 0
}

// Intervals of the set in ascending order.
func (s Set[T]) Intervals() []Interval[T] {
	res := make([]Interval[T], len(s.ivs))
	copy(res, s.ivs)
	return res
}

// Len is the total length of the set intervals.
func (s Set[T]) Len() T {
	var n T
	for _, iv := range s.ivs {
		n += iv.Hi - iv.Lo
	}

	return n
}

// Add returns a set with [lo, hi) added. Overlapping and adjacent intervals coalesce.
func (s Set[T]) Add(lo, hi T) Set[T] {
	if lo >= hi {
		return s
	}

	res := make([]Interval[T], 0, len(s.ivs)+1)
	i := 0
	for ; i < len(s.ivs) && s.ivs[i].Hi < lo; i++ {
		res = append(res, s.ivs[i])
	}

	merged := Interval[T]{Lo: lo, Hi: hi}
	for ; i < len(s.ivs) && s.ivs[i].Lo <= hi; i++ {
		merged.Lo = min(merged.Lo, s.ivs[i].Lo)
		merged.Hi = max(merged.Hi, s.ivs[i].Hi)
	}
	res = append(res, merged)
	res = append(res, s.ivs[i:]...)

	return Set[T]{ivs: res}
}

// Intersect returns intervals present in both sets.
func (s Set[T]) Intersect(o Set[T]) Set[T] {
	var res []Interval[T]
	i, j := 0, 0
	for i < len(s.ivs) && j < len(o.ivs) {
		a, b := s.ivs[i], o.ivs[j]
		lo := max(a.Lo, b.Lo)
		hi := min(a.Hi, b.Hi)
		if lo < hi {
			res = append(res, Interval[T]{Lo: lo, Hi: hi})
		}

		if a.Hi < b.Hi {
			i++
		} else {
			j++
		}
	}

	return Set[T]{ivs: res}
}

// Covers tells if a single interval of the set covers [lo, hi).
// An empty range is always covered.
func (s Set[T]) Covers(lo, hi T) bool {
	if lo >= hi {
		return true
	}

	for _, iv := range s.ivs {
		if iv.Lo > lo {
			return false
		}
		if hi <= iv.Hi {
			return true
		}
	}

	return false
}

// Gaps lists subranges of [lo, hi) the set does not contain.
func (s Set[T]) Gaps(lo, hi T) []Interval[T] {
	var res []Interval[T]
	cur := lo
	for _, iv := range s.ivs {
		if cur >= hi {
			break
		}
		if iv.Hi <= cur {
			continue
		}
		if iv.Lo >= hi {
			break
		}
		if iv.Lo > cur {
			res = append(res, Interval[T]{Lo: cur, Hi: iv.Lo})
		}
		cur = iv.Hi
	}

	if cur < hi {
		res = append(res, Interval[T]{Lo: cur, Hi: hi})
	}

	return res
}

// Equal tells if both sets hold the same intervals.
func (s Set[T]) Equal(o Set[T]) bool {
	if len(s.ivs) != len(o.ivs) {
		return false
	}

	for i := range s.ivs {
		if s.ivs[i] != o.ivs[i] {
			return false
		}
	}

	return true
}

func (s Set[T]) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, iv := range s.ivs {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(iv.String())
	}
	buf.WriteByte('}')

	return buf.String()
}
