package tlstore

import (
	"reflect"
	"testing"

	"github.com/sirkon/deepequal"
)

func set(pairs ...uint64) Bytes {
	var s Bytes
	for i := 0; i+1 < len(pairs); i += 2 {
		s = s.Add(pairs[i], pairs[i+1])
	}

	return s
}

func TestSet_Add(t *testing.T) {
	tests := []struct {
		name string
		got  Bytes
		want []Interval[uint64]
	}{
		{
			name: "empty range",
			got:  set(4, 4),
			want: []Interval[uint64]{},
		},
		{
			name: "disjoint sorted",
			got:  set(10, 12, 0, 4),
			want: []Interval[uint64]{{0, 4}, {10, 12}},
		},
		{
			name: "adjacent coalesce",
			got:  set(0, 4, 4, 8),
			want: []Interval[uint64]{{0, 8}},
		},
		{
			name: "bridge several",
			got:  set(0, 2, 4, 6, 8, 10, 1, 9),
			want: []Interval[uint64]{{0, 10}},
		},
		{
			name: "inside existing",
			got:  set(0, 10, 2, 3),
			want: []Interval[uint64]{{0, 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.got.Intervals()
			if !reflect.DeepEqual(tt.want, got) {
				deepequal.SideBySide(t, "intervals", tt.want, got)
			}
		})
	}
}

func TestSet_Add_Immutable(t *testing.T) {
	a := set(0, 4)
	b := a.Add(4, 8)

	if !a.Equal(set(0, 4)) {
		t.Errorf("operand was modified: %s", a)
	}
	if !b.Equal(set(0, 8)) {
		t.Errorf("unexpected result %s", b)
	}
}

func TestSet_Intersect(t *testing.T) {
	tests := []struct {
		name string
		a    Bytes
		b    Bytes
		want Bytes
	}{
		{
			name: "with empty",
			a:    set(0, 8),
			b:    set(),
			want: set(),
		},
		{
			name: "overlap",
			a:    set(0, 8),
			b:    set(4, 12),
			want: set(4, 8),
		},
		{
			name: "several pieces",
			a:    set(0, 10, 20, 30),
			b:    set(5, 25),
			want: set(5, 10, 20, 25),
		},
		{
			name: "touching only",
			a:    set(0, 4),
			b:    set(4, 8),
			want: set(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Intersect(tt.b); !got.Equal(tt.want) {
				t.Errorf("%s ∩ %s = %s, want %s", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Intersect(tt.a); !got.Equal(tt.want) {
				t.Errorf("intersection is not commutative: %s ∩ %s = %s", tt.b, tt.a, got)
			}
		})
	}
}

func TestSet_Covers(t *testing.T) {
	s := set(0, 4, 4, 8, 16, 24)

	tests := []struct {
		name   string
		lo, hi uint64
		want   bool
	}{
		{"head", 0, 4, true},
		{"coalesced", 2, 6, true},
		{"second interval", 16, 24, true},
		{"gap", 6, 10, false},
		{"spans a gap", 0, 24, false},
		{"tail beyond", 20, 25, false},
		{"empty range", 9, 9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Covers(tt.lo, tt.hi); got != tt.want {
				t.Errorf("%s covers [%d,%d) = %v, want %v", s, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestSet_Gaps(t *testing.T) {
	s := set(2, 4, 6, 8)

	tests := []struct {
		name   string
		lo, hi uint64
		want   []Interval[uint64]
	}{
		{"all", 0, 10, []Interval[uint64]{{0, 2}, {4, 6}, {8, 10}}},
		{"covered", 2, 4, nil},
		{"inside gap", 4, 5, []Interval[uint64]{{4, 5}}},
		{"from inside interval", 3, 7, []Interval[uint64]{{4, 6}}},
		{"after all", 9, 12, []Interval[uint64]{{9, 12}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Gaps(tt.lo, tt.hi)
			if !reflect.DeepEqual(tt.want, got) {
				deepequal.SideBySide(t, "gaps", tt.want, got)
			}
		})
	}
}
