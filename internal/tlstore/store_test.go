package tlstore

import (
	"reflect"
	"testing"

	"github.com/sirkon/deepequal"
)

func TestStore_CopyOnWrite(t *testing.T) {
	var ledger Ledger

	s := New[string](&ledger, false)
	s.Put("a", HeapFrame, set(0, 4))

	shared := s.Ref()
	w := shared.Writable()
	if w == s {
		t.Fatal("shared store must be copied on write")
	}
	if s.Refs() != 1 {
		t.Errorf("copy must release the shared reference, %d refs left", s.Refs())
	}

	w.Put("a", HeapFrame, set(0, 8))
	if got, _ := s.Readable("a", HeapFrame); !got.Equal(set(0, 4)) {
		t.Errorf("original store observed a write to its copy: %s", got)
	}

	if again := w.Writable(); again != w {
		t.Error("uniquely owned store must be written in place")
	}

	w.Drop()
	s.Drop()
	if ledger.Created != 2 || ledger.Live() != 0 {
		t.Errorf("unbalanced ledger %+v", ledger)
	}
}

func TestStore_SharedWritePanics(t *testing.T) {
	s := New[string](nil, false)
	s.Ref()

	defer func() {
		if recover() == nil {
			t.Error("write to a shared store must panic")
		}
	}()
	s.Put("a", HeapFrame, set(0, 1))
}

func TestStore_FreedReadPanics(t *testing.T) {
	s := New[string](nil, false)
	s.Drop()

	defer func() {
		if recover() == nil {
			t.Error("read of a freed store must panic")
		}
	}()
	s.Readable("a", HeapFrame)
}

func TestStore_ClobberAllKeepsFrames(t *testing.T) {
	s := New[string](nil, false)
	s.PushFrame(7)
	s.Put("x", 0, set(0, 8))
	s.Put("g", HeapFrame, set(0, 8))

	s.ClobberAll()

	if !s.AllOthersClobbered() {
		t.Error("clobber flag expected")
	}
	if s.Depth() != 1 {
		t.Errorf("frames must survive a clobber, depth %d", s.Depth())
	}
	if _, ok := s.Readable("x", 0); ok {
		t.Error("stack object survived a clobber")
	}
	if _, ok := s.Readable("g", HeapFrame); ok {
		t.Error("heap object survived a clobber")
	}

	s.PopFrame()
	if s.Depth() != 0 {
		t.Errorf("pop expected, depth %d", s.Depth())
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name          string
		a, b          map[string]Bytes
		aClob, bClob  bool
		want          map[string]Bytes
		wantClobbered bool
	}{
		{
			name: "intersection",
			a:    map[string]Bytes{"p": set(0, 8)},
			b:    map[string]Bytes{"p": set(4, 12)},
			want: map[string]Bytes{"p": set(4, 8)},
		},
		{
			name: "missing on a clean side",
			a:    map[string]Bytes{"p": set(0, 8)},
			b:    map[string]Bytes{},
			want: map[string]Bytes{"p": set(0, 8)},
		},
		{
			name:          "missing on a clobbered side",
			a:             map[string]Bytes{"p": set(0, 8)},
			b:             map[string]Bytes{"q": set(0, 1)},
			bClob:         true,
			want:          map[string]Bytes{"q": set(0, 1)},
			wantClobbered: true,
		},
		{
			name:          "both clobbered",
			a:             map[string]Bytes{"p": set(0, 8)},
			b:             map[string]Bytes{"p": set(2, 4), "q": set(0, 1)},
			aClob:         true,
			bClob:         true,
			want:          map[string]Bytes{"p": set(2, 4)},
			wantClobbered: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, order := range [][2]int{{0, 1}, {1, 0}} {
				var ledger Ledger
				inputs := [2]*Store[string]{
					fill(&ledger, tt.a, tt.aClob),
					fill(&ledger, tt.b, tt.bClob),
				}

				res := Merge(inputs[order[0]], inputs[order[1]])
				got := res.Objects(HeapFrame)
				if !equalObjects(tt.want, got) {
					deepequal.SideBySide(t, "merged", tt.want, got)
				}
				if res.AllOthersClobbered() != tt.wantClobbered {
					t.Errorf("clobber flag %v, want %v", res.AllOthersClobbered(), tt.wantClobbered)
				}

				res.Drop()
				if ledger.Live() != 0 {
					t.Errorf("merge must consume its inputs, %d stores alive", ledger.Live())
				}
			}
		})
	}
}

func TestMerge_SameStore(t *testing.T) {
	var ledger Ledger
	s := New[string](&ledger, false)
	s.Ref()
	s.Ref()

	res := Merge(s, s, s)
	if res != s {
		t.Fatal("merge of a single store must reuse it")
	}
	if s.Refs() != 1 {
		t.Errorf("one reference expected to survive, got %d", s.Refs())
	}
	if ledger.Created != 1 {
		t.Errorf("no stores were expected to be created, got %d", ledger.Created-1)
	}
}

func TestMerge_Associative(t *testing.T) {
	objs := []map[string]Bytes{
		{"p": set(0, 16), "q": set(0, 4)},
		{"p": set(4, 12, 14, 16)},
		{"p": set(0, 6, 10, 20), "r": set(1, 2)},
	}
	clob := []bool{false, true, false}

	build := func() []*Store[string] {
		var res []*Store[string]
		for i := range objs {
			res = append(res, fill(nil, objs[i], clob[i]))
		}
		return res
	}

	s := build()
	flat := Merge(s[0], s[1], s[2])

	s = build()
	left := Merge(Merge(s[0], s[1]), s[2])

	s = build()
	right := Merge(s[0], Merge(s[2], s[1]))

	want := flat.Objects(HeapFrame)
	for name, got := range map[string]*Store[string]{"left": left, "right": right} {
		if !equalObjects(want, got.Objects(HeapFrame)) {
			deepequal.SideBySide(t, name, want, got.Objects(HeapFrame))
		}
		if got.AllOthersClobbered() != flat.AllOthersClobbered() {
			t.Errorf("%s: clobber flag differs", name)
		}
	}
}

func TestMerge_Soundness(t *testing.T) {
	a := fill(nil, map[string]Bytes{"p": set(0, 10, 20, 30)}, false)
	b := fill(nil, map[string]Bytes{"p": set(5, 25)}, false)
	sa, _ := a.Readable("p", HeapFrame)
	sb, _ := b.Readable("p", HeapFrame)

	res := Merge(a, b)
	got, _ := res.Readable("p", HeapFrame)

	for off := uint64(0); off < 32; off++ {
		if got.Covers(off, off+1) && !(sa.Covers(off, off+1) && sb.Covers(off, off+1)) {
			t.Errorf("byte %d is safe after merge but not on every edge", off)
		}
	}
}

func TestMerge_FramesMismatchPanics(t *testing.T) {
	a := New[string](nil, false)
	a.PushFrame(1)
	b := New[string](nil, false)

	defer func() {
		if recover() == nil {
			t.Error("merge of different stack depths must panic")
		}
	}()
	Merge(a, b)
}

func TestMerge_Frames(t *testing.T) {
	a := New[string](nil, false)
	a.PushFrame(1)
	a.Put("x", 0, set(0, 8))
	b := New[string](nil, false)
	b.PushFrame(1)
	b.Put("x", 0, set(0, 4))

	res := Merge(a, b)
	got, ok := res.Readable("x", 0)
	if !ok || !got.Equal(set(0, 4)) {
		t.Errorf("unexpected frame object %s", got)
	}
}

func fill(ledger *Ledger, objs map[string]Bytes, clobbered bool) *Store[string] {
	s := New[string](ledger, clobbered)
	for k, v := range objs {
		s.Put(k, HeapFrame, v)
	}

	return s
}

func equalObjects(a, b map[string]Bytes) bool {
	if len(a) != len(b) {
		return false
	}

	for k, v := range a {
		o, ok := b[k]
		if !ok || !reflect.DeepEqual(v.Intervals(), o.Intervals()) {
			return false
		}
	}

	return true
}
