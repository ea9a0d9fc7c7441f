package tlstore

import (
	"fmt"
	"maps"
)

// HeapFrame addresses objects that outlive any call frame.
const HeapFrame = -1

// Ledger counts stores created and freed. A balanced run frees every store it creates.
type Ledger struct {
	Created int
	Freed   int
}

// Live is the number of stores not freed yet.
func (l *Ledger) Live() int {
	return l.Created - l.Freed
}

type frame[K comparable] struct {
	id      int
	objects map[K]Bytes
}

// Store maps objects to their known safe bytes.
//
// An object missing from the store is fully safe unless AllOthersClobbered
// is set, then nothing of it is. Stores are shared by reference between
// successor edges and copied on the first write through a shared reference.
type Store[K comparable] struct {
	heap   map[K]Bytes
	frames []frame[K]

	refs      int
	clobbered bool
	ledger    *Ledger
}

// New creates a store with a single reference. The ledger may be nil.
func New[K comparable](ledger *Ledger, allOthersClobbered bool) *Store[K] {
	s := &Store[K]{
		heap:      map[K]Bytes{},
		refs:      1,
		clobbered: allOthersClobbered,
		ledger:    ledger,
	}
	s.created()

	return s
}

func (s *Store[K]) created() {
	if s.ledger != nil {
		s.ledger.Created++
	}
}

func (s *Store[K]) alive() {
	if s.refs <= 0 {
		panic("tlstore: use of a freed store")
	}
}

// Ref takes one more reference to the store.
func (s *Store[K]) Ref() *Store[K] {
	s.alive()
	s.refs++
	return s
}

// Drop releases a reference. The store is freed with its last reference.
func (s *Store[K]) Drop() {
	s.alive()
	s.refs--
	if s.refs > 0 {
		return
	}

	s.heap = nil
	s.frames = nil
	if s.ledger != nil {
		s.ledger.Freed++
	}
}

// Refs is the number of references held.
func (s *Store[K]) Refs() int {
	return s.refs
}

// Writable returns a store the holder of a reference may modify. It is the
// store itself when the reference is unique, a private copy otherwise. In
// the latter case the reference to the original is released.
func (s *Store[K]) Writable() *Store[K] {
	s.alive()
	if s.refs == 1 {
		return s
	}

	c := &Store[K]{
		heap:      maps.Clone(s.heap),
		frames:    make([]frame[K], len(s.frames)),
		refs:      1,
		clobbered: s.clobbered,
		ledger:    s.ledger,
	}
	for i, f := range s.frames {
		c.frames[i] = frame[K]{id: f.id, objects: maps.Clone(f.objects)}
	}
	c.created()
	s.Drop()

	return c
}

func (s *Store[K]) mustOwn() {
	s.alive()
	if s.refs != 1 {
		panic(fmt.Sprintf("tlstore: write to a store shared by %d references", s.refs))
	}
}

func (s *Store[K]) objects(frame int) map[K]Bytes {
	if frame == HeapFrame {
		return s.heap
	}

	if frame < 0 || frame >= len(s.frames) {
		panic(fmt.Sprintf("tlstore: no frame %d, the stack depth is %d", frame, len(s.frames)))
	}

	return s.frames[frame].objects
}

// AllOthersClobbered tells objects missing from the store are unsafe.
func (s *Store[K]) AllOthersClobbered() bool {
	s.alive()
	return s.clobbered
}

// Readable returns safe bytes of the object in the given frame. It reports
// false when the object is not tracked.
func (s *Store[K]) Readable(k K, frame int) (Bytes, bool) {
	s.alive()
	set, ok := s.objects(frame)[k]
	return set, ok
}

// Put replaces safe bytes of the object. The store must be writable.
func (s *Store[K]) Put(k K, frame int, set Bytes) {
	s.mustOwn()
	s.objects(frame)[k] = set
}

// Delete forgets the object. The store must be writable.
func (s *Store[K]) Delete(k K, frame int) {
	s.mustOwn()
	delete(s.objects(frame), k)
}

// ClobberAll forgets everything known and marks all other objects unsafe.
// Frames are kept. The store must be writable.
func (s *Store[K]) ClobberAll() {
	s.mustOwn()
	s.heap = map[K]Bytes{}
	for i := range s.frames {
		s.frames[i].objects = map[K]Bytes{}
	}
	s.clobbered = true
}

// PushFrame opens a stack frame for a call. The store must be writable.
func (s *Store[K]) PushFrame(id int) {
	s.mustOwn()
	s.frames = append(s.frames, frame[K]{id: id, objects: map[K]Bytes{}})
}

// PopFrame releases the innermost frame. The store must be writable.
func (s *Store[K]) PopFrame() {
	s.mustOwn()
	if len(s.frames) == 0 {
		panic("tlstore: pop of an empty frame stack")
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Depth is the number of frames.
func (s *Store[K]) Depth() int {
	s.alive()
	return len(s.frames)
}

// Objects returns a copy of objects tracked in the frame.
func (s *Store[K]) Objects(frame int) map[K]Bytes {
	s.alive()
	return maps.Clone(s.objects(frame))
}

// Merge joins stores coming from several incoming edges, one reference of
// each input is consumed. A byte is safe in the result iff it is safe in
// every input. Returns nil for no inputs.
func Merge[K comparable](stores ...*Store[K]) *Store[K] {
	if len(stores) == 0 {
		return nil
	}

	same := true
	for _, s := range stores[1:] {
		if s != stores[0] {
			same = false
			break
		}
	}
	if same {
		for range stores[1:] {
			stores[0].Drop()
		}
		return stores[0]
	}

	first := stores[0]
	first.alive()
	res := &Store[K]{
		heap:      maps.Clone(first.heap),
		frames:    make([]frame[K], len(first.frames)),
		refs:      1,
		clobbered: first.clobbered,
		ledger:    first.ledger,
	}
	for i, f := range first.frames {
		res.frames[i] = frame[K]{id: f.id, objects: maps.Clone(f.objects)}
	}
	res.created()

	for _, s := range stores[1:] {
		s.alive()
		if len(s.frames) != len(res.frames) {
			panic(fmt.Sprintf("tlstore: merge of stores with %d and %d frames", len(res.frames), len(s.frames)))
		}

		intersect(res.heap, res.clobbered, s.heap, s.clobbered)
		for i := range res.frames {
			if res.frames[i].id != s.frames[i].id {
				panic(fmt.Sprintf(
					"tlstore: merge of frames %d and %d at depth %d",
					res.frames[i].id, s.frames[i].id, i,
				))
			}
			intersect(res.frames[i].objects, res.clobbered, s.frames[i].objects, s.clobbered)
		}
		res.clobbered = res.clobbered || s.clobbered
	}

	for _, s := range stores {
		s.Drop()
	}

	return res
}

// intersect narrows dst to the bytes also safe in src. A missing object is
// fully safe or fully unsafe depending on the clobber flag of its side.
func intersect[K comparable](dst map[K]Bytes, dstClobbered bool, src map[K]Bytes, srcClobbered bool) {
	for k, set := range dst {
		other, ok := src[k]
		switch {
		case ok:
			dst[k] = set.Intersect(other)
		case srcClobbered:
			delete(dst, k)
		}
	}

	if dstClobbered {
		return
	}

	for k, set := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = set
		}
	}
}
