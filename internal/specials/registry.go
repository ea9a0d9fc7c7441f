package specials

import (
	"maps"

	"github.com/samber/lo"
)

// Func describes a recognized special function.
type Func struct {
	Kind Kind

	// SizeArg is the index of the argument holding the allocation size for malloc and realloc.
	SizeArg int

	// ElemSize is the size of elements SizeArg counts, zero means it counts bytes.
	ElemSize uint64

	// PtrArg is the index of the argument holding the reallocated or released
	// object or the buffer read files fill.
	PtrArg int

	// Domains restrict a lock to the named globals. Calls of a lock without domains clobber everything.
	Domains []string
}

// Bytes is the size in bytes of n units SizeArg counts.
func (f Func) Bytes(n uint64) uint64 {
	if f.ElemSize == 0 {
		return n
	}

	return n * f.ElemSize
}

// Site addresses an instruction by function, block and instruction index.
type Site struct {
	Function string `yaml:"function"`
	Block    string `yaml:"block"`
	Index    int    `yaml:"index"`
}

// PathCondition asserts bytes [Offset, Offset+Len) of a global or of a pointer
// argument are known at the start of the given block.
type PathCondition struct {
	Kind     PathKind
	Function string
	Block    string

	// StackDepth restricts the condition to contexts at this call depth, a negative value matches any depth.
	StackDepth int

	// Global names the asserted global. When empty Param is used.
	Global string
	Param  int

	Offset uint64
	Len    uint64

	// Callee is the function asserted by conditions of PathKindFunc.
	Callee string
}

// Registry of special functions, lock sites and path conditions.
type Registry struct {
	known            map[string]Func
	lockSites        map[Site][]string
	pessimisticLocks map[Site]struct{}
	pathConditions   map[string][]PathCondition
	optimisticEdges  map[string]map[string]string
	alwaysIterate    map[string]map[string]struct{}

	singleThreaded bool
}

// New creates a registry of predefined Go and libc functions merged with
// the custom ones. Custom definitions take precedence.
func New(custom map[string]Func) *Registry {
	predefined := map[string]Func{
		// Go runtime and scheduler.
		"runtime.Gosched":        {Kind: KindYield},
		"runtime.newobject":      {Kind: KindMalloc, SizeArg: 0},
		"runtime.newproc":        {Kind: KindYield},
		"runtime.chansend1":      {Kind: KindYield},
		"runtime.chanrecv1":      {Kind: KindYield},
		"runtime.chanrecv2":      {Kind: KindYield},
		"runtime.selectgo":       {Kind: KindYield},
		"time.Sleep":             {Kind: KindYield},
		"(*sync.WaitGroup).Wait": {Kind: KindYield},
		"(*sync.Cond).Wait":      {Kind: KindYield},
		"(*sync.Mutex).Lock":     {Kind: KindLock},
		"(*sync.RWMutex).Lock":   {Kind: KindLock},
		"(*sync.RWMutex).RLock":  {Kind: KindLock},

		// Libc, for modules coming from C front ends.
		"malloc":             {Kind: KindMalloc, SizeArg: 0},
		"realloc":            {Kind: KindRealloc, PtrArg: 0, SizeArg: 1},
		"free":               {Kind: KindFree, PtrArg: 0},
		"read":               {Kind: KindReadFile, PtrArg: 1},
		"sched_yield":        {Kind: KindYield},
		"usleep":             {Kind: KindYield},
		"pthread_cond_wait":  {Kind: KindYield},
		"pthread_join":       {Kind: KindYield},
		"pthread_mutex_lock": {Kind: KindLock},
	}

	known := maps.Clone(predefined)
	if custom != nil {
		maps.Insert(known, maps.All(custom))
	}

	return &Registry{
		known:            known,
		lockSites:        map[Site][]string{},
		pessimisticLocks: map[Site]struct{}{},
		pathConditions:   map[string][]PathCondition{},
		optimisticEdges:  map[string]map[string]string{},
		alwaysIterate:    map[string]map[string]struct{}{},
	}
}

// Lookup returns the definition of the named function.
func (r *Registry) Lookup(name string) (Func, bool) {
	f, ok := r.known[name]
	return f, ok
}

// IsYield tells if calling the named function is a yield point.
func (r *Registry) IsYield(name string) bool {
	f, ok := r.known[name]
	return ok && f.Kind.Yields()
}

// SetSingleThreaded marks the analyzed program as having a single thread, so
// nothing it loads can be clobbered behind its back.
func (r *Registry) SetSingleThreaded(v bool) {
	r.singleThreaded = v
}

func (r *Registry) SingleThreaded() bool {
	return r.singleThreaded
}

// AddLockSite restricts the lock call at the site to the given globals.
func (r *Registry) AddLockSite(site Site, domains ...string) {
	r.lockSites[site] = lo.Uniq(append(r.lockSites[site], domains...))
}

// LockDomains of a lock call. Site specific domains override the function ones.
// Returns false when the call clobbers everything.
func (r *Registry) LockDomains(site Site, callee string) ([]string, bool) {
	if d, ok := r.lockSites[site]; ok {
		return d, true
	}

	f, ok := r.known[callee]
	if !ok || f.Kind != KindLock || len(f.Domains) == 0 {
		return nil, false
	}

	return f.Domains, true
}

// AddPessimisticLock marks a lock site whose effects are committed at
// specialization time, calls there never clobber the store.
func (r *Registry) AddPessimisticLock(site Site) {
	r.pessimisticLocks[site] = struct{}{}
}

func (r *Registry) IsPessimisticLock(site Site) bool {
	_, ok := r.pessimisticLocks[site]
	return ok
}

func (r *Registry) AddPathCondition(c PathCondition) {
	r.pathConditions[c.Function] = append(r.pathConditions[c.Function], c)
}

// PathConditions asserted at the start of the block of the function at the given stack depth.
func (r *Registry) PathConditions(function, block string, depth int) []PathCondition {
	return lo.Filter(r.pathConditions[function], func(c PathCondition, _ int) bool {
		return c.Block == block && (c.StackDepth < 0 || c.StackDepth == depth)
	})
}

// AddOptimisticEdge marks an in-loop edge the peeling heuristic may assume dead.
func (r *Registry) AddOptimisticEdge(function, from, to string) {
	edges, ok := r.optimisticEdges[function]
	if !ok {
		edges = map[string]string{}
		r.optimisticEdges[function] = edges
	}

	edges[from] = to
}

// OptimisticEdge of the function leaving the given block.
func (r *Registry) OptimisticEdge(function, from string) (string, bool) {
	to, ok := r.optimisticEdges[function][from]
	return to, ok
}

// AddAlwaysIterate marks a loop whose body is known to run at least once.
func (r *Registry) AddAlwaysIterate(function, header string) {
	headers, ok := r.alwaysIterate[function]
	if !ok {
		headers = map[string]struct{}{}
		r.alwaysIterate[function] = headers
	}

	headers[header] = struct{}{}
}

func (r *Registry) AlwaysIterate(function, header string) bool {
	_, ok := r.alwaysIterate[function][header]
	return ok
}
