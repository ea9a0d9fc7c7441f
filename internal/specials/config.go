package specials

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"go/token"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reference names a function in configs.
//
// Expected forms:
//
//	"pkg/path".Name
//	"pkg/path".Type.Name
//	"pkg/path".*Type.Name
//	name
//
// The last one is for symbols without a package, C functions for instance.
type Reference struct {
	Package string
	Type    string
	Pointer bool
	Name    string
}

var _ encoding.TextUnmarshaler = (*Reference)(nil)

func (r *Reference) UnmarshalText(b []byte) error {
	s := string(bytes.TrimSpace(b))
	switch {
	case s == "":
		return errors.New("empty reference")
	case s[0] != '"':
		if !token.IsIdentifier(s) {
			return fmt.Errorf("invalid bare function name %q", s)
		}
		*r = Reference{Name: s}
		return nil
	}

	quoted, err := strconv.QuotedPrefix(s)
	if err != nil {
		return fmt.Errorf("package of reference %q: %w", s, err)
	}
	pkg, err := strconv.Unquote(quoted)
	if err != nil || pkg == "" {
		return fmt.Errorf("reference %q needs a package", s)
	}

	sel, ok := strings.CutPrefix(s[len(quoted):], ".")
	if !ok || sel == "" {
		return fmt.Errorf("reference %q needs a name after the package", s)
	}

	ref := Reference{Package: pkg, Name: sel}
	if typ, name, method := strings.Cut(sel, "."); method {
		ref.Type, ref.Pointer = strings.CutPrefix(typ, "*")
		ref.Name = name
		if !token.IsIdentifier(ref.Type) {
			return fmt.Errorf("invalid receiver %q in reference %q", typ, s)
		}
	}
	if !token.IsIdentifier(ref.Name) {
		return fmt.Errorf("invalid name %q in reference %q", ref.Name, s)
	}

	*r = ref
	return nil
}

// FuncName renders the reference the way SSA names functions.
func (r Reference) FuncName() string {
	switch {
	case r.Package == "":
		return r.Name
	case r.Type == "":
		return r.Package + "." + r.Name
	case r.Pointer:
		return "(*" + r.Package + "." + r.Type + ")." + r.Name
	default:
		return "(" + r.Package + "." + r.Type + ")." + r.Name
	}
}

// Config is the file form of a registry.
type Config struct {
	SingleThreaded   bool                  `yaml:"single-threaded"`
	Functions        []FuncConfig          `yaml:"functions"`
	LockSites        []LockSiteConfig      `yaml:"lock-sites"`
	PessimisticLocks []Site                `yaml:"pessimistic-locks"`
	PathConditions   []PathConditionConfig `yaml:"path-conditions"`
	OptimisticEdges  []EdgeConfig          `yaml:"optimistic-edges"`
	AlwaysIterate    []LoopConfig          `yaml:"always-iterate"`
}

type FuncConfig struct {
	Name     Reference `yaml:"name"`
	Kind     Kind      `yaml:"kind"`
	SizeArg  int       `yaml:"size-arg"`
	ElemSize uint64    `yaml:"elem-size"`
	PtrArg   int       `yaml:"ptr-arg"`
	Domains  []string  `yaml:"domains"`
}

type LockSiteConfig struct {
	Site    Site     `yaml:"site"`
	Domains []string `yaml:"domains"`
}

type PathConditionConfig struct {
	Kind       PathKind `yaml:"kind"`
	Function   string   `yaml:"function"`
	Block      string   `yaml:"block"`
	StackDepth *int     `yaml:"stack-depth"`
	Global     string   `yaml:"global"`
	Param      int      `yaml:"param"`
	Offset     uint64   `yaml:"offset"`
	Length     uint64   `yaml:"length"`

	// Value of a string condition, its length is the default one.
	Value string `yaml:"value"`

	// Callee of a func condition.
	Callee Reference `yaml:"callee"`
}

type EdgeConfig struct {
	Function string `yaml:"function"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

type LoopConfig struct {
	Function string `yaml:"function"`
	Header   string `yaml:"header"`
}

// Load reads a YAML config and builds a registry out of it.
func Load(r io.Reader) (*Registry, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg.Registry()
}

// LoadFile is Load for a config file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	reg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	return reg, nil
}

// Registry validates the config and builds a registry.
func (c *Config) Registry() (*Registry, error) {
	custom := make(map[string]Func, len(c.Functions))
	for i, f := range c.Functions {
		if f.Kind == KindInvalid {
			return nil, fmt.Errorf("function #%d %s: missing kind", i, f.Name.FuncName())
		}
		if f.SizeArg < 0 || f.PtrArg < 0 {
			return nil, fmt.Errorf("function %s: negative argument index", f.Name.FuncName())
		}
		if len(f.Domains) > 0 && f.Kind != KindLock {
			return nil, fmt.Errorf("function %s: domains are only allowed for locks", f.Name.FuncName())
		}
		if f.ElemSize > 0 && f.Kind != KindMalloc && f.Kind != KindRealloc {
			return nil, fmt.Errorf("function %s: element size is only allowed for allocations", f.Name.FuncName())
		}

		custom[f.Name.FuncName()] = Func{
			Kind:     f.Kind,
			SizeArg:  f.SizeArg,
			ElemSize: f.ElemSize,
			PtrArg:   f.PtrArg,
			Domains:  f.Domains,
		}
	}

	reg := New(custom)
	reg.SetSingleThreaded(c.SingleThreaded)

	for _, s := range c.LockSites {
		if err := checkSite(s.Site); err != nil {
			return nil, fmt.Errorf("lock site: %w", err)
		}
		reg.AddLockSite(s.Site, s.Domains...)
	}

	for _, s := range c.PessimisticLocks {
		if err := checkSite(s); err != nil {
			return nil, fmt.Errorf("pessimistic lock: %w", err)
		}
		reg.AddPessimisticLock(s)
	}

	for i, p := range c.PathConditions {
		if p.Function == "" || p.Block == "" {
			return nil, fmt.Errorf("path condition #%d: function and block are required", i)
		}
		kind := p.Kind
		if kind == PathKindInvalid {
			kind = PathKindIntmem
		}

		length := p.Length
		switch kind {
		case PathKindFunc:
			if p.Callee.Name == "" {
				return nil, fmt.Errorf("path condition #%d: func condition needs a callee", i)
			}
			if p.Global != "" || length != 0 || p.Value != "" {
				return nil, fmt.Errorf("path condition #%d: func condition asserts no memory", i)
			}
		case PathKindString:
			if length == 0 {
				length = uint64(len(p.Value))
			}
		}
		if kind != PathKindFunc && length == 0 {
			return nil, fmt.Errorf("path condition #%d: zero length", i)
		}
		depth := -1
		if p.StackDepth != nil {
			depth = *p.StackDepth
		}

		reg.AddPathCondition(PathCondition{
			Kind:       kind,
			Function:   p.Function,
			Block:      p.Block,
			StackDepth: depth,
			Global:     p.Global,
			Param:      p.Param,
			Offset:     p.Offset,
			Len:        length,
			Callee:     p.Callee.FuncName(),
		})
	}

	for _, e := range c.OptimisticEdges {
		reg.AddOptimisticEdge(e.Function, e.From, e.To)
	}

	for _, l := range c.AlwaysIterate {
		reg.AddAlwaysIterate(l.Function, l.Header)
	}

	return reg, nil
}

func checkSite(s Site) error {
	if s.Function == "" || s.Block == "" {
		return fmt.Errorf("site %+v: function and block are required", s)
	}
	if s.Index < 0 {
		return fmt.Errorf("site %+v: negative instruction index", s)
	}

	return nil
}
