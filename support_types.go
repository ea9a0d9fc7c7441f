package tentload

import (
	"flag"
	"fmt"

	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/specials"
)

// Verbosity selects diagnostics the analyzer emits.
type Verbosity int

const (
	VerbosityInvalid Verbosity = iota

	// VerbosityChecks emits loads and copies needing a runtime interference check.
	VerbosityChecks

	// VerbositySummary adds per function check counts.
	VerbositySummary

	// VerbosityAll adds notes on skipped functions, widened loops and opaque instructions.
	VerbosityAll
)

var verbosityValueMap = map[Verbosity]string{
	VerbosityChecks:  "checks",
	VerbositySummary: "summary",
	VerbosityAll:     "all",
}

func (v Verbosity) String() string {
	s, ok := verbosityValueMap[v]
	if !ok {
		return fmt.Sprintf("invalid(%d)", v)
	}

	return s
}

// UnmarshalText for setting values with configs, CLI, etc.
func (v *Verbosity) UnmarshalText(rawtext []byte) error {
	text := string(rawtext)
	for k, s := range verbosityValueMap {
		if s == text {
			*v = k
			return nil
		}
	}

	return fmt.Errorf("unknown verbosity %q", text)
}

func (v Verbosity) MarshalText() ([]byte, error) {
	s, ok := verbosityValueMap[v]
	if !ok {
		return nil, fmt.Errorf("invalid verbosity %d", int(v))
	}

	return []byte(s), nil
}

// Emits tells diagnostics of the rule are shown at this verbosity.
func (v Verbosity) Emits(rule diag.Rule) bool {
	switch rule {
	case diag.TL000MustCheckLoad, diag.TL001MustCheckCopy, diag.TL020DisabledReadsTentative, diag.TL041PeelBenefit:
		return v >= VerbosityChecks
	case diag.TL040CheckSummary:
		return v >= VerbositySummary
	default:
		return v >= VerbosityAll
	}
}

// Config of the analyzer, its fields are bound to the analyzer flags.
type Config struct {
	// Registry is a YAML file with special functions, lock domains and path conditions.
	Registry string

	SingleThreaded bool

	// InlineDepth limits nesting of same package calls analysed in the caller context.
	InlineDepth int

	// PeelBenefit estimates what peeling the first iteration of each loop would fold away.
	PeelBenefit bool

	Verbosity Verbosity
}

func defaultConfig() Config {
	return Config{
		InlineDepth: 2,
		Verbosity:   VerbosityChecks,
	}
}

func (c *Config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Registry, "config", c.Registry, "YAML file with special functions, lock domains and path conditions")
	fs.BoolVar(&c.SingleThreaded, "single-threaded", c.SingleThreaded, "the program runs a single goroutine, nothing needs a check")
	fs.IntVar(&c.InlineDepth, "inline-depth", c.InlineDepth, "nesting limit of same package calls analysed in the caller context")
	fs.BoolVar(&c.PeelBenefit, "peel-benefit", c.PeelBenefit, "report loops whose first iteration folds away when peeled")
	fs.TextVar(&c.Verbosity, "report", c.Verbosity, "diagnostics to emit: checks, summary or all")
}

// registry of special functions the config refers to.
func (c *Config) registry() (*specials.Registry, error) {
	reg := specials.New(nil)
	if c.Registry != "" {
		var err error
		reg, err = specials.LoadFile(c.Registry)
		if err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
	}
	if c.SingleThreaded {
		reg.SetSingleThreaded(true)
	}

	return reg, nil
}
