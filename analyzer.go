package tentload

import (
	"errors"
	"fmt"
	"go/token"
	"sort"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
	"golang.org/x/tools/go/ssa"

	"github.com/sirkon/tentload/internal/benefit"
	"github.com/sirkon/tentload/internal/ctxtree"
	"github.com/sirkon/tentload/internal/diag"
	"github.com/sirkon/tentload/internal/ir"
	"github.com/sirkon/tentload/internal/shadow"
	"github.com/sirkon/tentload/internal/specials"
	"github.com/sirkon/tentload/internal/ssaload"
	"github.com/sirkon/tentload/internal/tentative"
)

const doc = `tentload reports loads that must be checked at run time after specialization

A function is specialized together with the same package calls it makes.
Every load whose value the specializer relies on is classified: it either
reads memory nothing could have changed since the function last touched it,
or it follows a yield point (channel operations, locks, goroutine starts,
indirect calls) and other goroutines could have written it in between.
The latter need a runtime interference check and are reported.`

// Analyzer is the main entry point for the linter
var Analyzer = &analysis.Analyzer{
	Name:     "tentload",
	Doc:      doc,
	Requires: []*analysis.Analyzer{buildssa.Analyzer},
	Run:      run,
}

var config = defaultConfig()

func init() {
	config.register(&Analyzer.Flags)
}

func run(pass *analysis.Pass) (any, error) {
	input := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)

	reg, err := config.registry()
	if err != nil {
		return nil, err
	}

	r := newRunner(pass, config, reg)
	r.load(input)
	for _, fn := range input.SrcFuncs {
		r.analyse(fn)
	}
	r.emit()

	return nil, nil
}

// runner analyses functions of a single package.
type runner struct {
	pass   *analysis.Pass
	cfg    Config
	reg    *specials.Registry
	rep    *diag.Reporter
	loader *ssaload.Loader

	// funcs are converted functions of the package.
	funcs map[*ir.Function]*ssa.Function
}

func newRunner(pass *analysis.Pass, cfg Config, reg *specials.Registry) *runner {
	rep := &diag.Reporter{}

	return &runner{
		pass:   pass,
		cfg:    cfg,
		reg:    reg,
		rep:    rep,
		loader: ssaload.New(pass.TypesSizes, rep.Phase(diag.PhaseBuild)),
		funcs:  map[*ir.Function]*ssa.Function{},
	}
}

// load converts every function of the package before any session starts
// as sessions number module globals once.
func (r *runner) load(input *buildssa.SSA) {
	build := r.rep.Phase(diag.PhaseBuild)

	for _, m := range input.Pkg.Members {
		if g, ok := m.(*ssa.Global); ok {
			r.loader.Global(g)
		}
	}

	for _, fn := range input.SrcFuncs {
		f, err := r.loader.Function(fn)
		if err != nil {
			build.In(fn.String()).Report(diag.TL010SkippedFunction, err.Error(), fn.Pos())
			continue
		}
		r.funcs[f] = fn
	}
}

func (r *runner) analyse(fn *ssa.Function) {
	f, err := r.loader.Function(fn)
	if err != nil {
		return
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}

		var perr *shadow.PreconditionError
		if err, ok := p.(error); !ok || !errors.As(err, &perr) {
			panic(p)
		}
		r.rep.Phase(diag.PhaseBuild).In(f.Name).Report(diag.TL010SkippedFunction, perr.Error(), fn.Pos())
	}()

	s := shadow.NewSession(r.loader.Module(), r.reg, f)
	s.SetReporter(r.rep)

	root := ctxtree.NewRoot(s, f)
	ctxtree.AssumeAllLive(root)
	r.inline(root, 1)
	ctxtree.AttachPathFunctions(root)
	ctxtree.AssumeAllLive(root)
	r.loader.Seed(root)

	a := tentative.New(s, tentative.Options{EntryClobbered: !entry(fn)})
	a.Run(root)
	checks := a.CountTentativeInstructions(root)
	a.AddCheckpointFailedBlocks(root)

	s.Reporter(diag.PhaseCommit).Report(
		diag.TL040CheckSummary,
		fmt.Sprintf("runtime checks in %s: %d, failed checkpoints leave the specialization: %t, loops widened: %d",
			f.Name, checks, root.HasFailedCheckpoints(), r.rep.CountIn(f.Name, diag.TL021UnboundedLoopWidened)),
		fn.Pos(),
	)

	if r.cfg.PeelBenefit {
		r.peelBenefit(s, f, fn.Pos())
	}
}

// entry tells the function starts the program: nothing but its own code ran
// before it, so memory it has not touched yet is untouched by others too.
func entry(fn *ssa.Function) bool {
	if fn.Pkg == nil || fn.Parent() != nil || fn.Signature.Recv() != nil {
		return false
	}

	name := fn.Name()
	switch {
	case name == "main":
		return fn.Pkg.Pkg.Name() == "main"
	case name == "init", strings.HasPrefix(name, "init#"):
		return true
	default:
		return false
	}
}

// inline attaches calls of converted package functions to the context.
// Recursion is cut at the first repeated callee.
func (r *runner) inline(ctx ctxtree.Context, depth int) {
	if depth > r.cfg.InlineDepth {
		return
	}

	start, end := ctx.Blocks()
	for idx := start; idx < end; idx++ {
		if ctx.PeeledFor(idx) != nil {
			continue
		}
		rec, _ := ctx.GetBlock(idx)
		if rec == nil {
			continue
		}

		for _, inst := range rec.Insts {
			callee := inst.I().StaticCallee()
			if callee == nil || r.funcs[callee] == nil || onStack(ctx, callee) {
				continue
			}
			if _, ok := r.reg.Lookup(callee.Name); ok {
				// Registered functions act through their role.
				continue
			}

			ia := ctx.Inline(inst)
			if ia == nil {
				continue
			}
			ctxtree.AssumeAllLive(ia)
			r.inline(ia, depth+1)
		}
	}
}

func onStack(ctx ctxtree.Context, f *ir.Function) bool {
	for c := ctx; c != nil; c = c.Parent() {
		if c.FunctionRoot().F == f {
			return true
		}
	}

	return false
}

func (r *runner) peelBenefit(s *shadow.Session, f *ir.Function, fallback token.Pos) {
	fi := s.FunctionInvar(f)
	commit := s.Reporter(diag.PhaseCommit)

	for _, l := range f.AllLoops() {
		res := benefit.EstimatePeel(fi, fi.LInfo[l])
		if res.Benefit() == 0 {
			continue
		}

		commit.Report(
			diag.TL041PeelBenefit,
			fmt.Sprintf("peeling the first iteration of the loop at %s folds away %d instructions and %d blocks",
				l.Header.Name, len(res.EliminatedInstructions), len(res.DeadBlocks)),
			loopPos(l, fallback),
		)
	}
}

// loopPos is the first position of the loop condition.
func loopPos(l *ir.Loop, fallback token.Pos) token.Pos {
	for _, inst := range l.Header.Instrs {
		if inst.Op != ir.OpPhi && inst.Pos.IsValid() {
			return inst.Pos
		}
	}
	if pos := l.Header.Pos(); pos.IsValid() {
		return pos
	}

	return fallback
}

// emit passes findings to the driver. A position gets one diagnostic per rule,
// the same load may be seen in the context of several callers.
func (r *runner) emit() {
	type key struct {
		rule diag.Rule
		pos  token.Pos
	}

	reports := r.rep.Reports()
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Pos < reports[j].Pos
	})

	seen := map[key]struct{}{}
	for _, rep := range reports {
		if !rep.Pos.IsValid() || !r.cfg.Verbosity.Emits(rep.RuleCode) {
			continue
		}

		k := key{rule: rep.RuleCode, pos: rep.Pos}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}

		r.pass.Report(analysis.Diagnostic{
			Pos:      rep.Pos,
			Category: rep.RuleCode.String(),
			Message:  fmt.Sprintf("%s: %s", rep.RuleCode, rep.Message),
		})
	}
}
