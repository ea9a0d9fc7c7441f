package diag

import (
	"fmt"
	"go/token"
	"sync"
)

// Phase marks the stage where a report was generated.
type Phase int

const (
	_             Phase = iota
	PhaseBuild          // model building and front end conversion
	PhaseAnalysis       // interference walk over the context tree
	PhaseCommit         // check requirement queries
)

func (p Phase) String() string {
	switch p {
	case PhaseBuild:
		return "build"
	case PhaseAnalysis:
		return "analysis"
	case PhaseCommit:
		return "commit"
	default:
		return fmt.Sprintf("unknown-phase(%d)", p)
	}
}

// Report is a finding about a function.
type Report struct {
	Phase    Phase
	RuleCode Rule

	// Function is the name of the function whose analysis found it, empty
	// for findings outside of any.
	Function string
	Pos      token.Pos
	Message  string
}

type tallyKey struct {
	function string
	rule     Rule
}

// Reporter collects findings of a package. Passes of go/analysis may run
// concurrently, so everything is guarded.
type Reporter struct {
	mu      sync.Mutex
	reports []Report
	tally   map[tallyKey]int
}

// Phase returns a view of the reporter for the stage.
func (r *Reporter) Phase(p Phase) *PhaseReporter {
	return &PhaseReporter{parent: r, phase: p}
}

func (r *Reporter) add(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tally == nil {
		r.tally = map[tallyKey]int{}
	}
	r.reports = append(r.reports, rep)
	r.tally[tallyKey{function: rep.Function, rule: rep.RuleCode}]++
}

// Reports returns a snapshot of all collected records in the order they came.
func (r *Reporter) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Count of reports with the given rule over all functions.
func (r *Reporter) Count(rule Rule) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for k, v := range r.tally {
		if k.rule == rule {
			n += v
		}
	}

	return n
}

// CountIn is the number of reports with the rule the analysis of the function made.
func (r *Reporter) CountIn(function string, rule Rule) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tally[tallyKey{function: function, rule: rule}]
}

// PhaseReporter binds reports to a phase and optionally to a function.
type PhaseReporter struct {
	parent   *Reporter
	phase    Phase
	function string
}

// In returns the view of the same phase reporting for the function.
func (rp *PhaseReporter) In(function string) *PhaseReporter {
	if rp == nil {
		return nil
	}

	return &PhaseReporter{parent: rp.parent, phase: rp.phase, function: function}
}

// Report records a finding. An empty message is replaced with the rule
// description. Nil reporters drop everything.
func (rp *PhaseReporter) Report(rule Rule, message string, pos token.Pos) {
	if rp == nil {
		return
	}

	if message == "" {
		message = rule.Description()
	}
	rp.parent.add(Report{
		Phase:    rp.phase,
		RuleCode: rule,
		Function: rp.function,
		Pos:      pos,
		Message:  message,
	})
}
