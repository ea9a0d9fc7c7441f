package diag

import "fmt"

// Rule represents a tentload rule code (TL-series).
type Rule int

const (
	ruleInvalid Rule = iota

	TL000MustCheckLoad
	TL001MustCheckCopy
	TL010SkippedFunction
	TL011NonNestedOrder
	TL020DisabledReadsTentative
	TL021UnboundedLoopWidened
	TL030UnsupportedInstruction
	TL040CheckSummary
	TL041PeelBenefit
)

// String returns the canonical code and short name of the rule.
// Example: "TL000: MustCheckLoad"
func (r Rule) String() string {
	switch r {
	case TL000MustCheckLoad:
		return "TL000: MustCheckLoad"
	case TL001MustCheckCopy:
		return "TL001: MustCheckCopy"
	case TL010SkippedFunction:
		return "TL010: SkippedFunction"
	case TL011NonNestedOrder:
		return "TL011: NonNestedOrder"
	case TL020DisabledReadsTentative:
		return "TL020: DisabledReadsTentative"
	case TL021UnboundedLoopWidened:
		return "TL021: UnboundedLoopWidened"
	case TL030UnsupportedInstruction:
		return "TL030: UnsupportedInstruction"
	case TL040CheckSummary:
		return "TL040: CheckSummary"
	case TL041PeelBenefit:
		return "TL041: PeelBenefit"
	default:
		return fmt.Sprintf("rule-unknown(%d)", r)
	}
}

// Description returns the human-readable explanation of the rule.
func (r Rule) Description() string {
	switch r {
	case TL000MustCheckLoad:
		return "Load may observe memory another thread could have written, it needs a runtime check."
	case TL001MustCheckCopy:
		return "Memory copy reads bytes another thread could have written, it needs a runtime check."
	case TL010SkippedFunction:
		return "Function loops are not in simplified LCSSA form, the function was skipped."
	case TL011NonNestedOrder:
		return "Block order puts a predecessor after a successor that is not its loop header."
	case TL020DisabledReadsTentative:
		return "Unspecialized call reads tentative data, everything is assumed clobbered after it."
	case TL021UnboundedLoopWidened:
		return "Loop with a live back edge was analyzed with a widened entry state."
	case TL030UnsupportedInstruction:
		return "Instruction is not modeled and is treated as opaque."
	case TL040CheckSummary:
		return "Number of instructions needing runtime interference checks."
	case TL041PeelBenefit:
		return "Peeling the first loop iteration would fold away instructions."
	default:
		return fmt.Sprintf("unknown-rule(%d)", r)
	}
}
