// Package diag defines the TL-series rule codes of tentload and the reporter
// collecting findings of every analysis stage.
//
// # Structure
//
// Rule codes follow the format "TL<NNN>: <Name>" and are grouped by area:
//
//	000–009  Runtime interference checks of loads and copies
//	010–019  Input facts the model builder could not accept
//	020–029  Conservative fallbacks of the interference analysis
//	030–039  Front end limitations
//	040–049  Summaries for the commit stage and peeling hints
//
// Example:
//
//	diag.TL000MustCheckLoad.String()      → "TL000: MustCheckLoad"
//	diag.TL000MustCheckLoad.Description() → "Load may observe memory another thread could have written, it needs a runtime check."
//
// # Usage
//
// Every stage gets its own phase-bound view of a shared Reporter, narrowed
// to the function under analysis:
//
//	rep := r.Phase(diag.PhaseAnalysis).In(f.Name)
//	rep.Report(diag.TL020DisabledReadsTentative, "", inst.Pos)
//
// An empty message is replaced by the rule description. Reports are tallied
// per function and rule, see Reporter.CountIn.
//
// # Notes
//
//   - Rule identifiers are stable, never renumber existing codes.
//   - Precondition violations are not reported here, they abort the analysis.
package diag
