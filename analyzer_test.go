package tentload

import (
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirkon/deepequal"
	"golang.org/x/tools/go/analysis/analysistest"

	"github.com/sirkon/tentload/internal/diag"
)

func setFlag(t *testing.T, name, value string) {
	t.Helper()

	prev := Analyzer.Flags.Lookup(name).Value.String()
	if err := Analyzer.Flags.Set(name, value); err != nil {
		t.Fatalf("set -%s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := Analyzer.Flags.Set(name, prev); err != nil {
			t.Errorf("restore -%s: %v", name, err)
		}
	})
}

type sink struct {
	errs []string
}

func (s *sink) Errorf(format string, args ...any) {
	s.errs = append(s.errs, fmt.Sprintf(format, args...))
}

func TestAnalyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), Analyzer, "basic")
}

func TestAnalyzer_Entry(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), Analyzer, "entry")
}

func TestAnalyzer_Shapes(t *testing.T) {
	setFlag(t, "report", "all")

	analysistest.Run(t, analysistest.TestData(), Analyzer, "shapes")
}

func TestAnalyzer_Summary(t *testing.T) {
	setFlag(t, "report", "summary")
	setFlag(t, "peel-benefit", "true")

	analysistest.Run(t, analysistest.TestData(), Analyzer, "summary")
}

func TestAnalyzer_Registry(t *testing.T) {
	setFlag(t, "config", filepath.Join(analysistest.TestData(), "registry.yaml"))

	analysistest.Run(t, analysistest.TestData(), Analyzer, "custom")
}

func TestAnalyzer_SingleThreaded(t *testing.T) {
	setFlag(t, "single-threaded", "true")

	// Want comments of the package stay unmet, the sink swallows complaints about them.
	res := analysistest.Run(&sink{}, analysistest.TestData(), Analyzer, "basic")
	for _, r := range res {
		if len(r.Diagnostics) != 0 {
			t.Errorf("unexpected diagnostics of a single goroutine program: %v", r.Diagnostics)
		}
	}
}

func TestVerbosity(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Verbosity
		emits   []diag.Rule
		wantErr bool
	}{
		{
			name:  "checks",
			text:  "checks",
			want:  VerbosityChecks,
			emits: []diag.Rule{diag.TL000MustCheckLoad, diag.TL001MustCheckCopy, diag.TL020DisabledReadsTentative, diag.TL041PeelBenefit},
		},
		{
			name: "summary",
			text: "summary",
			want: VerbositySummary,
			emits: []diag.Rule{
				diag.TL000MustCheckLoad, diag.TL001MustCheckCopy, diag.TL020DisabledReadsTentative,
				diag.TL040CheckSummary, diag.TL041PeelBenefit,
			},
		},
		{
			name: "all",
			text: "all",
			want: VerbosityAll,
			emits: []diag.Rule{
				diag.TL000MustCheckLoad, diag.TL001MustCheckCopy, diag.TL010SkippedFunction,
				diag.TL011NonNestedOrder, diag.TL020DisabledReadsTentative, diag.TL021UnboundedLoopWidened,
				diag.TL030UnsupportedInstruction, diag.TL040CheckSummary, diag.TL041PeelBenefit,
			},
		},
		{
			name:    "unknown",
			text:    "loud",
			wantErr: true,
		},
	}

	rules := []diag.Rule{
		diag.TL000MustCheckLoad, diag.TL001MustCheckCopy, diag.TL010SkippedFunction,
		diag.TL011NonNestedOrder, diag.TL020DisabledReadsTentative, diag.TL021UnboundedLoopWidened,
		diag.TL030UnsupportedInstruction, diag.TL040CheckSummary, diag.TL041PeelBenefit,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Verbosity
			err := v.UnmarshalText([]byte(tt.text))
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected an error for %q", tt.text)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if v != tt.want {
				t.Fatalf("got %s, want %s", v, tt.want)
			}

			text, err := v.MarshalText()
			if err != nil || string(text) != tt.text {
				t.Errorf("marshal %s: %q, %v", v, text, err)
			}

			var emits []diag.Rule
			for _, r := range rules {
				if v.Emits(r) {
					emits = append(emits, r)
				}
			}
			if !reflect.DeepEqual(tt.emits, emits) {
				deepequal.SideBySide(t, "rules", tt.emits, emits)
			}
		})
	}
}
