package task

import (
	"testing"

	"github.com/csk-dev/csk/internal/domain"
)

func validSlice(id string) domain.Slice {
	return domain.Slice{
		SliceID:        id,
		Goal:           "do the thing",
		AllowedPaths:   []string{"internal/" + id + "/**"},
		RequiredGates:  domain.DefaultRequiredGates(),
		Acceptance:     "the thing is done",
		VerifyCommands: []domain.VerifyCommandRef{{Name: "test", Argv: []string{"go", "test", "./..."}}},
	}
}

func TestRunCriticPassesOnWellFormedSlices(t *testing.T) {
	report := RunCritic([]domain.Slice{validSlice("S-0001")})
	if !report.Passed {
		t.Fatalf("expected critic to pass, findings=%+v", report.Findings)
	}
}

func TestRunCriticFlagsMissingGoal(t *testing.T) {
	s := validSlice("S-0001")
	s.Goal = ""
	report := RunCritic([]domain.Slice{s})
	if report.Passed {
		t.Fatal("expected critic to fail on missing goal")
	}
	if !hasFinding(report, P0, "no goal") {
		t.Fatalf("expected P0 missing-goal finding, got %+v", report.Findings)
	}
	if report.P0 != 1 {
		t.Fatalf("expected p0 counter = 1, got %d", report.P0)
	}
}

func TestRunCriticCountersTallySeverities(t *testing.T) {
	a := validSlice("S-0001")
	a.Goal = ""
	b := validSlice("S-0001")
	report := RunCritic([]domain.Slice{a, b})
	if report.P0 == 0 || report.P1 == 0 {
		t.Fatalf("expected both p0 (missing goal) and p1 (duplicate id) findings, got %+v", report)
	}
	if report.P0+report.P1+report.P2+report.P3 != len(report.Findings) {
		t.Fatalf("counters don't sum to len(findings): %+v", report)
	}
	if report.Passed {
		t.Fatal("expected passed=false with a P0 finding present")
	}
}

func TestRunCriticFlagsEmptyAllowedPathsWhenScopeRequired(t *testing.T) {
	s := validSlice("S-0001")
	s.AllowedPaths = nil
	report := RunCritic([]domain.Slice{s})
	if report.Passed {
		t.Fatal("expected critic to fail on empty allowed_paths")
	}
}

func TestRunCriticFlagsEmptyVerifyCommandsWhenVerifyRequired(t *testing.T) {
	s := validSlice("S-0001")
	s.VerifyCommands = nil
	report := RunCritic([]domain.Slice{s})
	if report.Passed {
		t.Fatal("expected critic to fail on empty verify_commands")
	}
}

func TestRunCriticFlagsMissingAcceptance(t *testing.T) {
	s := validSlice("S-0001")
	s.Acceptance = ""
	report := RunCritic([]domain.Slice{s})
	if report.Passed {
		t.Fatal("expected critic to fail on missing acceptance")
	}
}

func TestRunCriticFlagsUndefinedDependency(t *testing.T) {
	s := validSlice("S-0001")
	s.Deps = []string{"S-9999"}
	report := RunCritic([]domain.Slice{s})
	if report.Passed {
		t.Fatal("expected critic to fail on undefined dependency")
	}
}

func TestRunCriticFlagsDuplicateSliceIDAsP1(t *testing.T) {
	a := validSlice("S-0001")
	b := validSlice("S-0001")
	report := RunCritic([]domain.Slice{a, b})
	if !hasFinding(report, P1, "duplicate") {
		t.Fatalf("expected P1 duplicate-id finding, got %+v", report.Findings)
	}
}

func TestRunCriticFlagsModuleRootAllowedPathsAsP1(t *testing.T) {
	s := validSlice("S-0001")
	s.AllowedPaths = []string{"**"}
	report := RunCritic([]domain.Slice{s})
	if !hasFinding(report, P1, "too broad") {
		t.Fatalf("expected P1 too-broad finding, got %+v", report.Findings)
	}
	if !report.Passed {
		t.Fatal("P1 findings must not block critic pass")
	}
}

func TestRunCriticFlagsCyclicDependency(t *testing.T) {
	a := validSlice("S-0001")
	a.Deps = []string{"S-0002"}
	b := validSlice("S-0002")
	b.Deps = []string{"S-0001"}
	report := RunCritic([]domain.Slice{a, b})
	if report.Passed {
		t.Fatal("expected critic to fail on cyclic dependency graph")
	}
}

func hasFinding(r CriticReport, sev Severity, substr string) bool {
	for _, f := range r.Findings {
		if f.Severity == sev && contains(f.Message, substr) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
