package task

import (
	"fmt"

	"github.com/csk-dev/csk/internal/domain"
)

// Severity is the structural critic's finding priority, P0 being
// build-blocking and P3 purely advisory, per spec.md §4.2.
type Severity int

const (
	P0 Severity = iota
	P1
	P2
	P3
)

// String renders the severity the way critic reports display it.
func (s Severity) String() string {
	switch s {
	case P0:
		return "P0"
	case P1:
		return "P1"
	case P2:
		return "P2"
	case P3:
		return "P3"
	default:
		return "P?"
	}
}

// Finding is one structural critic observation.
type Finding struct {
	Severity Severity `json:"severity"`
	SliceID  string   `json:"slice_id,omitempty"`
	Message  string   `json:"message"`
}

// CriticReport is the durable critic_report.json payload: the findings
// plus the per-severity tally spec.md §4.2 names as critic_report.json's
// counters.
type CriticReport struct {
	Findings []Finding `json:"findings"`
	P0       int       `json:"p0"`
	P1       int       `json:"p1"`
	P2       int       `json:"p2"`
	P3       int       `json:"p3"`
	Passed   bool      `json:"passed"`
}

// tally counts findings by severity and sets Passed: a P0 finding is the
// only thing that blocks freeze; P1-P3 findings leave Passed true.
func tally(findings []Finding) CriticReport {
	r := CriticReport{Findings: findings}
	for _, f := range findings {
		switch f.Severity {
		case P0:
			r.P0++
		case P1:
			r.P1++
		case P2:
			r.P2++
		case P3:
			r.P3++
		}
	}
	r.Passed = r.P0 == 0
	return r
}

// PlanInput carries only the module root. RunCritic does not take it and
// does not read plan.md: goal and acceptance are checked on each slice
// record instead (spec.md §2's Task/Plan&Slices data model folds "goal"
// and "acceptance" onto the slice record itself).
type PlanInput struct {
	ModuleRoot string
}

// RunCritic performs the structural critic pass described in spec.md
// §4.2: schema-independent checks over slices, independent of whether
// they also pass domain.ValidateSlices (which enforces a stricter subset
// as hard errors; the critic additionally flags design smells as
// findings rather than rejecting the payload outright).
func RunCritic(slices []domain.Slice) CriticReport {
	var findings []Finding

	seen := make(map[string]int, len(slices))
	byID := make(map[string]domain.Slice, len(slices))
	for _, s := range slices {
		seen[s.SliceID]++
		byID[s.SliceID] = s
	}

	for _, s := range slices {
		if s.Goal == "" {
			findings = append(findings, Finding{P0, s.SliceID, "slice has no goal"})
		}
		requiresScope := hasGate(s.RequiredGates, domain.GateScope)
		if requiresScope && len(s.AllowedPaths) == 0 {
			findings = append(findings, Finding{P0, s.SliceID, "scope required but allowed_paths is empty"})
		}
		requiresVerify := hasGate(s.RequiredGates, domain.GateVerify)
		if requiresVerify && len(s.VerifyCommands) == 0 {
			findings = append(findings, Finding{P0, s.SliceID, "verify required but verify_commands is empty"})
		}
		if s.Acceptance == "" {
			findings = append(findings, Finding{P0, s.SliceID, "slice has no acceptance section"})
		}
		for _, dep := range s.Deps {
			if _, ok := byID[dep]; !ok {
				findings = append(findings, Finding{P0, s.SliceID, fmt.Sprintf("dependency %q is undefined", dep)})
			}
		}

		if seen[s.SliceID] > 1 {
			findings = append(findings, Finding{P1, s.SliceID, "duplicate slice id"})
		}
		if isModuleRootOnly(s.AllowedPaths) {
			findings = append(findings, Finding{P1, s.SliceID, "allowed_paths is the module root, too broad"})
		}
		if requiresVerify && !hasDocumentedVerification(s) {
			findings = append(findings, Finding{P1, s.SliceID, "slice has no documented verification"})
		}
	}

	if err := domain.ValidateSlices(slices); err != nil {
		findings = append(findings, Finding{P0, "", fmt.Sprintf("slices fail domain validation: %v", err)})
	}

	return tally(findings)
}

func hasGate(gates []domain.RequiredGate, g domain.RequiredGate) bool {
	for _, x := range gates {
		if x == g {
			return true
		}
	}
	return false
}

func isModuleRootOnly(paths []string) bool {
	if len(paths) != 1 {
		return false
	}
	switch paths[0] {
	case ".", "./", "**", "./**", "/":
		return true
	default:
		return false
	}
}

func hasDocumentedVerification(s domain.Slice) bool {
	return len(s.VerifyCommands) > 0 || s.Acceptance != ""
}
