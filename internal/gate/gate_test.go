package gate

import (
	"context"
	"testing"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
	"github.com/csk-dev/csk/internal/profile"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	root := pathio.Root{ModuleRoot: t.TempDir()}
	if err := pathio.Bootstrap(root); err != nil {
		t.Fatal(err)
	}
	return &Checker{Root: root, ModulePath: "svc", TaskID: "T-0001", Profile: profile.Default()}
}

func TestRunScopePassesWithinAllowedPaths(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{
		SliceID:      "S-0001",
		AllowedPaths: []string{"internal/**"},
		RequiredGates: domain.DefaultRequiredGates(),
	}

	res, err := c.RunScope(slice, []string{"internal/foo/bar.go"})
	if err != nil {
		t.Fatalf("RunScope: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected scope gate to pass, proof=%+v", res.Proof)
	}
}

func TestRunScopeFailsOnForbiddenPath(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{
		SliceID:        "S-0002",
		AllowedPaths:   []string{"**"},
		ForbiddenPaths: []string{"internal/secret/**"},
	}

	res, err := c.RunScope(slice, []string{"internal/secret/key.go"})
	if err != nil {
		t.Fatalf("RunScope: %v", err)
	}
	if res.Passed {
		t.Fatal("expected scope gate to fail for forbidden path")
	}
	if res.IncidentKind != domain.IncidentScopeViolation {
		t.Fatalf("IncidentKind = %v, want %v", res.IncidentKind, domain.IncidentScopeViolation)
	}
}

func TestRunScopeFailsOnEmptyAllowedPaths(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{SliceID: "S-0003"}

	res, err := c.RunScope(slice, []string{"a.go"})
	if err != nil {
		t.Fatalf("RunScope: %v", err)
	}
	if res.Passed {
		t.Fatal("expected scope gate to fail when allowed_paths is empty")
	}
	if res.IncidentKind != domain.IncidentScopeConfigMissing {
		t.Fatalf("IncidentKind = %v, want %v", res.IncidentKind, domain.IncidentScopeConfigMissing)
	}
}

func TestRunVerifyNoCommandsReportsConfigMissing(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{SliceID: "S-0004"}

	res, err := c.RunVerify(context.Background(), slice, t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("RunVerify: %v", err)
	}
	if res.Passed {
		t.Fatal("expected verify gate to fail with no commands")
	}
	if res.IncidentKind != domain.IncidentVerifyConfigMissing {
		t.Fatalf("IncidentKind = %v, want %v", res.IncidentKind, domain.IncidentVerifyConfigMissing)
	}
}

func TestRunVerifyRunsSliceCommands(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{
		SliceID: "S-0005",
		VerifyCommands: []domain.VerifyCommandRef{
			{Name: "ok", Argv: []string{"true"}},
		},
	}

	res, err := c.RunVerify(context.Background(), slice, t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("RunVerify: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected verify gate to pass, proof=%+v", res.Proof)
	}
}

func TestRunReviewPassesOnlyWithNoBlockingFindings(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{SliceID: "S-0006"}

	res, err := c.RunReview(slice, ReviewInput{P0: 0, P1: 0, P2: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Fatal("expected review to pass with p0=p1=0")
	}

	res, err = c.RunReview(slice, ReviewInput{P0: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Fatal("expected review to fail with p0>0")
	}
	if res.IncidentKind != domain.IncidentReviewFail {
		t.Fatalf("IncidentKind = %v, want %v", res.IncidentKind, domain.IncidentReviewFail)
	}
}

func TestWriteManifestListsAllGateProofs(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{
		SliceID:       "S-0007",
		RequiredGates: []domain.RequiredGate{domain.GateScope, domain.GateVerify},
	}

	m, err := c.WriteManifest(slice)
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if len(m.ProofPaths) != 2 {
		t.Fatalf("len(ProofPaths) = %d, want 2", len(m.ProofPaths))
	}
}

func TestReadProofRoundTrip(t *testing.T) {
	c := newTestChecker(t)
	slice := domain.Slice{SliceID: "S-0008", AllowedPaths: []string{"**"}}

	if _, err := c.RunScope(slice, nil); err != nil {
		t.Fatal(err)
	}

	p, err := ReadProof(c.Root, c.ModulePath, c.TaskID, slice.SliceID, string(domain.GateScope))
	if err != nil {
		t.Fatalf("ReadProof: %v", err)
	}
	if !p.Passed {
		t.Fatal("expected read-back proof to report passed=true")
	}
}
