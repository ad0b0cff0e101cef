package replay

import (
	"os"
	"testing"
	"time"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/eventlog"
	"github.com/csk-dev/csk/internal/pathio"
	"github.com/csk-dev/csk/internal/task"
)

func newTestRoot(t *testing.T) pathio.Root {
	t.Helper()
	root := pathio.Root{ModuleRoot: t.TempDir()}
	if err := pathio.Bootstrap(root); err != nil {
		t.Fatal(err)
	}
	return root
}

func registerModule(t *testing.T, root pathio.Root, moduleID, modulePath string) {
	t.Helper()
	if err := pathio.BootstrapModule(root, modulePath); err != nil {
		t.Fatal(err)
	}
	reg := domain.Registry{Modules: map[string]domain.ModuleEntry{
		moduleID: {ModuleID: moduleID, Path: modulePath},
	}}
	if err := pathio.AtomicWriteJSON(root.RegistryPath(), reg); err != nil {
		t.Fatal(err)
	}
}

func appendEvent(t *testing.T, root pathio.Root, e domain.Event) {
	t.Helper()
	if e.Actor == "" {
		e.Actor = "test"
	}
	if _, err := eventlog.Open(root).Append(e); err != nil {
		t.Fatalf("append %s: %v", e.Type, err)
	}
}

func TestCheckOnEmptyLogIsOK(t *testing.T) {
	root := newTestRoot(t)
	report, err := Check(root)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected OK report, got violations: %+v", report.Violations)
	}
}

func TestCheckFlagsFrozenWithoutFreezeFile(t *testing.T) {
	root := newTestRoot(t)
	registerModule(t, root, "svc", "svc")
	appendEvent(t, root, domain.Event{Type: domain.EventTaskFrozen, ModuleID: "svc", TaskID: "T-0001"})

	report, err := Check(root)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.OK() {
		t.Fatal("expected a violation for task.frozen without freeze.json")
	}
}

func TestCheckDetectsDrift(t *testing.T) {
	root := newTestRoot(t)
	registerModule(t, root, "svc", "svc")
	if err := os.MkdirAll(root.TaskPath("svc", "T-0001"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.PlanPath("svc", "T-0001"), []byte("# plan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pathio.AtomicWriteJSON(root.SlicesPath("svc", "T-0001"), domain.SlicesFile{}); err != nil {
		t.Fatal(err)
	}
	if _, err := task.Freeze(root, "svc", "T-0001", "v1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	appendEvent(t, root, domain.Event{Type: domain.EventTaskFrozen, ModuleID: "svc", TaskID: "T-0001"})

	if err := os.WriteFile(root.PlanPath("svc", "T-0001"), []byte("# plan changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Check(root)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.OK() {
		t.Fatal("expected a PlanDrift violation after editing plan.md post-freeze")
	}
	found := false
	for _, v := range report.Violations {
		if v.Kind == "PlanDrift" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected PlanDrift violation, got: %+v", report.Violations)
	}
}

func TestCheckFlagsRetroCompletedWithoutPatchProposal(t *testing.T) {
	root := newTestRoot(t)
	registerModule(t, root, "svc", "svc")
	if err := os.MkdirAll(root.TaskPath("svc", "T-0001"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.RetroPath("svc", "T-0001"), []byte("# retro\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	appendEvent(t, root, domain.Event{
		Type: domain.EventIncidentLogged, ModuleID: "svc", TaskID: "T-0001",
		Payload: map[string]any{"kind": string(domain.IncidentTokenWaste)},
	})
	appendEvent(t, root, domain.Event{Type: domain.EventRetroCompleted, ModuleID: "svc", TaskID: "T-0001"})

	report, err := Check(root)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.OK() {
		t.Fatal("expected a violation: retro.completed with no patch proposal file on disk")
	}
}

func TestCheckPassesFullHappyPathLog(t *testing.T) {
	root := newTestRoot(t)
	registerModule(t, root, "svc", "svc")
	taskID, sliceID := "T-0001", "S-0001"

	if err := os.MkdirAll(root.TaskPath("svc", taskID), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.PlanPath("svc", taskID), []byte("# plan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pathio.AtomicWriteJSON(root.SlicesPath("svc", taskID), domain.SlicesFile{}); err != nil {
		t.Fatal(err)
	}
	if _, err := task.Freeze(root, "svc", taskID, "v1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if err := pathio.AtomicWriteJSON(root.ApprovalFilePath("svc", taskID, string(domain.ApprovalPlan)), domain.Approval{Kind: domain.ApprovalPlan}); err != nil {
		t.Fatal(err)
	}

	proof := domain.Proof{TaskID: taskID, SliceID: sliceID, Gate: domain.GateScope, Passed: true}
	proofPath := root.SliceProofFilePath("svc", taskID, sliceID, string(domain.GateScope))
	if err := pathio.AtomicWriteJSON(proofPath, proof); err != nil {
		t.Fatal(err)
	}
	manifest := domain.Manifest{TaskID: taskID, SliceID: sliceID, ProofPaths: []string{proofPath}}
	manifestPath := root.SliceProofFilePath("svc", taskID, sliceID, "manifest")
	if err := pathio.AtomicWriteJSON(manifestPath, manifest); err != nil {
		t.Fatal(err)
	}

	if err := pathio.AtomicWriteJSON(root.ReadyProofPath("svc", taskID), map[string]bool{"passed": true}); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(root.ProofsPath("svc", taskID)+"/READY", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.HandoffPath("svc", taskID), []byte("# handoff\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pathio.AtomicWriteJSON(root.ApprovalFilePath("svc", taskID, string(domain.ApprovalReady)), domain.Approval{Kind: domain.ApprovalReady}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.RetroPath("svc", taskID), []byte("# retro\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.LocalPatchesPath()+"/20260101-000000.md", []byte("# patch\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	appendEvent(t, root, domain.Event{Type: domain.EventTaskFrozen, ModuleID: "svc", TaskID: taskID})
	appendEvent(t, root, domain.Event{Type: domain.EventTaskPlanApproved, ModuleID: "svc", TaskID: taskID})
	appendEvent(t, root, domain.Event{Type: domain.EventProofPackWritten, ModuleID: "svc", TaskID: taskID, SliceID: sliceID, ArtifactRefs: []string{manifestPath}})
	appendEvent(t, root, domain.Event{Type: domain.EventSliceCompleted, ModuleID: "svc", TaskID: taskID, SliceID: sliceID, ArtifactRefs: []string{manifestPath}})
	appendEvent(t, root, domain.Event{Type: domain.EventReadyValidated, ModuleID: "svc", TaskID: taskID})
	appendEvent(t, root, domain.Event{Type: domain.EventReadyApproved, ModuleID: "svc", TaskID: taskID})
	appendEvent(t, root, domain.Event{Type: domain.EventRetroCompleted, ModuleID: "svc", TaskID: taskID})

	report, err := Check(root)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected OK report for a well-formed happy-path log, got violations: %+v", report.Violations)
	}
	if report.EventCount != 7 {
		t.Fatalf("EventCount = %d, want 7", report.EventCount)
	}
}
