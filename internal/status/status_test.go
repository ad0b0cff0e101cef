package status

import (
	"testing"
	"time"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

func newTestRoot(t *testing.T) pathio.Root {
	t.Helper()
	root := pathio.Root{ModuleRoot: t.TempDir()}
	if err := pathio.Bootstrap(root); err != nil {
		t.Fatal(err)
	}
	return root
}

func registerModule(t *testing.T, root pathio.Root, moduleID, modulePath string, updatedAt time.Time) {
	t.Helper()
	if err := pathio.BootstrapModule(root, modulePath); err != nil {
		t.Fatal(err)
	}
	reg := domain.Registry{Modules: map[string]domain.ModuleEntry{
		moduleID: {ModuleID: moduleID, Path: modulePath, Registered: true, Initialized: true, UpdatedAt: updatedAt},
	}}
	if err := pathio.AtomicWriteJSON(root.RegistryPath(), reg); err != nil {
		t.Fatal(err)
	}
}

func writeTask(t *testing.T, root pathio.Root, modulePath string, task domain.Task) {
	t.Helper()
	if err := pathio.AtomicWriteJSON(root.TaskFilePath(modulePath, task.TaskID), task); err != nil {
		t.Fatal(err)
	}
}

func TestBuildReportsNotBootstrapped(t *testing.T) {
	root := pathio.Root{ModuleRoot: t.TempDir()}
	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.ProjectPhase != PhaseNotBootstrapped {
		t.Fatalf("ProjectPhase = %s, want %s", s.ProjectPhase, PhaseNotBootstrapped)
	}
	if s.Next.Recommended != "bootstrap" {
		t.Fatalf("Next.Recommended = %s, want bootstrap", s.Next.Recommended)
	}
}

func TestBuildReportsIdleWithNoTasks(t *testing.T) {
	root := newTestRoot(t)
	registerModule(t, root, "svc", "svc", time.Now().UTC())

	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.ProjectPhase != PhaseIdle {
		t.Fatalf("ProjectPhase = %s, want %s", s.ProjectPhase, PhaseIdle)
	}
	if s.Next.Recommended != "run" {
		t.Fatalf("Next.Recommended = %s, want run", s.Next.Recommended)
	}
}

func TestBuildSurfacesExecutingPhaseAndActiveTask(t *testing.T) {
	root := newTestRoot(t)
	now := time.Now().UTC()
	registerModule(t, root, "svc", "svc", now)
	writeTask(t, root, "svc", domain.Task{
		TaskID: "T-0001", ModuleID: "svc", Status: domain.StatusExecuting, UpdatedAt: now,
	})

	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.ProjectPhase != PhaseExecuting {
		t.Fatalf("ProjectPhase = %s, want %s", s.ProjectPhase, PhaseExecuting)
	}
	if len(s.Modules) != 1 || s.Modules[0].ActiveTaskID != "T-0001" {
		t.Fatalf("Modules = %+v, want active task T-0001", s.Modules)
	}
	if s.Counters.TasksByStatus[domain.StatusExecuting] != 1 {
		t.Fatalf("TasksByStatus[executing] = %d, want 1", s.Counters.TasksByStatus[domain.StatusExecuting])
	}
}

func TestBuildRecommendsApprovePlanWhenFrozen(t *testing.T) {
	root := newTestRoot(t)
	now := time.Now().UTC()
	registerModule(t, root, "svc", "svc", now)
	writeTask(t, root, "svc", domain.Task{
		TaskID: "T-0001", ModuleID: "svc", Status: domain.StatusFrozen, UpdatedAt: now,
	})

	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Next.Recommended != "approve --plan" {
		t.Fatalf("Next.Recommended = %s, want approve --plan", s.Next.Recommended)
	}
}

func TestBuildRecommendsApproveReadyWhenValidated(t *testing.T) {
	root := newTestRoot(t)
	now := time.Now().UTC()
	registerModule(t, root, "svc", "svc", now)
	writeTask(t, root, "svc", domain.Task{
		TaskID: "T-0001", ModuleID: "svc", Status: domain.StatusReadyValidated, UpdatedAt: now,
	})

	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Next.Recommended != "approve --ready" {
		t.Fatalf("Next.Recommended = %s, want approve --ready", s.Next.Recommended)
	}
}

func TestBuildRecommendsRetroWhenBlocked(t *testing.T) {
	root := newTestRoot(t)
	now := time.Now().UTC()
	registerModule(t, root, "svc", "svc", now)
	writeTask(t, root, "svc", domain.Task{
		TaskID: "T-0001", ModuleID: "svc", Status: domain.StatusBlocked, UpdatedAt: now,
	})

	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.ProjectPhase != PhaseBlocked {
		t.Fatalf("ProjectPhase = %s, want %s", s.ProjectPhase, PhaseBlocked)
	}
	if s.Next.Recommended != "retro run" {
		t.Fatalf("Next.Recommended = %s, want retro run", s.Next.Recommended)
	}
}

func TestBuildReadyApprovedWithoutRetroIsRetroRequired(t *testing.T) {
	root := newTestRoot(t)
	now := time.Now().UTC()
	registerModule(t, root, "svc", "svc", now)
	writeTask(t, root, "svc", domain.Task{
		TaskID: "T-0001", ModuleID: "svc", Status: domain.StatusReadyApproved, UpdatedAt: now,
	})

	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.ProjectPhase != PhaseRetroRequired {
		t.Fatalf("ProjectPhase = %s, want %s", s.ProjectPhase, PhaseRetroRequired)
	}
}

func TestBuildPicksHighestPriorityModuleFirst(t *testing.T) {
	root := newTestRoot(t)
	now := time.Now().UTC()
	registerModule(t, root, "svc-a", "svc-a", now)
	if err := pathio.BootstrapModule(root, "svc-b"); err != nil {
		t.Fatal(err)
	}

	reg := domain.Registry{Modules: map[string]domain.ModuleEntry{
		"svc-a": {ModuleID: "svc-a", Path: "svc-a", UpdatedAt: now},
		"svc-b": {ModuleID: "svc-b", Path: "svc-b", UpdatedAt: now},
	}}
	if err := pathio.AtomicWriteJSON(root.RegistryPath(), reg); err != nil {
		t.Fatal(err)
	}

	writeTask(t, root, "svc-a", domain.Task{TaskID: "T-0001", ModuleID: "svc-a", Status: domain.StatusExecuting, UpdatedAt: now})
	writeTask(t, root, "svc-b", domain.Task{TaskID: "T-0002", ModuleID: "svc-b", Status: domain.StatusBlocked, UpdatedAt: now})

	s, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.ProjectPhase != PhaseBlocked {
		t.Fatalf("ProjectPhase = %s, want %s (svc-b's blocked task should win)", s.ProjectPhase, PhaseBlocked)
	}
	if s.Modules[0].ModuleID != "svc-b" {
		t.Fatalf("Modules[0].ModuleID = %s, want svc-b", s.Modules[0].ModuleID)
	}
}
