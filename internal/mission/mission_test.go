package mission

import (
	"errors"
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

func TestCreateAssignsSequentialIDs(t *testing.T) {
	root := newTestRoot(t)
	now := time.Now().UTC()

	m1, err := Create(root, "spec one", []string{"svc-a"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m1.MissionID != "M-0001" {
		t.Fatalf("MissionID = %s, want M-0001", m1.MissionID)
	}

	m2, err := Create(root, "spec two", []string{"svc-b"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m2.MissionID != "M-0002" {
		t.Fatalf("MissionID = %s, want M-0002", m2.MissionID)
	}
}

func TestCreateMaterializesMilestoneOneActive(t *testing.T) {
	root := newTestRoot(t)
	m, err := Create(root, "spec", []string{"svc-a", "svc-b"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(m.Milestones) != 1 {
		t.Fatalf("len(Milestones) = %d, want 1", len(m.Milestones))
	}
	if m.Milestones[0].Status != domain.MilestoneActive {
		t.Fatalf("Milestones[0].Status = %s, want active", m.Milestones[0].Status)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	root := newTestRoot(t)
	created, err := Create(root, "spec text", []string{"svc-a"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := Load(root, created.MissionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SpecText != "spec text" {
		t.Fatalf("SpecText = %q, want %q", loaded.SpecText, "spec text")
	}
	if len(loaded.Routing) != 1 || loaded.Routing[0] != "svc-a" {
		t.Fatalf("Routing = %v, want [svc-a]", loaded.Routing)
	}
}

func TestLoadUnknownMissionErrors(t *testing.T) {
	root := newTestRoot(t)
	if _, err := Load(root, "M-9999"); err == nil {
		t.Fatal("expected error loading an unknown mission")
	}
}

func TestActivateMilestoneUnknownIDErrors(t *testing.T) {
	root := newTestRoot(t)
	m, err := Create(root, "spec", []string{"svc-a"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ActivateMilestone(root, m.MissionID, "MS-9", time.Now().UTC()); !errors.Is(err, ErrUnknownMilestone) {
		t.Fatalf("ActivateMilestone = %v, want ErrUnknownMilestone", err)
	}
}

func TestRecordWorktreePersists(t *testing.T) {
	root := newTestRoot(t)
	m, err := Create(root, "spec", []string{"svc-a"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := RecordWorktree(root, m.MissionID, "svc-a", "/tmp/worktrees/svc-a", time.Now().UTC()); err != nil {
		t.Fatalf("RecordWorktree: %v", err)
	}

	loaded, err := Load(root, m.MissionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Worktrees["svc-a"] != "/tmp/worktrees/svc-a" {
		t.Fatalf("Worktrees[svc-a] = %q, want /tmp/worktrees/svc-a", loaded.Worktrees["svc-a"])
	}
}
