package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/csk-dev/csk/internal/pathio"
)

func newFrozenTask(t *testing.T) (pathio.Root, string, string) {
	t.Helper()
	root := pathio.Root{ModuleRoot: t.TempDir()}
	modulePath, taskID := "svc", "T-0001"

	if err := os.MkdirAll(root.TaskPath(modulePath, taskID), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.PlanPath(modulePath, taskID), []byte("# plan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root.SlicesPath(modulePath, taskID), []byte(`{"slices":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return root, modulePath, taskID
}

func TestFreezeAndCheckDriftNoChange(t *testing.T) {
	root, modulePath, taskID := newFrozenTask(t)

	if _, err := Freeze(root, modulePath, taskID, "v1", time.Now().UTC()); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if err := CheckDrift(root, modulePath, taskID); err != nil {
		t.Fatalf("expected no drift, got %v", err)
	}
}

func TestCheckDriftDetectsPlanChange(t *testing.T) {
	root, modulePath, taskID := newFrozenTask(t)

	if _, err := Freeze(root, modulePath, taskID, "v1", time.Now().UTC()); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if err := os.WriteFile(root.PlanPath(modulePath, taskID), []byte("# plan changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckDrift(root, modulePath, taskID); err != ErrDrift {
		t.Fatalf("CheckDrift = %v, want ErrDrift", err)
	}
}

func TestCheckDriftIgnoresInsignificantSlicesFormatting(t *testing.T) {
	root, modulePath, taskID := newFrozenTask(t)

	if err := os.WriteFile(root.SlicesPath(modulePath, taskID), []byte(`{"slices":[{"slice_id":"S-0001"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Freeze(root, modulePath, taskID, "v1", time.Now().UTC()); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	reformatted := []byte("{\n  \"slices\": [\n    { \"slice_id\": \"S-0001\" }\n  ]\n}\n")
	if err := os.WriteFile(root.SlicesPath(modulePath, taskID), reformatted, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckDrift(root, modulePath, taskID); err != nil {
		t.Fatalf("expected reformatting alone not to count as drift, got %v", err)
	}
}

func TestCheckDriftDetectsSlicesContentChange(t *testing.T) {
	root, modulePath, taskID := newFrozenTask(t)

	if _, err := Freeze(root, modulePath, taskID, "v1", time.Now().UTC()); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if err := os.WriteFile(root.SlicesPath(modulePath, taskID), []byte(`{"slices":[{"slice_id":"S-0002"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CheckDrift(root, modulePath, taskID); err != ErrDrift {
		t.Fatalf("CheckDrift = %v, want ErrDrift", err)
	}
}

func TestReadFreezeMissingFileErrors(t *testing.T) {
	root := pathio.Root{ModuleRoot: t.TempDir()}
	if _, err := ReadFreeze(root, "svc", "T-0001"); err == nil {
		t.Fatal("expected error reading freeze before one was ever written")
	}
}

func TestFreezeWritesToExpectedPath(t *testing.T) {
	root, modulePath, taskID := newFrozenTask(t)
	if _, err := Freeze(root, modulePath, taskID, "v1", time.Now().UTC()); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	want := filepath.Join(root.TaskPath(modulePath, taskID), "freeze.json")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected freeze.json at %s: %v", want, err)
	}
}
