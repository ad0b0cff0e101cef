package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

// ErrDrift is returned by CheckDrift when the on-disk plan.md or
// slices.json no longer matches the hashes pinned at freeze time.
var ErrDrift = errors.New("task: plan or slices drifted from frozen hashes")

// Freeze hashes the current plan.md and slices.json for a task and writes
// the pinned freeze.json, per spec.md §4.2's freeze semantics: plan.md is
// hashed byte-exact, slices.json is hashed after canonicalization so
// insignificant JSON formatting doesn't trip drift detection. frozenAt is
// passed in by the caller (normally time.Now().UTC) so freeze stays
// deterministic to test.
func Freeze(root pathio.Root, modulePath, taskID, engineVersion string, frozenAt time.Time) (domain.Freeze, error) {
	planHash, err := pathio.HashFile(root.PlanPath(modulePath, taskID))
	if err != nil {
		return domain.Freeze{}, fmt.Errorf("task: freeze: hash plan: %w", err)
	}
	slicesHash, err := pathio.HashCanonicalJSONFile(root.SlicesPath(modulePath, taskID))
	if err != nil {
		return domain.Freeze{}, fmt.Errorf("task: freeze: hash slices: %w", err)
	}

	f := domain.Freeze{
		TaskID:        taskID,
		PlanSHA256:    planHash,
		SlicesSHA256:  slicesHash,
		FrozenAt:      frozenAt,
		EngineVersion: engineVersion,
	}
	if err := pathio.AtomicWriteJSON(root.FreezePath(modulePath, taskID), f); err != nil {
		return domain.Freeze{}, fmt.Errorf("task: freeze: write: %w", err)
	}
	return f, nil
}

// ReadFreeze reads back a task's freeze.json.
func ReadFreeze(root pathio.Root, modulePath, taskID string) (domain.Freeze, error) {
	path := root.FreezePath(modulePath, taskID)
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Freeze{}, fmt.Errorf("task: read freeze %s: %w", path, err)
	}
	var f domain.Freeze
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Freeze{}, fmt.Errorf("task: parse freeze %s: %w", path, err)
	}
	return f, nil
}

// CheckDrift recomputes the current plan.md/slices.json hashes and compares
// them against the stored freeze. A nil return means the frozen plan still
// matches disk; ErrDrift means either file changed since freeze.
func CheckDrift(root pathio.Root, modulePath, taskID string) error {
	frozen, err := ReadFreeze(root, modulePath, taskID)
	if err != nil {
		return err
	}

	planHash, err := pathio.HashFile(root.PlanPath(modulePath, taskID))
	if err != nil {
		return fmt.Errorf("task: check drift: hash plan: %w", err)
	}
	slicesHash, err := pathio.HashCanonicalJSONFile(root.SlicesPath(modulePath, taskID))
	if err != nil {
		return fmt.Errorf("task: check drift: hash slices: %w", err)
	}

	if planHash != frozen.PlanSHA256 || slicesHash != frozen.SlicesSHA256 {
		return ErrDrift
	}
	return nil
}
