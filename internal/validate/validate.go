// Package validate performs a structural pass over on-disk artifacts that
// is independent of the event log, per spec.md §4.9: it parses each task's
// task.json and slices.json (other JSON artifacts are only checked for
// presence, not parsed or schema-validated), cross-checks task.status
// against the artifacts that status implies, confirms the module_id a task
// references is registered (missions are not checked), and rejects
// degenerate slices.json payloads. It mirrors the Issues/
// Warnings/Valid shape internal/ratchet/validate.go uses for its own
// artifact validator, generalized from markdown-section checks to this
// engine's JSON schema and lifecycle consistency checks.
package validate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

// Result is one validation pass's outcome.
type Result struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

func (r *Result) addIssue(format string, args ...any) {
	r.Valid = false
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run walks every registered module's tasks and validates them. In strict
// mode every warning is promoted to an issue (and therefore fails the
// pass), matching spec.md §4.9's "Strict mode promotes warnings to
// failures."
func Run(root pathio.Root, strict bool) (Result, error) {
	result := Result{Valid: true}

	registry, err := loadRegistry(root)
	if err != nil {
		return Result{}, fmt.Errorf("validate: load registry: %w", err)
	}

	for _, mod := range registry.Modules {
		if mod.Path == "" {
			result.addIssue("module %q: registry entry has no path", mod.ModuleID)
			continue
		}
		taskIDs, err := listTaskIDs(root, mod.Path)
		if err != nil {
			return Result{}, fmt.Errorf("validate: list tasks for %s: %w", mod.ModuleID, err)
		}
		for _, taskID := range taskIDs {
			validateTask(root, &result, registry, mod.Path, taskID)
		}
	}

	if strict {
		for _, w := range result.Warnings {
			result.Valid = false
			result.Issues = append(result.Issues, "strict: "+w)
		}
		result.Warnings = nil
	}

	return result, nil
}

func validateTask(root pathio.Root, result *Result, registry *domain.Registry, modulePath, taskID string) {
	var task domain.Task
	if !readJSONInto(root.TaskFilePath(modulePath, taskID), &task, result, fmt.Sprintf("task %s", taskID)) {
		return
	}

	if task.ModuleID != "" {
		if _, ok := registry.Modules[task.ModuleID]; !ok {
			result.addIssue("task %s: references unknown module_id %q", taskID, task.ModuleID)
		}
	}

	var slicesFile domain.SlicesFile
	hasSlices := readJSONInto(root.SlicesPath(modulePath, taskID), &slicesFile, result, fmt.Sprintf("task %s slices.json", taskID))
	if hasSlices {
		if len(slicesFile.Slices) == 0 {
			result.addIssue("task %s: slices.json is empty", taskID)
		}
		for _, s := range slicesFile.Slices {
			for _, dep := range s.Deps {
				if dep == s.SliceID {
					result.addIssue("task %s: slice %s depends on itself", taskID, s.SliceID)
				}
			}
		}
	}

	switch task.Status {
	case domain.StatusFrozen, domain.StatusPlanApproved, domain.StatusExecuting,
		domain.StatusBlocked, domain.StatusReadyValidated, domain.StatusReadyApproved,
		domain.StatusRetroDone, domain.StatusClosed:
		if !fileExists(root.FreezePath(modulePath, taskID)) {
			result.addIssue("task %s: status %s requires freeze.json", taskID, task.Status)
		}
	}

	switch task.Status {
	case domain.StatusPlanApproved, domain.StatusExecuting, domain.StatusBlocked,
		domain.StatusReadyValidated, domain.StatusReadyApproved, domain.StatusRetroDone,
		domain.StatusClosed:
		if !fileExists(root.ApprovalFilePath(modulePath, taskID, string(domain.ApprovalPlan))) {
			result.addIssue("task %s: status %s requires approvals/plan.json", taskID, task.Status)
		}
	}

	switch task.Status {
	case domain.StatusReadyValidated, domain.StatusReadyApproved, domain.StatusRetroDone, domain.StatusClosed:
		if !fileExists(root.ReadyProofPath(modulePath, taskID)) {
			result.addIssue("task %s: status %s requires proofs/ready.json", taskID, task.Status)
		}
		if !fileExists(root.HandoffPath(modulePath, taskID)) {
			result.addIssue("task %s: status %s requires READY/handoff.md", taskID, task.Status)
		}
	}

	switch task.Status {
	case domain.StatusReadyApproved, domain.StatusRetroDone, domain.StatusClosed:
		if !fileExists(root.ApprovalFilePath(modulePath, taskID, string(domain.ApprovalReady))) {
			result.addIssue("task %s: status %s requires approvals/ready.json", taskID, task.Status)
		}
	}

	switch task.Status {
	case domain.StatusRetroDone, domain.StatusClosed:
		if !fileExists(root.RetroPath(modulePath, taskID)) {
			result.addIssue("task %s: status %s requires retro.md", taskID, task.Status)
		}
	}

	if !fileExists(root.CriticReportPath(modulePath, taskID)) && task.Status != domain.StatusDraft {
		result.addWarning("task %s: status %s has no critic_report.json on record", taskID, task.Status)
	}
}

func readJSONInto(path string, v any, result *Result, label string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			result.addIssue("%s: missing %s", label, path)
			return false
		}
		result.addIssue("%s: cannot read %s: %v", label, path, err)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		result.addIssue("%s: malformed JSON in %s: %v", label, path, err)
		return false
	}
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadRegistry(root pathio.Root) (*domain.Registry, error) {
	data, err := os.ReadFile(root.RegistryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewRegistry(), nil
		}
		return nil, err
	}
	reg := domain.NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return reg, nil
}

func listTaskIDs(root pathio.Root, modulePath string) ([]string, error) {
	entries, err := os.ReadDir(root.ModuleTasksPath(modulePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
