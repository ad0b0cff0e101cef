// Package replay iterates the event log in insertion order and re-derives
// the invariants spec.md §4.8 requires, the way
// internal/provenance/provenance.go walks its own JSONL store to answer
// Trace/FindBySession queries — generalized here from "find records
// matching a key" to "walk the whole log once, maintaining a running
// projection, and flag every point where reality stopped matching the
// expected shape."
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/eventlog"
	"github.com/csk-dev/csk/internal/pathio"
	"github.com/csk-dev/csk/internal/task"
)

// Violation is one invariant failure, carrying a concrete recovery action.
type Violation struct {
	Kind string   `json:"kind"`
	Refs []string `json:"refs"`
	Next string   `json:"next"`
}

// Report is the full replay outcome. OK is true only when Violations is
// empty; replay over the same log twice must produce an identical Report
// (spec.md §8 invariant 6), which holds here because Check only reads
// state, it never mutates it.
type Report struct {
	Violations []Violation `json:"violations"`
	EventCount int         `json:"event_count"`
}

// OK reports whether the replay found zero invariant violations.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// sliceKey identifies one slice within one task for the proof-pack tracking
// below, since slice ids are only unique within their owning task.
type sliceKey struct{ taskID, sliceID string }

// Check replays every event in root's log and returns the accumulated
// violations.
func Check(root pathio.Root) (Report, error) {
	events, err := eventlog.Open(root).ReadAll()
	if err != nil {
		return Report{}, fmt.Errorf("replay: read events: %w", err)
	}

	registry := loadRegistry(root)

	var report Report
	report.EventCount = len(events)

	frozen := make(map[string]bool)      // taskID -> saw task.frozen
	proofPack := make(map[sliceKey]bool) // (taskID,sliceID) -> saw proof.pack.written
	readyValidated := make(map[string]bool)
	readyApproved := make(map[string]bool)
	blockedEntry := make(map[string]bool) // taskID -> saw an incident suggesting a blocked entry

	for _, e := range events {
		switch e.Type {
		case domain.EventIncidentLogged:
			if kind, _ := e.Payload["kind"].(string); kind == string(domain.IncidentTokenWaste) {
				blockedEntry[e.TaskID] = true
			}

		case domain.EventTaskFrozen:
			modulePath := moduleOrLookup(registry, e)
			if _, err := task.ReadFreeze(root, modulePath, e.TaskID); err != nil {
				report.Violations = append(report.Violations, Violation{
					Kind: "task.frozen missing freeze.json",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("task freeze --task-id %s", e.TaskID),
				})
			} else if err := task.CheckDrift(root, modulePath, e.TaskID); err != nil {
				report.Violations = append(report.Violations, Violation{
					Kind: "PlanDrift",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("task freeze --task-id %s", e.TaskID),
				})
			}
			frozen[e.TaskID] = true

		case domain.EventTaskPlanApproved:
			modulePath := moduleOrLookup(registry, e)
			if !frozen[e.TaskID] {
				report.Violations = append(report.Violations, Violation{
					Kind: "task.plan_approved without prior task.frozen",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("task freeze --task-id %s", e.TaskID),
				})
			}
			if !fileExists(root.ApprovalFilePath(modulePath, e.TaskID, string(domain.ApprovalPlan))) {
				report.Violations = append(report.Violations, Violation{
					Kind: "task.plan_approved missing approvals/plan.json",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("task approve-plan --task-id %s", e.TaskID),
				})
			}

		case domain.EventProofPackWritten:
			modulePath := moduleOrLookup(registry, e)
			checkProofPack(root, &report, modulePath, e)
			proofPack[sliceKey{e.TaskID, e.SliceID}] = true

		case domain.EventSliceCompleted:
			hasManifestRef := len(e.ArtifactRefs) > 0 && fileExists(e.ArtifactRefs[0])
			if !proofPack[sliceKey{e.TaskID, e.SliceID}] && !hasManifestRef {
				report.Violations = append(report.Violations, Violation{
					Kind: "slice.completed without a preceding proof.pack.written",
					Refs: []string{e.TaskID, e.SliceID},
					Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
				})
			}

		case domain.EventReadyValidated:
			modulePath := moduleOrLookup(registry, e)
			if !fileExists(root.ReadyProofPath(modulePath, e.TaskID)) {
				report.Violations = append(report.Violations, Violation{
					Kind: "ready.validated missing proofs/ready.json",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
				})
			}
			if !fileExists(root.HandoffPath(modulePath, e.TaskID)) {
				report.Violations = append(report.Violations, Violation{
					Kind: "ready.validated missing READY/handoff.md",
					Refs: []string{e.TaskID, root.HandoffPath(modulePath, e.TaskID)},
					Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
				})
			}
			readyValidated[e.TaskID] = true

		case domain.EventReadyApproved:
			modulePath := moduleOrLookup(registry, e)
			if !readyValidated[e.TaskID] {
				report.Violations = append(report.Violations, Violation{
					Kind: "ready.approved without a preceding ready.validated",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
				})
			}
			if !fileExists(root.ApprovalFilePath(modulePath, e.TaskID, string(domain.ApprovalReady))) {
				report.Violations = append(report.Violations, Violation{
					Kind: "ready.approved missing approvals/ready.json",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("gate approve-ready --task-id %s", e.TaskID),
				})
			}
			readyApproved[e.TaskID] = true

		case domain.EventRetroCompleted:
			modulePath := moduleOrLookup(registry, e)
			if !readyApproved[e.TaskID] && !blockedEntry[e.TaskID] {
				report.Violations = append(report.Violations, Violation{
					Kind: "retro.completed without a preceding ready.approved or blocked entry",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("gate approve-ready --task-id %s", e.TaskID),
				})
			}
			if !fileExists(root.RetroPath(modulePath, e.TaskID)) {
				report.Violations = append(report.Violations, Violation{
					Kind: "retro.completed missing retro.md",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("retro run --task-id %s", e.TaskID),
				})
			}
			if !hasAnyPatchProposal(root) {
				report.Violations = append(report.Violations, Violation{
					Kind: "retro.completed with no patch proposal file",
					Refs: []string{e.TaskID},
					Next: fmt.Sprintf("retro run --task-id %s", e.TaskID),
				})
			}
		}
	}

	return report, nil
}

func checkProofPack(root pathio.Root, report *Report, modulePath string, e domain.Event) {
	manifestPath := root.SliceProofFilePath(modulePath, e.TaskID, e.SliceID, "manifest")
	if len(e.ArtifactRefs) > 0 {
		manifestPath = e.ArtifactRefs[0]
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		report.Violations = append(report.Violations, Violation{
			Kind: "proof.pack.written missing manifest",
			Refs: []string{e.TaskID, e.SliceID, manifestPath},
			Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
		})
		return
	}
	var manifest domain.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		report.Violations = append(report.Violations, Violation{
			Kind: "proof.pack.written manifest is malformed",
			Refs: []string{e.TaskID, e.SliceID, manifestPath},
			Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
		})
		return
	}

	for _, proofPath := range manifest.ProofPaths {
		data, err := os.ReadFile(proofPath)
		if err != nil {
			report.Violations = append(report.Violations, Violation{
				Kind: "proof.pack.written references a missing proof file",
				Refs: []string{e.TaskID, e.SliceID, proofPath},
				Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
			})
			continue
		}
		var proof domain.Proof
		if err := json.Unmarshal(data, &proof); err != nil {
			report.Violations = append(report.Violations, Violation{
				Kind: "proof.pack.written references a malformed proof file",
				Refs: []string{e.TaskID, e.SliceID, proofPath},
				Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
			})
			continue
		}
		if !proof.Passed {
			report.Violations = append(report.Violations, Violation{
				Kind: "proof.pack.written references a failing proof",
				Refs: []string{e.TaskID, e.SliceID, proofPath},
				Next: fmt.Sprintf("gate validate-ready --task-id %s", e.TaskID),
			})
		}
	}
}

func hasAnyPatchProposal(root pathio.Root) bool {
	entries, err := os.ReadDir(root.LocalPatchesPath())
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadRegistry reads registry.json once per Check call; a missing or
// unparsable registry degrades moduleOrLookup to passing module_id through
// unchanged rather than failing the whole replay.
func loadRegistry(root pathio.Root) *domain.Registry {
	data, err := os.ReadFile(root.RegistryPath())
	if err != nil {
		return domain.NewRegistry()
	}
	reg := domain.NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		return domain.NewRegistry()
	}
	return reg
}

// moduleOrLookup resolves the module path an event's artifacts live under.
// Events always carry module_id; the registry maps that back to a path.
// Falling back to the raw module_id keeps replay usable even against a log
// whose registry.json has since been pruned.
func moduleOrLookup(registry *domain.Registry, e domain.Event) string {
	if entry, ok := registry.Modules[e.ModuleID]; ok && entry.Path != "" {
		return entry.Path
	}
	return e.ModuleID
}
