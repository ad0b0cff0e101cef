// Package status projects disk state (registry, task files, proofs, retro
// files and the incident stream; the event log is not read) into the single
// aggregate a human or agent checks before deciding what to run next,
// mirroring the way cmd/ao/status.go assembles a statusOutput from several
// independent loaders and renders it either as JSON or as a table.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/incident"
	"github.com/csk-dev/csk/internal/pathio"
)

// ProjectPhase is the closed set of whole-project phases, per spec.md §4.7.
type ProjectPhase string

const (
	PhaseNotBootstrapped ProjectPhase = "NOT_BOOTSTRAPPED"
	PhaseIdle            ProjectPhase = "IDLE"
	PhasePlanning        ProjectPhase = "PLANNING"
	PhaseExecuting       ProjectPhase = "EXECUTING"
	PhaseReadyValidated  ProjectPhase = "READY_VALIDATED"
	PhaseRetroRequired   ProjectPhase = "RETRO_REQUIRED"
	PhaseBlocked         ProjectPhase = "BLOCKED"
)

// phasePriority ranks phases for active-module selection: highest priority
// first, per spec.md §4.7's "Active-module selection is deterministic:
// highest phase priority first, then most recent updated_at, then lexical
// module_id." Blocked and retro-required outrank in-flight work, which
// outranks planning, which outranks idle.
var phasePriority = map[ProjectPhase]int{
	PhaseBlocked:         6,
	PhaseRetroRequired:   5,
	PhaseReadyValidated:  4,
	PhaseExecuting:       3,
	PhasePlanning:        2,
	PhaseIdle:            1,
	PhaseNotBootstrapped: 0,
}

// ModuleStatus is the per-module projection: its phase plus whichever task
// and slice are currently active inside it.
type ModuleStatus struct {
	ModuleID      string       `json:"module_id"`
	Phase         ProjectPhase `json:"phase"`
	ActiveTaskID  string       `json:"active_task_id,omitempty"`
	ActiveSliceID string       `json:"active_slice_id,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Counters tallies project-wide work in flight.
type Counters struct {
	TasksByStatus   map[domain.TaskStatus]int   `json:"tasks_by_status"`
	TotalProofs     int                         `json:"total_proofs"`
	TotalRetros     int                         `json:"total_retros"`
	IncidentsByKind map[domain.IncidentKind]int `json:"incidents_by_kind"`
}

// Next is the recommended follow-up action plus up to two alternatives.
type Next struct {
	Recommended  string   `json:"recommended"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Status is the full projected status document.
type Status struct {
	ProjectPhase ProjectPhase   `json:"project_phase"`
	Modules      []ModuleStatus `json:"modules"`
	Counters     Counters       `json:"counters"`
	Next         Next           `json:"next"`
}

// Build assembles Status from disk state rooted at root; it does not read
// the event log.
// It never fails on an unbootstrapped project: it reports
// PhaseNotBootstrapped instead.
func Build(root pathio.Root) (Status, error) {
	if !pathio.IsBootstrapped(root) {
		return Status{
			ProjectPhase: PhaseNotBootstrapped,
			Counters: Counters{
				TasksByStatus:   map[domain.TaskStatus]int{},
				IncidentsByKind: map[domain.IncidentKind]int{},
			},
			Next: Next{Recommended: "bootstrap"},
		}, nil
	}

	registry, err := loadRegistry(root)
	if err != nil {
		return Status{}, fmt.Errorf("status: load registry: %w", err)
	}

	incidentCounts, err := incident.Open(root).CountByKind()
	if err != nil {
		return Status{}, fmt.Errorf("status: count incidents: %w", err)
	}
	counters := Counters{TasksByStatus: map[domain.TaskStatus]int{}, IncidentsByKind: incidentCounts}
	modules := make([]ModuleStatus, 0, len(registry.Modules))

	for _, mod := range registry.Modules {
		tasks, err := loadModuleTasks(root, mod.Path)
		if err != nil {
			return Status{}, fmt.Errorf("status: load tasks for %s: %w", mod.ModuleID, err)
		}

		ms := ModuleStatus{ModuleID: mod.ModuleID, Phase: PhaseIdle, UpdatedAt: mod.UpdatedAt}
		for _, t := range tasks {
			counters.TasksByStatus[t.Status]++
			counters.TotalProofs += countProofs(root, mod.Path, t.TaskID)
			hasRetro := fileExists(root.RetroPath(mod.Path, t.TaskID))
			if hasRetro {
				counters.TotalRetros++
			}

			phase := taskPhase(t, hasRetro)
			better := ms.ActiveTaskID == "" ||
				phasePriority[phase] > phasePriority[ms.Phase] ||
				(phasePriority[phase] == phasePriority[ms.Phase] && t.UpdatedAt.After(ms.UpdatedAt))
			if better {
				ms.Phase = phase
				ms.ActiveTaskID = t.TaskID
				ms.UpdatedAt = t.UpdatedAt
				ms.ActiveSliceID, _ = activeSliceID(root, mod.Path, t)
			}
		}
		modules = append(modules, ms)
	}

	sort.Slice(modules, func(i, j int) bool {
		if phasePriority[modules[i].Phase] != phasePriority[modules[j].Phase] {
			return phasePriority[modules[i].Phase] > phasePriority[modules[j].Phase]
		}
		if !modules[i].UpdatedAt.Equal(modules[j].UpdatedAt) {
			return modules[i].UpdatedAt.After(modules[j].UpdatedAt)
		}
		return modules[i].ModuleID < modules[j].ModuleID
	})

	projectPhase := PhaseIdle
	if len(modules) > 0 {
		projectPhase = modules[0].Phase
	}

	return Status{
		ProjectPhase: projectPhase,
		Modules:      modules,
		Counters:     counters,
		Next:         routeNext(modules),
	}, nil
}

// routeNext implements the top-match-wins table from spec.md §4.7, minus
// the "skills out of sync" row: skill generation is an external component
// the kernel only exposes a regenerate hook to, so the kernel itself never
// observes staleness and cannot originate that recommendation.
func routeNext(modules []ModuleStatus) Next {
	var alternatives []string
	has := func(phase ProjectPhase) bool {
		for _, m := range modules {
			if m.Phase == phase {
				return true
			}
		}
		return false
	}

	switch {
	case hasFrozenWithActiveTask(modules):
		appendAlt(&alternatives, "approve --ready", has(PhaseReadyValidated))
		appendAlt(&alternatives, "retro run", has(PhaseRetroRequired) || has(PhaseBlocked))
		return Next{Recommended: "approve --plan", Alternatives: cap2(alternatives)}
	case has(PhaseReadyValidated):
		appendAlt(&alternatives, "retro run", has(PhaseRetroRequired) || has(PhaseBlocked))
		appendAlt(&alternatives, "run", has(PhaseExecuting) || has(PhasePlanning))
		return Next{Recommended: "approve --ready", Alternatives: cap2(alternatives)}
	case has(PhaseRetroRequired) || has(PhaseBlocked):
		appendAlt(&alternatives, "run", has(PhaseExecuting) || has(PhasePlanning))
		return Next{Recommended: "retro run", Alternatives: cap2(alternatives)}
	case has(PhaseExecuting) || has(PhasePlanning):
		return Next{Recommended: "run"}
	default:
		return Next{Recommended: "run"}
	}
}

func appendAlt(alts *[]string, action string, condition bool) {
	if condition {
		*alts = append(*alts, action)
	}
}

func cap2(alts []string) []string {
	if len(alts) > 2 {
		return alts[:2]
	}
	return alts
}

// hasFrozenWithActiveTask reports a PLAN_FROZEN-equivalent module: a task
// sitting in StatusFrozen is surfaced as PhasePlanning by taskPhase, so this
// distinguishes "frozen, awaiting plan approval" from "still executing".
func hasFrozenWithActiveTask(modules []ModuleStatus) bool {
	for _, m := range modules {
		if m.Phase == PhasePlanning && m.ActiveTaskID != "" {
			return true
		}
	}
	return false
}

// taskPhase maps one task's status onto the project_phase enum. A task that
// reached ready_approved stays RETRO_REQUIRED until retro.md exists, per
// spec.md §4.5's retro_run precondition.
func taskPhase(t domain.Task, hasRetro bool) ProjectPhase {
	switch t.Status {
	case domain.StatusBlocked:
		return PhaseBlocked
	case domain.StatusDraft, domain.StatusCriticPassed, domain.StatusFrozen, domain.StatusPlanApproved:
		return PhasePlanning
	case domain.StatusExecuting:
		return PhaseExecuting
	case domain.StatusReadyValidated:
		return PhaseReadyValidated
	case domain.StatusReadyApproved:
		if hasRetro {
			return PhaseIdle
		}
		return PhaseRetroRequired
	case domain.StatusRetroDone, domain.StatusClosed:
		return PhaseIdle
	default:
		return PhaseIdle
	}
}

func activeSliceID(root pathio.Root, modulePath string, t domain.Task) (string, bool) {
	data, err := os.ReadFile(root.SlicesPath(modulePath, t.TaskID))
	if err != nil {
		return "", false
	}
	var sf domain.SlicesFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return "", false
	}
	for _, s := range sf.Slices {
		if s.Status == domain.SliceStatusRunning {
			return s.SliceID, true
		}
	}
	for _, s := range sf.Slices {
		if s.Status == domain.SliceStatusPending {
			return s.SliceID, true
		}
	}
	return "", false
}

func countProofs(root pathio.Root, modulePath, taskID string) int {
	entries, err := os.ReadDir(root.ProofsPath(modulePath, taskID))
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			sub, err := os.ReadDir(filepath.Join(root.ProofsPath(modulePath, taskID), e.Name()))
			if err != nil {
				continue
			}
			for _, f := range sub {
				if !f.IsDir() {
					count++
				}
			}
			continue
		}
		count++
	}
	return count
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

func loadModuleTasks(root pathio.Root, modulePath string) ([]domain.Task, error) {
	entries, err := os.ReadDir(root.ModuleTasksPath(modulePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tasks []domain.Task
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(root.TaskFilePath(modulePath, e.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var t domain.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse task %s: %w", e.Name(), err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
