// Package kernel dispatches the closed set of operations spec.md §4
// defines, wiring domain/task/gate/mission/retro/incident/profile/status/
// replay/validate into the envelope every operation returns. Each method
// is the kernel-level counterpart of one cmd/ao subcommand's Run
// function: load state, perform the one state change the operation
// names, append the matching event, and render the envelope — mirroring
// cmd/ao/ratchet_check.go's load -> act -> record -> report shape.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/envelope"
	"github.com/csk-dev/csk/internal/eventlog"
	"github.com/csk-dev/csk/internal/gate"
	"github.com/csk-dev/csk/internal/incident"
	"github.com/csk-dev/csk/internal/mission"
	"github.com/csk-dev/csk/internal/pathio"
	"github.com/csk-dev/csk/internal/profile"
	"github.com/csk-dev/csk/internal/replay"
	"github.com/csk-dev/csk/internal/retro"
	"github.com/csk-dev/csk/internal/runner"
	"github.com/csk-dev/csk/internal/status"
	"github.com/csk-dev/csk/internal/task"
	"github.com/csk-dev/csk/internal/validate"
)

// EngineVersion is stamped into freeze.json and .csk/engine/VERSION.
const EngineVersion = "0.1.0"

// Kernel is the operation dispatcher bound to one state root.
type Kernel struct {
	Root pathio.Root
}

// New returns a Kernel rooted at root.
func New(root pathio.Root) *Kernel {
	return &Kernel{Root: root}
}

func (k *Kernel) now() time.Time { return time.Now().UTC() }

func (k *Kernel) append(e domain.Event, actor string) (domain.Event, error) {
	e.Actor = actor
	e.EngineVersion = EngineVersion
	return eventlog.Open(k.Root).Append(e)
}

// runCommand brackets fn with the command.started/command.completed pair
// spec.md §3 reserves for every kernel operation, so the operation and its
// exit status are always recoverable from the log even if fn itself never
// appends an event of its own (e.g. a failure before any domain event is
// written). taskID is a pointer because some operations (task_new) only
// learn their taskID partway through fn; it is read back after fn returns
// so command.completed still carries it. A nil ctx means the operation has
// no subprocess boundary to cancel at, so its completed status can only
// ever be the envelope's own status, never "cancelled".
func (k *Kernel) runCommand(ctx context.Context, actor, op, moduleID string, taskID *string, fn func() envelope.Envelope) envelope.Envelope {
	var tid string
	if taskID != nil {
		tid = *taskID
	}
	if _, err := k.append(domain.Event{
		Type: domain.EventCommandStarted, ModuleID: moduleID, TaskID: tid,
		Payload: map[string]any{"op": op},
	}, actor); err != nil {
		return envelope.Error(op+" failed", "validate", []string{err.Error()}, nil)
	}

	env := fn()

	if taskID != nil {
		tid = *taskID
	}
	completedStatus := string(env.Status)
	if ctx != nil && ctx.Err() != nil {
		completedStatus = "cancelled"
	}
	if _, err := k.append(domain.Event{
		Type: domain.EventCommandCompleted, ModuleID: moduleID, TaskID: tid,
		Payload: map[string]any{"op": op, "status": completedStatus},
	}, actor); err != nil {
		return envelope.Error(op+" failed", "validate", []string{err.Error()}, nil)
	}
	return env
}

// Bootstrap materializes the state root layout, per spec.md §4.1.
func (k *Kernel) Bootstrap(actor string) envelope.Envelope {
	return k.runCommand(nil, actor, "bootstrap", "", nil, func() envelope.Envelope {
		if err := pathio.Bootstrap(k.Root); err != nil {
			return envelope.Error("bootstrap failed", "bootstrap", []string{err.Error()}, nil)
		}
		if err := os.WriteFile(k.Root.EngineVersionPath(), []byte(EngineVersion+"\n"), 0o644); err != nil {
			return envelope.Error("bootstrap failed", "bootstrap", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventBootstrapCompleted}, actor); err != nil {
			return envelope.Error("bootstrap failed", "bootstrap", []string{err.Error()}, nil)
		}
		return envelope.OK("state root bootstrapped", "module register", nil, []string{k.Root.StateRoot()}, nil)
	})
}

// RegisterModule adds a module to the registry and bootstraps its task
// tree, per spec.md §4.1's module add/init operations.
func (k *Kernel) RegisterModule(actor, moduleID, modulePath string) envelope.Envelope {
	return k.runCommand(nil, actor, "module_register", moduleID, nil, func() envelope.Envelope {
		reg, err := k.loadRegistry()
		if err != nil {
			return envelope.Error("registry read failed", "validate", []string{err.Error()}, nil)
		}
		if _, exists := reg.Modules[moduleID]; exists {
			return envelope.Error("module already registered", "run", []string{fmt.Sprintf("module %q already exists", moduleID)}, nil)
		}

		now := k.now()
		reg.Modules[moduleID] = domain.ModuleEntry{
			ModuleID: moduleID, Path: modulePath, Registered: true,
			CreatedAt: now, UpdatedAt: now,
		}
		if err := pathio.AtomicWriteJSON(k.Root.RegistryPath(), reg); err != nil {
			return envelope.Error("registry write failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventModuleAdded, ModuleID: moduleID}, actor); err != nil {
			return envelope.Error("registry write failed", "validate", []string{err.Error()}, nil)
		}

		if err := pathio.BootstrapModule(k.Root, modulePath); err != nil {
			return envelope.Error("module bootstrap failed", "validate", []string{err.Error()}, nil)
		}
		entry := reg.Modules[moduleID]
		entry.Initialized = true
		entry.UpdatedAt = k.now()
		reg.Modules[moduleID] = entry
		if err := pathio.AtomicWriteJSON(k.Root.RegistryPath(), reg); err != nil {
			return envelope.Error("registry write failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventModuleInitialized, ModuleID: moduleID}, actor); err != nil {
			return envelope.Error("registry write failed", "validate", []string{err.Error()}, nil)
		}

		return envelope.OK(fmt.Sprintf("module %s registered at %s", moduleID, modulePath), "task new", nil,
			[]string{k.Root.ModulePath(modulePath)}, nil)
	})
}

// CreateMission records a new routed mission, per spec.md §2's intake
// step.
func (k *Kernel) CreateMission(actor, specText string, routing []string) envelope.Envelope {
	return k.runCommand(nil, actor, "mission_create", "", nil, func() envelope.Envelope {
		m, err := mission.Create(k.Root, specText, routing, k.now())
		if err != nil {
			return envelope.Error("mission creation failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventMissionCreated, MissionID: m.MissionID}, actor); err != nil {
			return envelope.Error("mission creation failed", "validate", []string{err.Error()}, nil)
		}
		return envelope.OK(fmt.Sprintf("mission %s created, routed to %d module(s)", m.MissionID, len(routing)),
			"module register", nil, []string{k.Root.MissionPath(m.MissionID)}, m)
	})
}

// NewTask materializes a draft task: task.json, plan.md, slices.json, and
// runs the structural critic immediately, matching spec.md §4.2's
// "task_new runs task_critic inline."
func (k *Kernel) NewTask(actor, moduleID, modulePath, profileName string, maxAttempts int, planMD string, slices []domain.Slice) envelope.Envelope {
	var taskID string
	return k.runCommand(nil, actor, "task_new", moduleID, &taskID, func() envelope.Envelope {
		id, err := k.nextTaskID(modulePath)
		if err != nil {
			return envelope.Error("task id allocation failed", "validate", []string{err.Error()}, nil)
		}
		taskID = id

		now := k.now()
		t := domain.Task{
			TaskID: taskID, ModuleID: moduleID, Status: domain.StatusDraft,
			ProfileName: profileName, MaxAttempts: maxAttempts,
			CreatedAt: now, UpdatedAt: now,
		}
		for _, s := range slices {
			t.Slices = append(t.Slices, s.SliceID)
		}

		if err := pathio.AtomicWrite(k.Root.PlanPath(modulePath, taskID), []byte(planMD)); err != nil {
			return envelope.Error("task creation failed", "validate", []string{err.Error()}, nil)
		}
		if err := pathio.AtomicWriteJSON(k.Root.SlicesPath(modulePath, taskID), domain.SlicesFile{Slices: slices}); err != nil {
			return envelope.Error("task creation failed", "validate", []string{err.Error()}, nil)
		}
		if err := k.writeTask(modulePath, t); err != nil {
			return envelope.Error("task creation failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventTaskCreated, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
			return envelope.Error("task creation failed", "validate", []string{err.Error()}, nil)
		}
		for _, s := range slices {
			if _, err := k.append(domain.Event{Type: domain.EventSliceCreated, ModuleID: moduleID, TaskID: taskID, SliceID: s.SliceID}, actor); err != nil {
				return envelope.Error("task creation failed", "validate", []string{err.Error()}, nil)
			}
		}

		return k.runCritic(actor, moduleID, modulePath, taskID)
	})
}

// Critic re-runs the structural critic over a task's current slices.json
// without otherwise changing it, per spec.md §4.2's standalone
// task_critic operation.
func (k *Kernel) Critic(actor, moduleID, modulePath, taskID string) envelope.Envelope {
	tid := taskID
	return k.runCommand(nil, actor, "task_critic", moduleID, &tid, func() envelope.Envelope {
		return k.runCritic(actor, moduleID, modulePath, taskID)
	})
}

func (k *Kernel) runCritic(actor, moduleID, modulePath, taskID string) envelope.Envelope {
	sf, err := k.readSlices(modulePath, taskID)
	if err != nil {
		return envelope.Error("critic failed", "validate", []string{err.Error()}, nil)
	}
	report := task.RunCritic(sf.Slices)
	if err := pathio.AtomicWriteJSON(k.Root.CriticReportPath(modulePath, taskID), report); err != nil {
		return envelope.Error("critic failed", "validate", []string{err.Error()}, nil)
	}

	t, err := k.readTask(modulePath, taskID)
	if err != nil {
		return envelope.Error("critic failed", "validate", []string{err.Error()}, nil)
	}

	if !report.Passed {
		if _, err := k.append(domain.Event{Type: domain.EventTaskCriticFailed, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
			return envelope.Error("critic failed", "validate", []string{err.Error()}, nil)
		}
		return envelope.GateFailed(fmt.Sprintf("critic found %d finding(s), at least one P0", len(report.Findings)),
			fmt.Sprintf("task critic --task-id %s", taskID), findingMessages(report), []string{taskID}, report)
	}

	if t.Status == domain.StatusDraft {
		if _, err := k.transition(modulePath, &t, domain.StatusCriticPassed); err != nil {
			return envelope.Error("critic passed but transition failed", "validate", []string{err.Error()}, nil)
		}
	}
	if _, err := k.append(domain.Event{Type: domain.EventTaskCriticPassed, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
		return envelope.Error("critic failed", "validate", []string{err.Error()}, nil)
	}

	return envelope.OK(fmt.Sprintf("critic passed for %s (%d advisory finding(s))", taskID, len(report.Findings)),
		fmt.Sprintf("task freeze --task-id %s", taskID), nil, []string{taskID}, report)
}

func findingMessages(report task.CriticReport) []string {
	var msgs []string
	for _, f := range report.Findings {
		msgs = append(msgs, fmt.Sprintf("%s %s: %s", f.Severity, f.SliceID, f.Message))
	}
	return msgs
}

// Freeze hash-pins plan.md and slices.json and advances the task to
// frozen, per spec.md §4.2.
func (k *Kernel) Freeze(actor, moduleID, modulePath, taskID string) envelope.Envelope {
	tid := taskID
	return k.runCommand(nil, actor, "task_freeze", moduleID, &tid, func() envelope.Envelope {
		t, err := k.readTask(modulePath, taskID)
		if err != nil {
			return envelope.Error("freeze failed", "validate", []string{err.Error()}, nil)
		}
		if t.Status != domain.StatusCriticPassed {
			return envelope.Error(fmt.Sprintf("task %s is not critic_passed", taskID),
				fmt.Sprintf("task critic --task-id %s", taskID),
				[]string{"InvalidTransition: " + string(t.Status) + " -> frozen"}, []string{taskID})
		}

		if _, err := task.Freeze(k.Root, modulePath, taskID, EngineVersion, k.now()); err != nil {
			return envelope.Error("freeze failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.transition(modulePath, &t, domain.StatusFrozen); err != nil {
			return envelope.Error("freeze failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventTaskFrozen, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
			return envelope.Error("freeze failed", "validate", []string{err.Error()}, nil)
		}

		return envelope.OK(fmt.Sprintf("task %s frozen", taskID), fmt.Sprintf("task approve-plan --task-id %s", taskID),
			nil, []string{k.Root.FreezePath(modulePath, taskID)}, nil)
	})
}

// ApprovePlan records a human plan approval and advances the task to
// plan_approved.
func (k *Kernel) ApprovePlan(actor, moduleID, modulePath, taskID, approvedBy string) envelope.Envelope {
	tid := taskID
	return k.runCommand(nil, actor, "task_approve_plan", moduleID, &tid, func() envelope.Envelope {
		t, err := k.readTask(modulePath, taskID)
		if err != nil {
			return envelope.Error("plan approval failed", "validate", []string{err.Error()}, nil)
		}
		if t.Status != domain.StatusFrozen {
			return envelope.Error(fmt.Sprintf("task %s is not frozen", taskID),
				fmt.Sprintf("task freeze --task-id %s", taskID),
				[]string{"InvalidTransition: " + string(t.Status) + " -> plan_approved"}, []string{taskID})
		}
		if err := task.CheckDrift(k.Root, modulePath, taskID); err != nil {
			return envelope.Error("plan drift detected since freeze", fmt.Sprintf("task freeze --task-id %s", taskID),
				[]string{"PlanDrift: " + err.Error()}, []string{taskID})
		}

		approval := domain.Approval{ApprovedBy: approvedBy, ApprovedAt: k.now(), Kind: domain.ApprovalPlan}
		if err := pathio.AtomicWriteJSON(k.Root.ApprovalFilePath(modulePath, taskID, string(domain.ApprovalPlan)), approval); err != nil {
			return envelope.Error("plan approval failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.transition(modulePath, &t, domain.StatusPlanApproved); err != nil {
			return envelope.Error("plan approval failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventTaskPlanApproved, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
			return envelope.Error("plan approval failed", "validate", []string{err.Error()}, nil)
		}

		return envelope.OK(fmt.Sprintf("task %s plan approved", taskID), "run", nil, []string{taskID}, nil)
	})
}

// RunSlice executes the next runnable slice: an optional implement step
// (when implementArgv is non-empty) followed by its required gates in
// order (scope -> verify -> review -> e2e), writes the manifest on full
// success, and advances task/slice status, per spec.md §4.3/§4.4. A plan
// edited after task_approve_plan is caught here, not just at approval
// time: CheckDrift runs before any slice operation and rolls the task
// back to critic_passed on mismatch, per spec.md's drift scenario.
func (k *Kernel) RunSlice(ctx context.Context, actor, moduleID, modulePath, taskID string, changedFiles []string, reviewApproved bool, implementArgv []string, workDir, logDir string) envelope.Envelope {
	tid := taskID
	return k.runCommand(ctx, actor, "slice_run", moduleID, &tid, func() envelope.Envelope {
		t, err := k.readTask(modulePath, taskID)
		if err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}

		if t.Status == domain.StatusExecuting || t.Status == domain.StatusPlanApproved {
			if driftErr := task.CheckDrift(k.Root, modulePath, taskID); driftErr != nil {
				return k.recordPlanDrift(actor, moduleID, modulePath, taskID, &t, driftErr)
			}
		}

		if t.Status == domain.StatusPlanApproved {
			if _, err := k.transition(modulePath, &t, domain.StatusExecuting); err != nil {
				return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
			}
		}
		if t.Status != domain.StatusExecuting {
			return envelope.Error(fmt.Sprintf("task %s is not executing", taskID),
				"task approve-plan", []string{"InvalidTransition: " + string(t.Status) + " -> executing"}, []string{taskID})
		}

		sf, err := k.readSlices(modulePath, taskID)
		if err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}
		ordered, err := task.TopoOrder(sf.Slices)
		if err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}
		active, ok := task.ActiveSlice(ordered)
		if !ok {
			return envelope.Error(fmt.Sprintf("task %s has no runnable slice", taskID),
				fmt.Sprintf("gate validate-ready --task-id %s", taskID), nil, []string{taskID})
		}

		prof, err := profile.Load(k.Root, t.ProfileName)
		if err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}
		checker := &gate.Checker{Root: k.Root, ModulePath: modulePath, TaskID: taskID, Profile: prof}

		if len(implementArgv) > 0 {
			passed, notes, err := k.runImplement(ctx, prof, modulePath, taskID, active, implementArgv, workDir, logDir)
			if err != nil {
				return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
			}
			if !passed {
				return k.recordSliceFailure(actor, moduleID, modulePath, taskID, &t, active, "implement", domain.IncidentImplementFail, notes)
			}
		}

		results, failed, err := k.runGates(ctx, checker, active, changedFiles, reviewApproved, workDir, logDir)
		if err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}

		if failed != nil {
			return k.recordSliceFailure(actor, moduleID, modulePath, taskID, &t, active, string(failed.Gate), failed.IncidentKind, failed.IncidentNotes)
		}

		manifest, err := checker.WriteManifest(active)
		if err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}
		manifestPath := k.Root.SliceProofFilePath(modulePath, taskID, active.SliceID, "manifest")
		if _, err := k.append(domain.Event{
			Type: domain.EventProofPackWritten, ModuleID: moduleID, TaskID: taskID, SliceID: active.SliceID,
			ArtifactRefs: []string{manifestPath},
		}, actor); err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}

		active.Status = domain.SliceStatusDone
		if err := k.updateSlice(modulePath, taskID, active); err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{
			Type: domain.EventSliceCompleted, ModuleID: moduleID, TaskID: taskID, SliceID: active.SliceID,
			ArtifactRefs: []string{manifestPath},
		}, actor); err != nil {
			return envelope.Error("slice run failed", "validate", []string{err.Error()}, nil)
		}

		return envelope.OK(fmt.Sprintf("slice %s completed, %d gate(s) passed", active.SliceID, len(results)),
			fmt.Sprintf("gate validate-ready --task-id %s", taskID), nil, []string{active.SliceID}, manifest)
	})
}

// recordPlanDrift logs a plan_drift incident and rolls the task back to
// critic_passed, the recovery path spec.md names for a plan or slices.json
// edited after freeze: the human must re-run the critic and re-freeze
// before the task can execute again.
func (k *Kernel) recordPlanDrift(actor, moduleID, modulePath, taskID string, t *domain.Task, driftErr error) envelope.Envelope {
	inc := domain.Incident{
		ID: domain.NewIncidentID(), Kind: domain.IncidentPlanDrift, Phase: "slice_run",
		TaskID: taskID, Details: driftErr.Error(), Timestamp: k.now(),
	}
	if _, err := incident.Open(k.Root).Append(inc); err != nil {
		return envelope.Error("plan drift detected, and recording the incident also failed",
			fmt.Sprintf("task freeze --task-id %s", taskID),
			[]string{"PlanDrift: " + driftErr.Error(), err.Error()}, []string{taskID})
	}
	if _, err := k.append(domain.Event{Type: domain.EventIncidentLogged, ModuleID: moduleID, TaskID: taskID,
		Payload: map[string]any{"kind": string(domain.IncidentPlanDrift)}}, actor); err != nil {
		return envelope.Error("plan drift detected, and recording the incident also failed",
			fmt.Sprintf("task freeze --task-id %s", taskID),
			[]string{"PlanDrift: " + driftErr.Error(), err.Error()}, []string{taskID})
	}
	if _, err := k.transition(modulePath, t, domain.StatusCriticPassed); err != nil {
		return envelope.Error("plan drift detected, and rollback also failed",
			fmt.Sprintf("task critic --task-id %s", taskID),
			[]string{"PlanDrift: " + driftErr.Error(), err.Error()}, []string{taskID})
	}
	return envelope.Error(fmt.Sprintf("plan drifted since freeze, task %s rolled back to critic_passed", taskID),
		fmt.Sprintf("task freeze --task-id %s", taskID),
		[]string{"PlanDrift: " + driftErr.Error()}, []string{taskID})
}

// runImplement runs the caller-supplied implement command, if any, ahead
// of the slice's required gates: spec.md's slice_run accepts an optional
// implement_argv so the kernel can drive the implementation subprocess
// itself instead of assuming it already ran out-of-band. It writes an
// "implement" proof alongside the gate proofs even on failure, mirroring
// gate.Checker.writeProof, but deliberately does not route through
// gate.Result: "implement" is not a member of the closed RequiredGate
// enum (it precedes the gates, it is not one of them).
func (k *Kernel) runImplement(ctx context.Context, prof *profile.Profile, modulePath, taskID string, slice domain.Slice, argv []string, workDir, logDir string) (bool, string, error) {
	cmd := runner.Command{Name: "implement", Argv: argv, Dir: workDir, Timeout: 10 * time.Minute}
	policy := runner.Policy{Allowlist: prof.Allowlist, Denylist: prof.Denylist}
	logPath := filepath.Join(logDir, "implement.log")

	outcome, err := runner.Run(ctx, cmd, policy, logPath)
	if err != nil {
		return false, "", fmt.Errorf("kernel: run implement: %w", err)
	}

	passed := outcome.ExitCode == 0
	proof := domain.Proof{
		TaskID: taskID, SliceID: slice.SliceID, Passed: passed, CheckedAt: k.now(),
		Details: map[string]any{"command": outcome},
	}
	proofPath := k.Root.SliceProofFilePath(modulePath, taskID, slice.SliceID, "implement")
	if err := pathio.AtomicWriteJSON(proofPath, proof); err != nil {
		return false, "", fmt.Errorf("kernel: write implement proof: %w", err)
	}

	if passed {
		return true, "", nil
	}
	notes := outcome.Err
	if notes == "" {
		notes = fmt.Sprintf("implement command exited %d", outcome.ExitCode)
	}
	return false, notes, nil
}

func (k *Kernel) runGates(ctx context.Context, checker *gate.Checker, slice domain.Slice, changedFiles []string, reviewApproved bool, workDir, logDir string) ([]gate.Result, *gate.Result, error) {
	var results []gate.Result
	requires := func(g domain.RequiredGate) bool {
		for _, x := range slice.RequiredGates {
			if x == g {
				return true
			}
		}
		return false
	}

	if requires(domain.GateScope) {
		r, err := checker.RunScope(slice, changedFiles)
		if err != nil {
			return results, nil, err
		}
		results = append(results, r)
		if !r.Passed {
			return results, &r, nil
		}
	}
	if requires(domain.GateVerify) {
		r, err := checker.RunVerify(ctx, slice, workDir, logDir)
		if err != nil {
			return results, nil, err
		}
		results = append(results, r)
		if !r.Passed {
			return results, &r, nil
		}
	}
	if requires(domain.GateReview) {
		input := gate.ReviewInput{Summary: "reviewed"}
		if !reviewApproved {
			input.P0 = 1
			input.Summary = "review rejected"
		}
		r, err := checker.RunReview(slice, input)
		if err != nil {
			return results, nil, err
		}
		results = append(results, r)
		if !r.Passed {
			return results, &r, nil
		}
	}
	if requires(domain.GateE2E) || (checker.Profile != nil && checker.Profile.E2ERequiredByDefault) {
		r, err := checker.RunE2E(ctx, slice, workDir, logDir)
		if err != nil {
			return results, nil, err
		}
		results = append(results, r)
		if !r.Passed {
			return results, &r, nil
		}
	}
	return results, nil, nil
}

// recordSliceFailure logs the incident, advances the slice's attempt
// counter, and either returns a gate-failed envelope or, once the slice's
// retry budget is exhausted, blocks the task and returns that instead.
// phase names the step that failed (a gate name, or "implement" for the
// optional pre-gate implement step) purely for the incident record and the
// envelope's message — it is never round-tripped through domain.RequiredGate.
func (k *Kernel) recordSliceFailure(actor, moduleID, modulePath, taskID string, t *domain.Task, slice domain.Slice, phase string, kind domain.IncidentKind, notes string) envelope.Envelope {
	inc := domain.Incident{
		ID: domain.NewIncidentID(), Kind: kind, Phase: phase,
		TaskID: taskID, SliceID: slice.SliceID, Details: notes, Timestamp: k.now(),
	}
	if _, err := incident.Open(k.Root).Append(inc); err != nil {
		return envelope.Error("slice gate failed, and recording the incident also failed", "retro run",
			[]string{err.Error()}, []string{taskID})
	}
	if _, err := k.append(domain.Event{Type: domain.EventIncidentLogged, ModuleID: moduleID, TaskID: taskID, SliceID: slice.SliceID,
		Payload: map[string]any{"kind": string(inc.Kind)}}, actor); err != nil {
		return envelope.Error("slice gate failed, and recording the incident also failed", "retro run",
			[]string{err.Error()}, []string{taskID})
	}

	outcome := task.RecordAttemptFailure(slice, t.MaxAttempts)
	if err := k.updateSlice(modulePath, taskID, outcome.Slice); err != nil {
		return envelope.Error("slice gate failed", "retro run", []string{err.Error()}, []string{taskID})
	}

	if outcome.BudgetExceeded {
		if _, err := k.transition(modulePath, t, domain.StatusBlocked); err != nil {
			return envelope.Error("slice gate failed, blocking transition also failed", "retro run", []string{err.Error()}, []string{taskID})
		}
		wasteInc := domain.Incident{
			ID: domain.NewIncidentID(), Kind: domain.IncidentTokenWaste, Phase: "retry_ceiling",
			TaskID: taskID, SliceID: slice.SliceID,
			Details:   fmt.Sprintf("slice %s exceeded its retry budget", slice.SliceID),
			Timestamp: k.now(),
		}
		if _, err := incident.Open(k.Root).Append(wasteInc); err != nil {
			return envelope.Error("retry ceiling reached, recording the incident failed", "retro run", []string{err.Error()}, []string{taskID})
		}
		if _, err := k.append(domain.Event{Type: domain.EventIncidentLogged, ModuleID: moduleID, TaskID: taskID, SliceID: slice.SliceID,
			Payload: map[string]any{"kind": string(domain.IncidentTokenWaste)}}, actor); err != nil {
			return envelope.Error("retry ceiling reached, recording the incident failed", "retro run", []string{err.Error()}, []string{taskID})
		}
		return envelope.GateFailed(fmt.Sprintf("slice %s exhausted its retry budget, task %s is blocked", slice.SliceID, taskID),
			fmt.Sprintf("retro run --task-id %s", taskID), []string{string(kind) + ": " + notes}, []string{taskID})
	}

	return envelope.GateFailed(fmt.Sprintf("slice %s failed its %s step (attempt %d)", slice.SliceID, phase, outcome.Slice.Attempts),
		fmt.Sprintf("slice run --task-id %s", taskID), []string{string(kind) + ": " + notes}, []string{taskID})
}

// ValidateReady checks that every slice is done, writes proofs/ready.json
// and READY/handoff.md, and advances the task to ready_validated, per
// spec.md §4.4.
func (k *Kernel) ValidateReady(actor, moduleID, modulePath, taskID string) envelope.Envelope {
	tid := taskID
	return k.runCommand(nil, actor, "gate_validate_ready", moduleID, &tid, func() envelope.Envelope {
		t, err := k.readTask(modulePath, taskID)
		if err != nil {
			return envelope.Error("ready validation failed", "validate", []string{err.Error()}, nil)
		}
		sf, err := k.readSlices(modulePath, taskID)
		if err != nil {
			return envelope.Error("ready validation failed", "validate", []string{err.Error()}, nil)
		}

		var incomplete []string
		for _, s := range sf.Slices {
			if s.Status != domain.SliceStatusDone {
				incomplete = append(incomplete, s.SliceID)
			}
		}
		if len(incomplete) > 0 {
			return envelope.Error(fmt.Sprintf("task %s has %d incomplete slice(s)", taskID, len(incomplete)),
				fmt.Sprintf("slice run --task-id %s", taskID),
				[]string{"ready_prerequisites_missing: " + fmt.Sprint(incomplete)}, []string{taskID})
		}

		readyPayload := map[string]any{"task_id": taskID, "passed": true, "checked_at": k.now()}
		if err := pathio.AtomicWriteJSON(k.Root.ReadyProofPath(modulePath, taskID), readyPayload); err != nil {
			return envelope.Error("ready validation failed", "validate", []string{err.Error()}, nil)
		}
		handoff := fmt.Sprintf("# Handoff: %s\n\nAll %d slice(s) completed and gated.\n", taskID, len(sf.Slices))
		if err := pathio.AtomicWrite(k.Root.HandoffPath(modulePath, taskID), []byte(handoff)); err != nil {
			return envelope.Error("ready validation failed", "validate", []string{err.Error()}, nil)
		}

		if t.Status == domain.StatusExecuting {
			if _, err := k.transition(modulePath, &t, domain.StatusReadyValidated); err != nil {
				return envelope.Error("ready validation failed", "validate", []string{err.Error()}, nil)
			}
		}
		if _, err := k.append(domain.Event{Type: domain.EventReadyValidated, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
			return envelope.Error("ready validation failed", "validate", []string{err.Error()}, nil)
		}

		return envelope.OK(fmt.Sprintf("task %s ready: all slices validated", taskID), "gate approve-ready", nil,
			[]string{k.Root.HandoffPath(modulePath, taskID)}, nil)
	})
}

// ApproveReady records a human ready approval and advances the task to
// ready_approved.
func (k *Kernel) ApproveReady(actor, moduleID, modulePath, taskID, approvedBy string) envelope.Envelope {
	tid := taskID
	return k.runCommand(nil, actor, "gate_approve_ready", moduleID, &tid, func() envelope.Envelope {
		t, err := k.readTask(modulePath, taskID)
		if err != nil {
			return envelope.Error("ready approval failed", "validate", []string{err.Error()}, nil)
		}
		if t.Status != domain.StatusReadyValidated {
			return envelope.Error(fmt.Sprintf("task %s is not ready_validated", taskID),
				fmt.Sprintf("gate validate-ready --task-id %s", taskID),
				[]string{"InvalidTransition: " + string(t.Status) + " -> ready_approved"}, []string{taskID})
		}

		approval := domain.Approval{ApprovedBy: approvedBy, ApprovedAt: k.now(), Kind: domain.ApprovalReady}
		if err := pathio.AtomicWriteJSON(k.Root.ApprovalFilePath(modulePath, taskID, string(domain.ApprovalReady)), approval); err != nil {
			return envelope.Error("ready approval failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.transition(modulePath, &t, domain.StatusReadyApproved); err != nil {
			return envelope.Error("ready approval failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventReadyApproved, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
			return envelope.Error("ready approval failed", "validate", []string{err.Error()}, nil)
		}

		return envelope.OK(fmt.Sprintf("task %s ready approved", taskID), "retro run", nil, []string{taskID}, nil)
	})
}

// RetroRun clusters the task's incidents, renders retro.md, writes a
// patch proposal, and advances the task to retro_done, per spec.md §4.5.
// It is legal from ready_approved or blocked.
func (k *Kernel) RetroRun(actor, moduleID, modulePath, taskID string) envelope.Envelope {
	tid := taskID
	return k.runCommand(nil, actor, "retro_run", moduleID, &tid, func() envelope.Envelope {
		t, err := k.readTask(modulePath, taskID)
		if err != nil {
			return envelope.Error("retro failed", "validate", []string{err.Error()}, nil)
		}
		if t.Status != domain.StatusReadyApproved && t.Status != domain.StatusBlocked {
			return envelope.Error(fmt.Sprintf("task %s is not ready_approved or blocked", taskID),
				"gate approve-ready", []string{"retro_precondition_missing: status " + string(t.Status)}, []string{taskID})
		}

		incidents, err := incident.Open(k.Root).ForTask(taskID)
		if err != nil {
			return envelope.Error("retro failed", "validate", []string{err.Error()}, nil)
		}
		now := k.now()
		report := retro.ClusterIncidents(taskID, incidents, now)
		if err := retro.RenderMarkdown(k.Root, modulePath, taskID, report); err != nil {
			return envelope.Error("retro failed", "validate", []string{err.Error()}, nil)
		}
		patchPath, err := retro.ProposePatch(k.Root, report, now.Format("20060102T150405Z"))
		if err != nil {
			return envelope.Error("retro failed", "validate", []string{err.Error()}, nil)
		}

		if _, err := k.transition(modulePath, &t, domain.StatusRetroDone); err != nil {
			return envelope.Error("retro failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventRetroCompleted, ModuleID: moduleID, TaskID: taskID}, actor); err != nil {
			return envelope.Error("retro failed", "validate", []string{err.Error()}, nil)
		}

		return envelope.OK(fmt.Sprintf("retro complete for %s: %d cluster(s)", taskID, len(report.Clusters)),
			"status", nil, []string{k.Root.RetroPath(modulePath, taskID), patchPath}, report)
	})
}

// Status projects the whole state root into the status document.
func (k *Kernel) Status() envelope.Envelope {
	st, err := status.Build(k.Root)
	if err != nil {
		return envelope.Error("status projection failed", "validate", []string{err.Error()}, nil)
	}
	return envelope.OK(fmt.Sprintf("project phase: %s", st.ProjectPhase), st.Next.Recommended, st.Next.Alternatives, nil, st)
}

// ConfigShow resolves the named profile and reports which layer (engine
// default, engine profile file, local override) produced each field, the
// diagnostic spec.md's profile merge section implies but never names.
func (k *Kernel) ConfigShow(profileName string) envelope.Envelope {
	rc, err := profile.Resolve(k.Root, profileName)
	if err != nil {
		return envelope.Error("config resolution failed", "bootstrap", []string{err.Error()}, nil)
	}
	return envelope.OK(fmt.Sprintf("profile %q resolved", profileName), "task new", nil, nil, rc)
}

// DoctorReport is Doctor's data payload: the validator and a replay
// dry-run surfaced side by side, since spec.md otherwise only exposes
// them as two separate commands.
type DoctorReport struct {
	Validate validate.Result `json:"validate"`
	Replay   replay.Report   `json:"replay"`
}

// Doctor aggregates the structural validator and a replay dry-run into
// one health report, mirroring the teacher's pattern of combining
// independent health probes into a single diagnostic command. Unlike
// ReplayCheck, Doctor never appends a replay.checked event: it is a
// read-only probe, not an operation spec.md's event log needs to record.
func (k *Kernel) Doctor() envelope.Envelope {
	vr, err := validate.Run(k.Root, false)
	if err != nil {
		return envelope.Error("doctor failed", "bootstrap", []string{err.Error()}, nil)
	}
	rr, err := replay.Check(k.Root)
	if err != nil {
		return envelope.Error("doctor failed", "bootstrap", []string{err.Error()}, nil)
	}

	report := DoctorReport{Validate: vr, Replay: rr}
	if !vr.Valid || !rr.OK() {
		var errs []string
		errs = append(errs, vr.Issues...)
		for _, v := range rr.Violations {
			errs = append(errs, "replay_invariant_violation: "+v.Kind)
		}
		return envelope.GateFailed("doctor found issues", "validate --strict", errs, nil, report)
	}
	return envelope.OK("doctor: state root healthy", "status", nil, nil, report)
}

// Validate runs the structural validator over every artifact on disk.
func (k *Kernel) Validate(strict bool) envelope.Envelope {
	result, err := validate.Run(k.Root, strict)
	if err != nil {
		return envelope.Error("validation failed", "validate", []string{err.Error()}, nil)
	}
	if !result.Valid {
		return envelope.Error(fmt.Sprintf("validation found %d issue(s)", len(result.Issues)),
			"validate", append([]string{"schema_violation"}, result.Issues...), nil)
	}
	return envelope.OK("validation passed", "run", nil, nil, result)
}

// ReplayCheck replays the event log and reports any invariant
// violations, reporting every violation found and exiting 30 when there is
// at least one, per spec.md §7.
func (k *Kernel) ReplayCheck(actor string) envelope.Envelope {
	return k.runCommand(nil, actor, "replay_check", "", nil, func() envelope.Envelope {
		report, err := replay.Check(k.Root)
		if err != nil {
			return envelope.Error("replay failed", "validate", []string{err.Error()}, nil)
		}
		if _, err := k.append(domain.Event{Type: domain.EventReplayChecked, Payload: map[string]any{
			"event_count": report.EventCount, "violation_count": len(report.Violations),
		}}, actor); err != nil {
			return envelope.Error("replay failed", "validate", []string{err.Error()}, nil)
		}
		if !report.OK() {
			var errs []string
			var next string
			for _, v := range report.Violations {
				errs = append(errs, "replay_invariant_violation: "+v.Kind)
				next = v.Next
			}
			return envelope.Error(fmt.Sprintf("replay found %d invariant violation(s)", len(report.Violations)), next, errs, nil)
		}
		return envelope.OK(fmt.Sprintf("replay clean over %d event(s)", report.EventCount), "run", nil, nil, report)
	})
}

func (k *Kernel) transition(modulePath string, t *domain.Task, to domain.TaskStatus) (domain.TaskStatus, error) {
	next, err := task.Transition(t.Status, to)
	if err != nil {
		return t.Status, err
	}
	t.Status = next
	t.UpdatedAt = k.now()
	if err := k.writeTask(modulePath, *t); err != nil {
		return t.Status, err
	}
	return next, nil
}

func (k *Kernel) nextTaskID(modulePath string) (string, error) {
	entries, err := os.ReadDir(k.Root.ModuleTasksPath(modulePath))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.FormatTaskID(1), nil
		}
		return "", fmt.Errorf("kernel: list tasks: %w", err)
	}
	return domain.FormatTaskID(len(entries) + 1), nil
}

func (k *Kernel) writeTask(modulePath string, t domain.Task) error {
	return pathio.AtomicWriteJSON(k.Root.TaskFilePath(modulePath, t.TaskID), t)
}

func (k *Kernel) readTask(modulePath, taskID string) (domain.Task, error) {
	data, err := os.ReadFile(k.Root.TaskFilePath(modulePath, taskID))
	if err != nil {
		return domain.Task{}, fmt.Errorf("kernel: read task %s: %w", taskID, err)
	}
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Task{}, fmt.Errorf("kernel: parse task %s: %w", taskID, err)
	}
	return t, nil
}

func (k *Kernel) readSlices(modulePath, taskID string) (domain.SlicesFile, error) {
	data, err := os.ReadFile(k.Root.SlicesPath(modulePath, taskID))
	if err != nil {
		return domain.SlicesFile{}, fmt.Errorf("kernel: read slices for %s: %w", taskID, err)
	}
	var sf domain.SlicesFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return domain.SlicesFile{}, fmt.Errorf("kernel: parse slices for %s: %w", taskID, err)
	}
	return sf, nil
}

func (k *Kernel) updateSlice(modulePath, taskID string, updated domain.Slice) error {
	sf, err := k.readSlices(modulePath, taskID)
	if err != nil {
		return err
	}
	for i, s := range sf.Slices {
		if s.SliceID == updated.SliceID {
			sf.Slices[i] = updated
		}
	}
	return pathio.AtomicWriteJSON(k.Root.SlicesPath(modulePath, taskID), sf)
}

func (k *Kernel) loadRegistry() (*domain.Registry, error) {
	data, err := os.ReadFile(k.Root.RegistryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewRegistry(), nil
		}
		return nil, fmt.Errorf("kernel: read registry: %w", err)
	}
	reg := domain.NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("kernel: parse registry: %w", err)
	}
	return reg, nil
}
