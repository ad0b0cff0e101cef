package domain

import "time"

// ModuleEntry is a Registry row mapping a module_id to its on-disk location
// and bootstrap state.
type ModuleEntry struct {
	ModuleID    string    `json:"module_id"`
	Path        string    `json:"path"`
	Registered  bool      `json:"registered"`
	Initialized bool      `json:"initialized"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry is the shared module_id -> ModuleEntry lookup surface.
type Registry struct {
	Modules map[string]ModuleEntry `json:"modules"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{Modules: make(map[string]ModuleEntry)}
}

// MilestoneStatus is the closed set of milestone lifecycle states.
type MilestoneStatus string

const (
	MilestonePending MilestoneStatus = "pending"
	MilestoneActive  MilestoneStatus = "active"
	MilestoneDone    MilestoneStatus = "done"
)

// Milestone is a named grouping of modules inside a Mission.
type Milestone struct {
	ID      string          `json:"id"`
	Modules []string        `json:"modules"`
	Status  MilestoneStatus `json:"status"`
}

// Mission is a multi-module routing envelope produced by intake. Only
// milestone 1 is detailed by the intake flow; later milestones stay
// MilestonePending until materialized.
type Mission struct {
	MissionID  string            `json:"mission_id"`
	SpecText   string            `json:"spec_text"`
	Routing    []string          `json:"routing"`
	Milestones []Milestone       `json:"milestones"`
	Worktrees  map[string]string `json:"worktrees"` // module_id -> worktree_path
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TaskStatus is the closed set of task lifecycle states, totally ordered
// along the primary path with a blocked side branch and rollback edges to
// critic_passed (see Transition in internal/task).
type TaskStatus string

const (
	StatusDraft          TaskStatus = "draft"
	StatusCriticPassed   TaskStatus = "critic_passed"
	StatusFrozen         TaskStatus = "frozen"
	StatusPlanApproved   TaskStatus = "plan_approved"
	StatusExecuting      TaskStatus = "executing"
	StatusBlocked        TaskStatus = "blocked"
	StatusReadyValidated TaskStatus = "ready_validated"
	StatusReadyApproved  TaskStatus = "ready_approved"
	StatusRetroDone      TaskStatus = "retro_done"
	StatusClosed         TaskStatus = "closed"
)

// RequiredGate is the closed enum of gate kinds a slice can require.
type RequiredGate string

const (
	GateScope  RequiredGate = "scope"
	GateVerify RequiredGate = "verify"
	GateReview RequiredGate = "review"
	GateE2E    RequiredGate = "e2e"
)

// DefaultRequiredGates is the default required_gates set assigned to a new
// slice: scope, verify, review (e2e is opt-in per spec.md §4.3).
func DefaultRequiredGates() []RequiredGate {
	return []RequiredGate{GateScope, GateVerify, GateReview}
}

// Task is the unit of work inside one module: it owns a plan, slices, a
// freeze, approvals, proofs, and a retro.
type Task struct {
	TaskID      string     `json:"task_id"`
	ModuleID    string     `json:"module_id"`
	Status      TaskStatus `json:"status"`
	ProfileName string     `json:"profile_name"`
	MaxAttempts int        `json:"max_attempts"`
	Slices      []string   `json:"slices"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SliceStatus is the closed set of per-slice lifecycle states.
type SliceStatus string

const (
	SliceStatusPending SliceStatus = "pending"
	SliceStatusRunning SliceStatus = "running"
	SliceStatusDone    SliceStatus = "done"
	SliceStatusFailed  SliceStatus = "failed"
)

// VerifyCommandRef is a slice-scoped override for a single verify/e2e
// command; when absent the slice inherits the merged profile's commands.
type VerifyCommandRef struct {
	Name    string   `json:"name"`
	Argv    []string `json:"argv"`
	Timeout int      `json:"timeout_sec,omitempty"`
}

// Slice is an atomic step inside a task, executed end-to-end by one agent.
// It owns an ordered set of gate proofs.
type Slice struct {
	SliceID        string             `json:"slice_id"`
	Goal           string             `json:"goal,omitempty"`
	AllowedPaths   []string           `json:"allowed_paths"`
	ForbiddenPaths []string           `json:"forbidden_paths,omitempty"`
	RequiredGates  []RequiredGate     `json:"required_gates"`
	Deps           []string           `json:"deps,omitempty"`
	Status         SliceStatus        `json:"status"`
	Attempts       int                `json:"attempts"`
	Acceptance     string             `json:"acceptance,omitempty"`
	VerifyCommands []VerifyCommandRef `json:"verify_commands,omitempty"`
}

// SlicesFile is the on-disk shape of slices.json.
type SlicesFile struct {
	Slices []Slice `json:"slices"`
}

// Freeze is a hash-pinned snapshot of plan.md and slices.json, created once
// per approved plan version. Any subsequent content change invalidates it
// (drift).
type Freeze struct {
	TaskID        string    `json:"task_id"`
	PlanSHA256    string    `json:"plan_sha256"`
	SlicesSHA256  string    `json:"slices_sha256"`
	FrozenAt      time.Time `json:"frozen_at"`
	EngineVersion string    `json:"engine_version"`
}

// ApprovalKind is the closed set of approval kinds.
type ApprovalKind string

const (
	ApprovalPlan      ApprovalKind = "plan"
	ApprovalReady     ApprovalKind = "ready"
	ApprovalUserCheck ApprovalKind = "user_check"
)

// Approval records a human sign-off of a given kind for a task.
type Approval struct {
	ApprovedBy string       `json:"approved_by"`
	ApprovedAt time.Time    `json:"approved_at"`
	Kind       ApprovalKind `json:"kind"`
}

// Proof is the durable record of one gate's outcome.
type Proof struct {
	TaskID    string         `json:"task_id"`
	SliceID   string         `json:"slice_id,omitempty"`
	Gate      RequiredGate   `json:"gate"`
	Passed    bool           `json:"passed"`
	CheckedAt time.Time      `json:"checked_at"`
	Details   map[string]any `json:"details"`
}

// Manifest lists the sibling proofs for one slice, by absolute path.
type Manifest struct {
	TaskID     string   `json:"task_id"`
	SliceID    string   `json:"slice_id"`
	ProofPaths []string `json:"proof_paths"`
	CreatedAt  time.Time `json:"created_at"`
}

// IncidentKind is the closed set of incident kinds, mirroring the error
// taxonomy in spec.md §7.
type IncidentKind string

const (
	IncidentScopeConfigMissing  IncidentKind = "scope_config_missing"
	IncidentScopeViolation      IncidentKind = "scope_violation"
	IncidentVerifyConfigMissing IncidentKind = "verify_config_missing"
	IncidentVerifyFail          IncidentKind = "verify_fail"
	IncidentReviewFail          IncidentKind = "review_fail"
	IncidentE2EMissing          IncidentKind = "e2e_missing"
	IncidentE2EFail             IncidentKind = "e2e_fail"
	IncidentImplementFail       IncidentKind = "implement_fail"
	IncidentTokenWaste          IncidentKind = "token_waste"
	IncidentWorktreeCreateFail  IncidentKind = "worktree_create_failed"
	IncidentCommandNotFound     IncidentKind = "command_not_found"
	IncidentCommandDenied       IncidentKind = "command_denied"
	IncidentPlanDrift           IncidentKind = "plan_drift"
)

// Incident is a structured, append-only record of a deviation. It is the
// mandatory input to the retro stage.
type Incident struct {
	ID               string       `json:"id"`
	Kind             IncidentKind `json:"kind"`
	Phase            string       `json:"phase"`
	TaskID           string       `json:"task_id,omitempty"`
	SliceID          string       `json:"slice_id,omitempty"`
	Details          string       `json:"details"`
	RemediationHint  string       `json:"remediation_hint,omitempty"`
	Timestamp        time.Time    `json:"ts"`
}

// EventType is the closed set of event envelope types (spec.md §6).
type EventType string

const (
	EventCommandStarted      EventType = "command.started"
	EventCommandCompleted    EventType = "command.completed"
	EventBootstrapCompleted  EventType = "bootstrap.completed"
	EventModuleAdded         EventType = "module.added"
	EventModuleInitialized   EventType = "module.initialized"
	EventRegistryDetected    EventType = "registry.detected"
	EventMissionCreated      EventType = "mission.created"
	EventMilestoneActivated  EventType = "milestone.activated"
	EventWorktreeCreated     EventType = "worktree.created"
	EventWorktreeFailed      EventType = "worktree.failed"
	EventTaskCreated         EventType = "task.created"
	EventSliceCreated        EventType = "slice.created"
	EventTaskCriticPassed    EventType = "task.critic_passed"
	EventTaskCriticFailed    EventType = "task.critic_failed"
	EventTaskFrozen          EventType = "task.frozen"
	EventTaskPlanApproved    EventType = "task.plan_approved"
	EventProofPackWritten    EventType = "proof.pack.written"
	EventSliceCompleted      EventType = "slice.completed"
	EventReadyValidated      EventType = "ready.validated"
	EventReadyApproved       EventType = "ready.approved"
	EventRetroCompleted      EventType = "retro.completed"
	EventIncidentLogged      EventType = "incident.logged"
	EventReplayChecked       EventType = "replay.checked"
)

// knownEventTypes backs Event envelope validation: unknown types are
// rejected at append, per spec.md §4.6.
var knownEventTypes = map[EventType]bool{
	EventCommandStarted: true, EventCommandCompleted: true,
	EventBootstrapCompleted: true, EventModuleAdded: true, EventModuleInitialized: true,
	EventRegistryDetected: true, EventMissionCreated: true, EventMilestoneActivated: true,
	EventWorktreeCreated: true, EventWorktreeFailed: true,
	EventTaskCreated: true, EventSliceCreated: true,
	EventTaskCriticPassed: true, EventTaskCriticFailed: true,
	EventTaskFrozen: true, EventTaskPlanApproved: true,
	EventProofPackWritten: true, EventSliceCompleted: true,
	EventReadyValidated: true, EventReadyApproved: true,
	EventRetroCompleted: true, EventIncidentLogged: true, EventReplayChecked: true,
}

// IsKnownEventType reports whether t is a member of the closed event type set.
func IsKnownEventType(t EventType) bool { return knownEventTypes[t] }

// Event is the append-only log envelope; it is the single source of truth
// for the project's history.
type Event struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"`
	Timestamp     time.Time      `json:"ts"`
	Type          EventType      `json:"type"`
	Actor         string         `json:"actor"`
	MissionID     string         `json:"mission_id,omitempty"`
	ModuleID      string         `json:"module_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	SliceID       string         `json:"slice_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	ArtifactRefs  []string       `json:"artifact_refs,omitempty"`
	RepoGitHead   string         `json:"repo_git_head,omitempty"`
	EngineVersion string         `json:"engine_version"`
}
