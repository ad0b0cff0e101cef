// Package pathio resolves the kernel's on-disk state root and provides the
// atomic write and canonical-JSON-hash primitives every other package
// builds artifacts on top of.
package pathio

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// RootDirName is the name of the kernel's state root directory, created at
// the module root by bootstrap.
const RootDirName = ".csk"

const (
	// EngineDir holds engine-owned defaults: version stamp, profiles.
	EngineDir = "engine"
	// LocalDir holds user-local overrides layered on top of EngineDir.
	LocalDir = "local"
	// AppDir holds mutable application state: registry, event log, missions.
	AppDir = "app"
	// ModulesDir holds one subdirectory per registered module.
	ModulesDir = "modules"
	// WorktreesDir holds mission/module working copies.
	WorktreesDir = "worktrees"
	// ProfilesDir is the subdirectory of EngineDir/LocalDir holding profile YAML.
	ProfilesDir = "profiles"
	// PatchesDir is the subdirectory of LocalDir holding retro patch proposals.
	PatchesDir = "patches"
	// SkillsOverrideDir is the subdirectory of LocalDir holding skill overrides.
	SkillsOverrideDir = "skills_override"
	// MissionsDir holds one subdirectory per mission under AppDir.
	MissionsDir = "missions"
	// TasksDir holds one subdirectory per task under a module.
	TasksDir = "tasks"
	// RunDir holds the run-scoped (proofs/logs) artifacts for a module.
	RunDir = "run"
	// ProofsDir holds per-slice gate proofs under a task's run directory.
	ProofsDir = "proofs"
	// LogsDir holds per-slice command logs under a task's run directory.
	LogsDir = "logs"
	// ApprovalsDir holds recorded approvals under a task directory.
	ApprovalsDir = "approvals"

	// VersionFile is the engine version stamp.
	VersionFile = "VERSION"
	// RegistryFile is the module registry.
	RegistryFile = "registry.json"
	// LocalConfigFile is the local config override.
	LocalConfigFile = "config.json"

	// EventLogDir is the indexed append-only event store directory.
	EventLogDir = "eventlog"
	// EventLogDataFile is the append-only event data file inside EventLogDir.
	EventLogDataFile = "data.jsonl"
	// EventLogIndexFile names a seq->offset index file beside EventLogDataFile;
	// the eventlog package neither writes nor reads it.
	EventLogIndexFile = "index.idx"
	// EventLogLockFileName is the single-writer lock file inside EventLogDir.
	EventLogLockFileName = "lock"

	// IncidentsFile is the append-only incident stream under AppDir.
	IncidentsFile = "incidents.jsonl"
)

// Root is a resolved state-root location: an absolute path to the directory
// that contains .csk, plus the derived subpaths every package needs.
type Root struct {
	ModuleRoot string
}

// StateRootEnvVar is the environment variable Resolve consults when no
// explicit override is given, per spec.md's state-root resolution order.
const StateRootEnvVar = "CSK_STATE_ROOT"

// Resolve finds the state root, trying in order: override (an explicit
// --state-root argument), the CSK_STATE_ROOT environment variable, and
// finally the nearest ancestor of dir (inclusive) containing a .csk
// directory, mirroring how the teacher's worktree code walks up from a
// working directory to find repository boundaries. override and the env
// var name the module root directly — no .csk probing — since a caller
// who names a root explicitly means that root, bootstrapped or not. If
// none of the three resolves to an existing .csk, dir itself is returned
// as the prospective root for a subsequent Bootstrap.
func Resolve(dir, override string) (Root, error) {
	if override == "" {
		override = os.Getenv(StateRootEnvVar)
	}
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return Root{}, fmt.Errorf("resolve state root: %w", err)
		}
		return Root{ModuleRoot: abs}, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("resolve state root: %w", err)
	}

	cur := abs
	for {
		candidate := filepath.Join(cur, RootDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return Root{ModuleRoot: cur}, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return Root{ModuleRoot: abs}, nil
		}
		cur = parent
	}
}

// StateRoot returns the .csk directory itself.
func (r Root) StateRoot() string { return filepath.Join(r.ModuleRoot, RootDirName) }

// EnginePath returns .csk/engine.
func (r Root) EnginePath() string { return filepath.Join(r.StateRoot(), EngineDir) }

// LocalPath returns .csk/local.
func (r Root) LocalPath() string { return filepath.Join(r.StateRoot(), LocalDir) }

// AppPath returns .csk/app.
func (r Root) AppPath() string { return filepath.Join(r.StateRoot(), AppDir) }

// EngineProfilesPath returns .csk/engine/profiles.
func (r Root) EngineProfilesPath() string { return filepath.Join(r.EnginePath(), ProfilesDir) }

// LocalProfilesPath returns .csk/local/profiles.
func (r Root) LocalProfilesPath() string { return filepath.Join(r.LocalPath(), ProfilesDir) }

// LocalPatchesPath returns .csk/local/patches.
func (r Root) LocalPatchesPath() string { return filepath.Join(r.LocalPath(), PatchesDir) }

// LocalSkillsOverridePath returns .csk/local/skills_override.
func (r Root) LocalSkillsOverridePath() string {
	return filepath.Join(r.LocalPath(), SkillsOverrideDir)
}

// LocalConfigPath returns .csk/local/config.json.
func (r Root) LocalConfigPath() string { return filepath.Join(r.LocalPath(), LocalConfigFile) }

// EngineVersionPath returns .csk/engine/VERSION.
func (r Root) EngineVersionPath() string { return filepath.Join(r.EnginePath(), VersionFile) }

// RegistryPath returns .csk/app/registry.json.
func (r Root) RegistryPath() string { return filepath.Join(r.AppPath(), RegistryFile) }

// ModulesPath returns .csk/modules.
func (r Root) ModulesPath() string { return filepath.Join(r.StateRoot(), ModulesDir) }

// ModulePath returns .csk/modules/<modulePath>.
func (r Root) ModulePath(modulePath string) string {
	return filepath.Join(r.ModulesPath(), modulePath)
}

// ModuleTasksPath returns .csk/modules/<modulePath>/tasks.
func (r Root) ModuleTasksPath(modulePath string) string {
	return filepath.Join(r.ModulePath(modulePath), TasksDir)
}

// TaskPath returns .csk/modules/<modulePath>/tasks/<taskID>.
func (r Root) TaskPath(modulePath, taskID string) string {
	return filepath.Join(r.ModuleTasksPath(modulePath), taskID)
}

// TaskFilePath returns the task.json path for a task.
func (r Root) TaskFilePath(modulePath, taskID string) string {
	return filepath.Join(r.TaskPath(modulePath, taskID), "task.json")
}

// PlanPath returns the plan.md path for a task.
func (r Root) PlanPath(modulePath, taskID string) string {
	return filepath.Join(r.TaskPath(modulePath, taskID), "plan.md")
}

// SlicesPath returns the slices.json path for a task.
func (r Root) SlicesPath(modulePath, taskID string) string {
	return filepath.Join(r.TaskPath(modulePath, taskID), "slices.json")
}

// FreezePath returns the freeze.json path for a task.
func (r Root) FreezePath(modulePath, taskID string) string {
	return filepath.Join(r.TaskPath(modulePath, taskID), "freeze.json")
}

// CriticReportPath returns the critic_report.json path for a task.
func (r Root) CriticReportPath(modulePath, taskID string) string {
	return filepath.Join(r.TaskPath(modulePath, taskID), "critic_report.json")
}

// RetroPath returns the retro.md path for a task.
func (r Root) RetroPath(modulePath, taskID string) string {
	return filepath.Join(r.TaskPath(modulePath, taskID), "retro.md")
}

// ApprovalsPath returns .csk/modules/<modulePath>/tasks/<taskID>/approvals.
func (r Root) ApprovalsPath(modulePath, taskID string) string {
	return filepath.Join(r.TaskPath(modulePath, taskID), ApprovalsDir)
}

// ApprovalFilePath returns the approvals/<kind>.json path for a task.
func (r Root) ApprovalFilePath(modulePath, taskID, kind string) string {
	return filepath.Join(r.ApprovalsPath(modulePath, taskID), kind+".json")
}

// ModuleRunTasksPath returns .csk/modules/<modulePath>/run/tasks.
func (r Root) ModuleRunTasksPath(modulePath string) string {
	return filepath.Join(r.ModulePath(modulePath), RunDir, TasksDir)
}

// RunTaskPath returns .csk/modules/<modulePath>/run/tasks/<taskID>.
func (r Root) RunTaskPath(modulePath, taskID string) string {
	return filepath.Join(r.ModuleRunTasksPath(modulePath), taskID)
}

// ProofsPath returns the proofs directory for a task's run.
func (r Root) ProofsPath(modulePath, taskID string) string {
	return filepath.Join(r.RunTaskPath(modulePath, taskID), ProofsDir)
}

// SliceProofsPath returns the proofs directory for one slice.
func (r Root) SliceProofsPath(modulePath, taskID, sliceID string) string {
	return filepath.Join(r.ProofsPath(modulePath, taskID), sliceID)
}

// SliceProofFilePath returns proofs/<sliceID>/<gate>.json.
func (r Root) SliceProofFilePath(modulePath, taskID, sliceID, gate string) string {
	return filepath.Join(r.SliceProofsPath(modulePath, taskID, sliceID), gate+".json")
}

// ReadyProofPath returns proofs/ready.json for a task's run.
func (r Root) ReadyProofPath(modulePath, taskID string) string {
	return filepath.Join(r.ProofsPath(modulePath, taskID), "ready.json")
}

// HandoffPath returns proofs/READY/handoff.md for a task's run.
func (r Root) HandoffPath(modulePath, taskID string) string {
	return filepath.Join(r.ProofsPath(modulePath, taskID), "READY", "handoff.md")
}

// LogsPath returns the logs directory for a task's run.
func (r Root) LogsPath(modulePath, taskID string) string {
	return filepath.Join(r.RunTaskPath(modulePath, taskID), LogsDir)
}

// SliceLogsPath returns the logs directory for one slice.
func (r Root) SliceLogsPath(modulePath, taskID, sliceID string) string {
	return filepath.Join(r.LogsPath(modulePath, taskID), sliceID)
}

// MissionsPath returns .csk/app/missions.
func (r Root) MissionsPath() string { return filepath.Join(r.AppPath(), MissionsDir) }

// MissionPath returns .csk/app/missions/<missionID>.
func (r Root) MissionPath(missionID string) string {
	return filepath.Join(r.MissionsPath(), missionID)
}

// MissionSpecPath returns the spec.md path for a mission.
func (r Root) MissionSpecPath(missionID string) string {
	return filepath.Join(r.MissionPath(missionID), "spec.md")
}

// MissionRoutingPath returns the routing.json path for a mission.
func (r Root) MissionRoutingPath(missionID string) string {
	return filepath.Join(r.MissionPath(missionID), "routing.json")
}

// MissionMilestonesPath returns the milestones.json path for a mission.
func (r Root) MissionMilestonesPath(missionID string) string {
	return filepath.Join(r.MissionPath(missionID), "milestones.json")
}

// MissionWorktreesPath returns the worktrees.json path for a mission.
func (r Root) MissionWorktreesPath(missionID string) string {
	return filepath.Join(r.MissionPath(missionID), "worktrees.json")
}

// WorktreePath returns .csk/worktrees/<missionID>/<moduleID>.
func (r Root) WorktreePath(missionID, moduleID string) string {
	return filepath.Join(r.StateRoot(), WorktreesDir, missionID, moduleID)
}

// EventLogDirPath returns .csk/app/eventlog.
func (r Root) EventLogDirPath() string { return filepath.Join(r.AppPath(), EventLogDir) }

// EventLogPath returns .csk/app/eventlog/data.jsonl.
func (r Root) EventLogPath() string { return filepath.Join(r.EventLogDirPath(), EventLogDataFile) }

// EventLogIndexPath returns .csk/app/eventlog/index.idx.
func (r Root) EventLogIndexPath() string {
	return filepath.Join(r.EventLogDirPath(), EventLogIndexFile)
}

// EventLogLockPath returns .csk/app/eventlog/lock.
func (r Root) EventLogLockPath() string {
	return filepath.Join(r.EventLogDirPath(), EventLogLockFileName)
}

// IncidentsPath returns .csk/app/incidents.jsonl.
func (r Root) IncidentsPath() string { return filepath.Join(r.AppPath(), IncidentsFile) }

// Bootstrap creates the full .csk directory tree if it does not already
// exist. It is idempotent.
func Bootstrap(r Root) error {
	dirs := []string{
		r.EngineProfilesPath(),
		r.LocalProfilesPath(),
		r.LocalPatchesPath(),
		r.LocalSkillsOverridePath(),
		r.ModulesPath(),
		r.MissionsPath(),
		filepath.Join(r.StateRoot(), WorktreesDir),
		r.EventLogDirPath(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// BootstrapModule creates the tasks/ and run/tasks/ tree for a newly
// registered module.
func BootstrapModule(r Root, modulePath string) error {
	dirs := []string{
		r.ModuleTasksPath(modulePath),
		r.ModuleRunTasksPath(modulePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// IsBootstrapped reports whether r's state root already exists on disk.
func IsBootstrapped(r Root) bool {
	info, err := os.Stat(r.StateRoot())
	return err == nil && info.IsDir()
}

// AtomicWrite writes data to path by way of a sibling temp file plus
// rename, so a reader never observes a partial write.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// AtomicWriteJSON canonicalizes v (sorted object keys, compact) and writes
// it via AtomicWrite.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	canon, err := CanonicalizeJSON(data)
	if err != nil {
		return fmt.Errorf("canonicalize json: %w", err)
	}
	return AtomicWrite(path, canon)
}

// CanonicalizeJSON reparses arbitrary JSON into generic values and
// re-marshals with map keys sorted (Go's encoding/json already sorts
// object keys when marshaling map[string]any), producing a byte-stable
// representation independent of the original key order or whitespace.
func CanonicalizeJSON(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return canonicalMarshal(v)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf []byte
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		var buf []byte
		buf = append(buf, '[')
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// HashFile computes a hex-encoded SHA-256 of a file's raw bytes, used for
// the byte-exact plan.md freeze hash.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashCanonicalJSONFile reads path, canonicalizes it, and returns the
// hex-encoded SHA-256 of the canonical bytes, used for the slices.json
// freeze hash (content-equivalent, not byte-exact).
func HashCanonicalJSONFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	canon, err := CanonicalizeJSON(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", path, err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
