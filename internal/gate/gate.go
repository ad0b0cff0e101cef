// Package gate implements the scope -> verify -> review -> e2e -> proof
// pack sequence that every slice must pass before it can be marked done.
// Each gate writes its proof file even on failure; the kernel advances the
// slice only when all of its required gates pass.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
	"github.com/csk-dev/csk/internal/profile"
	"github.com/csk-dev/csk/internal/runner"
)

// Result is the outcome of running one gate: whether it passed, the proof
// payload that was written to disk, and, on failure, the incident kind
// that should be appended.
type Result struct {
	Gate          domain.RequiredGate
	Passed        bool
	Proof         domain.Proof
	IncidentKind  domain.IncidentKind
	IncidentNotes string
}

// Checker runs gates for one slice inside one task. It holds everything a
// gate needs to reach disk: the resolved state root, module/task
// identity, and the merged profile.
type Checker struct {
	Root       pathio.Root
	ModulePath string
	TaskID     string
	Profile    *profile.Profile
}

func (c *Checker) policy() runner.Policy {
	return runner.Policy{Allowlist: c.Profile.Allowlist, Denylist: c.Profile.Denylist}
}

// RunScope checks that every path in changedFiles matches at least one
// allowed_paths glob and no forbidden_paths glob, per spec.md §4.3.
func (c *Checker) RunScope(slice domain.Slice, changedFiles []string) (Result, error) {
	now := time.Now().UTC()

	if len(slice.AllowedPaths) == 0 {
		return c.writeProof(slice.SliceID, domain.GateScope, false, map[string]any{
			"reason": "scope_config_missing",
		}, domain.IncidentScopeConfigMissing, "slice requires scope but allowed_paths is empty")
	}

	var violations []string
	for _, path := range changedFiles {
		allowed, err := matchesAny(slice.AllowedPaths, path)
		if err != nil {
			return Result{}, fmt.Errorf("gate: scope: %w", err)
		}
		forbidden, err := matchesAny(slice.ForbiddenPaths, path)
		if err != nil {
			return Result{}, fmt.Errorf("gate: scope: %w", err)
		}
		if !allowed || forbidden {
			violations = append(violations, path)
		}
	}

	passed := len(violations) == 0
	details := map[string]any{
		"changed_files": changedFiles,
		"violations":    violations,
		"checked_at":    now,
	}
	if passed {
		return c.writeProof(slice.SliceID, domain.GateScope, true, details, "", "")
	}
	return c.writeProof(slice.SliceID, domain.GateScope, false, details,
		domain.IncidentScopeViolation, fmt.Sprintf("%d changed path(s) outside scope", len(violations)))
}

func matchesAny(patterns []string, path string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RunVerify runs the slice's verify commands (or the profile's, if the
// slice does not override them) and records their outcomes.
func (c *Checker) RunVerify(ctx context.Context, slice domain.Slice, workDir, logDir string) (Result, error) {
	cmds := c.resolveCommands(slice, domain.GateVerify)

	outcomes := runner.RunAll(ctx, toRunnerCommands(cmds, workDir), c.policy(), logDir, false)
	executed := len(outcomes)
	passed := executed > 0 && runner.AllExitedZero(outcomes)

	details := map[string]any{
		"commands":       outcomes,
		"executed_count": executed,
	}

	if executed == 0 {
		return c.writeProof(slice.SliceID, domain.GateVerify, false, details,
			domain.IncidentVerifyConfigMissing, "no verify commands resolved for slice")
	}
	if !passed {
		return c.writeProof(slice.SliceID, domain.GateVerify, false, details,
			domain.IncidentVerifyFail, "one or more verify commands exited non-zero")
	}
	return c.writeProof(slice.SliceID, domain.GateVerify, true, details, "", "")
}

// RunE2E runs the slice's verify_commands as its e2e commands the same way
// verify does (the profile supplies no e2e commands). The caller runs it only
// when the slice or the merged profile marks e2e required.
func (c *Checker) RunE2E(ctx context.Context, slice domain.Slice, workDir, logDir string) (Result, error) {
	cmds := c.resolveCommands(slice, domain.GateE2E)

	outcomes := runner.RunAll(ctx, toRunnerCommands(cmds, workDir), c.policy(), logDir, false)
	executed := len(outcomes)
	passed := executed > 0 && runner.AllExitedZero(outcomes)

	details := map[string]any{
		"commands":       outcomes,
		"executed_count": executed,
	}

	if executed == 0 {
		return c.writeProof(slice.SliceID, domain.GateE2E, false, details,
			domain.IncidentE2EMissing, "no e2e commands resolved for slice")
	}
	if !passed {
		return c.writeProof(slice.SliceID, domain.GateE2E, false, details,
			domain.IncidentE2EFail, "one or more e2e commands exited non-zero")
	}
	return c.writeProof(slice.SliceID, domain.GateE2E, true, details, "", "")
}

// ReviewInput is the executor-recorded review summary for a slice, per
// spec.md §4.3.
type ReviewInput struct {
	P0      int    `json:"p0"`
	P1      int    `json:"p1"`
	P2      int    `json:"p2"`
	P3      int    `json:"p3"`
	Summary string `json:"summary"`
}

// RunReview checks that a slice carries no P0/P1 findings.
func (c *Checker) RunReview(slice domain.Slice, input ReviewInput) (Result, error) {
	passed := input.P0 == 0 && input.P1 == 0
	details := map[string]any{
		"p0": input.P0, "p1": input.P1, "p2": input.P2, "p3": input.P3,
		"summary": input.Summary,
	}
	if passed {
		return c.writeProof(slice.SliceID, domain.GateReview, true, details, "", "")
	}
	return c.writeProof(slice.SliceID, domain.GateReview, false, details,
		domain.IncidentReviewFail, fmt.Sprintf("review found p0=%d p1=%d", input.P0, input.P1))
}

// resolveCommands returns the slice's own verify_commands if present, for
// any gate. Only the verify gate falls back to the merged profile's
// commands; for other gates an empty slice list resolves to nothing.
func (c *Checker) resolveCommands(slice domain.Slice, g domain.RequiredGate) []domain.VerifyCommandRef {
	if len(slice.VerifyCommands) > 0 {
		return slice.VerifyCommands
	}
	if g != domain.GateVerify || c.Profile == nil {
		return nil
	}
	out := make([]domain.VerifyCommandRef, 0, len(c.Profile.VerifyCommands))
	for _, cmd := range c.Profile.VerifyCommands {
		out = append(out, domain.VerifyCommandRef{Name: cmd.Name, Argv: cmd.Argv, Timeout: cmd.TimeoutSec})
	}
	return out
}

func toRunnerCommands(refs []domain.VerifyCommandRef, workDir string) []runner.Command {
	out := make([]runner.Command, 0, len(refs))
	for _, ref := range refs {
		timeout := time.Duration(ref.Timeout) * time.Second
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		out = append(out, runner.Command{Name: ref.Name, Argv: ref.Argv, Dir: workDir, Timeout: timeout})
	}
	return out
}

// writeProof records a proof file at the standard path for (slice, gate)
// and returns the Result the caller uses to decide whether to advance.
func (c *Checker) writeProof(sliceID string, g domain.RequiredGate, passed bool, details map[string]any, kind domain.IncidentKind, notes string) (Result, error) {
	p := domain.Proof{
		TaskID:    c.TaskID,
		SliceID:   sliceID,
		Gate:      g,
		Passed:    passed,
		CheckedAt: time.Now().UTC(),
		Details:   details,
	}
	path := c.Root.SliceProofFilePath(c.ModulePath, c.TaskID, sliceID, string(g))
	if err := pathio.AtomicWriteJSON(path, p); err != nil {
		return Result{}, fmt.Errorf("gate: write proof: %w", err)
	}
	return Result{Gate: g, Passed: passed, Proof: p, IncidentKind: kind, IncidentNotes: notes}, nil
}

// WriteManifest writes the proof-pack manifest listing every proof path
// for a slice once all of its required gates have passed, per spec.md
// §4.3's "on success the manifest is written last".
func (c *Checker) WriteManifest(slice domain.Slice) (domain.Manifest, error) {
	paths := make([]string, 0, len(slice.RequiredGates))
	for _, g := range slice.RequiredGates {
		paths = append(paths, c.Root.SliceProofFilePath(c.ModulePath, c.TaskID, slice.SliceID, string(g)))
	}
	m := domain.Manifest{
		TaskID:     c.TaskID,
		SliceID:    slice.SliceID,
		ProofPaths: paths,
		CreatedAt:  time.Now().UTC(),
	}
	path := c.Root.SliceProofFilePath(c.ModulePath, c.TaskID, slice.SliceID, "manifest")
	if err := pathio.AtomicWriteJSON(path, m); err != nil {
		return domain.Manifest{}, fmt.Errorf("gate: write manifest: %w", err)
	}
	return m, nil
}

// ReadProof reads back a previously written proof file for (slice, gate).
func ReadProof(root pathio.Root, modulePath, taskID, sliceID, gate string) (domain.Proof, error) {
	path := root.SliceProofFilePath(modulePath, taskID, sliceID, gate)
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Proof{}, fmt.Errorf("gate: read %s: %w", path, err)
	}
	var p domain.Proof
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Proof{}, fmt.Errorf("gate: parse proof %s: %w", path, err)
	}
	return p, nil
}
