// Package profile loads and merges verify/review/e2e execution profiles:
// an engine-owned default layer and a local override layer, field-by-field
// for scalars and wholesale-replace for the verify command list.
package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/csk-dev/csk/internal/pathio"
)

// CommandSpec is one named, argv-form command a gate may run.
type CommandSpec struct {
	Name       string   `yaml:"name" json:"name"`
	Argv       []string `yaml:"argv" json:"argv"`
	Cwd        string   `yaml:"cwd" json:"cwd"` // "worktree" or "repo"
	TimeoutSec int      `yaml:"timeout_sec" json:"timeout_sec"`
}

// Profile is the merged execution profile for a task, matching spec.md
// §6's profile file format.
type Profile struct {
	VerifyCommands    []CommandSpec `yaml:"verify_commands" json:"verify_commands"`
	Allowlist         []string      `yaml:"allowlist" json:"allowlist"`
	Denylist          []string      `yaml:"denylist" json:"denylist"`
	UserCheckRequired bool          `yaml:"user_check_required" json:"user_check_required"`
	E2ERequiredByDefault bool       `yaml:"e2e_required_default" json:"e2e_required_default"`

	verifyCommandsSet bool
}

// Source identifies which layer produced a resolved field.
type Source string

const (
	SourceDefault Source = "engine_default"
	SourceEngine  Source = "engine_profile"
	SourceLocal   Source = "local_profile"
)

// DefaultDenylist is applied when no profile overrides it, matching
// spec.md §4.3's "defaults deny rm, sudo, curl, wget".
func DefaultDenylist() []string { return []string{"rm", "sudo", "curl", "wget"} }

// Default returns the built-in engine profile used when no profile file
// exists on disk yet.
func Default() *Profile {
	return &Profile{
		VerifyCommands:       nil,
		Allowlist:            nil,
		Denylist:             DefaultDenylist(),
		UserCheckRequired:    false,
		E2ERequiredByDefault: false,
	}
}

// Load resolves the named profile for root: engine default profile
// (.csk/engine/profiles/<name>.yaml) merged with any local override
// (.csk/local/profiles/<name>.yaml). Missing files at either layer are not
// errors; an entirely absent profile falls back to Default().
func Load(root pathio.Root, name string) (*Profile, error) {
	merged := Default()

	enginePath := engineProfilePath(root, name)
	if p, err := loadFromPath(enginePath); err != nil {
		return nil, err
	} else if p != nil {
		merged = merge(merged, p)
	}

	localPath := localProfilePath(root, name)
	if p, err := loadFromPath(localPath); err != nil {
		return nil, err
	} else if p != nil {
		merged = merge(merged, p)
	}

	return merged, nil
}

func engineProfilePath(root pathio.Root, name string) string {
	return filepath.Join(root.EngineProfilesPath(), name+".yaml")
}

func localProfilePath(root pathio.Root, name string) string {
	return filepath.Join(root.LocalProfilesPath(), name+".yaml")
}

func loadFromPath(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: parse %s: %w", path, err)
	}
	p.verifyCommandsSet = len(p.VerifyCommands) > 0
	return &p, nil
}

// merge applies src over dst: scalars win when set, verify_commands
// replaces wholesale when src defines any, matching spec.md §6's stated
// merge semantics.
func merge(dst, src *Profile) *Profile {
	if src.verifyCommandsSet {
		dst.VerifyCommands = src.VerifyCommands
	}
	if len(src.Allowlist) > 0 {
		dst.Allowlist = src.Allowlist
	}
	if len(src.Denylist) > 0 {
		dst.Denylist = src.Denylist
	}
	dst.UserCheckRequired = dst.UserCheckRequired || src.UserCheckRequired
	dst.E2ERequiredByDefault = dst.E2ERequiredByDefault || src.E2ERequiredByDefault
	return dst
}

// Save writes p as the local override profile.
func Save(root pathio.Root, name string, p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: marshal: %w", err)
	}
	return pathio.AtomicWrite(localProfilePath(root, name), data)
}

// Resolved mirrors one field's value alongside which layer produced it,
// for the config-provenance diagnostic.
type Resolved struct {
	Value  any    `json:"value"`
	Source Source `json:"source"`
}

// ResolvedProfile reports provenance for every scalar field of a merged
// profile, the way the teacher's config.Resolve does for its flat config.
type ResolvedProfile struct {
	UserCheckRequired    Resolved `json:"user_check_required"`
	E2ERequiredByDefault Resolved `json:"e2e_required_default"`
	VerifyCommandsSource Source   `json:"verify_commands_source"`
	DenylistSource       Source   `json:"denylist_source"`
}

// Resolve loads name the same way Load does but also reports, per field,
// which layer (default/engine/local) produced the final value.
func Resolve(root pathio.Root, name string) (*ResolvedProfile, error) {
	rc := &ResolvedProfile{
		UserCheckRequired:    Resolved{Value: false, Source: SourceDefault},
		E2ERequiredByDefault: Resolved{Value: false, Source: SourceDefault},
		VerifyCommandsSource: SourceDefault,
		DenylistSource:       SourceDefault,
	}

	enginePath := engineProfilePath(root, name)
	if p, err := loadFromPath(enginePath); err != nil {
		return nil, err
	} else if p != nil {
		applyResolved(rc, p, SourceEngine)
	}

	localPath := localProfilePath(root, name)
	if p, err := loadFromPath(localPath); err != nil {
		return nil, err
	} else if p != nil {
		applyResolved(rc, p, SourceLocal)
	}

	return rc, nil
}

func applyResolved(rc *ResolvedProfile, p *Profile, src Source) {
	if p.UserCheckRequired {
		rc.UserCheckRequired = Resolved{Value: true, Source: src}
	}
	if p.E2ERequiredByDefault {
		rc.E2ERequiredByDefault = Resolved{Value: true, Source: src}
	}
	if p.verifyCommandsSet {
		rc.VerifyCommandsSource = src
	}
	if len(p.Denylist) > 0 {
		rc.DenylistSource = src
	}
}
