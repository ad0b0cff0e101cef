package mission

import "errors"

// Sentinel errors for the mission package. Using sentinels instead of
// ad-hoc fmt.Errorf allows callers to match with errors.Is.
var (
	// ErrDetachedHEAD names the case of a worktree operation that needs a
	// named branch while the repository is in detached HEAD state; no
	// function in this package checks for that state or returns it.
	ErrDetachedHEAD = errors.New("detached HEAD: worktree requires a named branch")

	// ErrNotGitRepo is returned when a worktree is requested outside a git
	// repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrResolveHEAD is returned when HEAD commit cannot be resolved.
	ErrResolveHEAD = errors.New("unable to resolve HEAD commit for worktree creation")

	// ErrWorktreeExists is returned when the deterministic worktree path
	// for (mission, module) is already occupied by a git worktree.
	ErrWorktreeExists = errors.New("worktree path already exists")

	// ErrRepoUnclean is returned when the repository still has
	// uncommitted changes after retrying, blocking a merge-back.
	ErrRepoUnclean = errors.New("repo has uncommitted changes: commit or stash before merge")

	// ErrUnknownMission is returned when a mission ID has no on-disk
	// record.
	ErrUnknownMission = errors.New("mission: unknown mission id")

	// ErrUnknownMilestone is returned when a milestone ID has no entry
	// in a mission's milestones.
	ErrUnknownMilestone = errors.New("mission: unknown milestone id")
)
