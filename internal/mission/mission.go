// Package mission creates and routes multi-module missions: it persists
// the mission's spec text, module routing, milestone status, and
// module->worktree mapping, and owns the thin git-worktree wrapper that
// materializes a module's isolated working copy (spec.md §2's "mission
// orchestrator" — it records the mapping and consumes workdir paths, it
// does not otherwise implement version control).
package mission

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

// NextMissionID scans .csk/app/missions for existing mission directories
// and returns the next dense M-#### identifier.
func NextMissionID(root pathio.Root) (string, error) {
	entries, err := os.ReadDir(root.MissionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.FormatMissionID(1), nil
		}
		return "", fmt.Errorf("mission: list missions: %w", err)
	}
	return domain.FormatMissionID(len(entries) + 1), nil
}

// Create materializes a new mission: it assigns an id, records the
// routing as milestone 1 (active; later milestones are only
// materialized on demand, per spec.md §3's "only milestone-1 is
// detailed"), and writes spec.md/routing.json/milestones.json/
// worktrees.json atomically.
func Create(root pathio.Root, specText string, routing []string, now time.Time) (domain.Mission, error) {
	id, err := NextMissionID(root)
	if err != nil {
		return domain.Mission{}, err
	}

	m := domain.Mission{
		MissionID: id,
		SpecText:  specText,
		Routing:   routing,
		Milestones: []domain.Milestone{
			{ID: domain.FormatMilestoneID(1), Modules: routing, Status: domain.MilestoneActive},
		},
		Worktrees: map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := write(root, m); err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

func write(root pathio.Root, m domain.Mission) error {
	if err := pathio.AtomicWrite(root.MissionSpecPath(m.MissionID), []byte(m.SpecText)); err != nil {
		return fmt.Errorf("mission: write spec: %w", err)
	}
	if err := pathio.AtomicWriteJSON(root.MissionRoutingPath(m.MissionID), struct {
		Routing []string `json:"routing"`
	}{m.Routing}); err != nil {
		return fmt.Errorf("mission: write routing: %w", err)
	}
	if err := pathio.AtomicWriteJSON(root.MissionMilestonesPath(m.MissionID), struct {
		Milestones []domain.Milestone `json:"milestones"`
	}{m.Milestones}); err != nil {
		return fmt.Errorf("mission: write milestones: %w", err)
	}
	if err := pathio.AtomicWriteJSON(root.MissionWorktreesPath(m.MissionID), struct {
		Worktrees map[string]string `json:"worktrees"`
	}{m.Worktrees}); err != nil {
		return fmt.Errorf("mission: write worktrees: %w", err)
	}
	return nil
}

// Load reassembles a mission from its four on-disk files.
func Load(root pathio.Root, missionID string) (domain.Mission, error) {
	specBytes, err := os.ReadFile(root.MissionSpecPath(missionID))
	if err != nil {
		return domain.Mission{}, fmt.Errorf("%w: %s", ErrUnknownMission, missionID)
	}

	var routing struct {
		Routing []string `json:"routing"`
	}
	if err := readJSON(root.MissionRoutingPath(missionID), &routing); err != nil {
		return domain.Mission{}, err
	}
	var milestones struct {
		Milestones []domain.Milestone `json:"milestones"`
	}
	if err := readJSON(root.MissionMilestonesPath(missionID), &milestones); err != nil {
		return domain.Mission{}, err
	}
	var worktrees struct {
		Worktrees map[string]string `json:"worktrees"`
	}
	if err := readJSON(root.MissionWorktreesPath(missionID), &worktrees); err != nil {
		return domain.Mission{}, err
	}

	return domain.Mission{
		MissionID:  missionID,
		SpecText:   string(specBytes),
		Routing:    routing.Routing,
		Milestones: milestones.Milestones,
		Worktrees:  worktrees.Worktrees,
	}, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("mission: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("mission: parse %s: %w", path, err)
	}
	return nil
}

// ActivateMilestone flips a milestone's status to active and persists the
// updated milestones.json, materializing the next wave of module routing.
func ActivateMilestone(root pathio.Root, missionID, milestoneID string, now time.Time) (domain.Milestone, error) {
	m, err := Load(root, missionID)
	if err != nil {
		return domain.Milestone{}, err
	}

	for i := range m.Milestones {
		if m.Milestones[i].ID == milestoneID {
			m.Milestones[i].Status = domain.MilestoneActive
			m.UpdatedAt = now
			if err := pathio.AtomicWriteJSON(root.MissionMilestonesPath(missionID), struct {
				Milestones []domain.Milestone `json:"milestones"`
			}{m.Milestones}); err != nil {
				return domain.Milestone{}, fmt.Errorf("mission: activate milestone: %w", err)
			}
			return m.Milestones[i], nil
		}
	}
	return domain.Milestone{}, fmt.Errorf("%s: %w", milestoneID, ErrUnknownMilestone)
}

// RecordWorktree persists a module's resolved workdir path in the
// mission's worktrees map. The kernel never infers this path itself; it
// is handed the path CreateWorktree (or an external collaborator)
// produced, consistent with spec.md's "kernel records the mapping"
// framing of worktree creation.
func RecordWorktree(root pathio.Root, missionID, moduleID, worktreePath string, now time.Time) error {
	m, err := Load(root, missionID)
	if err != nil {
		return err
	}
	if m.Worktrees == nil {
		m.Worktrees = map[string]string{}
	}
	m.Worktrees[moduleID] = worktreePath
	m.UpdatedAt = now

	return pathio.AtomicWriteJSON(root.MissionWorktreesPath(missionID), struct {
		Worktrees map[string]string `json:"worktrees"`
	}{m.Worktrees})
}
