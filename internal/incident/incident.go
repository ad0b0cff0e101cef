// Package incident appends structured deviation records to the
// project-wide incident stream and lets callers query them by task,
// slice, or kind — the mandatory input to the retro stage (spec.md §9).
package incident

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/csk-dev/csk/internal/domain"
	"github.com/csk-dev/csk/internal/pathio"
)

// Log is the append-only incident stream rooted at
// .csk/app/incidents.jsonl.
type Log struct {
	root pathio.Root
}

// Open returns a Log bound to root's incidents file.
func Open(root pathio.Root) *Log { return &Log{root: root} }

// Append assigns an id (if unset) and appends one incident record.
func (l *Log) Append(inc domain.Incident) (domain.Incident, error) {
	if inc.ID == "" {
		inc.ID = domain.NewIncidentID()
	}

	path := l.root.IncidentsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.Incident{}, fmt.Errorf("incident: create directory: %w", err)
	}

	data, err := json.Marshal(inc)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("incident: marshal: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("incident: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return domain.Incident{}, fmt.Errorf("incident: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return domain.Incident{}, fmt.Errorf("incident: sync %s: %w", path, err)
	}
	return inc, nil
}

// ReadAll loads every incident ever recorded, in append order.
func (l *Log) ReadAll() ([]domain.Incident, error) {
	f, err := os.Open(l.root.IncidentsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("incident: open: %w", err)
	}
	defer f.Close()

	var out []domain.Incident
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var inc domain.Incident
		if err := json.Unmarshal(line, &inc); err != nil {
			return nil, fmt.Errorf("incident: parse line: %w", err)
		}
		out = append(out, inc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("incident: scan: %w", err)
	}
	return out, nil
}

// ForTask returns every incident recorded against taskID, in append order.
func (l *Log) ForTask(taskID string) ([]domain.Incident, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []domain.Incident
	for _, inc := range all {
		if inc.TaskID == taskID {
			out = append(out, inc)
		}
	}
	return out, nil
}

// ForSlice returns every incident recorded against sliceID, in append order.
func (l *Log) ForSlice(sliceID string) ([]domain.Incident, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []domain.Incident
	for _, inc := range all {
		if inc.SliceID == sliceID {
			out = append(out, inc)
		}
	}
	return out, nil
}

// CountByKind tallies incidents per kind across the whole stream, used by
// the status projector for its project-wide incident counters.
func (l *Log) CountByKind() (map[domain.IncidentKind]int, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.IncidentKind]int)
	for _, inc := range all {
		counts[inc.Kind]++
	}
	return counts, nil
}
