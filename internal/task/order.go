package task

import (
	"fmt"
	"sort"

	"github.com/csk-dev/csk/internal/domain"
)

// ErrCycle is returned by TopoOrder when the slice dependency graph
// contains a cycle; RunCritic should normally catch this first, so
// reaching TopoOrder with a cyclic graph indicates a caller skipped it.
var ErrCycle = fmt.Errorf("task: cyclic slice dependency graph")

// TopoOrder returns slices in dependency order: a slice never precedes
// any slice it depends on. Ties (slices with no remaining ordering
// constraint between them) are broken lexically by slice id, so the
// order is deterministic across runs.
func TopoOrder(slices []domain.Slice) ([]domain.Slice, error) {
	byID := make(map[string]domain.Slice, len(slices))
	indegree := make(map[string]int, len(slices))
	dependents := make(map[string][]string, len(slices))

	for _, s := range slices {
		byID[s.SliceID] = s
		if _, ok := indegree[s.SliceID]; !ok {
			indegree[s.SliceID] = 0
		}
	}
	for _, s := range slices {
		for _, dep := range s.Deps {
			indegree[s.SliceID]++
			dependents[dep] = append(dependents[dep], s.SliceID)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]domain.Slice, 0, len(slices))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])

		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(ordered) != len(slices) {
		return nil, ErrCycle
	}
	return ordered, nil
}

// ActiveSlice returns the first not-done slice (in TopoOrder) whose
// dependencies are all done, or (domain.Slice{}, false) when none
// qualifies — either every slice is done, or every remaining slice is
// blocked on an unfinished dependency.
func ActiveSlice(slices []domain.Slice) (domain.Slice, bool) {
	ordered, err := TopoOrder(slices)
	if err != nil {
		return domain.Slice{}, false
	}

	done := make(map[string]bool, len(ordered))
	for _, s := range ordered {
		if s.Status == domain.SliceStatusDone {
			done[s.SliceID] = true
		}
	}

	for _, s := range ordered {
		if s.Status == domain.SliceStatusDone {
			continue
		}
		ready := true
		for _, dep := range s.Deps {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return s, true
		}
	}
	return domain.Slice{}, false
}
