package domain

import "fmt"

var knownGates = map[RequiredGate]bool{
	GateScope: true, GateVerify: true, GateReview: true, GateE2E: true,
}

// IsKnownGate reports whether g is a member of the closed gate enum.
func IsKnownGate(g RequiredGate) bool { return knownGates[g] }

// ValidateSlices performs the structural checks spec.md §4.2/§4.7 require
// of a slices.json payload before a task can freeze: unique ids, non-empty
// allowed_paths, known gates, deps that resolve to real sibling slices with
// no self-reference and no cycle.
func ValidateSlices(slices []Slice) error {
	seen := make(map[string]bool, len(slices))
	for _, s := range slices {
		if !IsValidSliceID(s.SliceID) {
			return fmt.Errorf("slice %q: %w", s.SliceID, ErrInvalidSliceID)
		}
		if seen[s.SliceID] {
			return fmt.Errorf("slice %q: %w", s.SliceID, ErrDuplicateSliceID)
		}
		seen[s.SliceID] = true
	}

	for _, s := range slices {
		if len(s.AllowedPaths) == 0 {
			return fmt.Errorf("slice %q: %w", s.SliceID, ErrEmptyAllowedPaths)
		}
		if len(s.RequiredGates) == 0 {
			return fmt.Errorf("slice %q: %w", s.SliceID, ErrEmptyRequiredGates)
		}
		for _, g := range s.RequiredGates {
			if !IsKnownGate(g) {
				return fmt.Errorf("slice %q: gate %q: %w", s.SliceID, g, ErrUnknownGate)
			}
		}
		for _, dep := range s.Deps {
			if dep == s.SliceID {
				return fmt.Errorf("slice %q: %w", s.SliceID, ErrSelfDependency)
			}
			if !seen[dep] {
				return fmt.Errorf("slice %q: dep %q: %w", s.SliceID, dep, ErrUnknownSliceDep)
			}
		}
	}

	return checkAcyclic(slices)
}

// checkAcyclic walks the dependency graph with a standard three-color DFS,
// reporting the first cycle found.
func checkAcyclic(slices []Slice) error {
	byID := make(map[string]Slice, len(slices))
	for _, s := range slices {
		byID[s.SliceID] = s
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(slices))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("slice %q: %w", id, ErrCyclicDependency)
		}
		color[id] = gray
		for _, dep := range byID[id].Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range slices {
		if err := visit(s.SliceID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEvent checks the envelope shape invariants that do not depend on
// log position: known type, required identity fields present.
func ValidateEvent(e Event) error {
	if !IsKnownEventType(e.Type) {
		return fmt.Errorf("event type %q: %w", e.Type, ErrUnknownEventType)
	}
	if e.Actor == "" {
		return fmt.Errorf("event %s: actor is required", e.ID)
	}
	return nil
}
