package domain

import "errors"

// Sentinel errors returned by structural validation helpers in this
// package. Callers match with errors.Is; package boundaries above
// domain wrap these with %w where richer context (task/slice ids) is
// available.
var (
	ErrInvalidMissionID   = errors.New("domain: invalid mission id")
	ErrInvalidTaskID      = errors.New("domain: invalid task id")
	ErrInvalidSliceID     = errors.New("domain: invalid slice id")
	ErrUnknownEventType   = errors.New("domain: unknown event type")
	ErrEmptyAllowedPaths  = errors.New("domain: slice has no allowed_paths")
	ErrDuplicateSliceID   = errors.New("domain: duplicate slice id")
	ErrUnknownSliceDep    = errors.New("domain: slice dependency references unknown slice id")
	ErrSelfDependency     = errors.New("domain: slice depends on itself")
	ErrCyclicDependency   = errors.New("domain: cyclic slice dependency")
	ErrEmptyRequiredGates = errors.New("domain: slice has no required_gates")
	ErrUnknownGate        = errors.New("domain: unrecognized gate name")
)
