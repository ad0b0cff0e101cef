// Package task implements the task/slice lifecycle state machine: legal
// transitions, the structural critic, freeze/drift detection, retry
// budget enforcement, and dependency-respecting slice ordering.
package task

import (
	"fmt"

	"github.com/csk-dev/csk/internal/domain"
)

// ErrInvalidTransition is returned when a requested status change is not a
// legal edge in the lifecycle graph.
var ErrInvalidTransition = fmt.Errorf("task: invalid transition")

// transitions is the closed, total-order lifecycle graph from spec.md
// §4.2, plus the blocked side branch (executing can fall back to blocked,
// and blocked can only proceed to retro_done) and the rollback edges from
// frozen, plan_approved, executing and ready_validated back to
// critic_passed.
var transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.StatusDraft:          {domain.StatusCriticPassed},
	domain.StatusCriticPassed:   {domain.StatusFrozen},
	domain.StatusFrozen:         {domain.StatusPlanApproved, domain.StatusCriticPassed},
	domain.StatusPlanApproved:   {domain.StatusExecuting, domain.StatusCriticPassed},
	domain.StatusExecuting:      {domain.StatusReadyValidated, domain.StatusBlocked, domain.StatusCriticPassed},
	domain.StatusBlocked:        {domain.StatusRetroDone},
	domain.StatusReadyValidated: {domain.StatusReadyApproved, domain.StatusCriticPassed},
	domain.StatusReadyApproved:  {domain.StatusRetroDone},
	domain.StatusRetroDone:      {domain.StatusClosed},
	domain.StatusClosed:         {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the destination status, or
// ErrInvalidTransition wrapped with the attempted edge.
func Transition(from, to domain.TaskStatus) (domain.TaskStatus, error) {
	if !CanTransition(from, to) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// DefaultMaxAttempts is the retry budget spec.md §4.2 names as the
// default: two attempts per slice before the task blocks.
const DefaultMaxAttempts = 2
