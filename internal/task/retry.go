package task

import "github.com/csk-dev/csk/internal/domain"

// RetryOutcome is the effect of recording one failed slice attempt
// against its retry budget.
type RetryOutcome struct {
	Slice          domain.Slice
	BudgetExceeded bool
}

// RecordAttemptFailure increments a slice's attempt counter after a
// failed gate run. When attempts reaches maxAttempts (DefaultMaxAttempts
// if maxAttempts <= 0), the slice is marked failed and BudgetExceeded
// reports true so the caller can transition the owning task to blocked
// and log a token_waste incident, per spec.md §4.2.
func RecordAttemptFailure(slice domain.Slice, maxAttempts int) RetryOutcome {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	slice.Attempts++
	if slice.Attempts >= maxAttempts {
		slice.Status = domain.SliceStatusFailed
		return RetryOutcome{Slice: slice, BudgetExceeded: true}
	}
	return RetryOutcome{Slice: slice, BudgetExceeded: false}
}
