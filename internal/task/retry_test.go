package task

import (
	"testing"

	"github.com/csk-dev/csk/internal/domain"
)

func TestRecordAttemptFailureBelowBudget(t *testing.T) {
	slice := domain.Slice{SliceID: "S-0001", Status: domain.SliceStatusRunning}
	out := RecordAttemptFailure(slice, DefaultMaxAttempts)
	if out.BudgetExceeded {
		t.Fatal("expected first failed attempt to stay within budget")
	}
	if out.Slice.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", out.Slice.Attempts)
	}
	if out.Slice.Status == domain.SliceStatusFailed {
		t.Fatal("slice should not be marked failed before budget exhausted")
	}
}

func TestRecordAttemptFailureExhaustsBudget(t *testing.T) {
	slice := domain.Slice{SliceID: "S-0001", Attempts: 1, Status: domain.SliceStatusRunning}
	out := RecordAttemptFailure(slice, DefaultMaxAttempts)
	if !out.BudgetExceeded {
		t.Fatal("expected second failed attempt to exceed the default budget of 2")
	}
	if out.Slice.Status != domain.SliceStatusFailed {
		t.Fatalf("Status = %s, want failed", out.Slice.Status)
	}
}

func TestRecordAttemptFailureDefaultsWhenMaxAttemptsUnset(t *testing.T) {
	slice := domain.Slice{SliceID: "S-0001", Attempts: 1}
	out := RecordAttemptFailure(slice, 0)
	if !out.BudgetExceeded {
		t.Fatal("expected maxAttempts<=0 to fall back to DefaultMaxAttempts")
	}
}
