// Package domain defines the entity records, closed enums, and structural
// validation rules that make up the workflow kernel's data model: Registry,
// Mission, Task, Slice, Proof, Freeze, Approval, Incident, and Event.
package domain

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	missionIDPattern   = regexp.MustCompile(`^M-\d{4}$`)
	milestoneIDPattern = regexp.MustCompile(`^MS-\d+$`)
	taskIDPattern      = regexp.MustCompile(`^T-\d{4}$`)
	sliceIDPattern     = regexp.MustCompile(`^S-\d{4}$`)
)

// IsValidMissionID reports whether id matches the M-#### mission identifier shape.
func IsValidMissionID(id string) bool { return missionIDPattern.MatchString(id) }

// IsValidMilestoneID reports whether id matches the MS-# milestone identifier shape.
func IsValidMilestoneID(id string) bool { return milestoneIDPattern.MatchString(id) }

// IsValidTaskID reports whether id matches the T-#### task identifier shape.
func IsValidTaskID(id string) bool { return taskIDPattern.MatchString(id) }

// IsValidSliceID reports whether id matches the S-#### slice identifier shape.
func IsValidSliceID(id string) bool { return sliceIDPattern.MatchString(id) }

// FormatTaskID renders the dense T-#### form for a 1-based sequence number.
func FormatTaskID(n int) string { return fmt.Sprintf("T-%04d", n) }

// FormatSliceID renders the dense S-#### form for a 1-based sequence number.
func FormatSliceID(n int) string { return fmt.Sprintf("S-%04d", n) }

// FormatMissionID renders the dense M-#### form for a 1-based sequence number.
func FormatMissionID(n int) string { return fmt.Sprintf("M-%04d", n) }

// FormatMilestoneID renders the MS-# form for a 1-based sequence number.
func FormatMilestoneID(n int) string { return fmt.Sprintf("MS-%d", n) }

// NewIncidentID returns a new INC-<uuid> identifier.
func NewIncidentID() string { return "INC-" + uuid.NewString() }

// NewRevisionID returns a new R-<uuid> identifier.
func NewRevisionID() string { return "R-" + uuid.NewString() }

// NewEventID returns a new random event envelope identifier.
func NewEventID() string { return uuid.NewString() }
