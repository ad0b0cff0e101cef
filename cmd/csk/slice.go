package main

import (
	"context"

	"github.com/spf13/cobra"
)

var sliceCmd = &cobra.Command{
	Use:   "slice",
	Short: "Run the next runnable slice",
}

var sliceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the next runnable slice through its required gates",
	Long: `Pick the next topologically-ready, not-yet-done slice and run it through
scope, verify, review, and e2e in order, stopping at the first failing gate,
per spec.md §4.3/§4.4.

--changed-file lists the paths this slice's implementation touched, checked
against the slice's allowed_paths/forbidden_paths by the scope gate.
--review-approved marks the review gate as passed (a human or upstream
reviewer has signed off on the slice's diff).
--implement-argv, given at least once, runs that argv as the slice's
implement step before any gate: a failing exit code is recorded as an
implement_fail incident and the slice is not gated. Omit it entirely when
the implementation already happened out-of-band.

Examples:
  csk slice run --module-id api --module-path services/api --task-id T-0001 \
    --changed-file services/api/handler.go --review-approved \
    --work-dir . --log-dir .csk/modules/services-api/run/tasks/T-0001/logs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		taskID, _ := cmd.Flags().GetString("task-id")
		changedFiles, _ := cmd.Flags().GetStringArray("changed-file")
		reviewApproved, _ := cmd.Flags().GetBool("review-approved")
		implementArgv, _ := cmd.Flags().GetStringArray("implement-argv")
		workDir, _ := cmd.Flags().GetString("work-dir")
		logDir, _ := cmd.Flags().GetString("log-dir")

		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.RunSlice(context.Background(), actor, moduleID, modulePath, taskID, changedFiles, reviewApproved, implementArgv, workDir, logDir)
		render(env, false, false)
		return nil
	},
}

func init() {
	addTaskIdentityFlags(sliceRunCmd)
	sliceRunCmd.Flags().StringArray("changed-file", nil, "Path changed by this slice's implementation (repeatable)")
	sliceRunCmd.Flags().Bool("review-approved", false, "Mark the review gate as passed for this run")
	sliceRunCmd.Flags().StringArray("implement-argv", nil, "Implement command element (repeatable, in order) run before gates")
	sliceRunCmd.Flags().String("work-dir", ".", "Working directory verify/e2e commands run in")
	sliceRunCmd.Flags().String("log-dir", ".", "Directory gate command output logs are written to")

	sliceCmd.AddCommand(sliceRunCmd)
	rootCmd.AddCommand(sliceCmd)
}
