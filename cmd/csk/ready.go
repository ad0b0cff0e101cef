package main

import (
	"github.com/spf13/cobra"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Ready gate: validate and approve",
}

var gateValidateReadyCmd = &cobra.Command{
	Use:   "validate-ready",
	Short: "Check every slice is done and write the handoff",
	Long: `Verify all of a task's slices are done, write proofs/ready.json and
READY/handoff.md, and advance the task to ready_validated, per spec.md §4.4.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		taskID, _ := cmd.Flags().GetString("task-id")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.ValidateReady(actor, moduleID, modulePath, taskID)
		render(env, false, false)
		return nil
	},
}

var gateApproveReadyCmd = &cobra.Command{
	Use:   "approve-ready",
	Short: "Record human ready approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		taskID, _ := cmd.Flags().GetString("task-id")
		approvedBy, _ := cmd.Flags().GetString("approved-by")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.ApproveReady(actor, moduleID, modulePath, taskID, approvedBy)
		render(env, false, false)
		return nil
	},
}

func init() {
	addTaskIdentityFlags(gateValidateReadyCmd)
	addTaskIdentityFlags(gateApproveReadyCmd)
	gateApproveReadyCmd.Flags().String("approved-by", "", "Identity of the human approver (required)")
	_ = gateApproveReadyCmd.MarkFlagRequired("approved-by")

	gateCmd.AddCommand(gateValidateReadyCmd, gateApproveReadyCmd)
	rootCmd.AddCommand(gateCmd)
}
