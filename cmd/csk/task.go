package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/csk-dev/csk/internal/domain"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage task lifecycle: new, critic, freeze, approve-plan",
}

var taskNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a draft task and run the structural critic inline",
	Long: `Materialize task.json, plan.md, and slices.json for a new task, then run
the structural critic immediately, per spec.md §4.2.

--slices-file must point at a JSON document shaped {"slices": [...]} whose
entries follow the domain.Slice schema (slice_id, goal, allowed_paths,
required_gates, verify_commands, acceptance, deps).

Examples:
  csk task new --module-id api --module-path services/api \
    --plan-file plan.md --slices-file slices.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		profileName, _ := cmd.Flags().GetString("profile")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		planFile, _ := cmd.Flags().GetString("plan-file")
		slicesFile, _ := cmd.Flags().GetString("slices-file")

		planMD, err := os.ReadFile(planFile)
		if err != nil {
			return fmt.Errorf("read plan file: %w", err)
		}
		slicesData, err := os.ReadFile(slicesFile)
		if err != nil {
			return fmt.Errorf("read slices file: %w", err)
		}
		var sf domain.SlicesFile
		if err := json.Unmarshal(slicesData, &sf); err != nil {
			return fmt.Errorf("parse slices file: %w", err)
		}

		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.NewTask(actor, moduleID, modulePath, profileName, maxAttempts, string(planMD), sf.Slices)
		render(env, false, false)
		return nil
	},
}

var taskCriticCmd = &cobra.Command{
	Use:   "critic",
	Short: "Re-run the structural critic over a task's current slices",
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		taskID, _ := cmd.Flags().GetString("task-id")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.Critic(actor, moduleID, modulePath, taskID)
		render(env, false, false)
		return nil
	},
}

var taskFreezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Hash-pin a critic-passed task's plan.md and slices.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		taskID, _ := cmd.Flags().GetString("task-id")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.Freeze(actor, moduleID, modulePath, taskID)
		render(env, false, false)
		return nil
	},
}

var taskApprovePlanCmd = &cobra.Command{
	Use:   "approve-plan",
	Short: "Record human plan approval, checking for drift since freeze",
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		taskID, _ := cmd.Flags().GetString("task-id")
		approvedBy, _ := cmd.Flags().GetString("approved-by")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.ApprovePlan(actor, moduleID, modulePath, taskID, approvedBy)
		render(env, false, false)
		return nil
	},
}

func addTaskIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().String("module-id", "", "Module identifier (required)")
	cmd.Flags().String("module-path", "", "Module path relative to the repository root (required)")
	cmd.Flags().String("task-id", "", "Task identifier, e.g. T-0001 (required)")
	_ = cmd.MarkFlagRequired("module-id")
	_ = cmd.MarkFlagRequired("module-path")
	_ = cmd.MarkFlagRequired("task-id")
}

func init() {
	taskNewCmd.Flags().String("module-id", "", "Module identifier (required)")
	taskNewCmd.Flags().String("module-path", "", "Module path relative to the repository root (required)")
	taskNewCmd.Flags().String("profile", "default", "Profile name to run this task under")
	taskNewCmd.Flags().Int("max-attempts", 0, "Per-slice retry ceiling (0 uses the engine default)")
	taskNewCmd.Flags().String("plan-file", "", "Path to the task's plan.md (required)")
	taskNewCmd.Flags().String("slices-file", "", "Path to a slices.json-shaped document (required)")
	_ = taskNewCmd.MarkFlagRequired("module-id")
	_ = taskNewCmd.MarkFlagRequired("module-path")
	_ = taskNewCmd.MarkFlagRequired("plan-file")
	_ = taskNewCmd.MarkFlagRequired("slices-file")

	addTaskIdentityFlags(taskCriticCmd)
	addTaskIdentityFlags(taskFreezeCmd)
	addTaskIdentityFlags(taskApprovePlanCmd)
	taskApprovePlanCmd.Flags().String("approved-by", "", "Identity of the human approver (required)")
	_ = taskApprovePlanCmd.MarkFlagRequired("approved-by")

	taskCmd.AddCommand(taskNewCmd, taskCriticCmd, taskFreezeCmd, taskApprovePlanCmd)
	rootCmd.AddCommand(taskCmd)
}
