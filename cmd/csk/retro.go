package main

import (
	"github.com/spf13/cobra"
)

var retroCmd = &cobra.Command{
	Use:   "retro",
	Short: "Cluster a task's incidents and propose a patch",
}

var retroRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Cluster incidents, render retro.md, and propose a patch",
	Long: `Legal from ready_approved (closing out a task normally) or blocked
(recovering from an exhausted retry budget), per spec.md §4.5. Always writes
a patch-proposal file, even a no-op one when no recurring incident pattern is
found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, _ := cmd.Flags().GetString("module-id")
		modulePath, _ := cmd.Flags().GetString("module-path")
		taskID, _ := cmd.Flags().GetString("task-id")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.RetroRun(actor, moduleID, modulePath, taskID)
		render(env, false, false)
		return nil
	},
}

func init() {
	addTaskIdentityFlags(retroRunCmd)
	retroCmd.AddCommand(retroRunCmd)
	rootCmd.AddCommand(retroCmd)
}
