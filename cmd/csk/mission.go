package main

import (
	"os"

	"github.com/spf13/cobra"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Manage missions: multi-module routed specs",
}

var missionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Record a new mission and its module routing",
	Long: `Create a mission from a spec file, routed to one or more modules, per
spec.md §2's intake step.

Examples:
  csk mission create --spec-file spec.md --route api --route web`,
	RunE: func(cmd *cobra.Command, args []string) error {
		specFile, _ := cmd.Flags().GetString("spec-file")
		routing, _ := cmd.Flags().GetStringArray("route")

		specText, err := os.ReadFile(specFile)
		if err != nil {
			return err
		}
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.CreateMission(actor, string(specText), routing)
		render(env, false, false)
		return nil
	},
}

func init() {
	missionCreateCmd.Flags().String("spec-file", "", "Path to the mission's spec text (required)")
	missionCreateCmd.Flags().StringArray("route", nil, "Module a mission routes to (repeatable, at least one required)")
	_ = missionCreateCmd.MarkFlagRequired("spec-file")
	_ = missionCreateCmd.MarkFlagRequired("route")

	missionCmd.AddCommand(missionCreateCmd)
	rootCmd.AddCommand(missionCmd)
}
