package main

import (
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run the validator and a replay dry-run side by side",
	Long: `Doctor aggregates the structural validator (internal/validate) and a
replay dry-run (internal/replay) into one health report, so both of
spec.md's consistency checks can be read from a single command instead
of two. It is read-only: no event is appended.

Examples:
  csk doctor --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.Doctor()
		render(env, false, false)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
