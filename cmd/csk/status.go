package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Project the whole state root into a single status document",
	Long: `Aggregate every module's registry entry, task phase, proof counts, and
retro presence into one document, with the single next recommended action,
per spec.md §4.7.

Examples:
  csk status
  csk status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.Status()
		render(env, false, false)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
