package main

import (
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize the .csk state root",
	Long: `Create the .csk directory layout (engine, local, app) and record the
engine version, per spec.md §4.1.

Examples:
  csk bootstrap
  csk bootstrap --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.Bootstrap(actor)
		render(env, false, false)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}
