package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved execution profile",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Report which layer produced each resolved profile field",
	Long: `Resolve the named profile the same way "task new" does, and report
per-field provenance: engine default, engine profile file, or local
override.

Examples:
  csk config show --profile default`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("profile")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.ConfigShow(name)
		render(env, false, false)
		return nil
	},
}

func init() {
	configShowCmd.Flags().String("profile", "default", "Profile name to resolve")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
