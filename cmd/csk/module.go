package main

import (
	"github.com/spf13/cobra"
)

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Manage registered modules",
}

var moduleRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a module and bootstrap its task tree",
	Long: `Add a module to the registry and create its .csk/modules/<path>
task tree, per spec.md §4.1.

Examples:
  csk module register --module-id api --module-path services/api`,
	RunE: func(cmd *cobra.Command, args []string) error {
		moduleID, err := cmd.Flags().GetString("module-id")
		if err != nil {
			return err
		}
		modulePath, err := cmd.Flags().GetString("module-path")
		if err != nil {
			return err
		}
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.RegisterModule(actor, moduleID, modulePath)
		render(env, false, false)
		return nil
	},
}

func init() {
	moduleRegisterCmd.Flags().String("module-id", "", "Module identifier (required)")
	moduleRegisterCmd.Flags().String("module-path", "", "Module path relative to the repository root (required)")
	_ = moduleRegisterCmd.MarkFlagRequired("module-id")
	_ = moduleRegisterCmd.MarkFlagRequired("module-path")

	moduleCmd.AddCommand(moduleRegisterCmd)
	rootCmd.AddCommand(moduleCmd)
}
