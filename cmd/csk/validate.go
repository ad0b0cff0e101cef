package main

import (
	"github.com/spf13/cobra"

	"github.com/csk-dev/csk/internal/envelope"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the structural cross-artifact validator",
	Long: `Walk every task on disk and check its required artifacts exist for its
current lifecycle status (freeze.json, approvals, ready proof, retro.md),
per spec.md §4.9. A failure here is a schema violation, exit 20.

Examples:
  csk validate
  csk validate --strict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.Validate(strict)
		render(env, false, env.Status != envelope.StatusOK)
		return nil
	},
}

func init() {
	validateCmd.Flags().Bool("strict", false, "Also flag advisory issues that a non-strict pass only warns about")
	rootCmd.AddCommand(validateCmd)
}
