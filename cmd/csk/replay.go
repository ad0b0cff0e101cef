package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/csk-dev/csk/internal/envelope"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the event log and check its invariants",
}

var replayCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Replay the event log and report any invariant violations",
	Long: `Forward-scan the whole event log checking every invariant in spec.md §8:
no frozen task without a matching freeze.json, no drift after freeze, no
retro.completed without a patch proposal on disk, and so on. A violation
here exits 30, distinct from a validate schema violation's exit 20.

Examples:
  csk replay check
  csk replay check --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := newKernel()
		if err != nil {
			return err
		}
		env := k.ReplayCheck(actor)
		replayViolation, schemaViolation := classifyReplayFailure(env)
		render(env, replayViolation, schemaViolation)
		return nil
	},
}

// classifyReplayFailure distinguishes a genuine replay invariant violation
// (exit 30) from an internal failure to even complete the replay, such as a
// corrupt event log (exit 20).
func classifyReplayFailure(env envelope.Envelope) (replayViolation, schemaViolation bool) {
	if env.Status == envelope.StatusOK {
		return false, false
	}
	for _, e := range env.Errors {
		if strings.HasPrefix(e, "replay_invariant_violation") {
			return true, false
		}
	}
	return false, true
}

func init() {
	replayCmd.AddCommand(replayCheckCmd)
	rootCmd.AddCommand(replayCmd)
}
