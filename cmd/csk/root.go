package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/csk-dev/csk/internal/envelope"
	"github.com/csk-dev/csk/internal/kernel"
	"github.com/csk-dev/csk/internal/pathio"
)

var (
	jsonOutput bool
	actor      string
	stateRoot  string

	// exitCode is set by render() and applied by Execute() once the command
	// returns, so that no command needs to call os.Exit itself.
	exitCode int
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "csk",
	Short: "Workflow kernel for gated, event-sourced task execution",
	Long: `csk drives a software-delivery task through a fixed set of machine-enforced
gates: scope, verify, review, e2e. Every operation appends to an append-only
event log and returns a decision envelope describing what happened and what
to do next.

Core commands:
  bootstrap        Initialize the state root
  module register  Register a module and its task tree
  task new         Create a draft task and run the structural critic
  task freeze      Hash-pin a critic-passed task's plan and slices
  task approve-plan   Record human plan approval
  slice run        Run the next runnable slice through its gates
  gate validate-ready  Check every slice is done and write the handoff
  gate approve-ready   Record human ready approval
  retro run        Cluster incidents and propose a patch
  status           Project the whole state root
  validate         Run the structural cross-artifact validator
  replay check     Replay the event log and report invariant violations
  config show      Report which layer resolved each profile field
  doctor           Run the validator and a replay dry-run side by side`,
	SilenceUsage: true,
	// reachedRunE flips true once cobra has successfully parsed flags and
	// validated args for the command being invoked — exactly the boundary
	// Execute uses to tell a usage error (bad flag, unknown command,
	// missing arg — never reaches here) from a genuine failure inside a
	// command's RunE (always reaches here first).
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		reachedRunE = true
		return nil
	},
}

var reachedRunE bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit the decision envelope as JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "cli", "Identity recorded as the event actor")
	rootCmd.PersistentFlags().StringVar(&stateRoot, "state-root", "", "Explicit state root directory, overriding CSK_STATE_ROOT and cwd inference")
}

// Execute adds all child commands to the root command and sets flags
// appropriately, then exits with whatever code the run produced. A cobra
// usage error (unknown command, unknown flag, missing argument) never
// reaches PersistentPreRunE, so reachedRunE staying false distinguishes it
// from a genuine internal failure and exits 2 instead of 20.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !reachedRunE {
			os.Exit(envelope.ExitUserInputError)
		}
		os.Exit(envelope.ExitInternalError)
	}
	os.Exit(exitCode)
}

// newKernel resolves the state root — explicit --state-root flag, then
// CSK_STATE_ROOT, then the current working directory — and returns a
// Kernel bound to it.
func newKernel() (*kernel.Kernel, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	root, err := pathio.Resolve(cwd, stateRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve state root: %w", err)
	}
	return kernel.New(root), nil
}

// render writes env to stdout in the requested format and records the exit
// code spec.md §6 assigns to this outcome, for Execute to apply once the
// command returns.
func render(env envelope.Envelope, replayViolation, schemaViolation bool) {
	var err error
	if jsonOutput {
		err = envelope.WriteJSON(os.Stdout, env)
	} else {
		err = envelope.WriteText(os.Stdout, env)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitCode = envelope.ExitInternalError
		return
	}
	exitCode = env.ExitCode(replayViolation, schemaViolation)
}
