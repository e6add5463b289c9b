package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	envFile    string
	verbose    bool
	plain      bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "tic43",
		Short: "Judged multi-stage LLM pipelines: batch evaluation and iterative refinement",
		Long: fmt.Sprintf(`%s

Runs question/answer datasets through a generate → judge pipeline, or refines a
task through plan → implement → review until the reviewer approves.

%s
  tic43 eval                                   # every configured dataset
  tic43 eval basic_questions --workers 8       # one dataset, 8 workers
  tic43 refine "parse JSON inside markdown" --max-attempts 3
  tic43 serve --addr :8080`,
			bold("tic43"),
			bold("EXAMPLES:")),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath()))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default ./tic43.yaml or $HOME/.tic43/config.yaml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&opts.plain, "plain", false, "disable colors and markdown rendering")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	root.AddCommand(
		newEvalCommand(opts),
		newRefineCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// argsAtLeast is cobra.MinimumNArgs with a usage exit code.
func argsAtLeast(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(cobra.MinimumNArgs(n)(cmd, args))
	}
}

func argsNone(cmd *cobra.Command, args []string) error {
	return usageError(cobra.NoArgs(cmd, args))
}
