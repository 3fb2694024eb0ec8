package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/fracture/internal/config"
	"github.com/tturner/fracture/internal/mods"
	"github.com/tturner/fracture/internal/plan"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkconfig <file>",
		Short: "Validate a suite configuration without running it",
		Long: `checkconfig loads a JSON suite configuration, resolves every modification
name against the registry, and materializes one test to catch argument
errors, without installing any diversion rules or forking the target
command.

Exit codes:
  0  configuration is valid
  1  the file is missing or malformed JSON
  2  a modification name is not registered
  3  a modification was given the wrong shape of arguments`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			path := args[0]
			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(plan.ExitConfigError)
			}
			code, err := plan.CheckConfig(cfg, mods.Default())
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
			if code == plan.ExitOK {
				fmt.Fprintln(os.Stdout, "ok")
			}
			os.Exit(code)
			return nil
		},
	}
}
