package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/fracture/internal/mods"
)

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage <modification>",
		Short: "Print the parameter usage for one modification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			reg := mods.Default()
			usage, err := reg.Usage(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, usage)
			return nil
		},
	}
}
