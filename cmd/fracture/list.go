package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/fracture/internal/mods"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered modification name",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			reg := mods.Default()
			for _, name := range reg.List() {
				fmt.Fprintln(os.Stdout, name)
			}
			return nil
		},
	}
}
