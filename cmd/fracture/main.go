package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fracture",
		Short: "Packet-mangling test harness for evaluating DPI and reassembly correctness",
		Long: `fracture drives a target command while diverting its traffic through a
sequence of network-level modifications (fragmentation, segmentation,
overlap, reordering, delay, duplication) and reports pass/fail per test.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newUsageCmd())
	rootCmd.AddCommand(newCheckConfigCmd())
	rootCmd.AddCommand(newStartCmd())

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "Usage:\n  %s <command> [arguments] [options]\n\n", cmd.Name())
		fmt.Fprintf(os.Stdout, "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden {
				fmt.Fprintf(os.Stdout, "  %-15s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(os.Stdout, "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// handleHelpArg lets every subcommand accept "help" as its sole positional
// argument (e.g. "fracture start help") in addition to the usual --help.
func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

// missingFlagError prints the command's help before returning the error,
// so a required flag left off the command line shows its usage inline.
func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set", flag)
}
