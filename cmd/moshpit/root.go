package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "moshpit",
		Short:         "moshpit runs metagenome annotation tools over artifact collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newActionCmds(flags)...)

	return cmd
}
