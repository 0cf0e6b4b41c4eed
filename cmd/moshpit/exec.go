package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/logger"
)

// newActionCmds exposes every registered action as its own subcommand with
// --i-<port>, --p-<param> and --o-<port> flags, so single actions can run
// without a pipeline file.
func newActionCmds(root *rootFlags) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(action.List()))
	for _, act := range action.List() {
		cmds = append(cmds, newActionCmd(root, act))
	}
	return cmds
}

func newActionCmd(root *rootFlags, act action.Action) *cobra.Command {
	meta := act.Metadata()

	cmd := &cobra.Command{
		Use:   meta.Name,
		Short: meta.Description,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, act, root.verbose)
		},
	}

	for _, port := range meta.Inputs {
		cmd.Flags().String("i-"+port.Name, "", port.Help)
		cmd.MarkFlagRequired("i-" + port.Name) //nolint:errcheck
	}
	for _, param := range meta.Params {
		help := param.Help
		if param.Default != "" {
			help = fmt.Sprintf("%s (default %s)", help, param.Default)
		}
		cmd.Flags().String("p-"+param.Name, "", help)
	}
	for _, port := range meta.Outputs {
		cmd.Flags().String("o-"+port.Name, "", port.Help)
		cmd.MarkFlagRequired("o-" + port.Name) //nolint:errcheck
	}

	return cmd
}

func runAction(cmd *cobra.Command, act action.Action, verbose bool) error {
	meta := act.Metadata()

	level := "info"
	if verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true})
	if err != nil {
		return err
	}

	req := &action.Request{
		Inputs:      make(map[string]*artifact.Artifact, len(meta.Inputs)),
		OutputPaths: make(map[string]string, len(meta.Outputs)),
		Params:      make(map[string]string),
		Runner:      invoke.NewRunner(log, verbose),
		Log:         log.WithAction(meta.Name),
	}

	for _, port := range meta.Inputs {
		path, _ := cmd.Flags().GetString("i-" + port.Name)
		art, err := artifact.Load(path)
		if err != nil {
			return err
		}
		req.Inputs[port.Name] = art
	}
	for _, param := range meta.Params {
		flag := "p-" + param.Name
		if cmd.Flags().Changed(flag) {
			value, _ := cmd.Flags().GetString(flag)
			req.Params[param.Name] = value
		}
	}
	for _, port := range meta.Outputs {
		req.OutputPaths[port.Name], _ = cmd.Flags().GetString("o-" + port.Name)
	}

	res, err := act.Run(context.Background(), req)
	if err != nil {
		return err
	}

	if res != nil && res.Summary != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Summary)
	}
	return nil
}
