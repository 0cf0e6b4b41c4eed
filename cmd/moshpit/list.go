package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/metalab-io/moshpit/internal/action"
)

var (
	listNameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	listMetaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, act := range action.List() {
				meta := act.Metadata()
				fmt.Fprintln(out, listNameStyle.Render(meta.Name))
				if meta.Description != "" {
					fmt.Fprintf(out, "  %s\n", meta.Description)
				}
				if len(meta.Tools) > 0 {
					fmt.Fprintf(out, "  %s\n", listMetaStyle.Render("tools: "+strings.Join(meta.Tools, ", ")))
				}
				if ports := portNames(meta.Inputs); ports != "" {
					fmt.Fprintf(out, "  %s\n", listMetaStyle.Render("inputs: "+ports))
				}
				if ports := portNames(meta.Outputs); ports != "" {
					fmt.Fprintf(out, "  %s\n", listMetaStyle.Render("outputs: "+ports))
				}
			}
			return nil
		},
	}
}

func portNames(ports []action.Port) string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
