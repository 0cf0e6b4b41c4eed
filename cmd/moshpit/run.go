package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/metalab-io/moshpit/internal/config"
	"github.com/metalab-io/moshpit/internal/engine"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/logger"
	"github.com/metalab-io/moshpit/internal/model"
	"github.com/metalab-io/moshpit/internal/tui"
)

type runOptions struct {
	ConfigPath     string
	Verbose        bool
	NonInteractive bool
}

var runCmdRunner = runPipeline

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline of annotation steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Verbose = root.verbose
			opts.NonInteractive = !term.IsTerminal(int(os.Stdout.Fd()))

			if err := validateRunOptions(opts); err != nil {
				return err
			}

			return runCmdRunner(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to pipeline file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func runPipeline(opts runOptions) error {
	cfg, err := config.ParseConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	graph, err := engine.BuildDAG(cfg.Steps)
	if err != nil {
		return err
	}

	effectiveVerbose := opts.Verbose || cfg.Settings.Verbose

	level := "info"
	if effectiveVerbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true})
	if err != nil {
		return err
	}

	parallel := cfg.Settings.Parallel
	if parallel <= 0 {
		parallel = 4
	}

	execCtx := &engine.ExecutionContext{
		Context:         ctx,
		Config:          cfg,
		Runner:          invoke.NewRunner(log, effectiveVerbose),
		Logger:          log,
		ContinueOnError: cfg.Settings.ContinueOnError,
		WorkerPool:      make(chan struct{}, parallel),
		Results:         make(map[string]*model.StepResult),
	}

	modelState := tui.NewModel(cfg, graph, opts.NonInteractive)
	interactive := !opts.NonInteractive

	var program *tea.Program
	var programErr error
	done := make(chan struct{})

	if interactive {
		program = tea.NewProgram(modelState)
		go func() {
			_, programErr = program.Run()
			close(done)
		}()

		execCtx.OnStart = func(id string) {
			program.Send(tui.StepStartMsg{ID: id})
		}
		execCtx.OnComplete = func(res model.StepResult) {
			program.Send(tui.StepCompleteMsg{Result: res})
		}
	}

	results, execErr := engine.Execute(execCtx, graph)

	if interactive {
		program.Send(tui.RunDoneMsg{})
		<-done
		if programErr != nil {
			return programErr
		}
	} else {
		for _, res := range results {
			updated, _ := modelState.Update(tui.StepCompleteMsg{Result: res})
			if m, ok := updated.(tui.Model); ok {
				modelState = m
			}
		}
		fmt.Fprintln(os.Stdout, modelState.View())
	}

	return execErr
}
