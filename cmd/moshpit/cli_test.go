package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
)

func TestVersionCommandOutput(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "moshpit dev")
	require.Contains(t, out.String(), "commit: none")
}

func TestListCommandShowsRegisteredActions(t *testing.T) {
	action.Reset()
	t.Cleanup(action.Reset)
	registerActions()

	var out bytes.Buffer
	cmd := newListCmd()
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	for _, name := range []string{
		"classify-kraken2", "kraken2-to-features", "build-kraken2-db",
		"estimate-bracken", "predict-genes-prodigal", "bin-contigs-metabat",
		"search-orthologs-diamond", "annotate-orthologs", "classify-kaiju",
		"evaluate-busco", "dereplicate-mags", "filter-mags", "fetch-reference-db",
	} {
		require.Contains(t, out.String(), name)
	}
}

func TestValidateRunOptions(t *testing.T) {
	require.Error(t, validateRunOptions(runOptions{}))

	dir := t.TempDir()
	require.Error(t, validateRunOptions(runOptions{ConfigPath: filepath.Join(dir, "missing.yaml")}))
	require.Error(t, validateRunOptions(runOptions{ConfigPath: dir}))

	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\n"), 0o644))
	require.NoError(t, validateRunOptions(runOptions{ConfigPath: path}))
}

type captureAction struct {
	req *action.Request
}

func (a *captureAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "capture-test",
		Description: "records the request it receives",
		Inputs:      []action.Port{{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}}},
		Outputs:     []action.Port{{Name: "out"}},
		Params:      []action.ParamSpec{{Name: "threshold", Kind: action.ParamFloat, Default: "0.5"}},
	}
}

func (a *captureAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	a.req = req
	return &action.Result{Summary: "captured"}, nil
}

func TestActionSubcommandBuildsRequestFromFlags(t *testing.T) {
	action.Reset()
	t.Cleanup(action.Reset)
	capture := &captureAction{}
	require.NoError(t, action.Register(capture))

	dir := t.TempDir()
	input := filepath.Join(dir, "mags")
	_, err := artifact.New(input, artifact.TypeMAGs)
	require.NoError(t, err)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"capture-test",
		"--i-mags", input,
		"--p-threshold", "0.1",
		"--o-out", filepath.Join(dir, "result"),
	})

	require.NoError(t, root.Execute())
	require.NotNil(t, capture.req)
	require.NotNil(t, capture.req.Inputs["mags"])
	require.Equal(t, "0.1", capture.req.Params["threshold"])
	require.Equal(t, filepath.Join(dir, "result"), capture.req.OutputPaths["out"])
	require.Contains(t, out.String(), "captured")
}

func TestActionSubcommandRequiresPorts(t *testing.T) {
	action.Reset()
	t.Cleanup(action.Reset)
	require.NoError(t, action.Register(&captureAction{}))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"capture-test"})

	require.Error(t, root.Execute())
}

func TestRunCommandRequiresConfigFlag(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	require.Error(t, root.Execute())
}
