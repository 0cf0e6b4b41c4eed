package bracken

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/collect"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/invoke/invoketest"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

func newBrackenDB(t *testing.T, readLens ...int) *artifact.Artifact {
	t.Helper()
	db, err := artifact.New(filepath.Join(t.TempDir(), "bracken-db"), artifact.TypeBrackenDB)
	require.NoError(t, err)
	for _, n := range readLens {
		name := fmt.Sprintf("database%dmers.kmer_distrib", n)
		require.NoError(t, os.WriteFile(filepath.Join(db.DataDir(), name), []byte{0}, 0o644))
	}
	return db
}

func newReports(t *testing.T, samples ...string) *artifact.Artifact {
	t.Helper()
	reports, err := artifact.New(filepath.Join(t.TempDir(), "reports"), artifact.TypeKraken2Reports)
	require.NoError(t, err)
	for _, sample := range samples {
		path := filepath.Join(reports.DataDir(), sample+".report.txt")
		require.NoError(t, os.WriteFile(path, []byte("100.00\t10\t10\tU\t0\tunclassified\n"), 0o644))
	}
	return reports
}

func flagValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// brackenHandler writes a plausible bracken output table and an adjusted
// report at the paths named by -o and -w.
func brackenHandler(t *testing.T, estReads int) func(inv invoke.Invocation) (invoke.Result, error) {
	t.Helper()
	return func(inv invoke.Invocation) (invoke.Result, error) {
		output := "name\ttaxonomy_id\ttaxonomy_lvl\tkraken_assigned_reads\tadded_reads\tnew_est_reads\tfraction_total_reads\n" +
			fmt.Sprintf("Escherichia coli\t562\tS\t70\t5\t%d\t0.75\n", estReads)
		if err := os.WriteFile(flagValue(inv.Args, "-o"), []byte(output), 0o644); err != nil {
			return invoke.Result{}, err
		}
		if err := os.WriteFile(flagValue(inv.Args, "-w"), []byte("100.00\t10\t10\tU\t0\tunclassified\n"), 0o644); err != nil {
			return invoke.Result{}, err
		}
		return invoke.Result{}, nil
	}
}

func TestEstimateProducesMergedTable(t *testing.T) {
	reports := newReports(t, "sampleA", "sampleB")
	db := newBrackenDB(t, 50, 100, 150)
	outDir := t.TempDir()

	runner := &invoketest.FakeRunner{Handler: brackenHandler(t, 75)}
	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"reports": reports, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(outDir, "adjusted"),
			"table":   filepath.Join(outDir, "table"),
		},
		Params: map[string]string{"read_len": "100"},
		Runner: runner,
	}

	res, err := NewEstimate().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, runner.Calls, 2)
	require.Equal(t, db.DataDir(), flagValue(runner.Calls[0].Args, "-d"))

	header, rows, err := collect.ReadTSV(filepath.Join(res.Outputs["table"].DataDir(), "table.tsv"))
	require.NoError(t, err)
	require.Equal(t, []string{"sample-id", "562"}, header)
	require.Len(t, rows, 2)
	require.Equal(t, "75", rows[0][1])

	require.FileExists(t, filepath.Join(res.Outputs["reports"].DataDir(), "sampleA.report.txt"))
}

func TestEstimateRejectsUnavailableReadLength(t *testing.T) {
	reports := newReports(t, "sampleA")
	db := newBrackenDB(t, 50, 150)

	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"reports": reports, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(t.TempDir(), "adjusted"),
			"table":   filepath.Join(t.TempDir(), "table"),
		},
		Params: map[string]string{"read_len": "100"},
		Runner: &invoketest.FakeRunner{},
	}

	_, err := NewEstimate().Run(context.Background(), req)
	var missing *moshpiterrors.MissingInputError
	require.ErrorAs(t, err, &missing)
	require.Contains(t, missing.Message, "50, 150")
}

func TestEstimateRejectsMalformedOutput(t *testing.T) {
	reports := newReports(t, "sampleA")
	db := newBrackenDB(t, 100)

	runner := &invoketest.FakeRunner{
		Handler: func(inv invoke.Invocation) (invoke.Result, error) {
			bad := "name\ttaxonomy_id\n" + "Escherichia coli\t562\n"
			if err := os.WriteFile(flagValue(inv.Args, "-o"), []byte(bad), 0o644); err != nil {
				return invoke.Result{}, err
			}
			return invoke.Result{}, os.WriteFile(flagValue(inv.Args, "-w"), []byte(""), 0o644)
		},
	}
	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"reports": reports, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(t.TempDir(), "adjusted"),
			"table":   filepath.Join(t.TempDir(), "table"),
		},
		Runner: runner,
	}

	_, err := NewEstimate().Run(context.Background(), req)
	var malformed *moshpiterrors.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
}

func TestEstimateRejectsInvalidLevel(t *testing.T) {
	reports := newReports(t, "sampleA")
	db := newBrackenDB(t, 100)

	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"reports": reports, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(t.TempDir(), "adjusted"),
			"table":   filepath.Join(t.TempDir(), "table"),
		},
		Params: map[string]string{"level": "Z"},
		Runner: &invoketest.FakeRunner{},
	}

	_, err := NewEstimate().Run(context.Background(), req)
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}
