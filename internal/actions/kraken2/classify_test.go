package kraken2

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/invoke/invoketest"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

func newKraken2DB(t *testing.T) *artifact.Artifact {
	t.Helper()
	db, err := artifact.New(filepath.Join(t.TempDir(), "db"), artifact.TypeKraken2DB)
	require.NoError(t, err)
	for _, name := range dbCompanions {
		require.NoError(t, os.WriteFile(filepath.Join(db.DataDir(), name), []byte{0}, 0o644))
	}
	return db
}

func newPairedReads(t *testing.T) *artifact.Artifact {
	t.Helper()
	reads, err := artifact.New(filepath.Join(t.TempDir(), "reads"), artifact.TypeReadsPaired)
	require.NoError(t, err)

	manifest := "sample-id\tforward\treverse\n" +
		"sampleA\tsampleA_R1.fastq.gz\tsampleA_R2.fastq.gz\n" +
		"sampleB\tsampleB_R1.fastq.gz\tsampleB_R2.fastq.gz\n"
	require.NoError(t, os.WriteFile(filepath.Join(reads.DataDir(), artifact.ManifestFile), []byte(manifest), 0o644))
	for _, name := range []string{"sampleA_R1.fastq.gz", "sampleA_R2.fastq.gz", "sampleB_R1.fastq.gz", "sampleB_R2.fastq.gz"} {
		require.NoError(t, os.WriteFile(filepath.Join(reads.DataDir(), name), []byte("@r\nACGT\n+\nIIII\n"), 0o644))
	}
	return reads
}

// writePerSampleOutputs mimics kraken2 by creating the files named by the
// --report and --output flags.
func writePerSampleOutputs(t *testing.T) func(inv invoke.Invocation) (invoke.Result, error) {
	t.Helper()
	return func(inv invoke.Invocation) (invoke.Result, error) {
		for i, arg := range inv.Args {
			if (arg == "--report" || arg == "--output") && i+1 < len(inv.Args) {
				if err := os.WriteFile(inv.Args[i+1], []byte("100.00\t10\t10\tU\t0\tunclassified\n"), 0o644); err != nil {
					return invoke.Result{}, err
				}
			}
		}
		return invoke.Result{}, nil
	}
}

func flagValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestClassifyRunsOncePerSample(t *testing.T) {
	reads := newPairedReads(t)
	db := newKraken2DB(t)
	outDir := t.TempDir()

	runner := &invoketest.FakeRunner{Handler: writePerSampleOutputs(t)}
	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"seqs": reads, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(outDir, "reports"),
			"outputs": filepath.Join(outDir, "outputs"),
		},
		Params: map[string]string{"threads": "4"},
		Runner: runner,
	}

	res, err := NewClassify().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, runner.Calls, 2)

	for _, call := range runner.Calls {
		require.Equal(t, "kraken2", call.Tool)
		require.Contains(t, call.Args, "--paired")
		require.Contains(t, call.Args, "--threads")
		require.Equal(t, db.DataDir(), flagValue(call.Args, "--db"))
	}

	reports := res.Outputs["reports"]
	require.Equal(t, artifact.TypeKraken2Reports, reports.Type())
	require.FileExists(t, filepath.Join(reports.DataDir(), "sampleA.report.txt"))
	require.FileExists(t, filepath.Join(reports.DataDir(), "sampleB.report.txt"))

	prov := reports.Metadata().Provenance
	require.Len(t, prov, 1)
	require.Equal(t, "classify-kraken2", prov[0].Action)
}

func TestClassifyContigsTrimsSuffix(t *testing.T) {
	contigs, err := artifact.New(filepath.Join(t.TempDir(), "contigs"), artifact.TypeContigs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(contigs.DataDir(), "sampleA_contigs.fasta"), []byte(">c1\nACGT\n"), 0o644))

	db := newKraken2DB(t)
	outDir := t.TempDir()

	runner := &invoketest.FakeRunner{Handler: writePerSampleOutputs(t)}
	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"seqs": contigs, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(outDir, "reports"),
			"outputs": filepath.Join(outDir, "outputs"),
		},
		Runner: runner,
	}

	res, err := NewClassify().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, runner.Calls, 1)
	require.NotContains(t, runner.Calls[0].Args, "--paired")
	require.FileExists(t, filepath.Join(res.Outputs["reports"].DataDir(), "sampleA.report.txt"))
}

func TestClassifyBaseQualityFlagOnlyForReads(t *testing.T) {
	db := newKraken2DB(t)

	contigs, err := artifact.New(filepath.Join(t.TempDir(), "contigs"), artifact.TypeContigs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(contigs.DataDir(), "sampleA_contigs.fasta"), []byte(">c1\nACGT\n"), 0o644))

	runner := &invoketest.FakeRunner{Handler: writePerSampleOutputs(t)}
	outDir := t.TempDir()
	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"seqs": contigs, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(outDir, "reports"),
			"outputs": filepath.Join(outDir, "outputs"),
		},
		Params: map[string]string{"minimum_base_quality": "20"},
		Runner: runner,
	}

	_, err = NewClassify().Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, runner.Calls, 1)
	require.NotContains(t, runner.Calls[0].Args, "--minimum-base-quality")

	reads := newPairedReads(t)
	readsRunner := &invoketest.FakeRunner{Handler: writePerSampleOutputs(t)}
	readsDir := t.TempDir()
	readsReq := &action.Request{
		Inputs: map[string]*artifact.Artifact{"seqs": reads, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(readsDir, "reports"),
			"outputs": filepath.Join(readsDir, "outputs"),
		},
		Params: map[string]string{"minimum_base_quality": "20"},
		Runner: readsRunner,
	}

	_, err = NewClassify().Run(context.Background(), readsReq)
	require.NoError(t, err)
	require.Equal(t, "20", flagValue(readsRunner.Calls[0].Args, "--minimum-base-quality"))
}

func TestClassifyRejectsIncompleteDB(t *testing.T) {
	reads := newPairedReads(t)
	db, err := artifact.New(filepath.Join(t.TempDir(), "db"), artifact.TypeKraken2DB)
	require.NoError(t, err)

	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"seqs": reads, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(t.TempDir(), "reports"),
			"outputs": filepath.Join(t.TempDir(), "outputs"),
		},
		Runner: &invoketest.FakeRunner{},
	}

	_, err = NewClassify().Run(context.Background(), req)
	var missing *moshpiterrors.MissingInputError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "hash.k2d", missing.Path)
}

func TestClassifyToolFailureLeavesNoArtifacts(t *testing.T) {
	reads := newPairedReads(t)
	db := newKraken2DB(t)
	outDir := t.TempDir()

	runner := &invoketest.FakeRunner{
		Handler: func(inv invoke.Invocation) (invoke.Result, error) {
			return invoke.Result{ExitCode: 2},
				moshpiterrors.NewToolExecutionError("kraken2", 2, "database not found", nil)
		},
	}
	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"seqs": reads, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(outDir, "reports"),
			"outputs": filepath.Join(outDir, "outputs"),
		},
		Runner: runner,
	}

	_, err := NewClassify().Run(context.Background(), req)
	var execErr *moshpiterrors.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	require.NoDirExists(t, filepath.Join(outDir, "reports"))
	require.NoDirExists(t, filepath.Join(outDir, "outputs"))
}

func TestClassifyRejectsInvalidParams(t *testing.T) {
	reads := newPairedReads(t)
	db := newKraken2DB(t)

	req := &action.Request{
		Inputs: map[string]*artifact.Artifact{"seqs": reads, "db": db},
		OutputPaths: map[string]string{
			"reports": filepath.Join(t.TempDir(), "reports"),
			"outputs": filepath.Join(t.TempDir(), "outputs"),
		},
		Params: map[string]string{"confidence": "1.5"},
		Runner: &invoketest.FakeRunner{},
	}

	_, err := NewClassify().Run(context.Background(), req)
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}
