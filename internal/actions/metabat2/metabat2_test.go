package metabat2

import (
	"context"
	"fmt"
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

func newContigs(t *testing.T, samples ...string) *artifact.Artifact {
	t.Helper()
	contigs, err := artifact.New(filepath.Join(t.TempDir(), "contigs"), artifact.TypeContigs)
	require.NoError(t, err)
	for _, sample := range samples {
		path := filepath.Join(contigs.DataDir(), sample+"_contigs.fasta")
		require.NoError(t, os.WriteFile(path, []byte(">c1\nACGT\n"), 0o644))
	}
	return contigs
}

func newMaps(t *testing.T, samples ...string) *artifact.Artifact {
	t.Helper()
	maps, err := artifact.New(filepath.Join(t.TempDir(), "maps"), artifact.TypeAlignmentMaps)
	require.NoError(t, err)
	for _, sample := range samples {
		path := filepath.Join(maps.DataDir(), sample+"_alignment.bam")
		require.NoError(t, os.WriteFile(path, []byte{0}, 0o644))
	}
	return maps
}

func flagValue(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// binHandler fakes the tool chain: the depth summarizer touches its output
// file and metabat2 drops binsPerSample FASTA files next to its -o prefix.
func binHandler(binsPerSample int) func(inv invoke.Invocation) (invoke.Result, error) {
	return func(inv invoke.Invocation) (invoke.Result, error) {
		switch inv.Tool {
		case "jgi_summarize_bam_contig_depths":
			return invoke.Result{}, os.WriteFile(flagValue(inv.Args, "--outputDepth"), []byte("contigName\n"), 0o644)
		case "metabat2":
			prefix := flagValue(inv.Args, "-o")
			for i := 1; i <= binsPerSample; i++ {
				path := fmt.Sprintf("%s.%d.fa", prefix, i)
				if err := os.WriteFile(path, []byte(">c1\nACGT\n"), 0o644); err != nil {
					return invoke.Result{}, err
				}
			}
		}
		return invoke.Result{}, nil
	}
}

func newRequest(t *testing.T, contigs, maps *artifact.Artifact, runner invoke.Runner) *action.Request {
	t.Helper()
	return &action.Request{
		Inputs:      map[string]*artifact.Artifact{"contigs": contigs, "alignment_maps": maps},
		OutputPaths: map[string]string{"mags": filepath.Join(t.TempDir(), "mags")},
		Runner:      runner,
	}
}

func TestBinCollectsRenamedBins(t *testing.T) {
	contigs := newContigs(t, "sampleA", "sampleB")
	maps := newMaps(t, "sampleA", "sampleB")
	runner := &invoketest.FakeRunner{Handler: binHandler(2)}

	res, err := NewBin().Run(context.Background(), newRequest(t, contigs, maps, runner))
	require.NoError(t, err)

	// depth + metabat2 per sample, no samtools sort by default
	require.Equal(t, []string{
		"jgi_summarize_bam_contig_depths", "metabat2",
		"jgi_summarize_bam_contig_depths", "metabat2",
	}, runner.Tools())

	mags := res.Outputs["mags"]
	require.FileExists(t, filepath.Join(mags.DataDir(), "sampleA_bin_1.fasta"))
	require.FileExists(t, filepath.Join(mags.DataDir(), "sampleA_bin_2.fasta"))
	require.FileExists(t, filepath.Join(mags.DataDir(), "sampleB_bin_1.fasta"))
}

func TestBinSortsBAMsWhenRequested(t *testing.T) {
	contigs := newContigs(t, "sampleA")
	maps := newMaps(t, "sampleA")
	runner := &invoketest.FakeRunner{Handler: binHandler(1)}

	req := newRequest(t, contigs, maps, runner)
	req.Params = map[string]string{"sort_bams": "true", "num_threads": "4"}

	_, err := NewBin().Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "samtools", runner.Calls[0].Tool)
	require.Equal(t, "sort", runner.Calls[0].Args[0])
	require.Equal(t, "4", flagValue(runner.Calls[0].Args, "-@"))
}

func TestBinRejectsMissingAlignmentMap(t *testing.T) {
	contigs := newContigs(t, "sampleA", "sampleB")
	maps := newMaps(t, "sampleA")

	_, err := NewBin().Run(context.Background(), newRequest(t, contigs, maps, &invoketest.FakeRunner{}))
	var missing *moshpiterrors.MissingInputError
	require.ErrorAs(t, err, &missing)
	require.Contains(t, missing.Message, "sampleB")
}

func TestBinRejectsUnmatchedAlignmentMap(t *testing.T) {
	contigs := newContigs(t, "sampleA")
	maps := newMaps(t, "sampleA", "sampleC")

	_, err := NewBin().Run(context.Background(), newRequest(t, contigs, maps, &invoketest.FakeRunner{}))
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Contains(t, valErr.Message, "sampleC")
}

func TestBinZeroBinsIsMalformedOutput(t *testing.T) {
	contigs := newContigs(t, "sampleA")
	maps := newMaps(t, "sampleA")
	runner := &invoketest.FakeRunner{Handler: binHandler(0)}

	req := newRequest(t, contigs, maps, runner)
	_, err := NewBin().Run(context.Background(), req)
	var malformed *moshpiterrors.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	require.NoDirExists(t, req.OutputPaths["mags"])
}
