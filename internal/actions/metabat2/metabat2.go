// Package metabat2 wraps MetaBAT 2 contig binning. Alignment maps are
// depth-profiled with jgi_summarize_bam_contig_depths before binning.
package metabat2

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

type binParams struct {
	MinContig int  `yaml:"min_contig" validate:"min=1500"`
	MaxEdges  int  `yaml:"max_edges" validate:"min=1"`
	MinCV     int  `yaml:"min_cv" validate:"min=1"`
	Seed      int  `yaml:"seed" validate:"min=0"`
	Threads   int  `yaml:"num_threads" validate:"min=0"`
	SortBAMs  bool `yaml:"sort_bams"`
}

type binAction struct{}

// NewBin creates the bin-contigs-metabat action.
func NewBin() action.Action {
	return &binAction{}
}

var _ action.Action = (*binAction)(nil)

func (a *binAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "bin-contigs-metabat",
		Description: "Bin contigs into MAGs with MetaBAT 2 using alignment depth profiles.",
		Inputs: []action.Port{
			{Name: "contigs", Types: []artifact.Type{artifact.TypeContigs}, Help: "Per-sample assembled contigs"},
			{Name: "alignment_maps", Types: []artifact.Type{artifact.TypeAlignmentMaps}, Help: "Per-sample BAM files of reads mapped to contigs"},
		},
		Outputs: []action.Port{
			{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}, Help: "Binned MAG sequences, one FASTA per bin"},
		},
		Params: []action.ParamSpec{
			{Name: "min_contig", Kind: action.ParamInt, Default: "2500", Help: "Minimum contig length to bin"},
			{Name: "max_edges", Kind: action.ParamInt, Default: "200", Help: "Maximum number of edges per node"},
			{Name: "min_cv", Kind: action.ParamInt, Default: "1", Help: "Minimum mean coverage of a contig"},
			{Name: "seed", Kind: action.ParamInt, Default: "0", Help: "Random seed, 0 picks one from the clock"},
			{Name: "num_threads", Kind: action.ParamInt, Default: "0", Help: "Worker threads, 0 uses all cores"},
			{Name: "sort_bams", Kind: action.ParamBool, Default: "false", Help: "Coordinate-sort BAM files before depth profiling"},
		},
		Tools: []string{"metabat2", "jgi_summarize_bam_contig_depths", "samtools"},
	}
}

func (a *binAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	contigs, err := req.Input("contigs")
	if err != nil {
		return nil, err
	}
	maps, err := req.Input("alignment_maps")
	if err != nil {
		return nil, err
	}

	if err := stage.RequireType(contigs, artifact.TypeContigs); err != nil {
		return nil, err
	}
	if err := stage.RequireType(maps, artifact.TypeAlignmentMaps); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params binParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	samples, err := pairSamples(contigs, maps)
	if err != nil {
		return nil, err
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	binsDir, err := staging.Mkdir("bins")
	if err != nil {
		return nil, err
	}

	totalBins := 0
	for _, sample := range samples {
		bam := sample.BAM
		if params.SortBAMs {
			sorted := staging.Path(sample.ID + ".sorted.bam")
			args := []string{"sort"}
			if params.Threads > 0 {
				args = append(args, "-@", strconv.Itoa(params.Threads))
			}
			args = append(args, "-o", sorted, bam)
			if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "samtools", Args: args}); err != nil {
				return nil, err
			}
			bam = sorted
		}

		depthFp := staging.Path(sample.ID + ".depth.txt")
		depthArgs := []string{"--outputDepth", depthFp, bam}
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "jgi_summarize_bam_contig_depths", Args: depthArgs}); err != nil {
			return nil, err
		}

		sampleBins, err := staging.Mkdir(filepath.Join("raw", sample.ID))
		if err != nil {
			return nil, err
		}
		binArgs := []string{
			"-i", sample.Contigs,
			"-a", depthFp,
			"-o", filepath.Join(sampleBins, "bin"),
			"-m", strconv.Itoa(params.MinContig),
			"--maxEdges", strconv.Itoa(params.MaxEdges),
			"--minCV", strconv.Itoa(params.MinCV),
		}
		if params.Seed > 0 {
			binArgs = append(binArgs, "--seed", strconv.Itoa(params.Seed))
		}
		if params.Threads > 0 {
			binArgs = append(binArgs, "-t", strconv.Itoa(params.Threads))
		}
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "metabat2", Args: binArgs}); err != nil {
			return nil, err
		}

		n, err := collectBins(sampleBins, sample.ID, binsDir)
		if err != nil {
			return nil, err
		}
		totalBins += n
	}

	if totalBins == 0 {
		return nil, moshpiterrors.NewMalformedOutputError(binsDir,
			"metabat2 produced no bins for any sample", nil)
	}

	mags, err := req.NewOutput("mags", artifact.TypeMAGs)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyDir(binsDir, mags.DataDir()); err != nil {
		return nil, err
	}
	if err := mags.RecordProvenance("bin-contigs-metabat", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"mags": mags},
		Summary: fmt.Sprintf("binned %d samples into %d MAGs", len(samples), totalBins),
	}, nil
}

type samplePair struct {
	ID      string
	Contigs string
	BAM     string
}

// pairSamples matches each contig FASTA with the alignment map of the same
// sample. Every contig sample must have a BAM; unmatched BAMs are an error
// too, a silent mismatch usually means the inputs came from different runs.
func pairSamples(contigs, maps *artifact.Artifact) ([]samplePair, error) {
	seqs, err := stage.ListSequences(contigs.DataDir())
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, moshpiterrors.NewMissingInputError(string(contigs.Type()), "", "no FASTA files in payload")
	}

	bams, err := stage.ListByExt(maps.DataDir(), ".bam")
	if err != nil {
		return nil, err
	}

	bamBySample := make(map[string]string, len(bams))
	for _, path := range bams {
		id := strings.TrimSuffix(filepath.Base(path), ".bam")
		id = strings.TrimSuffix(id, "_alignment")
		bamBySample[id] = path
	}

	var pairs []samplePair
	for _, seq := range seqs {
		id := strings.TrimSuffix(seq.ID, "_contigs")
		bam, ok := bamBySample[id]
		if !ok {
			return nil, moshpiterrors.NewMissingInputError(string(maps.Type()), id+".bam",
				fmt.Sprintf("no alignment map for sample %s", id))
		}
		delete(bamBySample, id)
		pairs = append(pairs, samplePair{ID: id, Contigs: seq.Path, BAM: bam})
	}

	if len(bamBySample) > 0 {
		extra := make([]string, 0, len(bamBySample))
		for id := range bamBySample {
			extra = append(extra, id)
		}
		sort.Strings(extra)
		return nil, moshpiterrors.NewValidationError("alignment_maps",
			fmt.Sprintf("alignment maps without matching contigs: %s", strings.Join(extra, ", ")), nil)
	}
	return pairs, nil
}

// collectBins renames metabat2's bin.N.fa files to <sample>_bin.N.fasta and
// moves them into the shared bins directory.
func collectBins(sampleBins, sampleID, dest string) (int, error) {
	files, err := stage.ListSequences(sampleBins)
	if err != nil {
		return 0, err
	}
	for _, bin := range files {
		name := fmt.Sprintf("%s_%s.fasta", sampleID, strings.ReplaceAll(bin.ID, ".", "_"))
		if err := stage.CopyFile(bin.Path, filepath.Join(dest, name)); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}
