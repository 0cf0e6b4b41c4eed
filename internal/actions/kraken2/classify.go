// Package kraken2 wraps the Kraken 2 suite: per-sample taxonomic
// classification, report conversion into feature tables, and database
// construction via kraken2-build.
package kraken2

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// dbCompanions are the index files kraken2 refuses to run without.
var dbCompanions = []string{"hash.k2d", "opts.k2d", "taxo.k2d"}

type classifyParams struct {
	Threads             int     `yaml:"threads" validate:"min=1,max=256"`
	Confidence          float64 `yaml:"confidence" validate:"min=0,max=1"`
	MinimumBaseQuality  int     `yaml:"minimum_base_quality" validate:"min=0"`
	MemoryMapping       bool    `yaml:"memory_mapping"`
	MinimumHitGroups    int     `yaml:"minimum_hit_groups" validate:"min=1"`
	Quick               bool    `yaml:"quick"`
	ReportMinimizerData bool    `yaml:"report_minimizer_data"`
}

type classifyAction struct{}

// NewClassify creates the classify-kraken2 action.
func NewClassify() action.Action {
	return &classifyAction{}
}

var _ action.Action = (*classifyAction)(nil)

func (a *classifyAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "classify-kraken2",
		Description: "Classify reads, contigs or MAGs taxonomically with Kraken 2.",
		Inputs: []action.Port{
			{Name: "seqs", Types: []artifact.Type{
				artifact.TypeReadsSingle, artifact.TypeReadsPaired,
				artifact.TypeContigs, artifact.TypeMAGs,
			}, Help: "Sequences to classify"},
			{Name: "db", Types: []artifact.Type{artifact.TypeKraken2DB}, Help: "Kraken 2 database"},
		},
		Outputs: []action.Port{
			{Name: "reports", Types: []artifact.Type{artifact.TypeKraken2Reports}, Help: "Per-sample Kraken 2 reports"},
			{Name: "outputs", Types: []artifact.Type{artifact.TypeKraken2Outputs}, Help: "Per-sample per-read classifications"},
		},
		Params: []action.ParamSpec{
			{Name: "threads", Kind: action.ParamInt, Default: "1", Help: "Number of threads"},
			{Name: "confidence", Kind: action.ParamFloat, Default: "0.0", Help: "Confidence score threshold"},
			{Name: "minimum_base_quality", Kind: action.ParamInt, Default: "0", Help: "Minimum base quality (reads only)"},
			{Name: "memory_mapping", Kind: action.ParamBool, Default: "false", Help: "Avoid loading the database into RAM"},
			{Name: "minimum_hit_groups", Kind: action.ParamInt, Default: "2", Help: "Minimum number of hit groups"},
			{Name: "quick", Kind: action.ParamBool, Default: "false", Help: "Stop classification at the first hit"},
			{Name: "report_minimizer_data", Kind: action.ParamBool, Default: "false", Help: "Include minimizer columns in reports"},
		},
		Tools: []string{"kraken2"},
	}
}

// sampleInput pairs a sample identifier with the sequence files kraken2
// should read for it.
type sampleInput struct {
	ID     string
	Files  []string
	Paired bool
}

func (a *classifyAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	seqs, err := req.Input("seqs")
	if err != nil {
		return nil, err
	}
	db, err := req.Input("db")
	if err != nil {
		return nil, err
	}

	if err := stage.RequireType(seqs,
		artifact.TypeReadsSingle, artifact.TypeReadsPaired,
		artifact.TypeContigs, artifact.TypeMAGs); err != nil {
		return nil, err
	}
	if err := stage.RequireType(db, artifact.TypeKraken2DB); err != nil {
		return nil, err
	}
	if err := stage.RequireCompanions(db, dbCompanions...); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params classifyParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	samples, err := resolveSamples(seqs)
	if err != nil {
		return nil, err
	}

	isReads := seqs.Type() == artifact.TypeReadsSingle || seqs.Type() == artifact.TypeReadsPaired

	argValues := values
	if !isReads {
		// base quality only applies to FASTQ input
		argValues = make(map[string]any, len(values))
		for k, v := range values {
			argValues[k] = v
		}
		delete(argValues, "minimum_base_quality")
	}

	commonArgs, err := invoke.FormatParams(argValues)
	if err != nil {
		return nil, err
	}
	commonArgs = append(commonArgs, "--db", db.DataDir())

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	reportsDir, err := staging.Mkdir("reports")
	if err != nil {
		return nil, err
	}
	outputsDir, err := staging.Mkdir("outputs")
	if err != nil {
		return nil, err
	}

	for _, sample := range samples {
		reportFp := filepath.Join(reportsDir, sample.ID+".report.txt")
		outputFp := filepath.Join(outputsDir, sample.ID+".output.txt")

		args := append([]string(nil), commonArgs...)
		if sample.Paired {
			args = append(args, "--paired")
		}
		args = append(args, "--report", reportFp, "--output", outputFp)
		args = append(args, sample.Files...)

		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "kraken2", Args: args}); err != nil {
			return nil, err
		}
	}

	if err := verifyPerSampleFiles(reportsDir, samples, ".report.txt"); err != nil {
		return nil, err
	}
	if err := verifyPerSampleFiles(outputsDir, samples, ".output.txt"); err != nil {
		return nil, err
	}

	reports, err := req.NewOutput("reports", artifact.TypeKraken2Reports)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyDir(reportsDir, reports.DataDir()); err != nil {
		return nil, err
	}
	if err := reports.RecordProvenance("classify-kraken2", values); err != nil {
		return nil, err
	}

	outputs, err := req.NewOutput("outputs", artifact.TypeKraken2Outputs)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyDir(outputsDir, outputs.DataDir()); err != nil {
		return nil, err
	}
	if err := outputs.RecordProvenance("classify-kraken2", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"reports": reports, "outputs": outputs},
		Summary: fmt.Sprintf("classified %d samples", len(samples)),
	}, nil
}

// resolveSamples enumerates the per-sample inputs of a sequence artifact:
// manifest records for reads, one FASTA per sample for contigs and MAGs.
func resolveSamples(seqs *artifact.Artifact) ([]sampleInput, error) {
	switch seqs.Type() {
	case artifact.TypeReadsSingle, artifact.TypeReadsPaired:
		records, err := artifact.ReadManifest(seqs.DataDir())
		if err != nil {
			return nil, err
		}
		samples := make([]sampleInput, 0, len(records))
		for _, rec := range records {
			sample := sampleInput{ID: rec.SampleID, Files: []string{rec.Forward}}
			if rec.Paired() {
				sample.Files = append(sample.Files, rec.Reverse)
				sample.Paired = true
			}
			samples = append(samples, sample)
		}
		return samples, nil
	default:
		files, err := stage.ListSequences(seqs.DataDir())
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, moshpiterrors.NewMissingInputError(string(seqs.Type()), "", "no FASTA files in payload")
		}
		samples := make([]sampleInput, 0, len(files))
		for _, f := range files {
			id := strings.TrimSuffix(f.ID, "_contigs")
			samples = append(samples, sampleInput{ID: id, Files: []string{f.Path}})
		}
		return samples, nil
	}
}

func verifyPerSampleFiles(dir string, samples []sampleInput, suffix string) error {
	for _, sample := range samples {
		path := filepath.Join(dir, sample.ID+suffix)
		if _, err := os.Stat(path); err != nil {
			return moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("kraken2 produced no %s file for sample %s", suffix, sample.ID), err)
		}
	}
	return nil
}
