// Package busco wraps BUSCO completeness assessment of MAGs.
package busco

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/collect"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

const batchSummaryFile = "batch_summary.txt"

// leading columns of BUSCO's batch summary, later versions append extra
// assembly statistics which are carried through untouched.
var summaryColumns = []string{
	"Input_file", "Dataset", "Complete", "Single", "Duplicated", "Fragmented", "Missing",
}

type evaluateParams struct {
	LineageDataset string `yaml:"lineage_dataset" validate:"required"`
	Mode           string `yaml:"mode" validate:"oneof=genome proteins transcriptome"`
	CPU            int    `yaml:"cpu" validate:"min=1"`
}

type evaluateAction struct{}

// NewEvaluate creates the evaluate-busco action.
func NewEvaluate() action.Action {
	return &evaluateAction{}
}

var _ action.Action = (*evaluateAction)(nil)

func (a *evaluateAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "evaluate-busco",
		Description: "Assess MAG completeness and contamination with BUSCO.",
		Inputs: []action.Port{
			{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}, Help: "MAG sequences to assess"},
			{Name: "db", Types: []artifact.Type{artifact.TypeBuscoDB}, Help: "Offline BUSCO lineage datasets"},
		},
		Outputs: []action.Port{
			{Name: "results", Types: []artifact.Type{artifact.TypeBuscoResults}, Help: "Per-MAG completeness summary"},
		},
		Params: []action.ParamSpec{
			{Name: "lineage_dataset", Kind: action.ParamString, Help: "BUSCO lineage dataset, e.g. bacteria_odb10"},
			{Name: "mode", Kind: action.ParamString, Default: "genome", Help: "Assessment mode"},
			{Name: "cpu", Kind: action.ParamInt, Default: "1", Help: "Worker threads"},
		},
		Tools: []string{"busco"},
	}
}

func (a *evaluateAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	mags, err := req.Input("mags")
	if err != nil {
		return nil, err
	}
	db, err := req.Input("db")
	if err != nil {
		return nil, err
	}

	if err := stage.RequireType(mags, artifact.TypeMAGs); err != nil {
		return nil, err
	}
	if err := stage.RequireType(db, artifact.TypeBuscoDB); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params evaluateParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	files, err := stage.ListSequences(mags.DataDir())
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, moshpiterrors.NewMissingInputError(string(mags.Type()), "", "no FASTA files in payload")
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	runDir, err := staging.Mkdir("run")
	if err != nil {
		return nil, err
	}

	args := []string{
		"-i", mags.DataDir(),
		"-o", "busco",
		"--out_path", runDir,
		"-l", params.LineageDataset,
		"--mode", params.Mode,
		"--cpu", strconv.Itoa(params.CPU),
		"--offline",
		"--download_path", db.DataDir(),
	}
	if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "busco", Args: args}); err != nil {
		return nil, err
	}

	summaryFp := filepath.Join(runDir, "busco", batchSummaryFile)
	header, rows, err := collect.ReadTSV(summaryFp)
	if err != nil {
		return nil, err
	}
	if err := checkSummary(summaryFp, header, rows, len(files)); err != nil {
		return nil, err
	}

	results, err := req.NewOutput("results", artifact.TypeBuscoResults)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyFile(summaryFp, filepath.Join(results.DataDir(), batchSummaryFile)); err != nil {
		return nil, err
	}
	if err := results.RecordProvenance("evaluate-busco", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"results": results},
		Summary: fmt.Sprintf("assessed %d MAGs against %s", len(rows), params.LineageDataset),
	}, nil
}

// checkSummary validates the batch summary shape: the known leading columns
// in order, one row per input MAG, numeric completeness percentages.
func checkSummary(path string, header []string, rows [][]string, wantRows int) error {
	if len(header) < len(summaryColumns) {
		return moshpiterrors.NewMalformedOutputError(path,
			fmt.Sprintf("expected at least %d columns, got %d", len(summaryColumns), len(header)), nil)
	}
	for i, name := range summaryColumns {
		if !strings.EqualFold(header[i], name) {
			return moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("unexpected column %q, want %q", header[i], name), nil)
		}
	}
	if len(rows) != wantRows {
		return moshpiterrors.NewMalformedOutputError(path,
			fmt.Sprintf("expected %d result rows, got %d", wantRows, len(rows)), nil)
	}
	for _, row := range rows {
		for _, col := range []int{2, 5, 6} {
			if _, err := strconv.ParseFloat(row[col], 64); err != nil {
				return moshpiterrors.NewMalformedOutputError(path,
					fmt.Sprintf("bad percentage %q for %s", row[col], row[0]), err)
			}
		}
	}
	return nil
}
