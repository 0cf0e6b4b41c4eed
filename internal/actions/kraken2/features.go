package kraken2

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/collect"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

type featuresParams struct {
	CoverageThreshold float64 `yaml:"coverage_threshold" validate:"min=0,max=100"`
}

type featuresAction struct{}

// NewFeatures creates the kraken2-to-features action.
func NewFeatures() action.Action {
	return &featuresAction{}
}

var _ action.Action = (*featuresAction)(nil)

func (a *featuresAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "kraken2-to-features",
		Description: "Convert Kraken 2 reports into a presence/absence feature table with taxonomy.",
		Inputs: []action.Port{
			{Name: "reports", Types: []artifact.Type{artifact.TypeKraken2Reports}, Help: "Per-sample Kraken 2 reports"},
		},
		Outputs: []action.Port{
			{Name: "table", Types: []artifact.Type{artifact.TypeFeatureTable}, Help: "Sample by taxid presence table"},
			{Name: "taxonomy", Types: []artifact.Type{artifact.TypeTaxonomy}, Help: "Taxid to lineage mapping"},
		},
		Params: []action.ParamSpec{
			{Name: "coverage_threshold", Kind: action.ParamFloat, Default: "0.1", Help: "Minimum percent coverage to retain a clade"},
		},
	}
}

func (a *featuresAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	reports, err := req.Input("reports")
	if err != nil {
		return nil, err
	}
	if err := stage.RequireType(reports, artifact.TypeKraken2Reports); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params featuresParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	reportFiles, err := stage.ListByExt(reports.DataDir(), ".txt")
	if err != nil {
		return nil, err
	}
	if len(reportFiles) == 0 {
		return nil, moshpiterrors.NewMissingInputError(string(reports.Type()), "", "no report files in payload")
	}

	featureTable := collect.NewFeatureTable()
	taxonomy := make(map[string]string)

	for _, path := range reportFiles {
		sampleID := strings.TrimSuffix(filepath.Base(path), ".report.txt")

		rows, err := parseReportFile(path)
		if err != nil {
			return nil, err
		}

		for taxid, lineage := range taxonomyFromReport(rows, params.CoverageThreshold) {
			featureTable.Set(sampleID, taxid, 1)
			taxonomy[taxid] = lineage
		}
	}

	tableArt, err := req.NewOutput("table", artifact.TypeFeatureTable)
	if err != nil {
		return nil, err
	}
	if err := featureTable.WriteTSV(filepath.Join(tableArt.DataDir(), "table.tsv")); err != nil {
		return nil, err
	}
	if err := tableArt.RecordProvenance("kraken2-to-features", values); err != nil {
		return nil, err
	}

	taxonomyArt, err := req.NewOutput("taxonomy", artifact.TypeTaxonomy)
	if err != nil {
		return nil, err
	}
	if err := collect.WriteTaxonomyTSV(filepath.Join(taxonomyArt.DataDir(), "taxonomy.tsv"), taxonomy); err != nil {
		return nil, err
	}
	if err := taxonomyArt.RecordProvenance("kraken2-to-features", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"table": tableArt, "taxonomy": taxonomyArt},
		Summary: fmt.Sprintf("collected %d taxa from %d reports", len(taxonomy), len(reportFiles)),
	}, nil
}
