// Package bracken wraps Bracken abundance re-estimation over Kraken 2
// reports.
package bracken

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/collect"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

var kmerDistribPattern = regexp.MustCompile(`database(\d{2,})mers\.kmer_distrib$`)

// bracken output columns, in order.
var outputColumns = []string{
	"name", "taxonomy_id", "taxonomy_lvl",
	"kraken_assigned_reads", "added_reads", "new_est_reads", "fraction_total_reads",
}

type estimateParams struct {
	Threshold int    `yaml:"threshold" validate:"min=0"`
	ReadLen   int    `yaml:"read_len" validate:"min=1"`
	Level     string `yaml:"level" validate:"oneof=D P C O F G S"`
}

type estimateAction struct{}

// NewEstimate creates the estimate-bracken action.
func NewEstimate() action.Action {
	return &estimateAction{}
}

var _ action.Action = (*estimateAction)(nil)

func (a *estimateAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "estimate-bracken",
		Description: "Re-estimate taxon abundances from Kraken 2 reports with Bracken.",
		Inputs: []action.Port{
			{Name: "reports", Types: []artifact.Type{artifact.TypeKraken2Reports}, Help: "Per-sample Kraken 2 reports"},
			{Name: "db", Types: []artifact.Type{artifact.TypeBrackenDB}, Help: "Bracken k-mer distribution database"},
		},
		Outputs: []action.Port{
			{Name: "reports", Types: []artifact.Type{artifact.TypeKraken2Reports}, Help: "Bracken-adjusted reports"},
			{Name: "table", Types: []artifact.Type{artifact.TypeFeatureTable}, Help: "Sample by taxon estimated read counts"},
		},
		Params: []action.ParamSpec{
			{Name: "threshold", Kind: action.ParamInt, Default: "0", Help: "Minimum read count to receive additional reads"},
			{Name: "read_len", Kind: action.ParamInt, Default: "100", Help: "Read length the database was built for"},
			{Name: "level", Kind: action.ParamString, Default: "S", Help: "Taxonomic level for re-estimation"},
		},
		Tools: []string{"bracken"},
	}
}

func (a *estimateAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	reports, err := req.Input("reports")
	if err != nil {
		return nil, err
	}
	db, err := req.Input("db")
	if err != nil {
		return nil, err
	}

	if err := stage.RequireType(reports, artifact.TypeKraken2Reports); err != nil {
		return nil, err
	}
	if err := stage.RequireType(db, artifact.TypeBrackenDB); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params estimateParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	if err := assertReadLenAvailable(db, params.ReadLen); err != nil {
		return nil, err
	}

	reportFiles, err := stage.ListByExt(reports.DataDir(), ".txt")
	if err != nil {
		return nil, err
	}
	if len(reportFiles) == 0 {
		return nil, moshpiterrors.NewMissingInputError(string(reports.Type()), "", "no report files in payload")
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	outputsDir, err := staging.Mkdir("outputs")
	if err != nil {
		return nil, err
	}
	adjustedDir, err := staging.Mkdir("reports")
	if err != nil {
		return nil, err
	}

	table := collect.NewFeatureTable()
	for _, reportFp := range reportFiles {
		sampleID := strings.TrimSuffix(filepath.Base(reportFp), ".report.txt")
		outputFp := filepath.Join(outputsDir, sampleID+".bracken.output.txt")
		adjustedFp := filepath.Join(adjustedDir, sampleID+".report.txt")

		args := []string{
			"-d", db.DataDir(),
			"-i", reportFp,
			"-o", outputFp,
			"-w", adjustedFp,
			"-t", strconv.Itoa(params.Threshold),
			"-r", strconv.Itoa(params.ReadLen),
			"-l", params.Level,
		}
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "bracken", Args: args}); err != nil {
			return nil, err
		}

		if err := collectBrackenOutput(outputFp, sampleID, table); err != nil {
			return nil, err
		}
	}

	adjusted, err := req.NewOutput("reports", artifact.TypeKraken2Reports)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyDir(adjustedDir, adjusted.DataDir()); err != nil {
		return nil, err
	}
	if err := adjusted.RecordProvenance("estimate-bracken", values); err != nil {
		return nil, err
	}

	tableArt, err := req.NewOutput("table", artifact.TypeFeatureTable)
	if err != nil {
		return nil, err
	}
	if err := table.WriteTSV(filepath.Join(tableArt.DataDir(), "table.tsv")); err != nil {
		return nil, err
	}
	if err := tableArt.RecordProvenance("estimate-bracken", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"reports": adjusted, "table": tableArt},
		Summary: fmt.Sprintf("re-estimated abundances for %d samples", len(reportFiles)),
	}, nil
}

// assertReadLenAvailable checks the requested read length against the k-mer
// distribution files actually present in the database payload.
func assertReadLenAvailable(db *artifact.Artifact, readLen int) error {
	files, err := stage.ListByExt(db.DataDir(), ".kmer_distrib")
	if err != nil {
		return err
	}

	var lengths []int
	for _, path := range files {
		if m := kmerDistribPattern.FindStringSubmatch(path); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				lengths = append(lengths, n)
			}
		}
	}
	sort.Ints(lengths)

	for _, n := range lengths {
		if n == readLen {
			return nil
		}
	}

	available := make([]string, len(lengths))
	for i, n := range lengths {
		available[i] = strconv.Itoa(n)
	}
	return moshpiterrors.NewMissingInputError(string(db.Type()),
		fmt.Sprintf("database%dmers.kmer_distrib", readLen),
		fmt.Sprintf("read length %d is not available, the database provides: %s",
			readLen, strings.Join(available, ", ")))
}

// collectBrackenOutput folds one sample's bracken output into the feature
// table, keyed by taxonomy id with the re-estimated read counts as values.
func collectBrackenOutput(path, sampleID string, table *collect.FeatureTable) error {
	header, rows, err := collect.ReadTSV(path)
	if err != nil {
		return err
	}

	if len(header) != len(outputColumns) {
		return moshpiterrors.NewMalformedOutputError(path,
			fmt.Sprintf("expected %d columns, got %d", len(outputColumns), len(header)), nil)
	}
	for i, name := range outputColumns {
		if header[i] != name {
			return moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("unexpected column %q, want %q", header[i], name), nil)
		}
	}

	for _, row := range rows {
		taxID := row[1]
		count, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("bad read count %q for taxon %s", row[5], taxID), err)
		}
		table.Set(sampleID, taxID, count)
	}
	return nil
}
