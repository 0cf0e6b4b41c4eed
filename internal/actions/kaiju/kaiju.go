// Package kaiju wraps Kaiju protein-level read classification and the
// kaiju2table summarizer.
package kaiju

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

var dbCompanions = []string{"kaiju_db.fmi", "nodes.dmp", "names.dmp"}

// rank prefixes in kaiju2table -l order.
var rankPrefixes = []string{"d__", "p__", "c__", "o__", "f__", "g__", "s__"}

const rankList = "domain,phylum,class,order,family,genus,species"

type classifyParams struct {
	Threads           int    `yaml:"num_threads" validate:"min=1"`
	AllowedMismatches int    `yaml:"allowed_mismatches" validate:"min=0"`
	MinMatchLength    int    `yaml:"min_match_length" validate:"min=1"`
	MinMatchScore     int    `yaml:"min_match_score" validate:"min=1"`
	RunMode           string `yaml:"run_mode" validate:"oneof=greedy mem"`
	Rank              string `yaml:"rank" validate:"oneof=domain phylum class order family genus species"`
}

type classifyAction struct{}

// NewClassify creates the classify-kaiju action.
func NewClassify() action.Action {
	return &classifyAction{}
}

var _ action.Action = (*classifyAction)(nil)

func (a *classifyAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "classify-kaiju",
		Description: "Classify reads against a Kaiju protein database.",
		Inputs: []action.Port{
			{Name: "seqs", Types: []artifact.Type{artifact.TypeReadsSingle, artifact.TypeReadsPaired}, Help: "Per-sample sequencing reads"},
			{Name: "db", Types: []artifact.Type{artifact.TypeKaijuDB}, Help: "Kaiju FM-index database"},
		},
		Outputs: []action.Port{
			{Name: "table", Types: []artifact.Type{artifact.TypeFeatureTable}, Help: "Sample by taxon read counts"},
			{Name: "taxonomy", Types: []artifact.Type{artifact.TypeTaxonomy}, Help: "Taxon id to lineage mapping"},
		},
		Params: []action.ParamSpec{
			{Name: "num_threads", Kind: action.ParamInt, Default: "1", Help: "Worker threads"},
			{Name: "allowed_mismatches", Kind: action.ParamInt, Default: "3", Help: "Mismatches allowed in greedy mode"},
			{Name: "min_match_length", Kind: action.ParamInt, Default: "11", Help: "Minimum match length"},
			{Name: "min_match_score", Kind: action.ParamInt, Default: "65", Help: "Minimum match score in greedy mode"},
			{Name: "run_mode", Kind: action.ParamString, Default: "greedy", Help: "Search mode"},
			{Name: "rank", Kind: action.ParamString, Default: "species", Help: "Rank for the summary table"},
		},
		Tools: []string{"kaiju", "kaiju2table"},
	}
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

	if err := stage.RequireType(seqs, artifact.TypeReadsSingle, artifact.TypeReadsPaired); err != nil {
		return nil, err
	}
	if err := stage.RequireType(db, artifact.TypeKaijuDB); err != nil {
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

	records, err := artifact.ReadManifest(seqs.DataDir())
	if err != nil {
		return nil, err
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	var outFiles []string
	sampleByOutput := make(map[string]string, len(records))
	for _, rec := range records {
		outFp := staging.Path(rec.SampleID + ".kaiju.out")
		args := []string{
			"-z", strconv.Itoa(params.Threads),
			"-e", strconv.Itoa(params.AllowedMismatches),
			"-m", strconv.Itoa(params.MinMatchLength),
			"-s", strconv.Itoa(params.MinMatchScore),
			"-a", params.RunMode,
			"-f", filepath.Join(db.DataDir(), "kaiju_db.fmi"),
			"-t", filepath.Join(db.DataDir(), "nodes.dmp"),
			"-i", rec.Forward,
			"-o", outFp,
		}
		if rec.Paired() {
			args = append(args, "-j", rec.Reverse)
		}
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "kaiju", Args: args}); err != nil {
			return nil, err
		}
		outFiles = append(outFiles, outFp)
		sampleByOutput[filepath.Base(outFp)] = rec.SampleID
	}

	summaryFp := staging.Path("summary.tsv")
	tableArgs := []string{
		"-v",
		"-t", filepath.Join(db.DataDir(), "nodes.dmp"),
		"-n", filepath.Join(db.DataDir(), "names.dmp"),
		"-r", params.Rank,
		"-l", rankList,
		"-o", summaryFp,
	}
	tableArgs = append(tableArgs, outFiles...)
	if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "kaiju2table", Args: tableArgs}); err != nil {
		return nil, err
	}

	table, taxonomy, err := collectSummary(summaryFp, sampleByOutput)
	if err != nil {
		return nil, err
	}

	tableArt, err := req.NewOutput("table", artifact.TypeFeatureTable)
	if err != nil {
		return nil, err
	}
	if err := table.WriteTSV(filepath.Join(tableArt.DataDir(), "table.tsv")); err != nil {
		return nil, err
	}
	if err := tableArt.RecordProvenance("classify-kaiju", values); err != nil {
		return nil, err
	}

	taxArt, err := req.NewOutput("taxonomy", artifact.TypeTaxonomy)
	if err != nil {
		return nil, err
	}
	if err := collect.WriteTaxonomyTSV(filepath.Join(taxArt.DataDir(), "taxonomy.tsv"), taxonomy); err != nil {
		return nil, err
	}
	if err := taxArt.RecordProvenance("classify-kaiju", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"table": tableArt, "taxonomy": taxArt},
		Summary: fmt.Sprintf("classified %d samples", len(records)),
	}, nil
}

// collectSummary parses kaiju2table output. Expected columns are file,
// percent, reads, taxon_id, taxon_name; the file column maps rows back to
// their sample.
func collectSummary(path string, sampleByOutput map[string]string) (*collect.FeatureTable, map[string]string, error) {
	header, rows, err := collect.ReadTSV(path)
	if err != nil {
		return nil, nil, err
	}
	if len(header) != 5 || header[0] != "file" || header[4] != "taxon_name" {
		return nil, nil, moshpiterrors.NewMalformedOutputError(path,
			fmt.Sprintf("unexpected kaiju2table header: %v", header), nil)
	}

	table := collect.NewFeatureTable()
	taxonomy := make(map[string]string)
	for i, row := range rows {
		sample, ok := sampleByOutput[filepath.Base(row[0])]
		if !ok {
			return nil, nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("row %d refers to unknown output file %s", i+1, row[0]), nil)
		}
		reads, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("bad read count %q", row[2]), err)
		}

		featureID, lineage := normalizeTaxon(row[3], row[4])
		table.Set(sample, featureID, table.Get(sample, featureID)+reads)
		taxonomy[featureID] = lineage
	}
	return table, taxonomy, nil
}

// normalizeTaxon turns kaiju2table's taxon columns into a stable feature id
// and a rank-prefixed lineage. Unclassified and "cannot be assigned" rows
// have no usable taxon id, the normalized name doubles as the id.
func normalizeTaxon(taxID, name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "unclassified" || strings.HasPrefix(name, "cannot be assigned") {
		id := "unclassified"
		if strings.HasPrefix(name, "cannot be assigned") {
			id = "unassigned"
		}
		return id, id
	}

	segments := strings.Split(name, ";")
	var parts []string
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || i >= len(rankPrefixes) {
			continue
		}
		parts = append(parts, rankPrefixes[i]+seg)
	}
	return taxID, strings.Join(parts, ";")
}
