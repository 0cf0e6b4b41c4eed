// Package eggnog wraps the eggNOG-mapper tool chain: a Diamond-backed
// ortholog search followed by functional annotation of the hits.
package eggnog

import (
	"bufio"
	"context"
	"fmt"
	"os"
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

const (
	diamondIndexFile = "ref_db.dmnd"
	seedOrthologExt  = ".emapper.seed_orthologs"
	annotationExt    = ".emapper.annotations"
)

var eggnogCompanions = []string{"eggnog.db", "eggnog.taxa.db"}

type searchParams struct {
	NumCPUs   int    `yaml:"num_cpus" validate:"min=0"`
	DBInMem   bool   `yaml:"db_in_memory"`
	InputType string `yaml:"itype" validate:"oneof=metagenome genome proteins CDS"`
}

type searchAction struct{}

// NewSearch creates the search-orthologs-diamond action.
func NewSearch() action.Action {
	return &searchAction{}
}

var _ action.Action = (*searchAction)(nil)

func (a *searchAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "search-orthologs-diamond",
		Description: "Find seed orthologs with eggNOG-mapper's Diamond search.",
		Inputs: []action.Port{
			{Name: "seqs", Types: []artifact.Type{artifact.TypeContigs, artifact.TypeMAGs}, Help: "Per-sample sequences to search"},
			{Name: "db", Types: []artifact.Type{artifact.TypeDiamondDB}, Help: "Diamond reference database"},
		},
		Outputs: []action.Port{
			{Name: "seed_orthologs", Types: []artifact.Type{artifact.TypeSeedOrthologs}, Help: "Per-sample seed ortholog hit tables"},
			{Name: "table", Types: []artifact.Type{artifact.TypeFeatureTable}, Help: "Sample by ortholog hit counts"},
		},
		Params: []action.ParamSpec{
			{Name: "num_cpus", Kind: action.ParamInt, Default: "1", Help: "CPUs for the search, 0 uses all cores"},
			{Name: "db_in_memory", Kind: action.ParamBool, Default: "false", Help: "Load the database into memory"},
			{Name: "itype", Kind: action.ParamString, Default: "metagenome", Help: "Input sequence type"},
		},
		Tools: []string{"emapper.py"},
	}
}

func (a *searchAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	seqs, err := req.Input("seqs")
	if err != nil {
		return nil, err
	}
	db, err := req.Input("db")
	if err != nil {
		return nil, err
	}

	if err := stage.RequireType(seqs, artifact.TypeContigs, artifact.TypeMAGs); err != nil {
		return nil, err
	}
	if err := stage.RequireType(db, artifact.TypeDiamondDB); err != nil {
		return nil, err
	}
	if err := stage.RequireCompanions(db, diamondIndexFile); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params searchParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	files, err := stage.ListSequences(seqs.DataDir())
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, moshpiterrors.NewMissingInputError(string(seqs.Type()), "", "no FASTA files in payload")
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	hitsDir, err := staging.Mkdir("hits")
	if err != nil {
		return nil, err
	}

	table := collect.NewFeatureTable()
	for _, seq := range files {
		sampleID := strings.TrimSuffix(seq.ID, "_contigs")
		args := []string{
			"-m", "diamond",
			"--no_annot",
			"-i", seq.Path,
			"-o", sampleID,
			"--output_dir", hitsDir,
			"--dmnd_db", filepath.Join(db.DataDir(), diamondIndexFile),
			"--itype", params.InputType,
			"--cpu", strconv.Itoa(params.NumCPUs),
		}
		if params.DBInMem {
			args = append(args, "--dbmem")
		}
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "emapper.py", Args: args}); err != nil {
			return nil, err
		}

		hitsFp := filepath.Join(hitsDir, sampleID+seedOrthologExt)
		if err := collectSeedOrthologs(hitsFp, sampleID, table); err != nil {
			return nil, err
		}
	}

	hits, err := req.NewOutput("seed_orthologs", artifact.TypeSeedOrthologs)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyDir(hitsDir, hits.DataDir()); err != nil {
		return nil, err
	}
	if err := hits.RecordProvenance("search-orthologs-diamond", values); err != nil {
		return nil, err
	}

	tableArt, err := req.NewOutput("table", artifact.TypeFeatureTable)
	if err != nil {
		return nil, err
	}
	if err := table.WriteTSV(filepath.Join(tableArt.DataDir(), "table.tsv")); err != nil {
		return nil, err
	}
	if err := tableArt.RecordProvenance("search-orthologs-diamond", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"seed_orthologs": hits, "table": tableArt},
		Summary: fmt.Sprintf("searched orthologs for %d samples", len(files)),
	}, nil
}

// collectSeedOrthologs folds one sample's hit table into the feature table,
// counting hits per subject ortholog. Comment lines start with '#'.
func collectSeedOrthologs(path, sampleID string, table *collect.FeatureTable) error {
	f, err := os.Open(path)
	if err != nil {
		return moshpiterrors.NewMalformedOutputError(path, "seed ortholog table was not produced", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("line %d: expected at least 2 columns, got %d", line, len(fields)), nil)
		}
		ortholog := fields[1]
		table.Set(sampleID, ortholog, table.Get(sampleID, ortholog)+1)
	}
	return scanner.Err()
}

type annotateParams struct {
	NumCPUs int  `yaml:"num_cpus" validate:"min=0"`
	DBInMem bool `yaml:"db_in_memory"`
}

type annotateAction struct{}

// NewAnnotate creates the annotate-orthologs action.
func NewAnnotate() action.Action {
	return &annotateAction{}
}

var _ action.Action = (*annotateAction)(nil)

func (a *annotateAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "annotate-orthologs",
		Description: "Annotate seed ortholog hits against the eggNOG database.",
		Inputs: []action.Port{
			{Name: "hits", Types: []artifact.Type{artifact.TypeSeedOrthologs}, Help: "Per-sample seed ortholog hit tables"},
			{Name: "db", Types: []artifact.Type{artifact.TypeEggnogDB}, Help: "eggNOG annotation database"},
		},
		Outputs: []action.Port{
			{Name: "annotations", Types: []artifact.Type{artifact.TypeOrthologAnnotations}, Help: "Per-sample annotation tables"},
		},
		Params: []action.ParamSpec{
			{Name: "num_cpus", Kind: action.ParamInt, Default: "1", Help: "CPUs for annotation, 0 uses all cores"},
			{Name: "db_in_memory", Kind: action.ParamBool, Default: "false", Help: "Load the database into memory"},
		},
		Tools: []string{"emapper.py"},
	}
}

func (a *annotateAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	hits, err := req.Input("hits")
	if err != nil {
		return nil, err
	}
	db, err := req.Input("db")
	if err != nil {
		return nil, err
	}

	if err := stage.RequireType(hits, artifact.TypeSeedOrthologs); err != nil {
		return nil, err
	}
	if err := stage.RequireType(db, artifact.TypeEggnogDB); err != nil {
		return nil, err
	}
	if err := stage.RequireCompanions(db, eggnogCompanions...); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params annotateParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	hitFiles, err := stage.ListByExt(hits.DataDir(), ".seed_orthologs")
	if err != nil {
		return nil, err
	}
	if len(hitFiles) == 0 {
		return nil, moshpiterrors.NewMissingInputError(string(hits.Type()), "", "no seed ortholog tables in payload")
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	annotDir, err := staging.Mkdir("annotations")
	if err != nil {
		return nil, err
	}

	for _, hitsFp := range hitFiles {
		sampleID := strings.TrimSuffix(filepath.Base(hitsFp), seedOrthologExt)
		args := []string{
			"-m", "no_search",
			"--annotate_hits_table", hitsFp,
			"-o", sampleID,
			"--output_dir", annotDir,
			"--data_dir", db.DataDir(),
			"--cpu", strconv.Itoa(params.NumCPUs),
		}
		if params.DBInMem {
			args = append(args, "--dbmem")
		}
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "emapper.py", Args: args}); err != nil {
			return nil, err
		}

		annotFp := filepath.Join(annotDir, sampleID+annotationExt)
		if _, err := os.Stat(annotFp); err != nil {
			return nil, moshpiterrors.NewMalformedOutputError(annotFp,
				fmt.Sprintf("no annotations produced for sample %s", sampleID), err)
		}
	}

	annotations, err := req.NewOutput("annotations", artifact.TypeOrthologAnnotations)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyDir(annotDir, annotations.DataDir()); err != nil {
		return nil, err
	}
	if err := annotations.RecordProvenance("annotate-orthologs", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"annotations": annotations},
		Summary: fmt.Sprintf("annotated %d hit tables", len(hitFiles)),
	}, nil
}
