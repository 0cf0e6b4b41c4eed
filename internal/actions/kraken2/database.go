package kraken2

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

type buildDBParams struct {
	Threads         int      `yaml:"threads" validate:"min=1,max=256"`
	Libraries       []string `yaml:"libraries" validate:"omitempty,dive,oneof=archaea bacteria plasmid viral human fungi plant protozoa nt UniVec UniVec_Core"`
	NoMasking       bool     `yaml:"no_masking"`
	UseFTP          bool     `yaml:"use_ftp"`
	KmerLen         int      `yaml:"kmer_len" validate:"omitempty,min=1"`
	MinimizerLen    int      `yaml:"minimizer_len" validate:"omitempty,min=1"`
	MinimizerSpaces int      `yaml:"minimizer_spaces" validate:"omitempty,min=0"`
	FastBuild       bool     `yaml:"fast_build"`
}

type buildDBAction struct{}

// NewBuildDB creates the build-kraken2-db action.
func NewBuildDB() action.Action {
	return &buildDBAction{}
}

var _ action.Action = (*buildDBAction)(nil)

func (a *buildDBAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "build-kraken2-db",
		Description: "Build a Kraken 2 database from reference libraries and optional custom sequences.",
		Inputs: []action.Port{
			{Name: "seqs", Types: []artifact.Type{artifact.TypeContigs, artifact.TypeMAGs}, Help: "Optional custom sequences to add to the library"},
		},
		Outputs: []action.Port{
			{Name: "db", Types: []artifact.Type{artifact.TypeKraken2DB}, Help: "Built Kraken 2 database"},
		},
		Params: []action.ParamSpec{
			{Name: "threads", Kind: action.ParamInt, Default: "1", Help: "Number of threads"},
			{Name: "libraries", Kind: action.ParamStrings, Help: "Reference libraries to download"},
			{Name: "no_masking", Kind: action.ParamBool, Default: "false", Help: "Skip low-complexity masking"},
			{Name: "use_ftp", Kind: action.ParamBool, Default: "false", Help: "Download over FTP instead of rsync"},
			{Name: "kmer_len", Kind: action.ParamInt, Help: "K-mer length"},
			{Name: "minimizer_len", Kind: action.ParamInt, Help: "Minimizer length"},
			{Name: "minimizer_spaces", Kind: action.ParamInt, Help: "Minimizer spaces"},
			{Name: "fast_build", Kind: action.ParamBool, Default: "false", Help: "Use a faster, non-deterministic build"},
		},
		Tools: []string{"kraken2-build"},
	}
}

func (a *buildDBAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params buildDBParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	seqs := req.Inputs["seqs"]
	if seqs == nil && len(params.Libraries) == 0 {
		return nil, moshpiterrors.NewValidationError("libraries",
			"either custom sequences or at least one reference library is required", nil)
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	dbDir, err := staging.Mkdir("db")
	if err != nil {
		return nil, err
	}

	downloadArgs, err := invoke.FormatParams(map[string]any{
		"threads": params.Threads,
		"use_ftp": params.UseFTP,
	})
	if err != nil {
		return nil, err
	}

	args := append([]string{"--download-taxonomy"}, downloadArgs...)
	args = append(args, "--db", dbDir)
	if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "kraken2-build", Args: args}); err != nil {
		return nil, err
	}

	libraryArgs := append([]string(nil), downloadArgs...)
	if params.NoMasking {
		libraryArgs = append(libraryArgs, "--no-masking")
	}
	for _, library := range params.Libraries {
		args := []string{"--download-library", library}
		args = append(args, libraryArgs...)
		args = append(args, "--db", dbDir)
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "kraken2-build", Args: args}); err != nil {
			return nil, err
		}
	}

	if seqs != nil {
		if err := stage.RequireType(seqs, artifact.TypeContigs, artifact.TypeMAGs); err != nil {
			return nil, err
		}
		files, err := stage.ListSequences(seqs.DataDir())
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, moshpiterrors.NewMissingInputError(string(seqs.Type()), "", "no FASTA files in payload")
		}
		for _, f := range files {
			args := []string{"--add-to-library", f.Path, "--db", dbDir}
			if params.NoMasking {
				args = append(args, "--no-mask")
			}
			if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "kraken2-build", Args: args}); err != nil {
				return nil, err
			}
		}
	}

	buildValues := map[string]any{
		"threads":    params.Threads,
		"fast_build": params.FastBuild,
	}
	// Optional tuning parameters default to the tool's own values when unset.
	if params.KmerLen > 0 {
		buildValues["kmer_len"] = params.KmerLen
	}
	if params.MinimizerLen > 0 {
		buildValues["minimizer_len"] = params.MinimizerLen
	}
	if params.MinimizerSpaces > 0 {
		buildValues["minimizer_spaces"] = params.MinimizerSpaces
	}
	buildArgs, err := invoke.FormatParams(buildValues)
	if err != nil {
		return nil, err
	}
	args = append([]string{"--build"}, buildArgs...)
	args = append(args, "--db", dbDir)
	if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "kraken2-build", Args: args}); err != nil {
		return nil, err
	}

	for _, name := range dbCompanions {
		if _, err := os.Stat(filepath.Join(dbDir, name)); err != nil {
			return nil, moshpiterrors.NewMalformedOutputError(filepath.Join(dbDir, name),
				"kraken2-build completed without producing the index file", err)
		}
	}

	db, err := req.NewOutput("db", artifact.TypeKraken2DB)
	if err != nil {
		return nil, err
	}
	// Only the index files matter downstream; library and taxonomy
	// scratch data would bloat the artifact.
	for _, name := range dbCompanions {
		if err := stage.CopyFile(filepath.Join(dbDir, name), filepath.Join(db.DataDir(), name)); err != nil {
			return nil, err
		}
	}
	if err := db.RecordProvenance("build-kraken2-db", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"db": db},
		Summary: fmt.Sprintf("built database from %d libraries", len(params.Libraries)),
	}, nil
}
