// Package prodigal wraps Prodigal gene prediction over MAG sequences.
package prodigal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

type predictParams struct {
	TranslationTableNumber int `yaml:"translation_table_number" validate:"min=1,max=25"`
}

type predictAction struct{}

// NewPredict creates the predict-genes-prodigal action.
func NewPredict() action.Action {
	return &predictAction{}
}

var _ action.Action = (*predictAction)(nil)

func (a *predictAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "predict-genes-prodigal",
		Description: "Predict genes and proteins in MAGs with Prodigal.",
		Inputs: []action.Port{
			{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}, Help: "MAG sequences"},
		},
		Outputs: []action.Port{
			{Name: "loci", Types: []artifact.Type{artifact.TypeLoci}, Help: "Gene coordinates (GFF)"},
			{Name: "genes", Types: []artifact.Type{artifact.TypeGenes}, Help: "Predicted gene sequences"},
			{Name: "proteins", Types: []artifact.Type{artifact.TypeProteins}, Help: "Translated protein sequences"},
		},
		Params: []action.ParamSpec{
			{Name: "translation_table_number", Kind: action.ParamInt, Default: "11", Help: "NCBI translation table"},
		},
		Tools: []string{"prodigal"},
	}
}

func (a *predictAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	mags, err := req.Input("mags")
	if err != nil {
		return nil, err
	}
	if err := stage.RequireType(mags, artifact.TypeMAGs); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params predictParams
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

	lociDir, err := staging.Mkdir("loci")
	if err != nil {
		return nil, err
	}
	genesDir, err := staging.Mkdir("genes")
	if err != nil {
		return nil, err
	}
	proteinsDir, err := staging.Mkdir("proteins")
	if err != nil {
		return nil, err
	}

	for _, mag := range files {
		args := []string{
			"-g", strconv.Itoa(params.TranslationTableNumber),
			"-f", "gff",
			"-i", mag.Path,
			"-o", filepath.Join(lociDir, mag.ID+"_loci.gff"),
			"-a", filepath.Join(proteinsDir, mag.ID+"_proteins.fasta"),
			"-d", filepath.Join(genesDir, mag.ID+"_genes.fasta"),
		}
		if _, err := req.Runner.Run(ctx, invoke.Invocation{Tool: "prodigal", Args: args}); err != nil {
			return nil, err
		}
	}

	for _, mag := range files {
		for _, expected := range []string{
			filepath.Join(lociDir, mag.ID+"_loci.gff"),
			filepath.Join(proteinsDir, mag.ID+"_proteins.fasta"),
			filepath.Join(genesDir, mag.ID+"_genes.fasta"),
		} {
			if _, err := os.Stat(expected); err != nil {
				return nil, moshpiterrors.NewMalformedOutputError(expected,
					fmt.Sprintf("prodigal produced no output for MAG %s", mag.ID), err)
			}
		}
	}

	outputs := make(map[string]*artifact.Artifact, 3)
	for name, spec := range map[string]struct {
		t   artifact.Type
		dir string
	}{
		"loci":     {artifact.TypeLoci, lociDir},
		"genes":    {artifact.TypeGenes, genesDir},
		"proteins": {artifact.TypeProteins, proteinsDir},
	} {
		out, err := req.NewOutput(name, spec.t)
		if err != nil {
			return nil, err
		}
		if err := stage.CopyDir(spec.dir, out.DataDir()); err != nil {
			return nil, err
		}
		if err := out.RecordProvenance("predict-genes-prodigal", values); err != nil {
			return nil, err
		}
		outputs[name] = out
	}

	return &action.Result{
		Outputs: outputs,
		Summary: fmt.Sprintf("predicted genes for %d MAGs", len(files)),
	}, nil
}
