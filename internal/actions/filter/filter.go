// Package filter subsets MAG collections by length bounds and id lists.
package filter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

type filterParams struct {
	MinLength int      `yaml:"min_length" validate:"min=0"`
	MaxLength int      `yaml:"max_length" validate:"min=0"`
	IDs       []string `yaml:"ids"`
	Exclude   bool     `yaml:"exclude_ids"`
}

type filterAction struct{}

// NewFilter creates the filter-mags action.
func NewFilter() action.Action {
	return &filterAction{}
}

var _ action.Action = (*filterAction)(nil)

func (a *filterAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "filter-mags",
		Description: "Filter MAGs by total length and explicit id lists.",
		Inputs: []action.Port{
			{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}, Help: "MAG sequences to filter"},
		},
		Outputs: []action.Port{
			{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}, Help: "MAGs passing the filter"},
		},
		Params: []action.ParamSpec{
			{Name: "min_length", Kind: action.ParamInt, Default: "0", Help: "Minimum total sequence length"},
			{Name: "max_length", Kind: action.ParamInt, Default: "0", Help: "Maximum total sequence length, 0 for unbounded"},
			{Name: "ids", Kind: action.ParamStrings, Help: "MAG ids to keep, or to drop with exclude_ids"},
			{Name: "exclude_ids", Kind: action.ParamBool, Default: "false", Help: "Treat ids as a drop list"},
		},
	}
}

func (a *filterAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
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
	var params filterParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}
	if params.MaxLength > 0 && params.MaxLength < params.MinLength {
		return nil, moshpiterrors.NewValidationError("max_length",
			"max_length must be at least min_length", nil)
	}

	files, err := stage.ListSequences(mags.DataDir())
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, moshpiterrors.NewMissingInputError(string(mags.Type()), "", "no FASTA files in payload")
	}

	idSet := make(map[string]bool, len(params.IDs))
	for _, id := range params.IDs {
		idSet[id] = true
	}

	var kept []stage.SequenceFile
	for _, f := range files {
		if len(idSet) > 0 {
			listed := idSet[f.ID]
			if params.Exclude == listed {
				continue
			}
		}
		n, err := fastaLength(f.Path)
		if err != nil {
			return nil, err
		}
		if n < params.MinLength {
			continue
		}
		if params.MaxLength > 0 && n > params.MaxLength {
			continue
		}
		kept = append(kept, f)
	}

	if len(kept) == 0 {
		return nil, moshpiterrors.NewValidationError("mags",
			"filter removed every MAG, no output to produce", nil)
	}

	out, err := req.NewOutput("mags", artifact.TypeMAGs)
	if err != nil {
		return nil, err
	}
	for _, f := range kept {
		if err := stage.CopyFile(f.Path, filepath.Join(out.DataDir(), filepath.Base(f.Path))); err != nil {
			return nil, err
		}
	}
	if err := out.RecordProvenance("filter-mags", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"mags": out},
		Summary: fmt.Sprintf("kept %d of %d MAGs", len(kept), len(files)),
	}, nil
}

func fastaLength(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ">") {
			continue
		}
		total += len(strings.TrimSpace(line))
	}
	return total, scanner.Err()
}
