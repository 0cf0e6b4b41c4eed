// Package derep collapses near-identical MAGs into representative genomes
// using a precomputed pairwise distance matrix.
package derep

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/collect"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

type derepParams struct {
	Threshold float64 `yaml:"threshold" validate:"min=0,max=1"`
}

type derepAction struct{}

// NewDereplicate creates the dereplicate-mags action.
func NewDereplicate() action.Action {
	return &derepAction{}
}

var _ action.Action = (*derepAction)(nil)

func (a *derepAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "dereplicate-mags",
		Description: "Collapse similar MAGs into representatives via single-linkage clustering.",
		Inputs: []action.Port{
			{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}, Help: "MAG sequences to dereplicate"},
			{Name: "distances", Types: []artifact.Type{artifact.TypeFeatureTable}, Help: "Symmetric pairwise distance matrix"},
		},
		Outputs: []action.Port{
			{Name: "mags", Types: []artifact.Type{artifact.TypeMAGs}, Help: "Representative MAGs"},
			{Name: "clusters", Types: []artifact.Type{artifact.TypeFeatureTable}, Help: "MAG to representative mapping"},
		},
		Params: []action.ParamSpec{
			{Name: "threshold", Kind: action.ParamFloat, Default: "0.05", Help: "Maximum distance for two MAGs to share a cluster"},
		},
	}
}

func (a *derepAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	mags, err := req.Input("mags")
	if err != nil {
		return nil, err
	}
	distances, err := req.Input("distances")
	if err != nil {
		return nil, err
	}

	if err := stage.RequireType(mags, artifact.TypeMAGs); err != nil {
		return nil, err
	}
	if err := stage.RequireType(distances, artifact.TypeFeatureTable); err != nil {
		return nil, err
	}

	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params derepParams
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
	byID := make(map[string]stage.SequenceFile, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	matrix, ids, err := readDistanceMatrix(filepath.Join(distances.DataDir(), "table.tsv"))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, moshpiterrors.NewMissingInputError(string(mags.Type()), id+".fasta",
				fmt.Sprintf("distance matrix names MAG %s which is not in the payload", id))
		}
	}

	clusters := cluster(ids, matrix, params.Threshold)

	representatives := make(map[string]string, len(ids))
	var kept []string
	for _, members := range clusters {
		rep, err := longestMember(members, byID)
		if err != nil {
			return nil, err
		}
		kept = append(kept, rep)
		for _, id := range members {
			representatives[id] = rep
		}
	}
	sort.Strings(kept)

	out, err := req.NewOutput("mags", artifact.TypeMAGs)
	if err != nil {
		return nil, err
	}
	for _, id := range kept {
		src := byID[id]
		if err := stage.CopyFile(src.Path, filepath.Join(out.DataDir(), filepath.Base(src.Path))); err != nil {
			return nil, err
		}
	}
	if err := out.RecordProvenance("dereplicate-mags", values); err != nil {
		return nil, err
	}

	clustersArt, err := req.NewOutput("clusters", artifact.TypeFeatureTable)
	if err != nil {
		return nil, err
	}
	if err := writeClusters(filepath.Join(clustersArt.DataDir(), "clusters.tsv"), representatives); err != nil {
		return nil, err
	}
	if err := clustersArt.RecordProvenance("dereplicate-mags", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"mags": out, "clusters": clustersArt},
		Summary: fmt.Sprintf("collapsed %d MAGs into %d representatives", len(ids), len(kept)),
	}, nil
}

// readDistanceMatrix parses a square matrix TSV whose header and first
// column both carry MAG ids.
func readDistanceMatrix(path string) (map[string]map[string]float64, []string, error) {
	header, rows, err := collect.ReadTSV(path)
	if err != nil {
		return nil, nil, err
	}
	if len(header) < 2 {
		return nil, nil, moshpiterrors.NewMalformedOutputError(path, "distance matrix needs at least one MAG", nil)
	}
	ids := header[1:]
	if len(rows) != len(ids) {
		return nil, nil, moshpiterrors.NewMalformedOutputError(path,
			fmt.Sprintf("matrix is not square: %d columns but %d rows", len(ids), len(rows)), nil)
	}

	matrix := make(map[string]map[string]float64, len(ids))
	for _, row := range rows {
		from := row[0]
		matrix[from] = make(map[string]float64, len(ids))
		for i, cell := range row[1:] {
			d, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, moshpiterrors.NewMalformedOutputError(path,
					fmt.Sprintf("bad distance %q between %s and %s", cell, from, ids[i]), err)
			}
			matrix[from][ids[i]] = d
		}
	}
	for _, id := range ids {
		if _, ok := matrix[id]; !ok {
			return nil, nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("matrix row missing for %s", id), nil)
		}
	}
	return matrix, ids, nil
}

// cluster performs single-linkage clustering: MAGs within threshold of any
// member join that member's cluster. Clusters come back with members in
// input order.
func cluster(ids []string, matrix map[string]map[string]float64, threshold float64) [][]string {
	parent := make(map[string]string, len(ids))
	for _, id := range ids {
		parent[id] = id
	}
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}

	for i, a := range ids {
		for _, b := range ids[i+1:] {
			if matrix[a][b] <= threshold {
				parent[find(a)] = find(b)
			}
		}
	}

	groups := make(map[string][]string)
	var roots []string
	for _, id := range ids {
		root := find(id)
		if _, seen := groups[root]; !seen {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], id)
	}

	clusters := make([][]string, 0, len(roots))
	for _, root := range roots {
		clusters = append(clusters, groups[root])
	}
	return clusters
}

// longestMember picks the member with the most sequence bases.
func longestMember(members []string, byID map[string]stage.SequenceFile) (string, error) {
	best := ""
	bestLen := -1
	for _, id := range members {
		n, err := fastaLength(byID[id].Path)
		if err != nil {
			return "", err
		}
		if n > bestLen || (n == bestLen && id < best) {
			best, bestLen = id, n
		}
	}
	return best, nil
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

func writeClusters(path string, representatives map[string]string) error {
	ids := make([]string, 0, len(representatives))
	for id := range representatives {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("mag-id\trepresentative\n")
	for _, id := range ids {
		sb.WriteString(id)
		sb.WriteByte('\t')
		sb.WriteString(representatives[id])
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
