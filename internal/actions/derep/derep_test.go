package derep

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

func newMAGs(t *testing.T, lengths map[string]int) *artifact.Artifact {
	t.Helper()
	mags, err := artifact.New(filepath.Join(t.TempDir(), "mags"), artifact.TypeMAGs)
	require.NoError(t, err)
	for id, n := range lengths {
		content := ">c1\n" + strings.Repeat("A", n) + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(mags.DataDir(), id+".fasta"), []byte(content), 0o644))
	}
	return mags
}

func newDistances(t *testing.T, matrix string) *artifact.Artifact {
	t.Helper()
	distances, err := artifact.New(filepath.Join(t.TempDir(), "distances"), artifact.TypeFeatureTable)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(distances.DataDir(), "table.tsv"), []byte(matrix), 0o644))
	return distances
}

func newRequest(t *testing.T, mags, distances *artifact.Artifact) *action.Request {
	t.Helper()
	outDir := t.TempDir()
	return &action.Request{
		Inputs: map[string]*artifact.Artifact{"mags": mags, "distances": distances},
		OutputPaths: map[string]string{
			"mags":     filepath.Join(outDir, "derep"),
			"clusters": filepath.Join(outDir, "clusters"),
		},
	}
}

const threeWayMatrix = "id\tmagA\tmagB\tmagC\n" +
	"magA\t0.00\t0.01\t0.90\n" +
	"magB\t0.01\t0.00\t0.88\n" +
	"magC\t0.90\t0.88\t0.00\n"

func TestDereplicateKeepsLongestPerCluster(t *testing.T) {
	mags := newMAGs(t, map[string]int{"magA": 100, "magB": 400, "magC": 200})
	distances := newDistances(t, threeWayMatrix)

	res, err := NewDereplicate().Run(context.Background(), newRequest(t, mags, distances))
	require.NoError(t, err)

	data := res.Outputs["mags"].DataDir()
	// magA and magB cluster together, magB is longer
	require.NoFileExists(t, filepath.Join(data, "magA.fasta"))
	require.FileExists(t, filepath.Join(data, "magB.fasta"))
	require.FileExists(t, filepath.Join(data, "magC.fasta"))

	clusters, err := os.ReadFile(filepath.Join(res.Outputs["clusters"].DataDir(), "clusters.tsv"))
	require.NoError(t, err)
	require.Equal(t,
		"mag-id\trepresentative\nmagA\tmagB\nmagB\tmagB\nmagC\tmagC\n",
		string(clusters))
}

func TestDereplicateSingleLinkageIsTransitive(t *testing.T) {
	// A-B and B-C are close, A-C is not: single linkage still merges all
	// three.
	matrix := "id\tmagA\tmagB\tmagC\n" +
		"magA\t0.00\t0.02\t0.70\n" +
		"magB\t0.02\t0.00\t0.03\n" +
		"magC\t0.70\t0.03\t0.00\n"
	mags := newMAGs(t, map[string]int{"magA": 100, "magB": 200, "magC": 300})
	distances := newDistances(t, matrix)

	res, err := NewDereplicate().Run(context.Background(), newRequest(t, mags, distances))
	require.NoError(t, err)
	require.Contains(t, res.Summary, "into 1 representatives")
	require.FileExists(t, filepath.Join(res.Outputs["mags"].DataDir(), "magC.fasta"))
}

func TestDereplicateRejectsUnknownMAGInMatrix(t *testing.T) {
	mags := newMAGs(t, map[string]int{"magA": 100})
	matrix := "id\tmagA\tmagX\n" +
		"magA\t0.00\t0.50\n" +
		"magX\t0.50\t0.00\n"
	distances := newDistances(t, matrix)

	_, err := NewDereplicate().Run(context.Background(), newRequest(t, mags, distances))
	var missing *moshpiterrors.MissingInputError
	require.ErrorAs(t, err, &missing)
	require.Contains(t, missing.Message, "magX")
}

func TestDereplicateRejectsNonSquareMatrix(t *testing.T) {
	mags := newMAGs(t, map[string]int{"magA": 100, "magB": 100})
	matrix := "id\tmagA\tmagB\n" +
		"magA\t0.00\t0.10\n"
	distances := newDistances(t, matrix)

	req := newRequest(t, mags, distances)
	_, err := NewDereplicate().Run(context.Background(), req)
	var malformed *moshpiterrors.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	require.NoDirExists(t, req.OutputPaths["mags"])
}

func TestDereplicateRejectsBadThreshold(t *testing.T) {
	mags := newMAGs(t, map[string]int{"magA": 100})
	distances := newDistances(t, "id\tmagA\nmagA\t0.00\n")

	req := newRequest(t, mags, distances)
	req.Params = map[string]string{"threshold": "1.5"}

	_, err := NewDereplicate().Run(context.Background(), req)
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}
