// Package collect holds shared result-collection helpers: tabular output
// parsing and feature table serialization used by several collectors.
package collect

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// FeatureTable is a sample-by-feature matrix. Missing cells read as zero.
type FeatureTable struct {
	cells map[string]map[string]float64
}

// NewFeatureTable creates an empty table.
func NewFeatureTable() *FeatureTable {
	return &FeatureTable{cells: make(map[string]map[string]float64)}
}

// Set stores one cell.
func (t *FeatureTable) Set(sample, feature string, value float64) {
	row, ok := t.cells[sample]
	if !ok {
		row = make(map[string]float64)
		t.cells[sample] = row
	}
	row[feature] = value
}

// Samples returns the sample identifiers in sorted order.
func (t *FeatureTable) Samples() []string {
	samples := make([]string, 0, len(t.cells))
	for sample := range t.cells {
		samples = append(samples, sample)
	}
	sort.Strings(samples)
	return samples
}

// Features returns all feature identifiers in sorted order.
func (t *FeatureTable) Features() []string {
	seen := make(map[string]struct{})
	for _, row := range t.cells {
		for feature := range row {
			seen[feature] = struct{}{}
		}
	}
	features := make([]string, 0, len(seen))
	for feature := range seen {
		features = append(features, feature)
	}
	sort.Strings(features)
	return features
}

// Get returns one cell, zero when unset.
func (t *FeatureTable) Get(sample, feature string) float64 {
	return t.cells[sample][feature]
}

// WriteTSV serializes the table with samples as rows and features as
// columns, both sorted, so output is byte-stable across runs.
func (t *FeatureTable) WriteTSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create feature table: %w", err)
	}

	w := bufio.NewWriter(f)
	features := t.Features()

	fmt.Fprint(w, "sample-id")
	for _, feature := range features {
		fmt.Fprintf(w, "\t%s", feature)
	}
	fmt.Fprintln(w)

	for _, sample := range t.Samples() {
		fmt.Fprint(w, sample)
		for _, feature := range features {
			fmt.Fprintf(w, "\t%s", formatCell(t.Get(sample, feature)))
		}
		fmt.Fprintln(w)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("cannot write feature table: %w", err)
	}
	return f.Close()
}

func formatCell(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

// WriteTaxonomyTSV writes a Feature ID -> Taxon mapping sorted by feature.
func WriteTaxonomyTSV(path string, taxonomy map[string]string) error {
	ids := make([]string, 0, len(taxonomy))
	for id := range taxonomy {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create taxonomy file: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "Feature ID\tTaxon")
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%s\n", id, taxonomy[id])
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("cannot write taxonomy file: %w", err)
	}
	return f.Close()
}

// ReadTSV reads a tab-separated file, enforcing a uniform column count.
// Returns the header and the data rows.
func ReadTSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, moshpiterrors.NewMalformedOutputError(path, "cannot open table", err)
	}
	defer f.Close()

	var header []string
	var rows [][]string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}

		fields := strings.Split(text, "\t")
		if header == nil {
			header = fields
			continue
		}
		if len(fields) != len(header) {
			return nil, nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("line %d: expected %d columns, got %d", line, len(header), len(fields)), nil)
		}
		rows = append(rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, moshpiterrors.NewMalformedOutputError(path, "cannot read table", err)
	}
	if header == nil {
		return nil, nil, moshpiterrors.NewMalformedOutputError(path, "table is empty", nil)
	}
	return header, rows, nil
}
