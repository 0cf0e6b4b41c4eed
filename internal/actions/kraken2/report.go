package kraken2

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// reportRow is one line of a Kraken 2 report. Depth is derived from the
// two-space indentation of the name column.
type reportRow struct {
	Percent     float64
	CladeReads  int
	DirectReads int
	Rank        string
	TaxID       string
	Name        string
	Depth       int
}

// parseReportFile reads a Kraken 2 report. Reports have 6 columns, or 8
// when minimizer data was requested; anything else is malformed.
func parseReportFile(path string) ([]reportRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, moshpiterrors.NewMalformedOutputError(path, "cannot open report", err)
	}
	defer f.Close()

	var rows []reportRow
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != 6 && len(fields) != 8 {
			return nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("line %d: expected 6 or 8 columns, got %d", line, len(fields)), nil)
		}

		percent, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("line %d: bad coverage value %q", line, fields[0]), err)
		}
		cladeReads, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("line %d: bad clade read count %q", line, fields[1]), err)
		}
		directReads, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("line %d: bad direct read count %q", line, fields[2]), err)
		}

		// Minimizer columns, when present, sit between the read counts
		// and the rank code.
		rankIdx := len(fields) - 3
		name := fields[len(fields)-1]

		rank := strings.TrimSpace(fields[rankIdx])
		if rank == "" {
			return nil, moshpiterrors.NewMalformedOutputError(path,
				fmt.Sprintf("line %d: empty rank code", line), nil)
		}

		rows = append(rows, reportRow{
			Percent:     percent,
			CladeReads:  cladeReads,
			DirectReads: directReads,
			Rank:        rank,
			TaxID:       strings.TrimSpace(fields[rankIdx+1]),
			Name:        name,
			Depth:       indentation(name),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, moshpiterrors.NewMalformedOutputError(path, "cannot read report", err)
	}
	return rows, nil
}

func indentation(name string) int {
	return (len(name) - len(strings.TrimLeft(name, " "))) / 2
}

// taxonomyFromReport converts report rows into tip taxa: a map from NCBI
// taxid to its rank-prefixed lineage string (d__...;p__...;...). Rows below
// the coverage threshold are ignored, as are the unclassified and root
// entries. Reports list clades in depth-first order, so a retained row is a
// tip exactly when the next retained row is not deeper than it.
func taxonomyFromReport(rows []reportRow, coverageThreshold float64) map[string]string {
	type frame struct {
		depth int
		label string
	}

	var retained []reportRow
	for _, row := range rows {
		if row.Percent < coverageThreshold {
			continue
		}
		if row.Rank == "U" || row.Rank == "R" {
			continue
		}
		retained = append(retained, row)
	}

	tips := make(map[string]string)
	var stack []frame

	for i, row := range retained {
		for len(stack) > 0 && stack[len(stack)-1].depth >= row.Depth {
			stack = stack[:len(stack)-1]
		}

		label := fmt.Sprintf("%s__%s", strings.ToLower(row.Rank[:1]), strings.TrimSpace(row.Name))
		stack = append(stack, frame{depth: row.Depth, label: label})

		isTip := i == len(retained)-1 || retained[i+1].Depth <= row.Depth
		if isTip {
			labels := make([]string, len(stack))
			for j, fr := range stack {
				labels[j] = fr.label
			}
			tips[row.TaxID] = strings.Join(labels, ";")
		}
	}
	return tips
}
