package artifact

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// ManifestFile is the per-sample index carried in read artifacts.
const ManifestFile = "MANIFEST.tsv"

// ManifestRecord maps one sample to its sequence files. Reverse is empty for
// single-end reads.
type ManifestRecord struct {
	SampleID string
	Forward  string
	Reverse  string
}

// Paired reports whether the record carries a reverse read file.
func (r ManifestRecord) Paired() bool {
	return r.Reverse != ""
}

// ReadManifest parses the MANIFEST.tsv of a reads artifact payload. File
// paths in the manifest are relative to the payload directory and are
// resolved before being returned.
func ReadManifest(dataDir string) ([]ManifestRecord, error) {
	path := filepath.Join(dataDir, ManifestFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, moshpiterrors.NewMissingInputError("reads", ManifestFile, "manifest is absent")
	}
	defer f.Close()

	var records []ManifestRecord
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		fields := strings.Split(text, "\t")
		if line == 1 {
			if fields[0] != "sample-id" {
				return nil, moshpiterrors.NewParseError(path, line, fmt.Errorf("unexpected header %q", fields[0]))
			}
			continue
		}

		if len(fields) < 2 || len(fields) > 3 {
			return nil, moshpiterrors.NewParseError(path, line, fmt.Errorf("expected 2 or 3 columns, got %d", len(fields)))
		}

		rec := ManifestRecord{
			SampleID: fields[0],
			Forward:  filepath.Join(dataDir, fields[1]),
		}
		if len(fields) == 3 && fields[2] != "" {
			rec.Reverse = filepath.Join(dataDir, fields[2])
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, moshpiterrors.NewParseError(path, 0, err)
	}

	if len(records) == 0 {
		return nil, moshpiterrors.NewMissingInputError("reads", ManifestFile, "manifest lists no samples")
	}
	return records, nil
}
