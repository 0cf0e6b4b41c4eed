package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// Type identifies the semantic payload of an artifact. Actions declare the
// types they accept and produce; the stager rejects mismatches before any
// external tool runs.
type Type string

const (
	TypeReadsSingle         Type = "sample-data-reads-single"
	TypeReadsPaired         Type = "sample-data-reads-paired"
	TypeContigs             Type = "sample-data-contigs"
	TypeMAGs                Type = "feature-data-mags"
	TypeBins                Type = "sample-data-mags"
	TypeAlignmentMaps       Type = "sample-data-alignment-maps"
	TypeKraken2DB           Type = "kraken2-db"
	TypeKraken2Reports      Type = "kraken2-reports"
	TypeKraken2Outputs      Type = "kraken2-outputs"
	TypeBrackenDB           Type = "bracken-db"
	TypeFeatureTable        Type = "feature-table"
	TypeTaxonomy            Type = "taxonomy"
	TypeLoci                Type = "genome-data-loci"
	TypeGenes               Type = "genome-data-genes"
	TypeProteins            Type = "genome-data-proteins"
	TypeDiamondDB           Type = "diamond-db"
	TypeEggnogDB            Type = "eggnog-db"
	TypeSeedOrthologs       Type = "seed-orthologs"
	TypeOrthologAnnotations Type = "ortholog-annotations"
	TypeKaijuDB             Type = "kaiju-db"
	TypeBuscoDB             Type = "busco-db"
	TypeBuscoResults        Type = "busco-results"
	TypeReferenceDB         Type = "reference-db"
)

const (
	metadataFile  = "metadata.yaml"
	dataDirName   = "data"
	formatVersion = "1"
)

// ProvenanceRecord captures a single action invocation that produced or
// modified the artifact.
type ProvenanceRecord struct {
	Action     string         `yaml:"action"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
	Timestamp  time.Time      `yaml:"timestamp"`
}

// Metadata is the typed envelope persisted alongside the payload.
type Metadata struct {
	UUID       string             `yaml:"uuid"`
	Type       Type               `yaml:"type"`
	Format     string             `yaml:"format"`
	Created    time.Time          `yaml:"created"`
	Provenance []ProvenanceRecord `yaml:"provenance,omitempty"`
}

// Artifact is a typed directory container: metadata.yaml plus a data/
// payload. The toolkit only ever reads or writes the payload; the container
// itself is created on import or as an action output and never deleted by
// an action.
type Artifact struct {
	root string
	meta Metadata
}

// New creates an artifact directory of the given type at path. The path must
// not already exist.
func New(path string, t Type) (*Artifact, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("artifact path already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Join(path, dataDirName), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create artifact directory: %w", err)
	}

	a := &Artifact{
		root: path,
		meta: Metadata{
			UUID:    uuid.NewString(),
			Type:    t,
			Format:  formatVersion,
			Created: time.Now().UTC(),
		},
	}

	if err := a.saveMetadata(); err != nil {
		return nil, err
	}
	return a, nil
}

// Load opens an existing artifact directory and parses its metadata.
func Load(path string) (*Artifact, error) {
	metaPath := filepath.Join(path, metadataFile)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, moshpiterrors.NewParseError(metaPath, 0, err)
	}

	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, moshpiterrors.NewParseError(metaPath, 0, err)
	}

	if meta.UUID == "" || meta.Type == "" {
		return nil, moshpiterrors.NewParseError(metaPath, 0, fmt.Errorf("uuid and type are required"))
	}

	if info, err := os.Stat(filepath.Join(path, dataDirName)); err != nil || !info.IsDir() {
		return nil, moshpiterrors.NewMissingInputError(string(meta.Type), dataDirName, "payload directory is absent")
	}

	return &Artifact{root: path, meta: meta}, nil
}

// Path returns the artifact's root directory.
func (a *Artifact) Path() string {
	return a.root
}

// DataDir returns the payload directory.
func (a *Artifact) DataDir() string {
	return filepath.Join(a.root, dataDirName)
}

// Type returns the declared artifact type.
func (a *Artifact) Type() Type {
	return a.meta.Type
}

// UUID returns the artifact identity.
func (a *Artifact) UUID() string {
	return a.meta.UUID
}

// Metadata returns a copy of the artifact envelope.
func (a *Artifact) Metadata() Metadata {
	meta := a.meta
	meta.Provenance = append([]ProvenanceRecord(nil), a.meta.Provenance...)
	return meta
}

// RecordProvenance appends an invocation record and persists the metadata.
func (a *Artifact) RecordProvenance(action string, params map[string]any) error {
	a.meta.Provenance = append(a.meta.Provenance, ProvenanceRecord{
		Action:     action,
		Parameters: params,
		Timestamp:  time.Now().UTC(),
	})
	return a.saveMetadata()
}

func (a *Artifact) saveMetadata() error {
	data, err := yaml.Marshal(&a.meta)
	if err != nil {
		return fmt.Errorf("cannot marshal artifact metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(a.root, metadataFile), data, 0o644)
}
