package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metalab-io/moshpit/internal/artifact"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// Staging is a scoped temporary directory used to lay out inputs for an
// external tool and to receive its raw outputs. Its lifetime is bounded by
// the action invocation: callers defer Close so the directory is removed on
// every exit path.
type Staging struct {
	dir    string
	closed bool
}

// NewStaging creates a fresh staging directory.
func NewStaging() (*Staging, error) {
	dir, err := os.MkdirTemp("", "moshpit-stage-")
	if err != nil {
		return nil, fmt.Errorf("cannot create staging directory: %w", err)
	}
	return &Staging{dir: dir}, nil
}

// Dir returns the staging root.
func (s *Staging) Dir() string {
	return s.dir
}

// Path joins elements onto the staging root.
func (s *Staging) Path(elem ...string) string {
	return filepath.Join(append([]string{s.dir}, elem...)...)
}

// Mkdir creates a subdirectory under the staging root and returns its path.
func (s *Staging) Mkdir(name string) (string, error) {
	path := s.Path(name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("cannot create staging subdirectory: %w", err)
	}
	return path, nil
}

// Close removes the staging directory and everything under it. Safe to call
// more than once.
func (s *Staging) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	return os.RemoveAll(s.dir)
}

// RequireType checks that the artifact carries one of the accepted types.
func RequireType(a *artifact.Artifact, accepted ...artifact.Type) error {
	for _, t := range accepted {
		if a.Type() == t {
			return nil
		}
	}

	names := make([]string, len(accepted))
	for i, t := range accepted {
		names[i] = string(t)
	}
	return moshpiterrors.NewValidationError(
		string(a.Type()),
		fmt.Sprintf("artifact type not accepted here, expected one of: %s", strings.Join(names, ", ")),
		nil,
	)
}

// RequireCompanions verifies that every named file exists in the artifact
// payload. Used for index and database artifacts whose tools silently fail
// without their sidecar files.
func RequireCompanions(a *artifact.Artifact, names ...string) error {
	for _, name := range names {
		path := filepath.Join(a.DataDir(), name)
		info, err := os.Stat(path)
		if err != nil {
			return moshpiterrors.NewMissingInputError(string(a.Type()), name, "required companion file is absent")
		}
		if info.IsDir() {
			return moshpiterrors.NewMissingInputError(string(a.Type()), name, "expected a file, found a directory")
		}
	}
	return nil
}

// SequenceFile pairs a sequence identifier (the file stem) with its path.
type SequenceFile struct {
	ID   string
	Path string
}

// ListSequences returns the FASTA files in a payload directory, sorted by
// identifier. The identifier is the filename with its extension stripped.
func ListSequences(dir string) ([]SequenceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read payload directory: %w", err)
	}

	var files []SequenceFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".fa" && ext != ".fasta" {
			continue
		}
		files = append(files, SequenceFile{
			ID:   strings.TrimSuffix(name, ext),
			Path: filepath.Join(dir, name),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

// ListByExt returns payload files with the given extension, sorted by name.
func ListByExt(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read payload directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// CopyFile copies a single file, preserving its mode.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("cannot stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cannot open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("cannot create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy failed: %w", err)
	}
	return out.Close()
}

// CopyDir recursively copies the contents of src into dst.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return CopyFile(path, target)
	})
}
