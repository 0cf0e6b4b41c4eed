// Package refdb fetches reference databases over HTTPS or git and stores
// them as local artifacts.
package refdb

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/stage"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

type fetchParams struct {
	URL    string `yaml:"url" validate:"required"`
	Source string `yaml:"source" validate:"oneof=https git"`
	MD5    string `yaml:"md5" validate:"omitempty,len=32,hexadecimal"`
	Branch string `yaml:"branch"`
	Depth  int    `yaml:"depth" validate:"min=0"`
	Unpack bool   `yaml:"unpack"`
}

type fetchAction struct {
	// client is swappable for tests, defaults to http.DefaultClient.
	client *http.Client
}

// NewFetch creates the fetch-reference-db action.
func NewFetch() action.Action {
	return &fetchAction{client: http.DefaultClient}
}

var _ action.Action = (*fetchAction)(nil)

func (a *fetchAction) Metadata() action.Metadata {
	return action.Metadata{
		Name:        "fetch-reference-db",
		Description: "Download a reference database over HTTPS or clone it from git.",
		Outputs: []action.Port{
			{Name: "db", Types: []artifact.Type{artifact.TypeReferenceDB}, Help: "Fetched reference database"},
		},
		Params: []action.ParamSpec{
			{Name: "url", Kind: action.ParamString, Help: "Database location"},
			{Name: "source", Kind: action.ParamString, Default: "https", Help: "Fetch mechanism"},
			{Name: "md5", Kind: action.ParamString, Help: "Expected MD5 of the downloaded file"},
			{Name: "branch", Kind: action.ParamString, Help: "Git branch to clone, default branch when empty"},
			{Name: "depth", Kind: action.ParamInt, Default: "1", Help: "Git clone depth, 0 for full history"},
			{Name: "unpack", Kind: action.ParamBool, Default: "true", Help: "Extract .tar.gz downloads"},
		},
	}
}

func (a *fetchAction) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	values, err := action.CoerceParams(a.Metadata().Params, req.Params)
	if err != nil {
		return nil, err
	}
	var params fetchParams
	if err := action.DecodeParams(values, &params); err != nil {
		return nil, err
	}

	staging, err := stage.NewStaging()
	if err != nil {
		return nil, err
	}
	defer staging.Close()

	payload, err := staging.Mkdir("payload")
	if err != nil {
		return nil, err
	}

	switch params.Source {
	case "git":
		err = a.clone(ctx, params, payload)
	default:
		err = a.download(ctx, params, staging, payload)
	}
	if err != nil {
		return nil, err
	}

	db, err := req.NewOutput("db", artifact.TypeReferenceDB)
	if err != nil {
		return nil, err
	}
	if err := stage.CopyDir(payload, db.DataDir()); err != nil {
		return nil, err
	}
	// the url is part of provenance, md5 is recorded as verified
	if err := db.RecordProvenance("fetch-reference-db", values); err != nil {
		return nil, err
	}

	return &action.Result{
		Outputs: map[string]*artifact.Artifact{"db": db},
		Summary: fmt.Sprintf("fetched %s", params.URL),
	}, nil
}

func (a *fetchAction) download(ctx context.Context, params fetchParams, staging *stage.Staging, payload string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return moshpiterrors.NewValidationError("url", "invalid download url", err)
	}
	if httpReq.URL.Scheme != "https" {
		return moshpiterrors.NewValidationError("url",
			fmt.Sprintf("downloads require https, got %q", httpReq.URL.Scheme), nil)
	}

	client := a.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: server returned %s", resp.Status)
	}

	name := filepath.Base(httpReq.URL.Path)
	if name == "/" || name == "." {
		name = "download"
	}
	downloadFp := staging.Path(name)

	f, err := os.Create(downloadFp)
	if err != nil {
		return err
	}
	hash := md5.New()
	_, err = io.Copy(io.MultiWriter(f, hash), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if params.MD5 != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, params.MD5) {
			return moshpiterrors.NewValidationError("md5",
				fmt.Sprintf("checksum mismatch: expected %s, got %s", params.MD5, got), nil)
		}
	}

	if params.Unpack && isTarball(name) {
		return extractTarGz(downloadFp, payload)
	}
	return stage.CopyFile(downloadFp, filepath.Join(payload, name))
}

func (a *fetchAction) clone(ctx context.Context, params fetchParams, payload string) error {
	opts := &git.CloneOptions{
		URL:   params.URL,
		Depth: params.Depth,
	}
	if params.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(params.Branch)
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, payload, false, opts); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	// history is not part of the database payload
	return os.RemoveAll(filepath.Join(payload, ".git"))
}

func isTarball(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// extractTarGz unpacks an archive into dest, refusing entries that would
// escape it.
func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return moshpiterrors.NewMalformedOutputError(archive, "not a gzip archive", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return moshpiterrors.NewMalformedOutputError(archive, "corrupt tar archive", err)
		}

		target := filepath.Join(dest, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return moshpiterrors.NewMalformedOutputError(archive,
				fmt.Sprintf("archive entry escapes destination: %s", hdr.Name), nil)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		}
	}
}
