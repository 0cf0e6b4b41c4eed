package refdb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/metalab-io/moshpit/internal/action"
	"github.com/metalab-io/moshpit/internal/artifact"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

func serve(t *testing.T, path string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newFetchWith returns the action wired to the test server's TLS client.
func newFetchWith(srv *httptest.Server) action.Action {
	return &fetchAction{client: srv.Client()}
}

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newRequest(t *testing.T, params map[string]string) *action.Request {
	t.Helper()
	return &action.Request{
		OutputPaths: map[string]string{"db": filepath.Join(t.TempDir(), "db")},
		Params:      params,
	}
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	body := []byte("reference payload")
	srv := serve(t, "/db/ref.bin", body)
	sum := md5.Sum(body)

	req := newRequest(t, map[string]string{
		"url": srv.URL + "/db/ref.bin",
		"md5": hex.EncodeToString(sum[:]),
	})

	res, err := newFetchWith(srv).Run(context.Background(), req)
	require.NoError(t, err)

	db := res.Outputs["db"]
	require.Equal(t, artifact.TypeReferenceDB, db.Type())
	got, err := os.ReadFile(filepath.Join(db.DataDir(), "ref.bin"))
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestFetchRejectsChecksumMismatch(t *testing.T) {
	srv := serve(t, "/ref.bin", []byte("reference payload"))

	req := newRequest(t, map[string]string{
		"url": srv.URL + "/ref.bin",
		"md5": "00000000000000000000000000000000",
	})

	_, err := newFetchWith(srv).Run(context.Background(), req)
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.NoDirExists(t, req.OutputPaths["db"])
}

func TestFetchUnpacksTarball(t *testing.T) {
	body := tarball(t, map[string]string{
		"nodes.dmp":       "1\t|\t1\n",
		"names.dmp":       "1\t|\troot\n",
		"sub/library.txt": "x\n",
	})
	srv := serve(t, "/taxdump.tar.gz", body)

	req := newRequest(t, map[string]string{"url": srv.URL + "/taxdump.tar.gz"})

	res, err := newFetchWith(srv).Run(context.Background(), req)
	require.NoError(t, err)

	data := res.Outputs["db"].DataDir()
	require.FileExists(t, filepath.Join(data, "nodes.dmp"))
	require.FileExists(t, filepath.Join(data, "sub", "library.txt"))
}

func TestFetchKeepsArchiveWhenUnpackDisabled(t *testing.T) {
	body := tarball(t, map[string]string{"nodes.dmp": "1\n"})
	srv := serve(t, "/taxdump.tar.gz", body)

	req := newRequest(t, map[string]string{
		"url":    srv.URL + "/taxdump.tar.gz",
		"unpack": "false",
	})

	res, err := newFetchWith(srv).Run(context.Background(), req)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(res.Outputs["db"].DataDir(), "taxdump.tar.gz"))
}

func TestFetchRejectsEscapingArchiveEntry(t *testing.T) {
	body := tarball(t, map[string]string{"../escape.txt": "x\n"})
	srv := serve(t, "/bad.tar.gz", body)

	req := newRequest(t, map[string]string{"url": srv.URL + "/bad.tar.gz"})

	_, err := newFetchWith(srv).Run(context.Background(), req)
	var malformed *moshpiterrors.MalformedOutputError
	require.ErrorAs(t, err, &malformed)
}

func TestFetchRejectsServerError(t *testing.T) {
	srv := serve(t, "/other", nil)

	req := newRequest(t, map[string]string{"url": srv.URL + "/missing.bin"})

	_, err := newFetchWith(srv).Run(context.Background(), req)
	require.Error(t, err)
	require.NoDirExists(t, req.OutputPaths["db"])
}

func TestFetchClonesGitRepository(t *testing.T) {
	srcDir := t.TempDir()
	repo, err := git.PlainInit(srcDir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "versions.txt"), []byte("v1\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("versions.txt")
	require.NoError(t, err)
	_, err = wt.Commit("add versions", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	req := newRequest(t, map[string]string{
		"url":    srcDir,
		"source": "git",
		"depth":  "0",
	})

	res, err := NewFetch().Run(context.Background(), req)
	require.NoError(t, err)

	data := res.Outputs["db"].DataDir()
	require.FileExists(t, filepath.Join(data, "versions.txt"))
	require.NoDirExists(t, filepath.Join(data, ".git"))
}

func TestFetchRejectsPlainHTTP(t *testing.T) {
	req := newRequest(t, map[string]string{"url": "http://example.com/db.tar.gz"})

	_, err := NewFetch().Run(context.Background(), req)
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Contains(t, valErr.Message, "https")
	require.NoDirExists(t, req.OutputPaths["db"])
}

func TestFetchRequiresURL(t *testing.T) {
	req := newRequest(t, nil)

	_, err := NewFetch().Run(context.Background(), req)
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
}
