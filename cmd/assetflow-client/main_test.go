package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/assetflow/internal/http/api"
)

func fakeService(t *testing.T, deployDir string) *httptest.Server {
	t.Helper()

	files := map[string]string{"a": "alpha", "b": "bravo"}

	info := func(name string) *api.AssetInfo {
		return &api.AssetInfo{
			Found:        true,
			Valid:        true,
			AssetName:    name,
			FileName:     name + ".bin",
			DownloadLink: "/api/file/" + name + "/" + name + ".bin",
			DeployPath:   deployDir,
		}
	}

	r := chi.NewRouter()
	r.Get("/api/group/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&api.GroupInfo{
			Found:     true,
			GroupName: chi.URLParam(r, "name"),
			Assets:    []*api.AssetInfo{info("a"), info("b")},
		})
	})
	r.Get("/api/asset/name/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info(chi.URLParam(r, "name")))
	})
	r.Get("/api/file/{name}/{file}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, files[chi.URLParam(r, "name")])
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func TestDownloadGroupCommand(t *testing.T) {
	deployDir := t.TempDir()
	srv := fakeService(t, deployDir)

	out, err := run(t, "download", "bundle", "--group", "--server", srv.URL, "--token", "t")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "[1/2] downloaded "))
	assert.True(t, strings.HasPrefix(lines[1], "[2/2] downloaded "))
	assert.Contains(t, lines[1], " seconds")

	for name, want := range map[string]string{"a.bin": "alpha", "b.bin": "bravo"} {
		got, err := os.ReadFile(filepath.Join(deployDir, name))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestDownloadAssetCommandTarget(t *testing.T) {
	srv := fakeService(t, t.TempDir())
	target := filepath.Join(t.TempDir(), "renamed.bin")

	_, err := run(t, "download", "a", "--target", target, "--server", srv.URL, "--token", "t")
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))
}

func TestServerFromEnvironment(t *testing.T) {
	deployDir := t.TempDir()
	srv := fakeService(t, deployDir)

	t.Setenv("ASSETFLOW_SERVER", srv.URL)
	t.Setenv("ASSETFLOW_TOKEN", "t")

	_, err := run(t, "download", "b")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(deployDir, "b.bin"))
}

func TestDeleteRejectsMalformedID(t *testing.T) {
	_, err := run(t, "delete", "not-a-uuid", "--server", "http://localhost:1")
	assert.ErrorContains(t, err, "invalid asset id")
}
