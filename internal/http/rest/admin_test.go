package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/auth"
	"github.com/italolelis/assetflow/internal/blob"
	"github.com/italolelis/assetflow/internal/cache"
	"github.com/italolelis/assetflow/internal/http/api"
	"github.com/italolelis/assetflow/internal/storage"
	"github.com/italolelis/assetflow/internal/storage/sqlite"
)

func passthrough(next http.Handler) http.Handler { return next }

func TestServerAdministrationEvictsBackend(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "assetflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	servers := sqlite.NewServerRepository(db)

	var built []string

	registry := blob.NewRegistry(blob.NewLocal(t.TempDir()), servers,
		blob.WithRemoteFactory(func(_ context.Context, s *asset.RemoteServer) (blob.Backend, error) {
			built = append(built, s.BucketName)

			return blob.NewLocal(t.TempDir()), nil
		}),
	)

	srv := httptest.NewServer(NewAdminHandler(servers, registry, nil, passthrough).Routes())
	defer srv.Close()

	put := func(bucket string) int {
		body, err := json.Marshal(api.ServerRequest{BucketURL: "http://minio:9000", BucketName: bucket})
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPut, srv.URL+"/server/archive", bytes.NewReader(body))
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, put("first"))

	_, err = registry.Resolve(ctx, "archive")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, put("second"))

	_, err = registry.Resolve(ctx, "archive")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, built)

	resp, err := http.Get(srv.URL + "/server")
	require.NoError(t, err)

	var infos []api.ServerInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	require.Len(t, infos, 1)
	assert.Equal(t, "second", infos[0].BucketName)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/server/archive", nil)
	require.NoError(t, err)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = registry.Resolve(ctx, "archive")
	assert.ErrorIs(t, err, blob.ErrUnknownBackend)
}

func TestServerAdministrationValidation(t *testing.T) {
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "assetflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	servers := sqlite.NewServerRepository(db)
	registry := blob.NewRegistry(blob.NewLocal(t.TempDir()), servers)

	srv := httptest.NewServer(NewAdminHandler(servers, registry, nil, passthrough).Routes())
	defer srv.Close()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"reserved name", "/server/local", `{"bucketUrl":"http://x","bucketName":"b"}`, http.StatusBadRequest},
		{"malformed body", "/server/remote", `{`, http.StatusBadRequest},
		{"missing bucket", "/server/remote", `{"bucketUrl":"http://x"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPut, srv.URL+tt.path, bytes.NewBufferString(tt.body))
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/server/ghost", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	var out api.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "not found", out.Message)
}

func TestTokenAdministration(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "assetflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokenCache := cache.New[string, *asset.SecretToken](time.Hour)
	t.Cleanup(tokenCache.Stop)

	authenticator := auth.NewAuthenticator(sqlite.NewTokenRepository(db), tokenCache)
	servers := sqlite.NewServerRepository(db)

	srv := httptest.NewServer(NewAdminHandler(servers, blob.NewRegistry(blob.NewLocal(t.TempDir()), servers), authenticator, passthrough).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/token/ci?description=agents", "", nil)
	require.NoError(t, err)

	var issued api.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	resp.Body.Close()

	token := issued.Result["token"]
	require.NotEmpty(t, token)

	tok, err := authenticator.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "agents", tok.Description)

	resp, err = http.Post(srv.URL+"/token/ci", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/token/ci", nil)
	require.NoError(t, err)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The cached entry is gone as well, not just the stored record.
	_, err = authenticator.Authenticate(ctx, token)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestTokenAdministrationEscapedName(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "assetflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokenCache := cache.New[string, *asset.SecretToken](time.Hour)
	t.Cleanup(tokenCache.Stop)

	tokens := sqlite.NewTokenRepository(db)
	authenticator := auth.NewAuthenticator(tokens, tokenCache)
	servers := sqlite.NewServerRepository(db)

	srv := httptest.NewServer(NewAdminHandler(servers, blob.NewRegistry(blob.NewLocal(t.TempDir()), servers), authenticator, passthrough).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/token/ci%2Cbot", "", nil)
	require.NoError(t, err)

	var issued api.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	resp.Body.Close()
	assert.Equal(t, "ci,bot", issued.Result["name"])

	stored, err := tokens.FindByName(ctx, "ci,bot")
	require.NoError(t, err)
	assert.Equal(t, "ci,bot", stored.Name)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/token/ci%2Cbot", nil)
	require.NoError(t, err)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)

	var revoked api.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&revoked))
	resp.Body.Close()
	assert.Equal(t, api.StatusOK, revoked.Status)

	_, err = tokens.FindByName(ctx, "ci,bot")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
