package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/auth"
	"github.com/italolelis/assetflow/internal/storage/sqlite"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)

	require.NoError(t, root.ExecuteContext(context.Background()))

	return out.String()
}

func TestAdminCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "assetflow.db")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "ERROR")

	token := strings.TrimSpace(execute(t, "token", "create", "ci", "--description", "build agents"))
	require.NotEmpty(t, token)

	execute(t, "server", "add", "archive", "--bucket-url", "http://minio:9000", "--bucket", "assets")
	assert.Contains(t, execute(t, "server", "list"), "archive")

	execute(t, "group", "create", "bundle")
	execute(t, "deploy-path", "create", "plugins", "/srv/plugins")

	db, err := sqlite.InitDB(dbPath)
	require.NoError(t, err)

	defer db.Close()

	ctx := context.Background()

	stored, err := sqlite.NewTokenRepository(db).FindByHash(ctx, auth.HashToken(token))
	require.NoError(t, err)
	assert.Equal(t, "build agents", stored.Description)

	a := &asset.Asset{Name: "tool", Repository: asset.LocalRepository, Location: "x/tool.zip"}
	require.NoError(t, sqlite.NewAssetRepository(db).Create(ctx, a))

	execute(t, "group", "add", "bundle", "tool")
	execute(t, "deploy-path", "assign", "tool", "plugins")

	group, err := sqlite.NewGroupRepository(db).FindByName(ctx, "bundle")
	require.NoError(t, err)
	require.Len(t, group.Assets, 1)
	assert.Equal(t, "/srv/plugins", group.Assets[0].DeployPath)

	execute(t, "token", "revoke", "ci")

	_, err = sqlite.NewTokenRepository(db).FindByName(ctx, "ci")
	assert.Error(t, err)
}

func TestServerAddRejectsReservedName(t *testing.T) {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "assetflow.db"))
	t.Setenv("LOG_LEVEL", "ERROR")

	root := newRootCmd()
	root.SetArgs([]string{"server", "add", "local", "--bucket-url", "http://x", "--bucket", "b"})

	assert.Error(t, root.ExecuteContext(context.Background()))
}
