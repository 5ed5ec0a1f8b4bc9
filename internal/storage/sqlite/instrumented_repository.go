package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/telemetry"
)

// instrument runs fn as a recorded database operation and hands back its result.
func instrument[T any](ctx context.Context, tel *telemetry.Telemetry, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := tel.InstrumentDBOperation(ctx, operation, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)

		return err
	})

	return result, err
}

// InstrumentedAssetRepository wraps AssetRepository with telemetry.
type InstrumentedAssetRepository struct {
	repo      *AssetRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedAssetRepository creates a new instrumented asset repository.
func NewInstrumentedAssetRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedAssetRepository {
	return &InstrumentedAssetRepository{repo: NewAssetRepository(db), telemetry: tel}
}

func (r *InstrumentedAssetRepository) Create(ctx context.Context, a *asset.Asset) error {
	return r.telemetry.InstrumentDBOperation(ctx, "create_asset", func(ctx context.Context) error {
		return r.repo.Create(ctx, a)
	})
}

func (r *InstrumentedAssetRepository) Update(ctx context.Context, a *asset.Asset) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_asset", func(ctx context.Context) error {
		return r.repo.Update(ctx, a)
	})
}

func (r *InstrumentedAssetRepository) FindByUUID(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	return instrument(ctx, r.telemetry, "find_asset_by_uuid", func(ctx context.Context) (*asset.Asset, error) {
		return r.repo.FindByUUID(ctx, id)
	})
}

func (r *InstrumentedAssetRepository) FindByName(ctx context.Context, name string) (*asset.Asset, error) {
	return instrument(ctx, r.telemetry, "find_asset_by_name", func(ctx context.Context) (*asset.Asset, error) {
		return r.repo.FindByName(ctx, name)
	})
}

func (r *InstrumentedAssetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_asset", func(ctx context.Context) error {
		return r.repo.Delete(ctx, id)
	})
}

func (r *InstrumentedAssetRepository) ListSkeletons(ctx context.Context, olderThan time.Time) ([]*asset.Asset, error) {
	return instrument(ctx, r.telemetry, "list_skeletons", func(ctx context.Context) ([]*asset.Asset, error) {
		return r.repo.ListSkeletons(ctx, olderThan)
	})
}

// InstrumentedGroupRepository wraps GroupRepository with telemetry.
type InstrumentedGroupRepository struct {
	repo      *GroupRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedGroupRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedGroupRepository {
	return &InstrumentedGroupRepository{repo: NewGroupRepository(db), telemetry: tel}
}

func (r *InstrumentedGroupRepository) Create(ctx context.Context, name string) (*asset.Group, error) {
	return instrument(ctx, r.telemetry, "create_group", func(ctx context.Context) (*asset.Group, error) {
		return r.repo.Create(ctx, name)
	})
}

func (r *InstrumentedGroupRepository) FindByName(ctx context.Context, name string) (*asset.Group, error) {
	return instrument(ctx, r.telemetry, "find_group", func(ctx context.Context) (*asset.Group, error) {
		return r.repo.FindByName(ctx, name)
	})
}

func (r *InstrumentedGroupRepository) AddAsset(ctx context.Context, group string, assetID uuid.UUID) error {
	return r.telemetry.InstrumentDBOperation(ctx, "add_group_member", func(ctx context.Context) error {
		return r.repo.AddAsset(ctx, group, assetID)
	})
}

func (r *InstrumentedGroupRepository) RemoveAsset(ctx context.Context, group string, assetID uuid.UUID) error {
	return r.telemetry.InstrumentDBOperation(ctx, "remove_group_member", func(ctx context.Context) error {
		return r.repo.RemoveAsset(ctx, group, assetID)
	})
}

func (r *InstrumentedGroupRepository) Delete(ctx context.Context, name string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_group", func(ctx context.Context) error {
		return r.repo.Delete(ctx, name)
	})
}

// InstrumentedDeployPathRepository wraps DeployPathRepository with telemetry.
type InstrumentedDeployPathRepository struct {
	repo      *DeployPathRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedDeployPathRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedDeployPathRepository {
	return &InstrumentedDeployPathRepository{repo: NewDeployPathRepository(db), telemetry: tel}
}

func (r *InstrumentedDeployPathRepository) Create(ctx context.Context, name, path string) (*asset.DeployPath, error) {
	return instrument(ctx, r.telemetry, "create_deploy_path", func(ctx context.Context) (*asset.DeployPath, error) {
		return r.repo.Create(ctx, name, path)
	})
}

func (r *InstrumentedDeployPathRepository) FindByName(ctx context.Context, name string) (*asset.DeployPath, error) {
	return instrument(ctx, r.telemetry, "find_deploy_path", func(ctx context.Context) (*asset.DeployPath, error) {
		return r.repo.FindByName(ctx, name)
	})
}

func (r *InstrumentedDeployPathRepository) Assign(ctx context.Context, assetID uuid.UUID, name string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "assign_deploy_path", func(ctx context.Context) error {
		return r.repo.Assign(ctx, assetID, name)
	})
}

// InstrumentedServerRepository wraps ServerRepository with telemetry.
type InstrumentedServerRepository struct {
	repo      *ServerRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedServerRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedServerRepository {
	return &InstrumentedServerRepository{repo: NewServerRepository(db), telemetry: tel}
}

func (r *InstrumentedServerRepository) Save(ctx context.Context, s *asset.RemoteServer) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_server", func(ctx context.Context) error {
		return r.repo.Save(ctx, s)
	})
}

func (r *InstrumentedServerRepository) FindByName(ctx context.Context, name string) (*asset.RemoteServer, error) {
	return instrument(ctx, r.telemetry, "find_server", func(ctx context.Context) (*asset.RemoteServer, error) {
		return r.repo.FindByName(ctx, name)
	})
}

func (r *InstrumentedServerRepository) List(ctx context.Context) ([]*asset.RemoteServer, error) {
	return instrument(ctx, r.telemetry, "list_servers", r.repo.List)
}

func (r *InstrumentedServerRepository) Delete(ctx context.Context, name string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_server", func(ctx context.Context) error {
		return r.repo.Delete(ctx, name)
	})
}

// InstrumentedTokenRepository wraps TokenRepository with telemetry.
type InstrumentedTokenRepository struct {
	repo      *TokenRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedTokenRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedTokenRepository {
	return &InstrumentedTokenRepository{repo: NewTokenRepository(db), telemetry: tel}
}

func (r *InstrumentedTokenRepository) Save(ctx context.Context, t *asset.SecretToken) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_token", func(ctx context.Context) error {
		return r.repo.Save(ctx, t)
	})
}

func (r *InstrumentedTokenRepository) FindByHash(ctx context.Context, hash string) (*asset.SecretToken, error) {
	return instrument(ctx, r.telemetry, "find_token_by_hash", func(ctx context.Context) (*asset.SecretToken, error) {
		return r.repo.FindByHash(ctx, hash)
	})
}

func (r *InstrumentedTokenRepository) FindByName(ctx context.Context, name string) (*asset.SecretToken, error) {
	return instrument(ctx, r.telemetry, "find_token_by_name", func(ctx context.Context) (*asset.SecretToken, error) {
		return r.repo.FindByName(ctx, name)
	})
}

func (r *InstrumentedTokenRepository) Delete(ctx context.Context, name string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_token", func(ctx context.Context) error {
		return r.repo.Delete(ctx, name)
	})
}

func (r *InstrumentedTokenRepository) List(ctx context.Context) ([]*asset.SecretToken, error) {
	return instrument(ctx, r.telemetry, "list_tokens", r.repo.List)
}
