package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/storage"
)

const selectAsset = `
	SELECT a.uuid, a.name, a.location, a.repository, d.path, a.created_at, a.updated_at
	FROM assets a
	LEFT JOIN deploy_paths d ON d.id = a.deploy_path_id`

// AssetRepository implements storage.AssetRepository on SQLite.
type AssetRepository struct {
	db *sql.DB
}

func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Create inserts a skeleton or complete asset, assigning a new UUID when the
// asset has none.
func (r *AssetRepository) Create(ctx context.Context, a *asset.Asset) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}

	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assets (uuid, name, location, repository, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.UUID.String(), a.Name, nullString(a.Location), a.Repository, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("asset %q: %w", a.Name, storage.ErrDuplicateName)
	}

	return err
}

func (r *AssetRepository) Update(ctx context.Context, a *asset.Asset) error {
	a.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx,
		`UPDATE assets SET name = ?, location = ?, repository = ?, updated_at = ? WHERE uuid = ?`,
		a.Name, nullString(a.Location), a.Repository, a.UpdatedAt, a.UUID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("asset %q: %w", a.Name, storage.ErrDuplicateName)
		}

		return err
	}

	return expectAffected(res)
}

func (r *AssetRepository) FindByUUID(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	return scanAsset(r.db.QueryRowContext(ctx, selectAsset+` WHERE a.uuid = ?`, id.String()))
}

func (r *AssetRepository) FindByName(ctx context.Context, name string) (*asset.Asset, error) {
	return scanAsset(r.db.QueryRowContext(ctx, selectAsset+` WHERE a.name = ?`, name))
}

// Delete clears the asset's group memberships and removes the record in one
// transaction.
func (r *AssetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE asset_uuid = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to clear group memberships: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE uuid = ?`, id.String())
	if err != nil {
		return err
	}

	if err := expectAffected(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *AssetRepository) ListSkeletons(ctx context.Context, olderThan time.Time) ([]*asset.Asset, error) {
	rows, err := r.db.QueryContext(ctx,
		selectAsset+` WHERE a.location IS NULL AND a.created_at < ? ORDER BY a.created_at`,
		olderThan.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*asset.Asset

	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}

		assets = append(assets, a)
	}

	return assets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*asset.Asset, error) {
	var (
		a          asset.Asset
		location   sql.NullString
		deployPath sql.NullString
	)

	err := row.Scan(&a.UUID, &a.Name, &location, &a.Repository, &deployPath, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	a.Location = location.String
	a.DeployPath = deployPath.String

	return &a, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
