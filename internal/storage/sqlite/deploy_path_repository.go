package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/storage"
)

type DeployPathRepository struct {
	db *sql.DB
}

func NewDeployPathRepository(db *sql.DB) *DeployPathRepository {
	return &DeployPathRepository{db: db}
}

func (r *DeployPathRepository) Create(ctx context.Context, name, path string) (*asset.DeployPath, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO deploy_paths (name, path) VALUES (?, ?)`, name, path)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("deploy path %q: %w", name, storage.ErrDuplicateName)
		}

		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &asset.DeployPath{ID: id, Name: name, Path: path}, nil
}

func (r *DeployPathRepository) FindByName(ctx context.Context, name string) (*asset.DeployPath, error) {
	dp := asset.DeployPath{Name: name}

	err := r.db.QueryRowContext(ctx, `SELECT id, path FROM deploy_paths WHERE name = ?`, name).Scan(&dp.ID, &dp.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deploy path %q: %w", name, storage.ErrNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &dp, nil
}

func (r *DeployPathRepository) Assign(ctx context.Context, assetID uuid.UUID, name string) error {
	dp, err := r.FindByName(ctx, name)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE assets SET deploy_path_id = ? WHERE uuid = ?`,
		dp.ID, assetID.String(),
	)
	if err != nil {
		return err
	}

	return expectAffected(res)
}
