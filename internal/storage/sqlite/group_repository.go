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

type GroupRepository struct {
	db *sql.DB
}

func NewGroupRepository(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) Create(ctx context.Context, name string) (*asset.Group, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO asset_groups (name) VALUES (?)`, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("group %q: %w", name, storage.ErrDuplicateName)
		}

		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &asset.Group{ID: id, Name: name}, nil
}

// FindByName returns the group with its members ordered by asset name.
func (r *GroupRepository) FindByName(ctx context.Context, name string) (*asset.Group, error) {
	id, err := r.groupID(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		selectAsset+` JOIN group_members m ON m.asset_uuid = a.uuid WHERE m.group_id = ? ORDER BY a.name`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	group := &asset.Group{ID: id, Name: name}

	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}

		group.Assets = append(group.Assets, a)
	}

	return group, rows.Err()
}

// AddAsset makes the asset a member of the group. Adding an existing member
// is a no-op.
func (r *GroupRepository) AddAsset(ctx context.Context, group string, assetID uuid.UUID) error {
	id, err := r.groupID(ctx, group)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_id, asset_uuid) VALUES (?, ?)`,
		id, assetID.String(),
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("asset %s: %w", assetID, storage.ErrNotFound)
	}

	return err
}

func (r *GroupRepository) RemoveAsset(ctx context.Context, group string, assetID uuid.UUID) error {
	id, err := r.groupID(ctx, group)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND asset_uuid = ?`,
		id, assetID.String(),
	)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

func (r *GroupRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM asset_groups WHERE name = ?`, name)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

func (r *GroupRepository) groupID(ctx context.Context, name string) (int64, error) {
	var id int64

	err := r.db.QueryRowContext(ctx, `SELECT id FROM asset_groups WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("group %q: %w", name, storage.ErrNotFound)
	}

	return id, err
}
