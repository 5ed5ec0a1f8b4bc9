package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/storage"
)

const selectServer = `SELECT name, bucket_url, bucket_name, access_key, secret_key, region FROM remote_servers`

// ServerRepository stores remote object store configurations.
type ServerRepository struct {
	db *sql.DB
}

func NewServerRepository(db *sql.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

// Save inserts the configuration or replaces the one stored under the same name.
func (r *ServerRepository) Save(ctx context.Context, s *asset.RemoteServer) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO remote_servers (name, bucket_url, bucket_name, access_key, secret_key, region)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			bucket_url = excluded.bucket_url,
			bucket_name = excluded.bucket_name,
			access_key = excluded.access_key,
			secret_key = excluded.secret_key,
			region = excluded.region`,
		s.Name, s.BucketURL, s.BucketName, s.AccessKey, s.SecretKey, s.Region,
	)

	return err
}

func (r *ServerRepository) FindByName(ctx context.Context, name string) (*asset.RemoteServer, error) {
	s, err := scanServer(r.db.QueryRowContext(ctx, selectServer+` WHERE name = ?`, name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("server %q: %w", name, err)
	}

	return s, err
}

func (r *ServerRepository) List(ctx context.Context) ([]*asset.RemoteServer, error) {
	rows, err := r.db.QueryContext(ctx, selectServer+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []*asset.RemoteServer

	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}

		servers = append(servers, s)
	}

	return servers, rows.Err()
}

func (r *ServerRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM remote_servers WHERE name = ?`, name)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

func scanServer(row scanner) (*asset.RemoteServer, error) {
	var s asset.RemoteServer

	err := row.Scan(&s.Name, &s.BucketURL, &s.BucketName, &s.AccessKey, &s.SecretKey, &s.Region)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &s, nil
}
