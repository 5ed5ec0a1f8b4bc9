package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/storage"
)

const selectToken = `SELECT id, name, description, token_hash, created_at FROM secret_tokens`

// TokenRepository stores hashed API tokens. Plaintext tokens never reach it.
type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Save(ctx context.Context, t *asset.SecretToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO secret_tokens (name, description, token_hash, created_at) VALUES (?, ?, ?, ?)`,
		t.Name, t.Description, t.Hash, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("token %q: %w", t.Name, storage.ErrDuplicateName)
		}

		return err
	}

	t.ID, err = res.LastInsertId()

	return err
}

func (r *TokenRepository) FindByHash(ctx context.Context, hash string) (*asset.SecretToken, error) {
	return scanToken(r.db.QueryRowContext(ctx, selectToken+` WHERE token_hash = ?`, hash))
}

func (r *TokenRepository) FindByName(ctx context.Context, name string) (*asset.SecretToken, error) {
	return scanToken(r.db.QueryRowContext(ctx, selectToken+` WHERE name = ?`, name))
}

func (r *TokenRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM secret_tokens WHERE name = ?`, name)
	if err != nil {
		return err
	}

	return expectAffected(res)
}

func (r *TokenRepository) List(ctx context.Context) ([]*asset.SecretToken, error) {
	rows, err := r.db.QueryContext(ctx, selectToken+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*asset.SecretToken

	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, t)
	}

	return tokens, rows.Err()
}

func scanToken(row scanner) (*asset.SecretToken, error) {
	var t asset.SecretToken

	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Hash, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &t, nil
}
