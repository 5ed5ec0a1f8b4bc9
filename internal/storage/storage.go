package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateName is returned when a unique name is already taken.
	ErrDuplicateName = errors.New("name already exists")
)

// AssetRepository persists asset metadata. The repository owns asset identity:
// Create assigns the UUID.
type AssetRepository interface {
	Create(ctx context.Context, a *asset.Asset) error
	Update(ctx context.Context, a *asset.Asset) error
	FindByUUID(ctx context.Context, id uuid.UUID) (*asset.Asset, error)
	FindByName(ctx context.Context, name string) (*asset.Asset, error)
	// Delete removes the record and its group memberships.
	Delete(ctx context.Context, id uuid.UUID) error
	// ListSkeletons returns assets whose location was never set and that
	// were created before olderThan.
	ListSkeletons(ctx context.Context, olderThan time.Time) ([]*asset.Asset, error)
}

type GroupRepository interface {
	Create(ctx context.Context, name string) (*asset.Group, error)
	// FindByName returns the group with its member assets.
	FindByName(ctx context.Context, name string) (*asset.Group, error)
	AddAsset(ctx context.Context, group string, assetID uuid.UUID) error
	RemoveAsset(ctx context.Context, group string, assetID uuid.UUID) error
	Delete(ctx context.Context, name string) error
}

type DeployPathRepository interface {
	Create(ctx context.Context, name, path string) (*asset.DeployPath, error)
	FindByName(ctx context.Context, name string) (*asset.DeployPath, error)
	// Assign associates the asset with the named deploy path.
	Assign(ctx context.Context, assetID uuid.UUID, name string) error
}

// ServerRepository stores remote object store configurations by name.
type ServerRepository interface {
	Save(ctx context.Context, s *asset.RemoteServer) error
	FindByName(ctx context.Context, name string) (*asset.RemoteServer, error)
	List(ctx context.Context) ([]*asset.RemoteServer, error)
	Delete(ctx context.Context, name string) error
}

type TokenRepository interface {
	Save(ctx context.Context, t *asset.SecretToken) error
	FindByHash(ctx context.Context, hash string) (*asset.SecretToken, error)
	FindByName(ctx context.Context, name string) (*asset.SecretToken, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*asset.SecretToken, error)
}
