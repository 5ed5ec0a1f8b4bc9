// Package blob stores asset content in pluggable backends and resolves the
// links clients download it from.
package blob

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
)

var (
	// ErrBlobNotFound is returned when no blob exists under the requested key.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrUnknownBackend is returned when a repository name has no configuration.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Backend stores blobs under {assetUUID}/{fileName}.
type Backend interface {
	// Type identifies the backend implementation ("local", "s3").
	Type() string
	// Save writes the snapshot content, creating missing containers and
	// overwriting existing content at the same key.
	Save(ctx context.Context, snapshot *asset.Snapshot) error
	// Load returns the full blob content or ErrBlobNotFound.
	Load(ctx context.Context, id uuid.UUID, fileName string) ([]byte, error)
	// DeleteAll removes every blob stored under the asset's namespace.
	DeleteAll(ctx context.Context, id uuid.UUID) error
	// DownloadURL resolves the link a client fetches the asset's blob from.
	DownloadURL(ctx context.Context, a *asset.Asset) (string, error)
}
