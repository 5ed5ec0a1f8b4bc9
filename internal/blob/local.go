package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
)

// FileRoute is the path prefix of the service endpoint serving local blobs.
const FileRoute = "/api/file"

// Local stores blobs on the filesystem under {root}/{assetUUID}/{fileName}.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) Type() string {
	return TypeLocal
}

func (l *Local) Save(_ context.Context, snapshot *asset.Snapshot) error {
	if err := asset.ValidateFileName(snapshot.FileName); err != nil {
		return err
	}

	dir := l.assetDir(snapshot.AssetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, snapshot.FileName), snapshot.Content, 0o644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	return nil
}

func (l *Local) Load(_ context.Context, id uuid.UUID, fileName string) ([]byte, error) {
	if err := asset.ValidateFileName(fileName); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(l.assetDir(id), fileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}

	return content, err
}

// Open returns the blob file for streaming. The caller closes it.
func (l *Local) Open(id uuid.UUID, fileName string) (*os.File, error) {
	if err := asset.ValidateFileName(fileName); err != nil {
		return nil, ErrBlobNotFound
	}

	f, err := os.Open(filepath.Join(l.assetDir(id), fileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}

	return f, err
}

func (l *Local) DeleteAll(_ context.Context, id uuid.UUID) error {
	if err := os.RemoveAll(l.assetDir(id)); err != nil {
		return fmt.Errorf("failed to remove asset directory: %w", err)
	}

	return nil
}

// DownloadURL returns the service relative path of the file endpoint.
func (l *Local) DownloadURL(_ context.Context, a *asset.Asset) (string, error) {
	if a.IsSkeleton() {
		return "", ErrBlobNotFound
	}

	return FileRoute + "/" + a.UUID.String() + "/" + url.PathEscape(a.FileName()), nil
}

func (l *Local) assetDir(id uuid.UUID) string {
	return filepath.Join(l.root, id.String())
}
