package blob

import (
	"context"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/telemetry"
)

// InstrumentedBackend wraps a Backend with telemetry.
type InstrumentedBackend struct {
	backend   Backend
	telemetry *telemetry.Telemetry
}

// NewInstrumentedBackend creates a new instrumented backend.
func NewInstrumentedBackend(backend Backend, tel *telemetry.Telemetry) *InstrumentedBackend {
	return &InstrumentedBackend{backend: backend, telemetry: tel}
}

func (b *InstrumentedBackend) Type() string {
	return b.backend.Type()
}

func (b *InstrumentedBackend) Save(ctx context.Context, snapshot *asset.Snapshot) error {
	err := b.telemetry.InstrumentStorageOperation(ctx, b.Type(), "save", func(ctx context.Context) error {
		return b.backend.Save(ctx, snapshot)
	})
	if err == nil {
		b.telemetry.RecordStorageBytes(b.Type(), "write", snapshot.Size())
	}

	return err
}

func (b *InstrumentedBackend) Load(ctx context.Context, id uuid.UUID, fileName string) ([]byte, error) {
	var content []byte

	err := b.telemetry.InstrumentStorageOperation(ctx, b.Type(), "load", func(ctx context.Context) error {
		var err error
		content, err = b.backend.Load(ctx, id, fileName)

		return err
	})
	if err != nil {
		return nil, err
	}

	b.telemetry.RecordStorageBytes(b.Type(), "read", int64(len(content)))

	return content, nil
}

func (b *InstrumentedBackend) DeleteAll(ctx context.Context, id uuid.UUID) error {
	return b.telemetry.InstrumentStorageOperation(ctx, b.Type(), "delete_all", func(ctx context.Context) error {
		return b.backend.DeleteAll(ctx, id)
	})
}

func (b *InstrumentedBackend) DownloadURL(ctx context.Context, a *asset.Asset) (string, error) {
	var link string

	err := b.telemetry.InstrumentStorageOperation(ctx, b.Type(), "download_url", func(ctx context.Context) error {
		var err error
		link, err = b.backend.DownloadURL(ctx, a)

		return err
	})

	return link, err
}
