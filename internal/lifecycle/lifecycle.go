// Package lifecycle keeps asset metadata and blobs in step across create,
// update and delete. The metadata store and the blob store share no
// transaction: each operation runs its steps in order, stops at the first
// failure and never undoes completed steps.
package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/blob"
	"github.com/italolelis/assetflow/internal/logctx"
	"github.com/italolelis/assetflow/internal/storage"
	"github.com/italolelis/assetflow/internal/telemetry"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"

	StepPersistSkeleton = "persist skeleton"
	StepWriteBlob       = "write blob"
	StepPersistLocation = "persist location"
	StepDeleteBlobs     = "delete blobs"
	StepDeleteRecord    = "delete record"
)

// BackendResolver maps a repository name to its backend.
type BackendResolver interface {
	Resolve(ctx context.Context, name string) (blob.Backend, error)
}

type Orchestrator struct {
	assets    storage.AssetRepository
	backends  BackendResolver
	telemetry *telemetry.Telemetry
}

func NewOrchestrator(assets storage.AssetRepository, backends BackendResolver, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{assets: assets, backends: backends, telemetry: tel}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Create stores a new asset: a skeleton record first, then the blob under the
// id the record received, then the location. A failed blob write leaves the
// skeleton behind.
func (o *Orchestrator) Create(ctx context.Context, name, repository string, snapshot *asset.Snapshot) (*asset.Asset, error) {
	backend, err := o.backends.Resolve(ctx, repository)
	if err != nil {
		return nil, err
	}

	a := &asset.Asset{Name: name, Repository: repository}

	err = o.run(ctx, OpCreate, a,
		step{StepPersistSkeleton, func(ctx context.Context) error {
			return o.assets.Create(ctx, a)
		}},
		step{StepWriteBlob, func(ctx context.Context) error {
			snapshot.AssetID = a.UUID

			return backend.Save(ctx, snapshot)
		}},
		step{StepPersistLocation, func(ctx context.Context) error {
			a.Location = snapshot.Key()

			return o.assets.Update(ctx, a)
		}},
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Update replaces the content of the named asset. Old blobs are deleted
// before the new one is written, so a failure in between leaves the asset
// without content.
func (o *Orchestrator) Update(ctx context.Context, name string, snapshot *asset.Snapshot) (*asset.Asset, error) {
	a, err := o.assets.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}

	backend, err := o.backends.Resolve(ctx, a.Repository)
	if err != nil {
		return nil, err
	}

	snapshot.AssetID = a.UUID

	err = o.run(ctx, OpUpdate, a,
		step{StepDeleteBlobs, func(ctx context.Context) error {
			return backend.DeleteAll(ctx, a.UUID)
		}},
		step{StepWriteBlob, func(ctx context.Context) error {
			return backend.Save(ctx, snapshot)
		}},
		step{StepPersistLocation, func(ctx context.Context) error {
			a.Location = snapshot.Key()

			return o.assets.Update(ctx, a)
		}},
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Delete removes the asset's blobs, then its record and group memberships.
func (o *Orchestrator) Delete(ctx context.Context, id uuid.UUID) (*asset.Asset, error) {
	a, err := o.assets.FindByUUID(ctx, id)
	if err != nil {
		return nil, err
	}

	backend, err := o.backends.Resolve(ctx, a.Repository)
	if err != nil {
		return nil, err
	}

	err = o.run(ctx, OpDelete, a,
		step{StepDeleteBlobs, func(ctx context.Context) error {
			return backend.DeleteAll(ctx, a.UUID)
		}},
		step{StepDeleteRecord, func(ctx context.Context) error {
			return o.assets.Delete(ctx, a.UUID)
		}},
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (o *Orchestrator) run(ctx context.Context, operation string, a *asset.Asset, steps ...step) error {
	return o.telemetry.InstrumentAssetOperation(ctx, operation, func(ctx context.Context) error {
		logger := logctx.LoggerFromContext(ctx)

		for _, s := range steps {
			if err := ctx.Err(); err != nil {
				return o.fail(ctx, operation, s.name, a, err)
			}

			if err := s.run(ctx); err != nil {
				return o.fail(ctx, operation, s.name, a, err)
			}

			logger.DebugContext(ctx, "lifecycle step completed",
				"operation", operation, "step", s.name, "asset_id", a.UUID, "asset_name", a.Name)
		}

		logger.InfoContext(ctx, "lifecycle operation completed",
			"operation", operation, "asset_id", a.UUID, "asset_name", a.Name, "repository", a.Repository)

		return nil
	})
}

func (o *Orchestrator) fail(ctx context.Context, operation, stepName string, a *asset.Asset, err error) error {
	logctx.LoggerFromContext(ctx).ErrorContext(ctx, "lifecycle step failed",
		"operation", operation,
		"step", stepName,
		"asset_id", a.UUID,
		"asset_name", a.Name,
		"err", err,
	)

	return &asset.StepError{Operation: operation, Step: stepName, AssetID: a.UUID, Err: err}
}
