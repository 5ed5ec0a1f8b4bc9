package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/blob"
	"github.com/italolelis/assetflow/internal/storage"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.events...)
}

// memAssets keeps copies so callers can't mutate stored records.
type memAssets struct {
	log     *eventLog
	records map[uuid.UUID]asset.Asset
}

func (m *memAssets) Create(_ context.Context, a *asset.Asset) error {
	m.log.add("db.create")

	for _, r := range m.records {
		if r.Name == a.Name {
			return storage.ErrDuplicateName
		}
	}

	a.UUID = uuid.New()
	m.records[a.UUID] = *a

	return nil
}

func (m *memAssets) Update(_ context.Context, a *asset.Asset) error {
	m.log.add("db.update")

	if _, ok := m.records[a.UUID]; !ok {
		return storage.ErrNotFound
	}

	m.records[a.UUID] = *a

	return nil
}

func (m *memAssets) FindByUUID(_ context.Context, id uuid.UUID) (*asset.Asset, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return &r, nil
}

func (m *memAssets) FindByName(_ context.Context, name string) (*asset.Asset, error) {
	for _, r := range m.records {
		if r.Name == name {
			return &r, nil
		}
	}

	return nil, storage.ErrNotFound
}

func (m *memAssets) Delete(_ context.Context, id uuid.UUID) error {
	m.log.add("db.delete")
	delete(m.records, id)

	return nil
}

func (m *memAssets) ListSkeletons(context.Context, time.Time) ([]*asset.Asset, error) {
	return nil, nil
}

// recordingBackend wraps a local backend, logging calls and failing on demand.
type recordingBackend struct {
	*blob.Local
	log         *eventLog
	failSave    error
	failDelete  error
	beforeWrite func(id uuid.UUID)
}

func (b *recordingBackend) Save(ctx context.Context, s *asset.Snapshot) error {
	b.log.add("blob.save")

	if b.beforeWrite != nil {
		b.beforeWrite(s.AssetID)
	}

	if b.failSave != nil {
		return b.failSave
	}

	return b.Local.Save(ctx, s)
}

func (b *recordingBackend) DeleteAll(ctx context.Context, id uuid.UUID) error {
	b.log.add("blob.delete_all")

	if b.failDelete != nil {
		return b.failDelete
	}

	return b.Local.DeleteAll(ctx, id)
}

type staticResolver map[string]blob.Backend

func (s staticResolver) Resolve(_ context.Context, name string) (blob.Backend, error) {
	if b, ok := s[name]; ok {
		return b, nil
	}

	return nil, blob.ErrUnknownBackend
}

type fixture struct {
	log     *eventLog
	assets  *memAssets
	backend *recordingBackend
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := &eventLog{}
	assets := &memAssets{log: log, records: make(map[uuid.UUID]asset.Asset)}
	backend := &recordingBackend{Local: blob.NewLocal(t.TempDir()), log: log}

	return &fixture{
		log:     log,
		assets:  assets,
		backend: backend,
		orch:    NewOrchestrator(assets, staticResolver{asset.LocalRepository: backend}, nil),
	}
}

func snapshot(t *testing.T, fileName, content string) *asset.Snapshot {
	t.Helper()

	s, err := asset.NewSnapshot(fileName, []byte(content))
	require.NoError(t, err)

	return s
}

func TestCreate_WritesSkeletonBlobThenLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var locationAtWrite *string

	f.backend.beforeWrite = func(id uuid.UUID) {
		stored, err := f.assets.FindByUUID(ctx, id)
		require.NoError(t, err)

		locationAtWrite = &stored.Location
	}

	a, err := f.orch.Create(ctx, "logo", asset.LocalRepository, snapshot(t, "logo.png", "png"))
	require.NoError(t, err)

	assert.Equal(t, []string{"db.create", "blob.save", "db.update"}, f.log.all())

	require.NotNil(t, locationAtWrite)
	assert.Empty(t, *locationAtWrite, "location must be unset while the blob is written")

	stored, err := f.assets.FindByUUID(ctx, a.UUID)
	require.NoError(t, err)
	assert.Equal(t, a.UUID.String()+"/logo.png", stored.Location)

	content, err := f.backend.Load(ctx, a.UUID, "logo.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), content)
}

func TestCreate_BlobFailureLeavesSkeleton(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	diskFull := errors.New("no space left on device")
	f.backend.failSave = diskFull

	_, err := f.orch.Create(ctx, "logo", asset.LocalRepository, snapshot(t, "logo.png", "png"))
	require.ErrorIs(t, err, diskFull)

	var stepErr *asset.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, OpCreate, stepErr.Operation)
	assert.Equal(t, StepWriteBlob, stepErr.Step)

	assert.Equal(t, []string{"db.create", "blob.save"}, f.log.all())

	stored, err := f.assets.FindByName(ctx, "logo")
	require.NoError(t, err)
	assert.True(t, stored.IsSkeleton())
	assert.Equal(t, stepErr.AssetID, stored.UUID)
}

func TestCreate_DuplicateNameStopsBeforeBlob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.Create(ctx, "logo", asset.LocalRepository, snapshot(t, "a.png", "a"))
	require.NoError(t, err)

	_, err = f.orch.Create(ctx, "logo", asset.LocalRepository, snapshot(t, "b.png", "b"))
	require.ErrorIs(t, err, storage.ErrDuplicateName)

	var stepErr *asset.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepPersistSkeleton, stepErr.Step)

	assert.Equal(t, []string{"db.create", "blob.save", "db.update", "db.create"}, f.log.all())
}

func TestCreate_UnknownBackend(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Create(context.Background(), "logo", "nowhere", snapshot(t, "logo.png", "png"))
	require.ErrorIs(t, err, blob.ErrUnknownBackend)
	assert.Empty(t, f.log.all())
}

func TestUpdate_DeletesThenWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.orch.Create(ctx, "tool", asset.LocalRepository, snapshot(t, "tool-v1.zip", "v1"))
	require.NoError(t, err)

	updated, err := f.orch.Update(ctx, "tool", snapshot(t, "tool-v2.zip", "v2"))
	require.NoError(t, err)

	assert.Equal(t, created.UUID, updated.UUID)
	assert.Equal(t, []string{
		"db.create", "blob.save", "db.update",
		"blob.delete_all", "blob.save", "db.update",
	}, f.log.all())

	_, err = f.backend.Load(ctx, created.UUID, "tool-v1.zip")
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	content, err := f.backend.Load(ctx, created.UUID, "tool-v2.zip")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)

	stored, err := f.assets.FindByUUID(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, "tool-v2.zip", stored.FileName())
}

func TestUpdate_WriteFailureLosesContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.orch.Create(ctx, "tool", asset.LocalRepository, snapshot(t, "tool.zip", "v1"))
	require.NoError(t, err)

	f.backend.failSave = errors.New("connection reset")

	_, err = f.orch.Update(ctx, "tool", snapshot(t, "tool.zip", "v2"))

	var stepErr *asset.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, OpUpdate, stepErr.Operation)
	assert.Equal(t, StepWriteBlob, stepErr.Step)

	_, err = f.backend.Load(ctx, created.UUID, "tool.zip")
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	stored, err := f.assets.FindByUUID(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, created.Location, stored.Location)
}

func TestUpdate_UnknownAsset(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Update(context.Background(), "ghost", snapshot(t, "x.bin", "x"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete_RemovesBlobsThenRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.orch.Create(ctx, "logo", asset.LocalRepository, snapshot(t, "logo.png", "png"))
	require.NoError(t, err)

	deleted, err := f.orch.Delete(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, "logo", deleted.Name)

	assert.Equal(t, []string{"db.create", "blob.save", "db.update", "blob.delete_all", "db.delete"}, f.log.all())

	_, err = f.assets.FindByUUID(ctx, created.UUID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.backend.Load(ctx, created.UUID, "logo.png")
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestDelete_BlobFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.orch.Create(ctx, "logo", asset.LocalRepository, snapshot(t, "logo.png", "png"))
	require.NoError(t, err)

	f.backend.failDelete = errors.New("access denied")

	_, err = f.orch.Delete(ctx, created.UUID)

	var stepErr *asset.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepDeleteBlobs, stepErr.Step)

	_, err = f.assets.FindByUUID(ctx, created.UUID)
	assert.NoError(t, err)
}

func TestDelete_UnknownAsset(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCanceledContextStopsBeforeFirstStep(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Create(ctx, "logo", asset.LocalRepository, snapshot(t, "logo.png", "png"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.log.all())
}
