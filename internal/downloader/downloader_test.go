package downloader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/assetflow/internal/http/api"
)

var errGroupNotFound = errors.New("group not found")

type fakeAPI struct {
	mu       sync.Mutex
	assets   map[string]*api.AssetInfo
	content  map[string]string
	groups   map[string][]string
	failLink map[string]bool

	// gate, when set, blocks Open until closed.
	gate     chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		assets:   map[string]*api.AssetInfo{},
		content:  map[string]string{},
		groups:   map[string][]string{},
		failLink: map[string]bool{},
	}
}

func (f *fakeAPI) add(name, fileName, content string) *api.AssetInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	link := "/api/file/" + name + "/" + fileName
	info := &api.AssetInfo{
		Found:        true,
		Valid:        true,
		AssetName:    name,
		FileName:     fileName,
		DownloadLink: link,
	}
	f.assets[name] = info
	f.content[link] = content

	return info
}

func (f *fakeAPI) AssetByName(_ context.Context, name string) (*api.AssetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, ok := f.assets[name]
	if !ok {
		return nil, errors.New("asset not found")
	}

	cp := *info

	return &cp, nil
}

func (f *fakeAPI) Group(_ context.Context, name string) (*api.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	members, ok := f.groups[name]
	if !ok {
		return nil, errGroupNotFound
	}

	info := &api.GroupInfo{Found: true, GroupName: name}
	for _, m := range members {
		info.Assets = append(info.Assets, f.assets[m])
	}

	return info, nil
}

func (f *fakeAPI) Open(ctx context.Context, link string) (io.ReadCloser, int64, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failLink[link] {
		return nil, 0, errors.New("connection reset")
	}

	content, ok := f.content[link]
	if !ok {
		return nil, 0, errors.New("no such blob")
	}

	return io.NopCloser(strings.NewReader(content)), int64(len(content)), nil
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(b)
}

func TestDownloadAssetTargets(t *testing.T) {
	fake := newFakeAPI()
	fake.add("tool", "tool.zip", "zip bytes")

	deployDir := filepath.Join(t.TempDir(), "plugins")
	fake.add("plugin", "plugin.jar", "jar bytes").DeployPath = deployDir

	baseDir := t.TempDir()
	existingDir := t.TempDir()
	explicitFile := filepath.Join(t.TempDir(), "nested", "renamed.zip")

	d := New(fake, WithBaseDir(baseDir))

	tests := []struct {
		name   string
		asset  string
		target string
		want   string
	}{
		{"no target uses base dir", "tool", "", filepath.Join(baseDir, "tool.zip")},
		{"no target uses deploy path", "plugin", "", filepath.Join(deployDir, "plugin.jar")},
		{"existing directory gets file name", "tool", existingDir, filepath.Join(existingDir, "tool.zip")},
		{"explicit file path", "tool", explicitFile, explicitFile},
		{"explicit target beats deploy path", "plugin", existingDir, filepath.Join(existingDir, "plugin.jar")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.DownloadAsset(context.Background(), tt.asset, tt.target)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Path)
			assert.Equal(t, readFile(t, tt.want), fake.content[res.Asset.DownloadLink])
			assert.Equal(t, int64(len(fake.content[res.Asset.DownloadLink])), res.Size)
		})
	}
}

func TestDownloadAssetNotDownloadable(t *testing.T) {
	fake := newFakeAPI()
	fake.add("broken", "broken.zip", "x").Valid = false

	d := New(fake, WithBaseDir(t.TempDir()))

	_, err := d.DownloadAsset(context.Background(), "broken", "")
	assert.ErrorIs(t, err, ErrNotDownloadable)
}

func TestDownloadAssetFailureLeavesNoFile(t *testing.T) {
	fake := newFakeAPI()
	info := fake.add("tool", "tool.zip", "zip")
	fake.failLink[info.DownloadLink] = true

	baseDir := t.TempDir()
	d := New(fake, WithBaseDir(baseDir))

	_, err := d.DownloadAsset(context.Background(), "tool", "")
	require.Error(t, err)

	entries, err := os.ReadDir(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadGroupPartialFailure(t *testing.T) {
	fake := newFakeAPI()
	fake.add("a", "a.bin", "aaa")
	bad := fake.add("b", "b.bin", "bbb")
	fake.add("c", "c.bin", "ccc")
	fake.failLink[bad.DownloadLink] = true
	fake.groups["bundle"] = []string{"a", "b", "c"}

	baseDir := t.TempDir()
	d := New(fake, WithBaseDir(baseDir))

	session, err := d.DownloadGroup(context.Background(), "bundle")
	require.NoError(t, err)
	require.Len(t, session.Tasks(), 3)

	select {
	case <-session.WhenAllComplete():
	case <-time.After(5 * time.Second):
		t.Fatal("group download did not complete")
	}

	for _, task := range session.Tasks() {
		select {
		case <-task.Done():
		default:
			t.Fatalf("task %s not settled after all complete", task.Asset.AssetName)
		}

		assert.False(t, task.StartedAt().Before(session.StartedAt))
		assert.GreaterOrEqual(t, task.Duration(), time.Duration(0))
	}

	assert.NoError(t, session.Tasks()[0].Err())
	assert.Error(t, session.Tasks()[1].Err())
	assert.NoError(t, session.Tasks()[2].Err())

	assert.Equal(t, "aaa", readFile(t, filepath.Join(baseDir, "a.bin")))
	assert.Equal(t, "ccc", readFile(t, filepath.Join(baseDir, "c.bin")))
	assert.NoFileExists(t, filepath.Join(baseDir, "b.bin"))

	err = session.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: ")
}

func TestDownloadGroupUnknown(t *testing.T) {
	d := New(newFakeAPI())

	_, err := d.DownloadGroup(context.Background(), "nope")
	assert.ErrorIs(t, err, errGroupNotFound)
}

func TestDownloadGroupEmpty(t *testing.T) {
	fake := newFakeAPI()
	fake.groups["empty"] = nil

	session, err := New(fake).DownloadGroup(context.Background(), "empty")
	require.NoError(t, err)

	assert.NoError(t, session.Wait(context.Background()))
	assert.Empty(t, session.Tasks())
}

func TestDownloadGroupRespectsParallelism(t *testing.T) {
	fake := newFakeAPI()
	fake.gate = make(chan struct{})

	var names []string

	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		fake.add(n, n+".bin", n)
		names = append(names, n)
	}

	fake.groups["bundle"] = names

	d := New(fake, WithMaxParallel(2), WithBaseDir(t.TempDir()))

	session, err := d.DownloadGroup(context.Background(), "bundle")
	require.NoError(t, err)

	// Every task exists before any transfer may finish.
	assert.Len(t, session.Tasks(), 6)

	require.Eventually(t, func() bool { return fake.inFlight.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, session.Wait(ctx), context.DeadlineExceeded)

	close(fake.gate)

	require.NoError(t, session.Wait(context.Background()))
	assert.LessOrEqual(t, fake.peak.Load(), int32(2))
}
