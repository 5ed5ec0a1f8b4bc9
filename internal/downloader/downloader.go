// Package downloader fetches assets from the service onto the local disk.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/assetflow/internal/downloader/progress"
	"github.com/italolelis/assetflow/internal/http/api"
	"github.com/italolelis/assetflow/internal/logctx"
)

const (
	dirPerm            = 0755
	defaultMaxParallel = 5
	progressInterval   = 100 * 1024 * 1024 // 100MB
)

// ErrNotDownloadable is returned for assets the service knows about but
// can't serve, e.g. because their storage is not configured.
var ErrNotDownloadable = errors.New("asset is not downloadable")

// API is the part of the service client the downloader needs.
type API interface {
	AssetByName(ctx context.Context, name string) (*api.AssetInfo, error)
	Group(ctx context.Context, name string) (*api.GroupInfo, error)
	Open(ctx context.Context, link string) (io.ReadCloser, int64, error)
}

type Downloader struct {
	api     API
	sem     chan struct{}
	baseDir string
}

type Option func(*Downloader)

// WithMaxParallel bounds the number of transfers running at once.
func WithMaxParallel(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithBaseDir sets the directory used when neither a target nor a deploy
// path is known. Defaults to the current directory.
func WithBaseDir(dir string) Option {
	return func(d *Downloader) {
		d.baseDir = dir
	}
}

func New(client API, opts ...Option) *Downloader {
	d := &Downloader{
		api:     client,
		sem:     make(chan struct{}, defaultMaxParallel),
		baseDir: ".",
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Result describes a finished download.
type Result struct {
	Asset *api.AssetInfo
	Path  string
	Size  int64
}

// DownloadAsset resolves the named asset and writes it to disk. target may be
// a file path, an existing directory or empty; see targetPath.
func (d *Downloader) DownloadAsset(ctx context.Context, name, target string) (*Result, error) {
	info, err := d.api.AssetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	d.acquire()
	defer d.release()

	return d.fetch(ctx, info, target)
}

// DownloadGroup starts one task per member of the group and returns without
// waiting for them. Tasks are created immediately; the parallelism limit only
// delays when their transfers begin.
func (d *Downloader) DownloadGroup(ctx context.Context, name string) (*Session, error) {
	group, err := d.api.Group(ctx, name)
	if err != nil {
		return nil, err
	}

	logger := logctx.LoggerFromContext(ctx).With("group", group.GroupName)

	s := &Session{
		Name:      group.GroupName,
		StartedAt: time.Now(),
		tasks:     make([]*Task, 0, len(group.Assets)),
		all:       make(chan struct{}),
	}

	var wg sync.WaitGroup

	for _, member := range group.Assets {
		t := &Task{
			Asset:     member,
			startedAt: time.Now(),
			done:      make(chan struct{}),
		}
		s.tasks = append(s.tasks, t)

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer t.finish()

			t.result, t.err = d.downloadMember(ctx, member)
			if t.err != nil {
				logger.Error("failed to download group member", "asset_name", member.AssetName, "err", t.err)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(s.all)
	}()

	logger.Info("group download started", "assets", len(s.tasks))

	return s, nil
}

// downloadMember re-resolves the member once a transfer slot is free, so a
// presigned link can't expire while the task is queued.
func (d *Downloader) downloadMember(ctx context.Context, member *api.AssetInfo) (*Result, error) {
	d.acquire()
	defer d.release()

	info, err := d.api.AssetByName(ctx, member.AssetName)
	if err != nil {
		return nil, err
	}

	return d.fetch(ctx, info, "")
}

func (d *Downloader) acquire() { d.sem <- struct{}{} }
func (d *Downloader) release() { <-d.sem }

func (d *Downloader) fetch(ctx context.Context, info *api.AssetInfo, target string) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("asset_name", info.AssetName, "asset_id", info.UUID)

	if !info.Valid || info.DownloadLink == "" || info.FileName == "" {
		return nil, fmt.Errorf("%s: %w", info.AssetName, ErrNotDownloadable)
	}

	targetPath, err := d.targetPath(info, target)
	if err != nil {
		return nil, err
	}

	body, size, err := d.api.Open(ctx, info.DownloadLink)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", info.AssetName, err)
	}
	defer body.Close()

	if err := ensureTargetDir(targetPath, logger); err != nil {
		return nil, err
	}

	written, err := writeFile(ctx, body, targetPath, size)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", info.AssetName, err)
	}

	logger.Info("downloaded and saved file", "target", targetPath, "size", humanize.Bytes(uint64(written)))

	return &Result{Asset: info, Path: targetPath, Size: written}, nil
}

// targetPath picks where an asset is written. An explicit target that is an
// existing directory receives the asset's file name; any other explicit
// target is used as the file path. Without a target the asset's deploy path
// is used, then the base directory. The file name always comes from the
// service.
func (d *Downloader) targetPath(info *api.AssetInfo, target string) (string, error) {
	if target != "" {
		stat, err := os.Stat(target)

		switch {
		case err == nil && stat.IsDir():
			return filepath.Join(target, info.FileName), nil
		case err == nil || errors.Is(err, os.ErrNotExist):
			return target, nil
		default:
			return "", fmt.Errorf("failed to inspect target %s: %w", target, err)
		}
	}

	if info.DeployPath != "" {
		return filepath.Join(info.DeployPath, info.FileName), nil
	}

	return filepath.Join(d.baseDir, info.FileName), nil
}

func ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return nil
}

// writeFile streams into a temporary file next to the target and renames it
// into place, so a failed transfer never leaves a truncated asset behind.
func writeFile(ctx context.Context, r io.Reader, targetPath string, totalBytes int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), "."+filepath.Base(targetPath)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create target file: %w", err)
	}

	defer os.Remove(tmp.Name())

	progressCb := func(written, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"target", targetPath,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "target", targetPath, "downloaded", humanize.Bytes(uint64(written)))
		}
	}

	written, err := io.Copy(tmp, progress.NewReader(r, totalBytes, progressInterval, progressCb))
	if err != nil {
		tmp.Close()

		return 0, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush file: %w", err)
	}

	if err := os.Rename(tmp.Name(), targetPath); err != nil {
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}

	return written, nil
}
