// Package cleanup audits assets whose creation never completed.
package cleanup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/logctx"
	"github.com/italolelis/assetflow/internal/notifier"
	"github.com/italolelis/assetflow/internal/telemetry"
)

// SkeletonLister lists assets whose blob location was never recorded.
type SkeletonLister interface {
	ListSkeletons(ctx context.Context, olderThan time.Time) ([]*asset.Asset, error)
}

// OrphanAudit reports skeleton assets older than the grace period. It never
// repairs or deletes them; an operator decides what to do.
type OrphanAudit struct {
	assets    SkeletonLister
	grace     time.Duration
	notifier  notifier.Notifier
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

// NewOrphanAudit creates the audit. notif and tel may be nil.
func NewOrphanAudit(assets SkeletonLister, grace time.Duration, notif notifier.Notifier, tel *telemetry.Telemetry) *OrphanAudit {
	return &OrphanAudit{
		assets:    assets,
		grace:     grace,
		notifier:  notif,
		telemetry: tel,
		now:       time.Now,
	}
}

// Run audits once and returns the orphans found.
func (a *OrphanAudit) Run(ctx context.Context) ([]*asset.Asset, error) {
	logger := logctx.LoggerFromContext(ctx)

	orphans, err := a.assets.ListSkeletons(ctx, a.now().Add(-a.grace))
	if err != nil {
		a.telemetry.RecordSystemError("cleanup", "list_skeletons")

		return nil, fmt.Errorf("failed to list skeleton assets: %w", err)
	}

	a.telemetry.RecordOrphanedAssets(len(orphans))

	if len(orphans) == 0 {
		logger.Debug("no orphaned assets found")

		return nil, nil
	}

	names := make([]string, 0, len(orphans))

	for _, o := range orphans {
		logger.Warn("orphaned asset: metadata without stored content",
			"asset_id", o.UUID,
			"asset_name", o.Name,
			"repository", o.Repository,
			"created_at", o.CreatedAt,
		)

		names = append(names, o.Name)
	}

	if a.notifier != nil {
		msg := fmt.Sprintf("⚠️ %d orphaned asset(s) without content: %s", len(orphans), strings.Join(names, ", "))
		if err := a.notifier.Notify(ctx, msg); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}

	return orphans, nil
}

// Watch runs the audit every interval until ctx is done. A non-positive
// interval disables it.
func (a *OrphanAudit) Watch(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if interval <= 0 {
		logger.Info("orphan audit disabled", "interval", interval)

		return
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("orphan audit shutting down")

				return
			case <-ticker.C:
				if _, err := a.Run(ctx); err != nil {
					logger.Error("orphan audit failed", "err", err)
				}
			}
		}
	}()
}
