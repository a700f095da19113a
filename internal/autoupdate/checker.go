package autoupdate

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gephgui/internal/metrics"
	"gephgui/internal/storage/models"
)

// Result is the outcome of a successful check.
type Result string

const (
	ResultAlreadyCurrent Result = "already_current"
	ResultCachedFresh    Result = "cached_fresh"
	ResultAlreadyCached  Result = "already_cached"
)

// EventRecorder persists check and prompt outcomes.
type EventRecorder interface {
	RecordUpdateEvent(ctx context.Context, event *models.UpdateEvent) error
}

// CheckerDeps are the collaborators of a Checker.
type CheckerDeps struct {
	Source  Source
	Fetcher *Fetcher
	Cache   *Cache
	Track   string
	Current *semver.Version
	Events  EventRecorder
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Checker compares the manifest with the running version and fills the
// cache when a newer build exists.
type Checker struct {
	deps  CheckerDeps
	log   *zap.Logger
	group singleflight.Group
}

func NewChecker(deps CheckerDeps) *Checker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Checker{deps: deps, log: deps.Logger}
}

// Check runs one check. Concurrent callers share a single run.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	v, err, _ := c.group.Do("check", func() (any, error) {
		return c.check(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(Result), nil
}

func (c *Checker) check(ctx context.Context) (Result, error) {
	manifest, base, err := c.deps.Source.Manifest(ctx)
	if err != nil {
		return c.fail(ctx, "", err)
	}
	entry, err := manifest.Entry(c.deps.Track)
	if err != nil {
		return c.fail(ctx, "", err)
	}
	latest, err := ParseVersion(entry.Version)
	if err != nil {
		return c.fail(ctx, entry.Version, fmt.Errorf("manifest: %w", err))
	}

	if !latest.GreaterThan(c.deps.Current) {
		c.log.Debug("already running latest version",
			zap.String("manifest", latest.String()),
			zap.String("current", c.deps.Current.String()))
		if err := c.deps.Cache.ClearMetadata(); err != nil {
			c.log.Warn("failed to clear stale update metadata", zap.Error(err))
		}
		c.record(ctx, models.UpdateNoUpdate, entry.Version, "")
		return ResultAlreadyCurrent, nil
	}

	path := c.deps.Cache.ArtifactPath(entry)
	cached, err := c.deps.Cache.Verify(path, entry.SHA256)
	if err != nil {
		return c.fail(ctx, entry.Version, err)
	}
	if !cached {
		url := ArtifactURL(base, c.deps.Track, entry)
		c.log.Info("downloading update", zap.String("url", url), zap.String("path", path))
		data, err := c.deps.Fetcher.Download(ctx, url)
		if err != nil {
			return c.fail(ctx, entry.Version, fmt.Errorf("download %s: %w", url, err))
		}
		if err := c.deps.Cache.Store(path, entry.SHA256, data); err != nil {
			return c.fail(ctx, entry.Version, err)
		}
	}

	err = c.deps.Cache.WriteMetadata(&UpdateMetadata{
		Version:      entry.Version,
		SHA256:       entry.SHA256,
		Filename:     entry.Filename,
		DownloadPath: path,
	})
	if err != nil {
		return c.fail(ctx, entry.Version, fmt.Errorf("write update metadata: %w", err))
	}

	result := ResultAlreadyCached
	if !cached {
		result = ResultCachedFresh
	}
	c.log.Debug("update cached", zap.String("version", entry.Version), zap.String("result", string(result)))
	c.record(ctx, models.UpdateDownloaded, entry.Version, string(result))
	return result, nil
}

func (c *Checker) fail(ctx context.Context, version string, err error) (Result, error) {
	c.record(ctx, models.UpdateFailed, version, err.Error())
	return "", err
}

func (c *Checker) record(ctx context.Context, result, version, message string) {
	c.deps.Metrics.RecordUpdateCheck(result)
	recordEvent(ctx, c.deps.Events, c.log, result, version, message)
}
