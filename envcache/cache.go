package envcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/testbot/master"
)

// Event is a cache lookup or publication outcome.
type Event string

// Cache events
const (
	EventHit       Event = "hit"
	EventMiss      Event = "miss"
	EventPublished Event = "published"
	EventSkipped   Event = "skipped"
)

// Fetcher downloads an environment archive into dir and returns its path
// relative to dir. The implementation must verify the archive checksum.
type Fetcher interface {
	DownloadMaterial(ctx context.Context, env master.Environment, dir string) (string, error)
}

// Observer receives cache events.
type Observer interface {
	ObserveCache(event Event)
}

type meta struct {
	Path string `json:"path"`
	MD5  string `json:"md5"`
}

// Cache resolves environment versions to archives under root.
type Cache struct {
	root     string
	fetcher  Fetcher
	observer Observer
	logger   *zap.Logger
}

// Option defines a functional option for Cache
type Option func(*Cache)

// WithObserver sets the Observer that is told about every lookup
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

// New creates a cache rooted at root. The directory must already exist.
func New(root string, fetcher Fetcher, logger *zap.Logger, opts ...Option) (*Cache, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("environment cache root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("environment cache root %q is not a directory", root)
	}

	c := &Cache{
		root:    root,
		fetcher: fetcher,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// Path returns the absolute location of an archive returned by Resolve.
func (c *Cache) Path(rel string) string {
	return filepath.Join(c.root, rel)
}

// Resolve returns the archive for env, relative to the cache root. A cached
// archive with a matching checksum is returned without any network access.
// Otherwise the archive is downloaded and the meta file is published unless
// another worker holds the lock for this environment.
func (c *Cache) Resolve(ctx context.Context, env master.Environment) (string, error) {
	log := c.logger.With(zap.Int64("environment_id", env.ID))

	if rel, ok := c.lookup(env); ok {
		c.observe(EventHit)
		log.Debug("environment cache hit", zap.String("path", rel))
		return rel, nil
	}
	c.observe(EventMiss)

	rel, err := c.fetcher.DownloadMaterial(ctx, env, c.root)
	if err != nil {
		return "", fmt.Errorf("failed to download environment %d: %w", env.ID, err)
	}
	log.Info("environment downloaded", zap.String("path", rel))

	published, err := c.publish(env, rel)
	switch {
	case err != nil:
		// The downloaded archive is verified, so the job can still use it.
		log.Warn("failed to publish environment meta", zap.Error(err))
	case published:
		c.observe(EventPublished)
	default:
		c.observe(EventSkipped)
		log.Debug("environment meta is being published by another worker")
	}
	return rel, nil
}

func (c *Cache) metaPath(id int64) string {
	return filepath.Join(c.root, fmt.Sprintf("%d.json", id))
}

func (c *Cache) lockPath(id int64) string {
	return filepath.Join(c.root, fmt.Sprintf("%d.lock", id))
}

// lookup reads the meta file. Unreadable or malformed meta counts as a miss.
func (c *Cache) lookup(env master.Environment) (string, bool) {
	data, err := os.ReadFile(c.metaPath(env.ID))
	if err != nil {
		return "", false
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("ignoring malformed environment meta",
			zap.Int64("environment_id", env.ID), zap.Error(err))
		return "", false
	}
	if m.Path == "" || !filepath.IsLocal(m.Path) || !strings.EqualFold(m.MD5, env.MD5) {
		return "", false
	}

	info, err := os.Stat(c.Path(m.Path))
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return m.Path, true
}

// publish records rel as the archive for env. It reports false without error
// when the lock file already exists.
func (c *Cache) publish(env master.Environment, rel string) (bool, error) {
	lockPath := c.lockPath(env.ID)
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer func() {
		_ = lock.Close()
		if rmErr := os.Remove(lockPath); rmErr != nil {
			c.logger.Warn("failed to remove lock file", zap.String("path", lockPath), zap.Error(rmErr))
		}
	}()

	data, err := json.Marshal(meta{Path: rel, MD5: env.MD5})
	if err != nil {
		return false, err
	}
	if err := writeFileAtomic(c.metaPath(env.ID), data); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) observe(e Event) {
	if c.observer != nil {
		c.observer.ObserveCache(e)
	}
}

// writeFileAtomic replaces path with data through a temp file in the same
// directory, so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".meta-*")
	if err != nil {
		return fmt.Errorf("failed to create temp meta file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write meta file: %w", err)
	}
	return nil
}
