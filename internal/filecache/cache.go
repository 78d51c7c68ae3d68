// Package filecache keeps the provider-side reference to the dataset file so
// it is uploaded once per reuse window instead of once per question.
package filecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dqinsight/internal/llm"
	"dqinsight/internal/logging"
)

// DefaultTTL is the reuse window. Provider-hosted files expire after 48h.
const DefaultTTL = 47 * time.Hour

// expiryMargin is kept between a reference's provider expiry and its use.
const expiryMargin = 5 * time.Minute

// maxUploadRounds bounds how often GetOrUpload re-uploads when the dataset
// keeps being invalidated under it.
const maxUploadRounds = 3

// ErrNoDataset is returned when no dataset path is configured.
var ErrNoDataset = errors.New("no dataset configured")

// Store persists the current file reference.
type Store interface {
	// Get returns the stored reference and whether one was present.
	Get(ctx context.Context) (llm.FileRef, bool, error)
	// Set stores ref for ttl.
	Set(ctx context.Context, ref llm.FileRef, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// Options configures a Cache.
type Options struct {
	Path     string
	MIMEType string
	TTL      time.Duration
	Logger   *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache is a get-or-refresh cache for one dataset file. Concurrent callers
// that find the entry missing or stale share a single upload.
type Cache struct {
	uploader llm.FileUploader
	store    Store
	path     string
	mimeType string
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
	group    singleflight.Group

	// gen is bumped by Invalidate and Refresh. An upload only stores its
	// reference if gen is unchanged since the upload started.
	mu  sync.Mutex
	gen uint64
}

// New creates a Cache. A nil store means an in-process MemoryStore.
func New(uploader llm.FileUploader, store Store, opts Options) *Cache {
	if store == nil {
		store = NewMemoryStore(opts.Now)
	}
	c := &Cache{
		uploader: uploader,
		store:    store,
		path:     opts.Path,
		mimeType: opts.MIMEType,
		ttl:      opts.TTL,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Path returns the dataset path served by the cache.
func (c *Cache) Path() string { return c.path }

// GetOrUpload returns a usable reference, uploading the dataset if the
// stored one is missing or close to expiry.
func (c *Cache) GetOrUpload(ctx context.Context) (llm.FileRef, error) {
	if c.path == "" {
		return llm.FileRef{}, ErrNoDataset
	}
	if ref, ok := c.lookup(ctx); ok {
		return ref, nil
	}

	ch := c.group.DoChan(c.path, func() (any, error) {
		// The upload outlives any single waiter.
		return c.fill(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return llm.FileRef{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return llm.FileRef{}, res.Err
		}
		return res.Val.(llm.FileRef), nil
	}
}

// fill uploads until a reference is stored under the current generation.
// An invalidation during an upload discards that upload's reference.
func (c *Cache) fill(ctx context.Context) (llm.FileRef, error) {
	var ref llm.FileRef
	for round := 0; round < maxUploadRounds; round++ {
		if cached, ok := c.lookup(ctx); ok {
			return cached, nil
		}
		gen := c.generation()
		var (
			stored bool
			err    error
		)
		ref, stored, err = c.upload(ctx, gen)
		if err != nil {
			return llm.FileRef{}, err
		}
		if stored {
			return ref, nil
		}
	}
	return ref, nil
}

// Refresh uploads the dataset unconditionally and stores the new reference.
// Uploads already in flight are superseded. Unlike GetOrUpload, the upload
// is bound to ctx and is abandoned when ctx ends.
func (c *Cache) Refresh(ctx context.Context) (llm.FileRef, error) {
	if c.path == "" {
		return llm.FileRef{}, ErrNoDataset
	}
	ref, _, err := c.upload(ctx, c.bump())
	if err != nil {
		return llm.FileRef{}, err
	}
	return ref, nil
}

// Invalidate drops the stored reference so the next call uploads again.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	err := c.store.Delete(ctx)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to invalidate file reference: %w", err)
	}
	logging.WithContext(ctx, c.logger).Info("dataset reference invalidated", zap.String("path", c.path))
	return nil
}

func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Cache) bump() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return c.gen
}

func (c *Cache) lookup(ctx context.Context) (llm.FileRef, bool) {
	ref, ok, err := c.store.Get(ctx)
	if err != nil {
		logging.WithContext(ctx, c.logger).Warn("file reference lookup failed", zap.Error(err))
		return llm.FileRef{}, false
	}
	if !ok || ref.URI == "" {
		return llm.FileRef{}, false
	}
	if !ref.ExpiresAt.IsZero() && !c.now().Before(ref.ExpiresAt.Add(-expiryMargin)) {
		return llm.FileRef{}, false
	}
	return ref, true
}

// upload hosts the dataset and stores the reference when gen is still
// current. stored reports whether the store was written.
func (c *Cache) upload(ctx context.Context, gen uint64) (llm.FileRef, bool, error) {
	log := logging.WithContext(ctx, c.logger).With(zap.String("path", c.path))
	timer := logging.StartTimer(log, "dataset upload")

	ref, err := c.uploader.UploadFile(ctx, c.path, c.mimeType)
	timer.Stop()
	if err != nil {
		log.Warn("dataset upload failed", zap.Error(err))
		return llm.FileRef{}, false, err
	}

	ttl := c.ttl
	if !ref.ExpiresAt.IsZero() {
		if remaining := ref.ExpiresAt.Sub(c.now()) - expiryMargin; remaining < ttl {
			ttl = remaining
		}
	}

	// Holding mu across Set orders it against Invalidate's bump.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		log.Info("dataset changed during upload; reference discarded", zap.String("uri", ref.URI))
		return ref, false, nil
	}
	if ttl > 0 {
		if err := c.store.Set(ctx, ref, ttl); err != nil {
			log.Warn("failed to store file reference", zap.Error(err))
		}
	}

	log.Info("dataset uploaded", zap.String("uri", ref.URI), zap.Duration("ttl", ttl))
	return ref, true, nil
}
