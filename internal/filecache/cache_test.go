package filecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dqinsight/internal/llm"
)

type fakeUploader struct {
	calls   atomic.Int32
	release chan struct{} // when non-nil, uploads block until closed
	err     error
	expires time.Time
}

func (f *fakeUploader) UploadFile(ctx context.Context, path, mimeType string) (llm.FileRef, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return llm.FileRef{}, ctx.Err()
		}
	}
	if f.err != nil {
		return llm.FileRef{}, f.err
	}
	return llm.FileRef{
		Name:      "files/dataset",
		URI:       "https://files.example/dataset/" + string(rune('0'+n)),
		MIMEType:  mimeType,
		ExpiresAt: f.expires,
	}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetOrUpload_ReusesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	up := &fakeUploader{}
	c := New(up, nil, Options{Path: "issues.csv", MIMEType: "text/csv", Now: clock.Now})

	ctx := context.Background()
	first, err := c.GetOrUpload(ctx)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", first.MIMEType)

	clock.Advance(46 * time.Hour)
	second, err := c.GetOrUpload(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.URI, second.URI)
	assert.Equal(t, int32(1), up.calls.Load())

	clock.Advance(2 * time.Hour)
	third, err := c.GetOrUpload(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.URI, third.URI)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestGetOrUpload_ProviderExpiryShortensTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	up := &fakeUploader{expires: clock.now.Add(2 * time.Hour)}
	c := New(up, nil, Options{Path: "issues.csv", Now: clock.Now})

	_, err := c.GetOrUpload(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = c.GetOrUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), up.calls.Load())

	clock.Advance(58 * time.Minute) // inside the expiry margin
	_, err = c.GetOrUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestGetOrUpload_SingleFlight(t *testing.T) {
	up := &fakeUploader{release: make(chan struct{})}
	c := New(up, nil, Options{Path: "issues.csv"})

	const callers = 10
	var wg sync.WaitGroup
	uris := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := c.GetOrUpload(context.Background())
			uris[i], errs[i] = ref.URI, err
		}(i)
	}

	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(up.release)
	wg.Wait()

	assert.Equal(t, int32(1), up.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, uris[0], uris[i])
	}
}

func TestGetOrUpload_WaiterCancellation(t *testing.T) {
	up := &fakeUploader{release: make(chan struct{})}
	c := New(up, nil, Options{Path: "issues.csv"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrUpload(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The shared upload still completes and is stored.
	close(up.release)
	require.Eventually(t, func() bool {
		_, ok, _ := c.store.Get(context.Background())
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestGetOrUpload_Errors(t *testing.T) {
	c := New(&fakeUploader{}, nil, Options{})
	_, err := c.GetOrUpload(context.Background())
	assert.ErrorIs(t, err, ErrNoDataset)

	boom := errors.New("upload failed")
	up := &fakeUploader{err: boom}
	c = New(up, nil, Options{Path: "issues.csv"})
	_, err = c.GetOrUpload(context.Background())
	assert.ErrorIs(t, err, boom)

	// Failures are not cached.
	_, _ = c.GetOrUpload(context.Background())
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestInvalidateAndRefresh(t *testing.T) {
	up := &fakeUploader{}
	c := New(up, nil, Options{Path: "issues.csv"})
	ctx := context.Background()

	_, err := c.GetOrUpload(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx))

	_, err = c.GetOrUpload(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.calls.Load())

	ref, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), up.calls.Load())

	cached, err := c.GetOrUpload(ctx)
	require.NoError(t, err)
	assert.Equal(t, ref.URI, cached.URI)
}

func TestInvalidateDuringUploadDiscardsStaleReference(t *testing.T) {
	up := &fakeUploader{release: make(chan struct{})}
	c := New(up, nil, Options{Path: "issues.csv"})
	ctx := context.Background()

	done := make(chan llm.FileRef, 1)
	go func() {
		ref, err := c.GetOrUpload(ctx)
		assert.NoError(t, err)
		done <- ref
	}()

	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Invalidate(ctx))
	close(up.release)

	first := <-done
	assert.Equal(t, "https://files.example/dataset/2", first.URI, "the pre-invalidation upload must not be returned")
	assert.Equal(t, int32(2), up.calls.Load())

	again, err := c.GetOrUpload(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.URI, again.URI)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestRefreshDoesNotJoinInFlightUpload(t *testing.T) {
	up := &fakeUploader{release: make(chan struct{})}
	c := New(up, nil, Options{Path: "issues.csv"})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := c.GetOrUpload(ctx)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	var refreshed llm.FileRef
	go func() {
		defer wg.Done()
		var err error
		refreshed, err = c.Refresh(ctx)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return up.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	close(up.release)
	wg.Wait()

	assert.NotEqual(t, "https://files.example/dataset/1", refreshed.URI)
	cached, err := c.GetOrUpload(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "https://files.example/dataset/1", cached.URI, "upload superseded by Refresh must not be cached")
}

func TestRefreshHonoursContext(t *testing.T) {
	up := &fakeUploader{release: make(chan struct{})}
	c := New(up, nil, Options{Path: "issues.csv"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok, _ := c.store.Get(context.Background())
	assert.False(t, ok)
}
