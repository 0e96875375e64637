package loader

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietlight/tilefetch/internal/decode"
	"github.com/quietlight/tilefetch/internal/imagecache"
	"github.com/quietlight/tilefetch/internal/shared/id"
)

// fakeFetcher counts calls and can block until released or cancelled.
type fakeFetcher struct {
	calls     atomic.Int64
	cancelled atomic.Int64

	body []byte
	err  error
	gate chan struct{} // nil = respond immediately
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			f.cancelled.Add(1)
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

// stubDecoder returns a fixed-size image without real decoding.
func stubDecoder(size int) Decoder {
	return DecoderFunc(func(data []byte) (*decode.Image, error) {
		return &decode.Image{Format: "png", Size: size}, nil
	})
}

func newLoader(f Fetcher, opts ...func(*Config)) *Loader {
	cfg := Config{
		Fetcher: f,
		Cache:   imagecache.New(1 << 20),
		Decoder: stubDecoder(100),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func waitOutcome(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("load did not settle")
		return nil
	}
}

func TestSecondLoadServedFromCache(t *testing.T) {
	f := &fakeFetcher{body: []byte("img")}
	l := newLoader(f)

	done := make(chan error, 1)
	handle, started := l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		done <- err
	})
	require.True(t, started)
	require.NotEmpty(t, handle)
	require.NoError(t, waitOutcome(t, done))

	// Second call: cached, synchronous, no handle, no new fetch.
	var cached *decode.Image
	handle, started = l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		cached = img
	})
	assert.False(t, started)
	assert.Empty(t, handle)
	require.NotNil(t, cached)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestCancelBeforeSettle(t *testing.T) {
	f := &fakeFetcher{body: []byte("img"), gate: make(chan struct{})}
	l := newLoader(f)

	var callbacks atomic.Int64
	handle, started := l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		callbacks.Add(1)
	})
	require.True(t, started)
	require.Equal(t, 1, l.InFlight())

	l.CancelLoad(handle)

	// Bookkeeping is gone immediately, without waiting for the transport.
	assert.Equal(t, 0, l.InFlight())

	// The transport sees the abort once it observes the context.
	require.Eventually(t, func() bool {
		return f.cancelled.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// No callback, ever.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), callbacks.Load())

	// The URL was never cached: a fresh load goes back to the transport.
	_, started = l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {})
	assert.True(t, started)
	require.Eventually(t, func() bool {
		return f.calls.Load() == 2
	}, time.Second, 5*time.Millisecond, "post-cancel load should fetch again")
}

func TestCancelUnknownHandleIsNoOp(t *testing.T) {
	l := newLoader(&fakeFetcher{body: []byte("img")})

	assert.NotPanics(t, func() {
		l.CancelLoad(id.LoadID("img_unknown"))
		l.CancelLoad("")
	})
}

func TestCancelSettledHandleIsNoOp(t *testing.T) {
	f := &fakeFetcher{body: []byte("img")}
	l := newLoader(f)

	done := make(chan error, 1)
	handle, _ := l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		done <- err
	})
	require.NoError(t, waitOutcome(t, done))

	assert.NotPanics(t, func() { l.CancelLoad(handle) })
	assert.Equal(t, 0, l.InFlight())
}

func TestDecodeFailureDoesNotPopulateCache(t *testing.T) {
	f := &fakeFetcher{body: []byte("<html>not an image</html>")}
	l := newLoader(f, func(cfg *Config) {
		cfg.Decoder = nil // use the real decoder
	})

	done := make(chan error, 1)
	_, started := l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		done <- err
	})
	require.True(t, started)

	err := waitOutcome(t, done)
	require.Error(t, err)

	var decErr *decode.Error
	assert.ErrorAs(t, err, &decErr)

	// Cache untouched: next load fetches again.
	done2 := make(chan error, 1)
	_, started = l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		done2 <- err
	})
	assert.True(t, started)
	waitOutcome(t, done2)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestConcurrentSameURLNotCoalesced(t *testing.T) {
	f := &fakeFetcher{body: []byte("img"), gate: make(chan struct{})}
	l := newLoader(f)

	var wg sync.WaitGroup
	wg.Add(2)
	deliver := func(img *decode.Image, err error) {
		require.NoError(t, err)
		wg.Done()
	}

	h1, started1 := l.LoadImage("https://x/a.png", deliver)
	h2, started2 := l.LoadImage("https://x/a.png", deliver)

	// Each call gets its own handle and its own fetch.
	assert.True(t, started1)
	assert.True(t, started2)
	assert.NotEqual(t, h1, h2)
	require.Eventually(t, func() bool {
		return f.calls.Load() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, l.InFlight())

	close(f.gate)
	wg.Wait()

	// Both settled into a single cache entry.
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, 1, l.cache.Len())
}

func TestTimeoutIsNetworkFailureNotCancellation(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})} // never released
	defer close(f.gate)

	l := newLoader(f, func(cfg *Config) {
		cfg.Timeout = 30 * time.Millisecond
	})

	done := make(chan error, 1)
	_, started := l.LoadImage("https://x/slow.png", func(img *decode.Image, err error) {
		done <- err
	})
	require.True(t, started)

	// The timeout surfaces as a delivered failure, unlike cancellation.
	err := waitOutcome(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, l.InFlight())
}

func TestLoadBlockingSuccess(t *testing.T) {
	f := &fakeFetcher{body: pngBytes(t)}
	l := newLoader(f, func(cfg *Config) {
		cfg.Decoder = nil
	})

	img, err := l.Load(context.Background(), "https://x/a.png")
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)

	// Cached now: second blocking load does not fetch.
	_, err = l.Load(context.Background(), "https://x/a.png")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestLoadBlockingFailure(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	l := newLoader(f)

	_, err := l.Load(context.Background(), "https://x/a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestInvalidURLDeliversError(t *testing.T) {
	f := &fakeFetcher{}
	l := newLoader(f)

	var got error
	handle, started := l.LoadImage("not a url", func(img *decode.Image, err error) {
		got = err
	})

	assert.False(t, started)
	assert.Empty(t, handle)
	require.ErrorIs(t, got, ErrInvalidURL)
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestEventsLifecycle(t *testing.T) {
	feed := NewFeed()
	events, cancelSub := feed.Subscribe()
	defer cancelSub()

	f := &fakeFetcher{body: []byte("img")}
	l := newLoader(f, func(cfg *Config) {
		cfg.Events = feed
	})

	done := make(chan error, 1)
	l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		done <- err
	})
	require.NoError(t, waitOutcome(t, done))

	assert.Equal(t, EventStarted, nextEvent(t, events).Type)
	assert.Equal(t, EventCompleted, nextEvent(t, events).Type)

	// Hit path emits a hit event.
	l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {})
	assert.Equal(t, EventHit, nextEvent(t, events).Type)
}

func TestEventsCancelled(t *testing.T) {
	feed := NewFeed()
	events, cancelSub := feed.Subscribe()
	defer cancelSub()

	f := &fakeFetcher{gate: make(chan struct{})}
	defer close(f.gate)

	l := newLoader(f, func(cfg *Config) {
		cfg.Events = feed
	})

	handle, _ := l.LoadImage("https://x/a.png", func(img *decode.Image, err error) {
		t.Error("cancelled load must not deliver")
	})

	assert.Equal(t, EventStarted, nextEvent(t, events).Type)

	l.CancelLoad(handle)
	ev := nextEvent(t, events)
	assert.Equal(t, EventCancelled, ev.Type)
	assert.Equal(t, handle.String(), ev.Handle)
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}
