package loader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quietlight/tilefetch/internal/decode"
	"github.com/quietlight/tilefetch/internal/imagecache"
	"github.com/quietlight/tilefetch/internal/infrastructure/monitoring"
	"github.com/quietlight/tilefetch/internal/logging"
	"github.com/quietlight/tilefetch/internal/shared/id"
)

// DefaultTimeout is the fixed per-load fetch deadline.
const DefaultTimeout = 3 * time.Second

// ErrInvalidURL reports a load URL the loader refused to fetch.
var ErrInvalidURL = errors.New("invalid url")

// Fetcher retrieves raw bytes for a URL. Implementations must honor
// context cancellation and deadlines.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Decoder turns fetched bytes into a decoded image.
type Decoder interface {
	Decode(data []byte) (*decode.Image, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(data []byte) (*decode.Image, error)

func (f DecoderFunc) Decode(data []byte) (*decode.Image, error) { return f(data) }

// Callback receives the outcome of a load. It is invoked at most once,
// on the fetch goroutine; a cancelled load invokes it zero times.
type Callback func(img *decode.Image, err error)

// Config configures a Loader.
type Config struct {
	Fetcher Fetcher
	Cache   *imagecache.Cache
	// Decoder defaults to decode.Bytes.
	Decoder Decoder
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *logging.Logger
	// Metrics and Events are optional.
	Metrics *monitoring.Metrics
	Events  *Feed
}

type inflight struct {
	url    string
	cancel context.CancelFunc
}

// Loader performs cache-first image loads with per-call cancellation.
type Loader struct {
	fetcher Fetcher
	decoder Decoder
	cache   *imagecache.Cache
	timeout time.Duration
	log     *logging.Logger
	metrics *monitoring.Metrics
	events  *Feed

	mu       sync.Mutex
	registry map[id.LoadID]*inflight
}

// New creates a Loader. Fetcher and Cache are required.
func New(cfg Config) *Loader {
	if cfg.Decoder == nil {
		cfg.Decoder = DecoderFunc(decode.Bytes)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Loader{
		fetcher:  cfg.Fetcher,
		decoder:  cfg.Decoder,
		cache:    cfg.Cache,
		timeout:  cfg.Timeout,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		registry: make(map[id.LoadID]*inflight),
	}
}

// LoadImage loads the image at rawURL.
//
// A cache hit delivers the image synchronously and returns started=false
// with an empty handle: there is nothing to cancel. A miss starts a fetch
// with the fixed timeout and returns started=true plus a handle that
// CancelLoad accepts. Exactly one callback invocation follows a started
// load, except when it is cancelled, in which case none does.
func (l *Loader) LoadImage(rawURL string, deliver Callback) (id.LoadID, bool) {
	key, err := canonicalize(rawURL)
	if err != nil {
		deliver(nil, err)
		return "", false
	}

	if img, ok := l.cache.Get(key); ok {
		l.recordHit()
		l.publish(Event{Type: EventHit, URL: key})
		deliver(img, nil)
		return "", false
	}

	handle := id.NewLoadID()
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)

	l.mu.Lock()
	l.registry[handle] = &inflight{url: key, cancel: cancel}
	l.mu.Unlock()

	l.recordMiss()
	l.publish(Event{Type: EventStarted, URL: key, Handle: handle.String()})
	l.log.Debug("load started",
		zap.String("handle", handle.String()),
		zap.String("url", key))

	go l.run(ctx, cancel, handle, key, deliver)
	return handle, true
}

// CancelLoad cancels the load identified by handle. The in-flight entry
// is removed immediately; the transport is told to abort but not waited
// on, and the load's callback will not be invoked. Unknown or already
// settled handles are a no-op.
func (l *Loader) CancelLoad(handle id.LoadID) {
	l.mu.Lock()
	req, ok := l.registry[handle]
	if ok {
		delete(l.registry, handle)
	}
	l.mu.Unlock()

	if !ok {
		return
	}

	req.cancel()
	l.recordCancellation()
	l.publish(Event{Type: EventCancelled, URL: req.url, Handle: handle.String()})
	l.log.Debug("load cancelled",
		zap.String("handle", handle.String()),
		zap.String("url", req.url))
}

// Load is the blocking form of LoadImage. It returns once the underlying
// load settles; failures come back as errors. There is no cancellation
// surface here; use LoadImage for that. If ctx ends first, Load returns
// ctx.Err() while the fetch runs to completion in the background and may
// still populate the cache.
func (l *Loader) Load(ctx context.Context, rawURL string) (*decode.Image, error) {
	type outcome struct {
		img *decode.Image
		err error
	}
	done := make(chan outcome, 1)

	l.LoadImage(rawURL, func(img *decode.Image, err error) {
		done <- outcome{img: img, err: err}
	})

	select {
	case out := <-done:
		return out.img, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of loads currently outstanding.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.registry)
}

// run executes one fetch-decode-cache cycle on its own goroutine.
func (l *Loader) run(ctx context.Context, cancel context.CancelFunc, handle id.LoadID, key string, deliver Callback) {
	defer cancel()

	start := time.Now()
	l.recordFetchStart()
	data, fetchErr := l.fetcher.Fetch(ctx, key)
	l.recordFetchDone(time.Since(start))

	if fetchErr != nil {
		if !l.settle(handle) {
			return // cancelled: deliver nothing
		}
		err := fmt.Errorf("fetch %s: %w", key, fetchErr)
		l.recordFailure("network")
		l.publish(Event{Type: EventFailed, URL: key, Handle: handle.String(), Error: err.Error()})
		l.log.Debug("load failed", zap.String("url", key), zap.Error(fetchErr))
		deliver(nil, err)
		return
	}

	img, decErr := l.decoder.Decode(data)
	if decErr != nil {
		if !l.settle(handle) {
			return
		}
		l.recordFailure("decode")
		l.publish(Event{Type: EventFailed, URL: key, Handle: handle.String(), Error: decErr.Error()})
		l.log.Debug("decode failed", zap.String("url", key), zap.Error(decErr))
		deliver(nil, decErr)
		return
	}

	if !l.settle(handle) {
		// Cancelled after the bytes arrived; drop the result unseen.
		return
	}

	l.cache.Set(key, img)
	l.publish(Event{Type: EventCompleted, URL: key, Handle: handle.String()})
	l.log.Debug("load completed",
		zap.String("url", key),
		zap.String("format", img.Format),
		zap.Int("bytes", img.Size))
	deliver(img, nil)
}

// settle removes handle from the registry, reporting whether it was still
// present. A missing entry means CancelLoad won the race: the outcome
// must be dropped.
func (l *Loader) settle(handle id.LoadID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.registry[handle]; !ok {
		return false
	}
	delete(l.registry, handle)
	return true
}

// canonicalize normalizes rawURL into the cache key form.
func canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w %q: missing scheme or host", ErrInvalidURL, rawURL)
	}
	return u.String(), nil
}

func (l *Loader) recordHit() {
	if l.metrics != nil {
		l.metrics.RecordCacheHit()
	}
}

func (l *Loader) recordMiss() {
	if l.metrics != nil {
		l.metrics.RecordCacheMiss()
	}
}

func (l *Loader) recordFetchStart() {
	if l.metrics != nil {
		l.metrics.RecordFetchStart()
	}
}

func (l *Loader) recordFetchDone(d time.Duration) {
	if l.metrics != nil {
		l.metrics.RecordFetchDone(d)
	}
}

func (l *Loader) recordCancellation() {
	if l.metrics != nil {
		l.metrics.RecordCancellation()
	}
}

func (l *Loader) recordFailure(reason string) {
	if l.metrics != nil {
		l.metrics.RecordFailure(reason)
	}
}

func (l *Loader) publish(ev Event) {
	if l.events != nil {
		l.events.Publish(ev)
	}
}
