package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quietlight/tilefetch/internal/decode"
	"github.com/quietlight/tilefetch/internal/imagecache"
	"github.com/quietlight/tilefetch/internal/infrastructure/monitoring"
	"github.com/quietlight/tilefetch/internal/loader"
	"github.com/quietlight/tilefetch/internal/logging"
	"github.com/quietlight/tilefetch/internal/shared/id"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	loader  *loader.Loader
	cache   *imagecache.Cache
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(ldr *loader.Loader, cache *imagecache.Cache, metrics *monitoring.Metrics, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{
		loader:  ldr,
		cache:   cache,
		metrics: metrics,
		log:     log,
	}
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "tilefetch",
		"version": "1.0.0",
	})
}

// Health handles the liveness check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"in_flight": h.loader.InFlight(),
	})
}

// GetImage loads an image and serves it re-encoded as PNG.
func (h *Handlers) GetImage(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter required"})
		return
	}

	img, err := h.loader.Load(c.Request.Context(), rawURL)
	if err != nil {
		status, msg := classifyLoadError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	data, err := decode.EncodePNG(img)
	if err != nil {
		h.log.Error("png encode failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}

	c.Data(http.StatusOK, "image/png", data)
}

type prefetchRequest struct {
	URL string `json:"url" binding:"required"`
}

// Prefetch starts an asynchronous load and returns its handle.
func (h *Handlers) Prefetch(c *gin.Context) {
	var req prefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log := h.log
	handle, started := h.loader.LoadImage(req.URL, func(img *decode.Image, err error) {
		// Fire-and-forget: outcomes only show up in logs and events.
		if err != nil {
			log.Warn("prefetch failed", zap.String("url", req.URL), zap.Error(err))
		}
	})

	c.JSON(http.StatusAccepted, gin.H{
		"handle":  handle.String(),
		"started": started,
	})
}

// CancelPrefetch cancels an in-flight prefetch. Cancelling an unknown or
// settled handle succeeds: it is a no-op by contract.
func (h *Handlers) CancelPrefetch(c *gin.Context) {
	h.loader.CancelLoad(id.LoadID(c.Param("handle")))
	c.Status(http.StatusNoContent)
}

// Stats serves cache and loader counters as JSON.
func (h *Handlers) Stats(c *gin.Context) {
	resp := gin.H{
		"cache":     h.cache.Stats(),
		"in_flight": h.loader.InFlight(),
	}
	if h.metrics != nil {
		resp["counters"] = h.metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// classifyLoadError maps loader failures onto HTTP status codes.
func classifyLoadError(err error) (int, string) {
	var decErr *decode.Error
	switch {
	case errors.Is(err, loader.ErrInvalidURL):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &decErr):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, err.Error()
	case errors.Is(err, context.Canceled):
		return 499, "client closed request" // nginx convention
	default:
		return http.StatusBadGateway, err.Error()
	}
}
