package server

import (
	"context"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quietlight/tilefetch/internal/fetch"
	"github.com/quietlight/tilefetch/internal/http"
	"github.com/quietlight/tilefetch/internal/imagecache"
	"github.com/quietlight/tilefetch/internal/infrastructure/config"
	"github.com/quietlight/tilefetch/internal/infrastructure/monitoring"
	"github.com/quietlight/tilefetch/internal/infrastructure/resilience"
	"github.com/quietlight/tilefetch/internal/loader"
	"github.com/quietlight/tilefetch/internal/logging"
	"github.com/quietlight/tilefetch/internal/ws"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router *gin.Engine
	log    *logging.Logger
	srv    *stdhttp.Server

	cache  *imagecache.Cache
	loader *loader.Loader
}

// New builds the full service from configuration.
func New(cfg *config.Config, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDefault()
	}

	metrics := monitoring.NewMetrics()
	cache := imagecache.New(cfg.Cache.MaxBytes)
	feed := loader.NewFeed()

	fetcher := fetch.New(fetch.ClientConfig{
		UserAgent:        cfg.Fetch.UserAgent,
		RatePerSecond:    cfg.Fetch.RatePerSecond,
		RateBurst:        cfg.Fetch.RateBurst,
		BreakerThreshold: cfg.Fetch.BreakerThreshold,
		BreakerCooldown:  cfg.Fetch.BreakerCooldown,
		OnBreakerChange: func(name string, from, to resilience.State) {
			log.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	ldr := loader.New(loader.Config{
		Fetcher: fetcher,
		Cache:   cache,
		Timeout: cfg.Fetch.Timeout,
		Logger:  log.Named("loader"),
		Metrics: metrics,
		Events:  feed,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log.Named("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	handlers := http.NewHandlers(ldr, cache, metrics, log.Named("http"))
	wsHandler := ws.NewHandler(feed, log.Named("ws"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/image", handlers.GetImage)
	router.POST("/prefetch", handlers.Prefetch)
	router.DELETE("/prefetch/:handle", handlers.CancelPrefetch)
	router.GET("/stats", handlers.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.HandleConnection)

	return &Server{
		router: router,
		log:    log,
		cache:  cache,
		loader: ldr,
	}
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts serving on host:port and blocks until the listener fails.
func (s *Server) Run(host, port string) error {
	addr := net.JoinHostPort(host, port)
	s.srv = &stdhttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("server listening", zap.String("addr", addr))
	err := s.srv.ListenAndServe()
	if err == stdhttp.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.log.Info("shutting down",
		zap.Int("in_flight_loads", s.loader.InFlight()),
		zap.Int("cached_entries", s.cache.Len()))
	return s.srv.Shutdown(ctx)
}
