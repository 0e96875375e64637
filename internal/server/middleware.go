package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quietlight/tilefetch/internal/logging"
	"github.com/quietlight/tilefetch/internal/shared/id"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger assigns each request an ID and logs its outcome.
func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = id.NewRequestID().String()
		}
		c.Header(requestIDHeader, reqID)

		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
