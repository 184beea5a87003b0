package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clawkeeper/internal/config"
	"clawkeeper/internal/logger"
)

// RequestSizeLimit creates middleware that enforces request size limits.
// The scan ingest endpoint gets its own larger cap because a report may
// carry up to 1 MB of raw scanner output.
func RequestSizeLimit(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var maxSize int64

		switch {
		case c.Request.Method == "GET":
			maxSize = cfg.MaxRequestSizeGet
		case c.Request.URL.Path == "/api/v1/scans":
			maxSize = cfg.MaxRequestSizeIngest
		default:
			maxSize = cfg.MaxRequestSizePost
		}

		// Check Content-Length first so oversized requests fail before any read
		if c.Request.ContentLength > maxSize {
			logger.Logger.Warn().
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Int64("content_length", c.Request.ContentLength).
				Int64("max_allowed", maxSize).
				Msg("Request size exceeds limit")

			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "Request entity too large",
				"message": "The request body is too large",
				"limit":   maxSize,
			})
			return
		}

		// Enforced during body reading for chunked requests
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		c.Next()
	}
}
