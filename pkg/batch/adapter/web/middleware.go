package web

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("Panic serving %s %s: %v\n%s", c.Request.Method, c.Request.URL.Path, err, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// requestLogger logs every request except metric scrapes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		switch {
		case status >= 500:
			logger.Errorf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.RequestURI(), status, time.Since(start))
		case status >= 400:
			logger.Warnf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.RequestURI(), status, time.Since(start))
		default:
			logger.Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.RequestURI(), status, time.Since(start))
		}
	}
}
