package middleware

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxLoggedBody = 1000

// RequestLoggerMiddleware logs every request as METHOD URL | status | latency.
// Responses with status >= 400 are logged at error level.
func RequestLoggerMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// Build full URL
		fullURL := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			fullURL = fullURL + "?" + c.Request.URL.RawQuery
		}

		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"url":     fullURL,
			"status":  c.Writer.Status(),
			"latency": time.Since(startTime),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		if c.Writer.Status() >= 400 {
			entry.Error("request")
		} else {
			entry.Info("request")
		}
	}
}

// OrderLoggerMiddleware logs the body of order submissions so a rejected
// order can be reconstructed from the log.
func OrderLoggerMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Read and restore request body
		var bodyBytes []byte
		if c.Request.Body != nil {
			bodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		bodyStr := string(bodyBytes)
		if bodyStr == "" {
			bodyStr = "(empty)"
		} else if len(bodyStr) > maxLoggedBody {
			bodyStr = bodyStr[:maxLoggedBody] + "..."
		}

		c.Next()

		log.WithFields(logrus.Fields{
			"url":    c.Request.URL.Path,
			"body":   bodyStr,
			"status": c.Writer.Status(),
		}).Debug("order request")
	}
}
