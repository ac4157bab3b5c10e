package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// BuildInfo is reported by the health endpoint
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Health reports liveness and build information
// GET /health
func Health(info BuildInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    info.Version,
			"commit":     info.Commit,
			"build_time": info.BuildTime,
			"time":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}
