package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dhawalhost/scimprobe/internal/config"
	"github.com/gin-gonic/gin"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// HTTPHandler serves the small operational admin surface: version info and
// the blob-backup configuration projection.
type HTTPHandler struct {
	cfg     *config.Config
	started time.Time
}

// NewHTTPHandler creates a new admin handler.
func NewHTTPHandler(cfg *config.Config) *HTTPHandler {
	return &HTTPHandler{cfg: cfg, started: time.Now()}
}

// RegisterRoutes registers the routes on rg, typically the /admin group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/version", h.version)
	rg.GET("/backup/stats", h.backupStats)
}

func (h *HTTPHandler) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":     Version,
		"goVersion":   runtime.Version(),
		"environment": h.cfg.Environment,
		"uptime":      time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *HTTPHandler) backupStats(c *gin.Context) {
	configured := h.cfg.BlobBackupAccount != "" && h.cfg.BlobBackupContainer != ""
	c.JSON(http.StatusOK, gin.H{
		"configured": configured,
		"account":    h.cfg.BlobBackupAccount,
		"container":  h.cfg.BlobBackupContainer,
	})
}
