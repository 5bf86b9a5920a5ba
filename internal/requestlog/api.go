package requestlog

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler serves the admin log inspection surface.
type HTTPHandler struct {
	store  Store
	logger *zap.Logger
}

// NewHTTPHandler creates a new request-log handler.
func NewHTTPHandler(store Store, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{store: store, logger: logger}
}

// RegisterRoutes registers the log routes on rg, typically the /admin group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	logs := rg.Group("/logs")
	{
		logs.GET("", h.list)
		logs.GET("/:id", h.get)
		logs.POST("/clear", h.clear)
		// DELETE /logs is kept as an alias for the clear action.
		logs.DELETE("", h.clear)
	}
}

func (h *HTTPHandler) list(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, total, err := h.store.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("request log list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":     entries,
		"total":    total,
		"page":     max(f.Page, 1),
		"pageSize": f.PageSize,
	})
}

func (h *HTTPHandler) get(c *gin.Context) {
	e, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "log entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("request log get failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *HTTPHandler) clear(c *gin.Context) {
	n, err := h.store.Clear(c.Request.Context(), c.Query("endpointId"))
	if err != nil {
		h.logger.Error("request log clear failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func filterFromQuery(c *gin.Context) (ListFilter, error) {
	f := ListFilter{
		EndpointID: c.Query("endpointId"),
		Method:     c.Query("method"),
		Search:     c.Query("search"),
		PageSize:   50,
	}
	var err error
	if s := c.Query("page"); s != "" {
		if f.Page, err = strconv.Atoi(s); err != nil {
			return f, errors.New("page must be an integer")
		}
	}
	if s := c.Query("pageSize"); s != "" {
		if f.PageSize, err = strconv.Atoi(s); err != nil {
			return f, errors.New("pageSize must be an integer")
		}
	}
	if s := c.Query("status"); s != "" {
		if f.Status, err = strconv.Atoi(s); err != nil {
			return f, errors.New("status must be an integer")
		}
	}
	if s := c.Query("hideKeepalive"); s != "" {
		f.HideKeepalive = s == "true" || s == "1"
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, errors.New("since must be RFC 3339")
		}
		f.Since = &t
	}
	if s := c.Query("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, errors.New("until must be RFC 3339")
		}
		f.Until = &t
	}
	return f, nil
}
