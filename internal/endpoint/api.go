package endpoint

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler serves the admin endpoint CRUD surface.
type HTTPHandler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHTTPHandler creates a new admin endpoint handler.
func NewHTTPHandler(svc *Service, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the endpoint admin routes on rg, typically the
// /admin group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	eps := rg.Group("/endpoints")
	{
		eps.POST("", h.create)
		eps.GET("", h.list)
		eps.GET("/:id", h.get)
		eps.PATCH("/:id", h.update)
		eps.DELETE("/:id", h.delete)
		eps.GET("/:id/stats", h.stats)
	}
}

func (h *HTTPHandler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.writeError(c, http.StatusBadRequest, "invalidSyntax", "malformed endpoint payload")
		return
	}
	e, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *HTTPHandler) list(c *gin.Context) {
	eps, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": eps, "total": len(eps)})
}

func (h *HTTPHandler) get(c *gin.Context) {
	e, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *HTTPHandler) update(c *gin.Context) {
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.writeError(c, http.StatusBadRequest, "invalidSyntax", "malformed endpoint payload")
		return
	}
	e, err := h.svc.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *HTTPHandler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *HTTPHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(c, http.StatusNotFound, "noTarget", "endpoint not found")
	case errors.Is(err, ErrNameTaken):
		h.writeError(c, http.StatusConflict, "uniqueness", "endpoint name already in use")
	case errors.Is(err, ErrInvalid):
		h.writeError(c, http.StatusBadRequest, "invalidValue", err.Error())
	default:
		h.logger.Error("endpoint admin request failed", zap.Error(err))
		h.writeError(c, http.StatusInternalServerError, "", "internal server error")
	}
}

// writeError emits the SCIM error envelope; the admin UI shares the error
// shape with the protocol surface.
func (h *HTTPHandler) writeError(c *gin.Context, status int, scimType, detail string) {
	body := gin.H{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:Error"},
		"status":  fmt.Sprintf("%d", status),
		"detail":  detail,
	}
	if scimType != "" {
		body["scimType"] = scimType
	}
	c.JSON(status, body)
}
