package scim

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/dhawalhost/scimprobe/internal/endpoint"
	"github.com/dhawalhost/scimprobe/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HTTPHandler serves the tenant-scoped SCIM 2.0 protocol surface under
// /endpoints/{endpointID}.
type HTTPHandler struct {
	svc       *Service
	endpoints *endpoint.Service
	apiPrefix string
	logger    *zap.Logger

	// levelLoggers caches one logger per tenant logLevel override.
	levelLoggers sync.Map
}

// NewHTTPHandler creates a new SCIM protocol handler. apiPrefix is the
// externally advertised path prefix, without the /v2 alias.
func NewHTTPHandler(svc *Service, endpoints *endpoint.Service, apiPrefix string, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, endpoints: endpoints, apiPrefix: apiPrefix, logger: logger}
}

// RegisterRoutes registers the tenant SCIM routes on rg, typically the
// authenticated API-prefix group.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	t := rg.Group("/endpoints/:endpointID", h.resolveTenant)
	{
		t.GET("/ServiceProviderConfig", h.serviceProviderConfig)
		t.GET("/ResourceTypes", h.resourceTypes)
		t.GET("/ResourceTypes/:name", h.resourceType)
		t.GET("/Schemas", h.schemas)
		t.GET("/Schemas/:id", h.schema)
	}
	for _, rt := range []string{TypeUser, TypeGroup} {
		g := t.Group("/" + rt + "s")
		{
			g.POST("", h.create(rt))
			g.GET("", h.list(rt))
			g.POST("/.search", h.search(rt))
			g.GET("/:id", h.get(rt))
			g.PUT("/:id", h.replace(rt))
			g.PATCH("/:id", h.patch(rt))
			g.DELETE("/:id", h.delete(rt))
		}
	}
}

// resolveTenant turns the endpointID path segment into a Scope on the
// request context. Unknown endpoints 404 and disabled ones 403 before any
// resource handler runs.
func (h *HTTPHandler) resolveTenant(c *gin.Context) {
	id := c.Param("endpointID")
	ep, err := h.endpoints.Lookup(c.Request.Context(), id)
	if errors.Is(err, endpoint.ErrNotFound) {
		h.writeSCIMError(c, NotFound("Endpoint "+id+" not found"))
		c.Abort()
		return
	}
	if err != nil {
		h.logger.Error("endpoint lookup failed", zap.String("endpointId", id), zap.Error(err))
		h.writeSCIMError(c, &Error{Status: http.StatusInternalServerError, Detail: "internal server error"})
		c.Abort()
		return
	}
	if !ep.Active {
		h.writeSCIMError(c, Forbidden("Endpoint "+ep.Name+" is disabled"))
		c.Abort()
		return
	}

	scope := endpoint.Scope{
		EndpointID: ep.ID,
		BaseURL:    h.tenantBaseURL(c, ep.ID),
		Config:     ep.Config,
		Logger:     h.requestLogger(ep.Config),
	}
	c.Request = c.Request.WithContext(endpoint.WithScope(c.Request.Context(), scope))
	c.Next()
}

// requestLogger resolves the logger for a tenant, honoring its logLevel
// override. Loggers are cached per level; there are only four.
func (h *HTTPHandler) requestLogger(cfg endpoint.Config) *zap.Logger {
	s, ok := cfg.LogLevel()
	if !ok {
		return h.logger
	}
	lvl, ok := logger.ParseLevel(s)
	if !ok {
		return h.logger
	}
	if v, ok := h.levelLoggers.Load(lvl); ok {
		return v.(*zap.Logger)
	}
	v, _ := h.levelLoggers.LoadOrStore(lvl, logger.New(lvl))
	return v.(*zap.Logger)
}

// tenantBaseURL reconstructs the externally visible tenant root, honoring
// the proxy forwarding headers. The /v2 alias is what gets advertised in
// meta.location so clients keep using whichever form they arrived on.
func (h *HTTPHandler) tenantBaseURL(c *gin.Context, endpointID string) string {
	scheme := c.GetHeader("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
	}
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	return scheme + "://" + host + "/" + h.apiPrefix + "/v2/endpoints/" + endpointID
}

func (h *HTTPHandler) create(resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, _ := endpoint.ScopeFromContext(c.Request.Context())
		doc, err := h.readDocument(c)
		if err != nil {
			h.handleError(c, err)
			return
		}
		v, err := h.svc.Create(c.Request.Context(), scope, resourceType, doc)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.Header("Location", v.Location)
		h.writeResource(c, http.StatusCreated, v,
			c.Query("attributes"), c.Query("excludedAttributes"))
	}
}

func (h *HTTPHandler) get(resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, _ := endpoint.ScopeFromContext(c.Request.Context())
		v, err := h.svc.Get(c.Request.Context(), scope, resourceType, c.Param("id"))
		if err != nil {
			h.handleError(c, err)
			return
		}
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == v.ETag {
			c.Header("ETag", v.ETag)
			c.Status(http.StatusNotModified)
			return
		}
		h.writeResource(c, http.StatusOK, v,
			c.Query("attributes"), c.Query("excludedAttributes"))
	}
}

func (h *HTTPHandler) replace(resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, _ := endpoint.ScopeFromContext(c.Request.Context())
		doc, err := h.readDocument(c)
		if err != nil {
			h.handleError(c, err)
			return
		}
		v, err := h.svc.Replace(c.Request.Context(), scope, resourceType, c.Param("id"), doc, c.GetHeader("If-Match"))
		if err != nil {
			h.handleError(c, err)
			return
		}
		h.writeResource(c, http.StatusOK, v,
			c.Query("attributes"), c.Query("excludedAttributes"))
	}
}

func (h *HTTPHandler) patch(resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, _ := endpoint.ScopeFromContext(c.Request.Context())
		var req PatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.handleError(c, bodyError(err))
			return
		}
		v, err := h.svc.Patch(c.Request.Context(), scope, resourceType, c.Param("id"), req, c.GetHeader("If-Match"))
		if err != nil {
			h.handleError(c, err)
			return
		}
		h.writeResource(c, http.StatusOK, v,
			c.Query("attributes"), c.Query("excludedAttributes"))
	}
}

func (h *HTTPHandler) delete(resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, _ := endpoint.ScopeFromContext(c.Request.Context())
		if err := h.svc.Delete(c.Request.Context(), scope, resourceType, c.Param("id"), c.GetHeader("If-Match")); err != nil {
			h.handleError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *HTTPHandler) list(resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, _ := endpoint.ScopeFromContext(c.Request.Context())
		params, err := listParamsFromQuery(c)
		if err != nil {
			h.handleError(c, err)
			return
		}
		resp, err := h.svc.List(c.Request.Context(), scope, resourceType, params)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.Header("Content-Type", ContentType)
		c.JSON(http.StatusOK, resp)
	}
}

// search serves POST /.search with the same semantics as GET list. sortBy
// and sortOrder are accepted and ignored.
func (h *HTTPHandler) search(resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, _ := endpoint.ScopeFromContext(c.Request.Context())
		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.handleError(c, bodyError(err))
			return
		}
		if !containsSchema(req.Schemas, SearchSchema) {
			h.handleError(c, InvalidSyntax("expected schema "+SearchSchema))
			return
		}
		params := ListParams{
			Filter:             req.Filter,
			StartIndex:         req.StartIndex,
			Attributes:         req.Attributes,
			ExcludedAttributes: req.ExcludedAttributes,
		}
		if req.Count != nil {
			params.Count = *req.Count
			params.CountSet = true
		}
		resp, err := h.svc.List(c.Request.Context(), scope, resourceType, params)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.Header("Content-Type", ContentType)
		c.JSON(http.StatusOK, resp)
	}
}

func listParamsFromQuery(c *gin.Context) (ListParams, error) {
	params := ListParams{
		Filter:             c.Query("filter"),
		Attributes:         c.QueryArray("attributes"),
		ExcludedAttributes: c.QueryArray("excludedAttributes"),
	}
	if s := c.Query("startIndex"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return params, InvalidValue("startIndex must be an integer")
		}
		params.StartIndex = n
	}
	if s := c.Query("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return params, InvalidValue("count must be an integer")
		}
		params.Count = n
		params.CountSet = true
	}
	return params, nil
}

// readDocument decodes a full resource body.
func (h *HTTPHandler) readDocument(c *gin.Context) (map[string]any, error) {
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		return nil, bodyError(err)
	}
	return doc, nil
}

// bodyError classifies a request-body decode failure. The outer edge
// middleware caps body size; overruns surface here as MaxBytesError.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &Error{Status: http.StatusRequestEntityTooLarge, Detail: "request body too large"}
	}
	return InvalidSyntax("malformed JSON body")
}

func (h *HTTPHandler) writeResource(c *gin.Context, status int, v *View, attributes, excludedAttributes string) {
	var attrs, excl []string
	if attributes != "" {
		attrs = strings.Split(attributes, ",")
	}
	if excludedAttributes != "" {
		excl = strings.Split(excludedAttributes, ",")
	}
	c.Header("ETag", v.ETag)
	c.Header("Content-Type", ContentType)
	c.JSON(status, Project(v.Doc, attrs, excl))
}

func (h *HTTPHandler) handleError(c *gin.Context, err error) {
	if se, ok := AsError(err); ok {
		h.writeSCIMError(c, se)
		return
	}
	lg := h.logger
	if scope, ok := endpoint.ScopeFromContext(c.Request.Context()); ok && scope.Logger != nil {
		lg = scope.Logger
	}
	lg.Error("scim request failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Error(err))
	h.writeSCIMError(c, &Error{Status: http.StatusInternalServerError, Detail: "internal server error"})
}

func (h *HTTPHandler) writeSCIMError(c *gin.Context, se *Error) {
	c.Header("Content-Type", ContentType)
	c.JSON(se.Status, Envelope(se))
}
