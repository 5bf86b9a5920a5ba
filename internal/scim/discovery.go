package scim

import (
	"net/http"
	"strings"

	"github.com/dhawalhost/scimprobe/internal/endpoint"
	"github.com/gin-gonic/gin"
)

// Discovery documents (RFC 7644 §4). These are static per tenant apart from
// the meta.location URLs.

const (
	spConfigSchema     = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
	resourceTypeSchema = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"
	schemaSchema       = "urn:ietf:params:scim:schemas:core:2.0:Schema"
)

func (h *HTTPHandler) serviceProviderConfig(c *gin.Context) {
	scope, _ := endpoint.ScopeFromContext(c.Request.Context())
	c.Header("Content-Type", ContentType)
	c.JSON(http.StatusOK, gin.H{
		"schemas":          []string{spConfigSchema},
		"documentationUri": "https://tools.ietf.org/html/rfc7644",
		"patch":            gin.H{"supported": true},
		"bulk":             gin.H{"supported": false, "maxOperations": 0, "maxPayloadSize": 0},
		"filter":           gin.H{"supported": true, "maxResults": maxCount},
		"changePassword":   gin.H{"supported": false},
		"sort":             gin.H{"supported": false},
		"etag":             gin.H{"supported": true},
		"authenticationSchemes": []gin.H{{
			"type":        "oauthbearertoken",
			"name":        "OAuth Bearer Token",
			"description": "Authentication scheme using the OAuth Bearer Token standard",
			"specUri":     "https://tools.ietf.org/html/rfc6750",
			"primary":     true,
		}},
		"meta": gin.H{
			"resourceType": "ServiceProviderConfig",
			"location":     scope.BaseURL + "/ServiceProviderConfig",
		},
	})
}

func resourceTypeDoc(baseURL, name string) gin.H {
	doc := gin.H{
		"schemas":     []string{resourceTypeSchema},
		"id":          name,
		"name":        name,
		"endpoint":    "/" + name + "s",
		"description": name + " Account",
		"schema":      schemaFor(name),
		"meta": gin.H{
			"resourceType": "ResourceType",
			"location":     baseURL + "/ResourceTypes/" + name,
		},
	}
	if name == TypeUser {
		doc["schemaExtensions"] = []gin.H{{
			"schema":   EnterpriseUserURN,
			"required": false,
		}}
	} else {
		doc["description"] = name
	}
	return doc
}

func (h *HTTPHandler) resourceTypes(c *gin.Context) {
	scope, _ := endpoint.ScopeFromContext(c.Request.Context())
	docs := []map[string]any{
		resourceTypeDoc(scope.BaseURL, TypeUser),
		resourceTypeDoc(scope.BaseURL, TypeGroup),
	}
	c.Header("Content-Type", ContentType)
	c.JSON(http.StatusOK, ListResponse{
		Schemas:      []string{ListSchema},
		TotalResults: len(docs),
		StartIndex:   1,
		ItemsPerPage: len(docs),
		Resources:    docs,
	})
}

func (h *HTTPHandler) resourceType(c *gin.Context) {
	scope, _ := endpoint.ScopeFromContext(c.Request.Context())
	name := c.Param("name")
	if !strings.EqualFold(name, TypeUser) && !strings.EqualFold(name, TypeGroup) {
		h.writeSCIMError(c, NotFound("ResourceType "+name+" not found"))
		return
	}
	rt := TypeUser
	if strings.EqualFold(name, TypeGroup) {
		rt = TypeGroup
	}
	c.Header("Content-Type", ContentType)
	c.JSON(http.StatusOK, resourceTypeDoc(scope.BaseURL, rt))
}

// schemaDocs returns the attribute-level schema definitions. Entra and Okta
// fetch these once during gallery validation; only the attributes the engine
// actually persists are described.
func schemaDocs(baseURL string) []map[string]any {
	attr := func(name, typ string, multi, required bool, extra gin.H) gin.H {
		a := gin.H{
			"name":        name,
			"type":        typ,
			"multiValued": multi,
			"required":    required,
			"caseExact":   false,
			"mutability":  "readWrite",
			"returned":    "default",
			"uniqueness":  "none",
		}
		for k, v := range extra {
			a[k] = v
		}
		return a
	}

	userAttrs := []gin.H{
		attr("userName", "string", false, true, gin.H{"uniqueness": "server"}),
		attr("externalId", "string", false, false, gin.H{"uniqueness": "server"}),
		attr("displayName", "string", false, false, nil),
		attr("active", "boolean", false, false, nil),
		attr("name", "complex", false, false, gin.H{"subAttributes": []gin.H{
			attr("givenName", "string", false, false, nil),
			attr("familyName", "string", false, false, nil),
			attr("formatted", "string", false, false, nil),
		}}),
		attr("emails", "complex", true, false, gin.H{"subAttributes": []gin.H{
			attr("value", "string", false, false, nil),
			attr("type", "string", false, false, nil),
			attr("primary", "boolean", false, false, nil),
		}}),
		attr("phoneNumbers", "complex", true, false, gin.H{"subAttributes": []gin.H{
			attr("value", "string", false, false, nil),
			attr("type", "string", false, false, nil),
		}}),
	}

	groupAttrs := []gin.H{
		attr("displayName", "string", false, true, gin.H{"uniqueness": "server"}),
		attr("externalId", "string", false, false, gin.H{"uniqueness": "server"}),
		attr("members", "complex", true, false, gin.H{"subAttributes": []gin.H{
			attr("value", "string", false, false, gin.H{"mutability": "immutable"}),
			attr("type", "string", false, false, gin.H{"mutability": "immutable"}),
			attr("display", "string", false, false, nil),
		}}),
	}

	enterpriseAttrs := []gin.H{
		attr("employeeNumber", "string", false, false, nil),
		attr("department", "string", false, false, nil),
		attr("division", "string", false, false, nil),
		attr("costCenter", "string", false, false, nil),
		attr("organization", "string", false, false, nil),
		attr("manager", "complex", false, false, gin.H{"subAttributes": []gin.H{
			attr("value", "string", false, false, nil),
			attr("displayName", "string", false, false, gin.H{"mutability": "readOnly"}),
		}}),
	}

	doc := func(id, name, description string, attrs []gin.H) map[string]any {
		return map[string]any{
			"schemas":     []string{schemaSchema},
			"id":          id,
			"name":        name,
			"description": description,
			"attributes":  attrs,
			"meta": gin.H{
				"resourceType": "Schema",
				"location":     baseURL + "/Schemas/" + id,
			},
		}
	}
	return []map[string]any{
		doc(UserSchema, "User", "User Account", userAttrs),
		doc(GroupSchema, "Group", "Group", groupAttrs),
		doc(EnterpriseUserURN, "EnterpriseUser", "Enterprise User", enterpriseAttrs),
	}
}

func (h *HTTPHandler) schemas(c *gin.Context) {
	scope, _ := endpoint.ScopeFromContext(c.Request.Context())
	docs := schemaDocs(scope.BaseURL)
	c.Header("Content-Type", ContentType)
	c.JSON(http.StatusOK, ListResponse{
		Schemas:      []string{ListSchema},
		TotalResults: len(docs),
		StartIndex:   1,
		ItemsPerPage: len(docs),
		Resources:    docs,
	})
}

func (h *HTTPHandler) schema(c *gin.Context) {
	scope, _ := endpoint.ScopeFromContext(c.Request.Context())
	id := c.Param("id")
	for _, doc := range schemaDocs(scope.BaseURL) {
		if strings.EqualFold(doc["id"].(string), id) {
			c.Header("Content-Type", ContentType)
			c.JSON(http.StatusOK, doc)
			return
		}
	}
	h.writeSCIMError(c, NotFound("Schema "+id+" not found"))
}
