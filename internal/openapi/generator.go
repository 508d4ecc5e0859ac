// Package openapi builds the OpenAPI 3.1 document describing the customs
// HTTP surface.
package openapi

import (
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/customsops/customs/internal/authority"
)

// Route describes one HTTP operation for the document.
type Route struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Tag         string
	// Public routes carry no security requirement.
	Public bool
	// Authority is the authority required beyond authentication, if any.
	Authority string
	Request   string // component schema name of the JSON body
	Response  string // component schema name of the 200/201 body
	Status    int    // success status, 200 when zero
}

// Routes returns the operations served by the customs server, in the order
// the router mounts them.
func Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Path: "/healthz", OperationID: "healthz", Summary: "Liveness probe", Tag: "health", Public: true, Response: "Status"},
		{Method: http.MethodGet, Path: "/readyz", OperationID: "readyz", Summary: "Readiness probe (pings the directory store)", Tag: "health", Public: true, Response: "Status"},

		{Method: http.MethodPost, Path: "/api/auth/login", OperationID: "login", Summary: "Authenticate a local user and issue a token", Tag: "auth", Public: true, Request: "LoginRequest", Response: "TokenResponse"},
		{Method: http.MethodPost, Path: "/api/auth/validate", OperationID: "validateToken", Summary: "Validate the bearer token", Tag: "auth", Response: "PrincipalSummary"},
		{Method: http.MethodGet, Path: "/api/auth/user-info", OperationID: "userInfo", Summary: "Full principal including token metadata", Tag: "auth", Response: "UserInfo"},
		{Method: http.MethodPost, Path: "/api/auth/refresh", OperationID: "refreshToken", Summary: "Reissue a local token or confirm an external one", Tag: "auth", Response: "RefreshResponse"},

		{Method: http.MethodGet, Path: "/api/menu/user", OperationID: "userMenu", Summary: "Menu items visible to the caller", Tag: "menu", Response: "UserMenu"},
		{Method: http.MethodGet, Path: "/api/menu/all", OperationID: "allMenuItems", Summary: "Full menu definition", Tag: "menu", Authority: authority.ManageRoles, Response: "MenuItemList"},
		{Method: http.MethodGet, Path: "/api/menu/by-authority/{authority}", OperationID: "menuByAuthority", Summary: "Menu items gated by one authority", Tag: "menu", Authority: authority.ManageRoles, Response: "MenuItemList"},

		{Method: http.MethodGet, Path: "/api/admin/users", OperationID: "listUsers", Summary: "List users", Tag: "admin", Authority: authority.ReadUser, Response: "UserList"},
		{Method: http.MethodPost, Path: "/api/admin/users", OperationID: "createUser", Summary: "Create a user", Tag: "admin", Authority: authority.CreateUser, Request: "CreateUserRequest", Response: "User", Status: http.StatusCreated},
		{Method: http.MethodPut, Path: "/api/admin/users/{username}/enabled", OperationID: "setUserEnabled", Summary: "Enable or disable a user", Tag: "admin", Authority: authority.UpdateUser, Request: "SetEnabledRequest", Response: "User"},
		{Method: http.MethodPut, Path: "/api/admin/users/{username}/roles", OperationID: "setUserRoles", Summary: "Replace a user's roles", Tag: "admin", Authority: authority.UpdateUser, Request: "SetRolesRequest", Response: "User"},
		{Method: http.MethodGet, Path: "/api/admin/roles", OperationID: "listRoles", Summary: "List roles with their authorities", Tag: "admin", Authority: authority.ManageRoles, Response: "RoleList"},
		{Method: http.MethodPut, Path: "/api/admin/roles/{role}/authorities", OperationID: "setRoleAuthorities", Summary: "Replace a role's authorities", Tag: "admin", Authority: authority.ManageRoles, Request: "SetAuthoritiesRequest", Response: "Role"},
		{Method: http.MethodGet, Path: "/api/admin/authorities", OperationID: "listAuthorities", Summary: "Authority catalog grouped by category", Tag: "admin", Authority: authority.ManageRoles, Response: "AuthorityGroupList"},
	}
}

// Generate builds the document for routes. baseURL may be empty.
func Generate(version, baseURL string, routes []Route) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Customs API",
			Description: "Token authentication, authority derivation and menu visibility for customs operations.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = schemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components
	doc.Security = openapi3.SecurityRequirements{{"bearerAuth": {}}}
	doc.Paths = openapi3.NewPaths()

	for _, rt := range routes {
		addRoute(doc, rt)
	}
	return doc
}

func addRoute(doc *openapi3.T, rt Route) {
	op := &openapi3.Operation{
		OperationID: rt.OperationID,
		Summary:     rt.Summary,
		Tags:        []string{rt.Tag},
		Responses:   openapi3.NewResponses(),
	}
	if rt.Public {
		op.Security = &openapi3.SecurityRequirements{}
	}
	if rt.Authority != "" {
		op.Description = "Requires authority " + rt.Authority + "."
	}

	for _, name := range pathParams(rt.Path) {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{
			Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()),
		})
	}
	if rt.Request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithJSONSchemaRef(schemaRef(rt.Request)),
		}
	}

	status := rt.Status
	if status == 0 {
		status = http.StatusOK
	}
	op.Responses.Delete("default")
	op.AddResponse(status, openapi3.NewResponse().
		WithDescription(http.StatusText(status)).
		WithJSONSchemaRef(schemaRef(rt.Response)))

	errorResponse := func(code int) {
		op.AddResponse(code, openapi3.NewResponse().
			WithDescription(http.StatusText(code)).
			WithJSONSchemaRef(schemaRef("ErrorResponse")))
	}
	if rt.Request != "" {
		errorResponse(http.StatusBadRequest)
	}
	if !rt.Public || rt.OperationID == "login" {
		errorResponse(http.StatusUnauthorized)
	}
	if rt.Authority != "" {
		errorResponse(http.StatusForbidden)
	}
	if rt.OperationID == "createUser" {
		errorResponse(http.StatusConflict)
	}
	if strings.Contains(rt.Path, "{username}") || strings.Contains(rt.Path, "{role}") {
		errorResponse(http.StatusNotFound)
	}

	doc.AddOperation(rt.Path, rt.Method, op)
}

func pathParams(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, seg[1:len(seg)-1])
		}
	}
	return out
}

func schemaRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func str() *openapi3.Schema { return openapi3.NewStringSchema() }

func strList() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
}

func object(props map[string]*openapi3.Schema, required ...string) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	for k, v := range props {
		s.WithProperty(k, v)
	}
	s.Required = required
	return openapi3.NewSchemaRef("", s)
}

func withRefs(s *openapi3.SchemaRef, refs map[string]*openapi3.SchemaRef) *openapi3.SchemaRef {
	for k, v := range refs {
		s.Value.Properties[k] = v
	}
	return s
}

func listOf(item string) *openapi3.SchemaRef {
	return withRefs(object(map[string]*openapi3.Schema{}), map[string]*openapi3.SchemaRef{
		"resource": openapi3.NewSchemaRef("", &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: schemaRef(item),
		}),
		"meta": object(map[string]*openapi3.Schema{"count": openapi3.NewIntegerSchema()}),
	})
}

func schemas() openapi3.Schemas {
	dateTime := openapi3.NewDateTimeSchema
	return openapi3.Schemas{
		"ErrorResponse": withRefs(object(map[string]*openapi3.Schema{}), map[string]*openapi3.SchemaRef{
			"error": object(map[string]*openapi3.Schema{
				"code":    openapi3.NewInt32Schema(),
				"message": str(),
				"context": openapi3.NewObjectSchema(),
			}, "code", "message"),
		}),
		"Status": object(map[string]*openapi3.Schema{
			"status": str(),
			"checks": openapi3.NewObjectSchema(),
		}, "status"),
		"LoginRequest": object(map[string]*openapi3.Schema{
			"username": str(),
			"password": openapi3.NewStringSchema().WithFormat("password"),
		}, "username", "password"),
		"TokenResponse": object(map[string]*openapi3.Schema{
			"token":        str(),
			"type":         str(),
			"expires_at":   dateTime(),
			"expires_in":   openapi3.NewIntegerSchema(),
			"username":     str(),
			"email":        str(),
			"display_name": str(),
			"roles":        strList(),
			"authorities":  strList(),
		}, "token", "type", "expires_at"),
		"PrincipalSummary": object(map[string]*openapi3.Schema{
			"authenticated": openapi3.NewBoolSchema(),
			"subject":       str(),
			"username":      str(),
			"email":         str(),
			"display_name":  str(),
			"source":        openapi3.NewStringSchema().WithEnum("local", "external"),
			"roles":         strList(),
			"authorities":   strList(),
		}, "authenticated", "subject", "source"),
		"Principal": object(map[string]*openapi3.Schema{
			"subject":         str(),
			"username":        str(),
			"display_name":    str(),
			"email":           str(),
			"tenant":          str(),
			"organization_id": str(),
			"user_id":         openapi3.NewInt64Schema(),
			"source":          openapi3.NewStringSchema().WithEnum("local", "external"),
			"issuer":          str(),
			"issued_at":       dateTime(),
			"expires_at":      dateTime(),
			"authorities":     strList(),
		}, "subject", "source", "authorities"),
		"UserInfo": withRefs(object(map[string]*openapi3.Schema{
			"roles":       strList(),
			"permissions": strList(),
		}), map[string]*openapi3.SchemaRef{"principal": schemaRef("Principal")}),
		"RefreshResponse": withRefs(object(map[string]*openapi3.Schema{
			"refreshed": openapi3.NewBoolSchema(),
			"message":   str(),
		}, "refreshed"), map[string]*openapi3.SchemaRef{
			"session": schemaRef("TokenResponse"),
			"user":    schemaRef("PrincipalSummary"),
		}),
		"MenuItem": object(map[string]*openapi3.Schema{
			"id":                 str(),
			"label":              str(),
			"path":               str(),
			"icon":               str(),
			"required_authority": str(),
		}, "id", "label", "path"),
		"MenuItemList": listOf("MenuItem"),
		"UserMenu": withRefs(object(map[string]*openapi3.Schema{"authorities": strList()}), map[string]*openapi3.SchemaRef{
			"menu_items": openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: schemaRef("MenuItem")}),
		}),
		"Role": object(map[string]*openapi3.Schema{
			"id":          openapi3.NewInt64Schema(),
			"name":        str(),
			"description": str(),
			"authorities": strList(),
			"created_at":  dateTime(),
			"updated_at":  dateTime(),
		}, "name", "authorities"),
		"RoleList": listOf("Role"),
		"User": withRefs(object(map[string]*openapi3.Schema{
			"id":            openapi3.NewInt64Schema(),
			"username":      str(),
			"email":         str(),
			"full_name":     str(),
			"enabled":       openapi3.NewBoolSchema(),
			"last_login_at": dateTime(),
			"created_at":    dateTime(),
			"updated_at":    dateTime(),
		}, "username", "email", "enabled"), map[string]*openapi3.SchemaRef{
			"roles": openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: schemaRef("Role")}),
		}),
		"UserList": listOf("User"),
		"CreateUserRequest": object(map[string]*openapi3.Schema{
			"username":  str(),
			"email":     openapi3.NewStringSchema().WithFormat("email"),
			"password":  openapi3.NewStringSchema().WithFormat("password").WithMinLength(8),
			"full_name": str(),
			"roles":     strList(),
			"enabled":   openapi3.NewBoolSchema(),
		}, "username", "email", "password"),
		"SetEnabledRequest":     object(map[string]*openapi3.Schema{"enabled": openapi3.NewBoolSchema()}, "enabled"),
		"SetRolesRequest":       object(map[string]*openapi3.Schema{"roles": strList()}, "roles"),
		"SetAuthoritiesRequest": object(map[string]*openapi3.Schema{"authorities": strList()}, "authorities"),
		"Authority": object(map[string]*openapi3.Schema{
			"id":          openapi3.NewInt64Schema(),
			"name":        str(),
			"description": str(),
			"category":    str(),
		}, "name", "category"),
		"AuthorityGroup": withRefs(object(map[string]*openapi3.Schema{"category": str()}, "category"), map[string]*openapi3.SchemaRef{
			"authorities": openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: schemaRef("Authority")}),
		}),
		"AuthorityGroupList": listOf("AuthorityGroup"),
	}
}
