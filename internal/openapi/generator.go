// Package openapi describes the Pulse HTTP API as an OpenAPI 3.1 document.
package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/service"
)

// Security scheme names.
const (
	schemeAPIKey = "apiKey"
	schemeBearer = "bearerAuth"
)

type registerBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type projectBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type apiKeyBody struct {
	Name      string `json:"name"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// componentTypes maps component schema names to a sample value of the Go
// type the API serializes.
var componentTypes = map[string]interface{}{
	"User":                 model.User{},
	"AccessToken":          model.AccessToken{},
	"Project":              model.Project{},
	"ProjectDetail":        model.ProjectDetail{},
	"ProjectStats":         model.ProjectStats{},
	"CreatedProject":       model.CreatedProject{},
	"ProjectList":          model.ListResponse[model.Project]{},
	"ProjectUpdate":        service.ProjectUpdate{},
	"APIKey":               model.APIKey{},
	"APIKeyList":           model.ListResponse[model.APIKey]{},
	"IssuedAPIKey":         model.IssuedAPIKey{},
	"Metric":               model.Metric{},
	"MetricInput":          model.MetricInput{},
	"MetricList":           model.ListResponse[model.Metric]{},
	"Summary":              model.Summary{},
	"TimeSeriesPage":       model.Page[model.TimeSeriesPoint]{},
	"EndpointStatsPage":    model.Page[model.EndpointStats]{},
	"ErrorResponse":        model.ErrorResponse{},
	"RegisterRequest":      registerBody{},
	"LoginRequest":         loginBody{},
	"CreateProjectRequest": projectBody{},
	"CreateAPIKeyRequest":  apiKeyBody{},
	"APIKeyUpdate":         service.APIKeyUpdate{},
}

// route is one documented operation.
type route struct {
	method   string
	path     string
	id       string
	tag      string
	summary  string
	security string
	params   []*openapi3.Parameter
	body     string
	status   int
	response string
}

// Generate builds the document for a server reachable at baseURL.
func Generate(baseURL, version string) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Pulse API",
			Description: "Multi-tenant API analytics: ingest request metrics with a project API key and query aggregated statistics.",
			Version:     version,
		},
		Servers: openapi3.Servers{{URL: baseURL}},
		Paths:   openapi3.NewPaths(),
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		schemeAPIKey: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		}},
		schemeBearer: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		}},
	}
	doc.Components = &components

	names := make([]string, 0, len(componentTypes))
	for name := range componentTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ref, err := openapi3gen.NewSchemaRefForValue(componentTypes[name], nil)
		if err != nil {
			return nil, fmt.Errorf("generate schema %s: %w", name, err)
		}
		doc.Components.Schemas[name] = ref
	}

	for _, rt := range routes() {
		item := doc.Paths.Value(rt.path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(rt.path, item)
		}
		item.SetOperation(rt.method, operation(rt))
	}
	return doc, nil
}

// JSON renders the document as indented JSON.
func JSON(baseURL, version string) ([]byte, error) {
	doc, err := Generate(baseURL, version)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

func operation(rt route) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{rt.tag},
		Summary:     rt.summary,
		OperationID: rt.id,
		Responses:   newResponses(rt.status, rt.response, rt.security != ""),
	}
	for _, p := range rt.params {
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: p})
	}
	if rt.body != "" {
		op.RequestBody = &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(componentRef(rt.body)),
		}}
	}
	if rt.security != "" {
		op.Security = &openapi3.SecurityRequirements{{rt.security: {}}}
	} else {
		op.Security = &openapi3.SecurityRequirements{}
	}
	return op
}

func componentRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// newResponses builds the success response plus the error responses every
// operation can return.
func newResponses(status int, schema string, authenticated bool) *openapi3.Responses {
	responses := openapi3.NewResponses()

	desc := http.StatusText(status)
	success := &openapi3.Response{Description: &desc}
	if schema != "" {
		success.Content = openapi3.NewContentWithJSONSchemaRef(componentRef(schema))
	}
	responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: success})

	codes := []int{http.StatusUnprocessableEntity, http.StatusInternalServerError}
	if authenticated {
		codes = append(codes, http.StatusUnauthorized, http.StatusNotFound)
	}
	for _, code := range codes {
		d := http.StatusText(code)
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{Value: &openapi3.Response{
			Description: &d,
			Content:     openapi3.NewContentWithJSONSchemaRef(componentRef("ErrorResponse")),
		}})
	}
	return responses
}

func pathParam(name, desc string) *openapi3.Parameter {
	return openapi3.NewPathParameter(name).
		WithDescription(desc).
		WithSchema(openapi3.NewStringSchema())
}

func queryParam(name, desc string, schema *openapi3.Schema) *openapi3.Parameter {
	return openapi3.NewQueryParameter(name).
		WithDescription(desc).
		WithSchema(schema)
}

func windowParams(paged bool) []*openapi3.Parameter {
	params := []*openapi3.Parameter{
		pathParam("projectKey", "Project key"),
		queryParam("start_date", "Window start, RFC 3339 with offset. Defaults to the start of the current UTC day.", openapi3.NewDateTimeSchema()),
		queryParam("end_date", "Window end, RFC 3339 with offset. Defaults to the end of the current UTC day.", openapi3.NewDateTimeSchema()),
	}
	if paged {
		params = append(params,
			queryParam("page", "Page number, starting at 1.", openapi3.NewIntegerSchema().WithMin(1)),
			queryParam("page_size", "Grouped rows per page.", openapi3.NewIntegerSchema().WithMin(1)),
		)
	}
	return params
}

func routes() []route {
	project := pathParam("projectKey", "Project key")
	keyID := pathParam("keyID", "API key ID")

	series := windowParams(true)
	series = append(series, queryParam("granularity", "Bucket width.",
		openapi3.NewStringSchema().WithEnum("minute", "hour", "day")))

	return []route{
		{method: http.MethodPost, path: "/api/v1/auth/register", id: "register", tag: "auth",
			summary: "Create a user account", body: "RegisterRequest", status: http.StatusCreated, response: "User"},
		{method: http.MethodPost, path: "/api/v1/auth/login", id: "login", tag: "auth",
			summary: "Exchange credentials for a session token", body: "LoginRequest", status: http.StatusOK, response: "AccessToken"},
		{method: http.MethodGet, path: "/api/v1/auth/me", id: "me", tag: "auth", security: schemeBearer,
			summary: "Current user", status: http.StatusOK, response: "User"},

		{method: http.MethodPost, path: "/api/v1/track", id: "track", tag: "ingestion", security: schemeAPIKey,
			summary: "Record one request metric", body: "MetricInput", status: http.StatusCreated, response: "Metric"},

		{method: http.MethodGet, path: "/api/v1/projects", id: "listProjects", tag: "projects", security: schemeBearer,
			summary: "List your projects", status: http.StatusOK, response: "ProjectList"},
		{method: http.MethodPost, path: "/api/v1/projects", id: "createProject", tag: "projects", security: schemeBearer,
			summary: "Create a project and its first API key", body: "CreateProjectRequest", status: http.StatusCreated, response: "CreatedProject"},
		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}", id: "getProject", tag: "projects", security: schemeBearer,
			summary: "Project with usage stats", params: []*openapi3.Parameter{project}, status: http.StatusOK, response: "ProjectDetail"},
		{method: http.MethodPatch, path: "/api/v1/projects/{projectKey}", id: "updateProject", tag: "projects", security: schemeBearer,
			summary: "Update a project", params: []*openapi3.Parameter{project}, body: "ProjectUpdate", status: http.StatusOK, response: "Project"},
		{method: http.MethodDelete, path: "/api/v1/projects/{projectKey}", id: "deleteProject", tag: "projects", security: schemeBearer,
			summary: "Delete a project with its keys and metrics", params: []*openapi3.Parameter{project}, status: http.StatusNoContent},
		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}/stats", id: "projectStats", tag: "projects", security: schemeBearer,
			summary: "Project usage stats", params: []*openapi3.Parameter{project}, status: http.StatusOK, response: "ProjectStats"},

		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}/api-keys", id: "listAPIKeys", tag: "api-keys", security: schemeBearer,
			summary: "List API keys", params: []*openapi3.Parameter{project}, status: http.StatusOK, response: "APIKeyList"},
		{method: http.MethodPost, path: "/api/v1/projects/{projectKey}/api-keys", id: "createAPIKey", tag: "api-keys", security: schemeBearer,
			summary: "Issue an API key", params: []*openapi3.Parameter{project}, body: "CreateAPIKeyRequest", status: http.StatusCreated, response: "IssuedAPIKey"},
		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}/api-keys/{keyID}", id: "getAPIKey", tag: "api-keys", security: schemeBearer,
			summary: "Get an API key", params: []*openapi3.Parameter{project, keyID}, status: http.StatusOK, response: "APIKey"},
		{method: http.MethodPatch, path: "/api/v1/projects/{projectKey}/api-keys/{keyID}", id: "updateAPIKey", tag: "api-keys", security: schemeBearer,
			summary: "Rename or toggle an API key", params: []*openapi3.Parameter{project, keyID}, body: "APIKeyUpdate", status: http.StatusOK, response: "APIKey"},
		{method: http.MethodPost, path: "/api/v1/projects/{projectKey}/api-keys/{keyID}/rotate", id: "rotateAPIKey", tag: "api-keys", security: schemeBearer,
			summary: "Replace an API key", params: []*openapi3.Parameter{project, keyID}, status: http.StatusOK, response: "IssuedAPIKey"},
		{method: http.MethodPost, path: "/api/v1/projects/{projectKey}/api-keys/{keyID}/revoke", id: "revokeAPIKey", tag: "api-keys", security: schemeBearer,
			summary: "Deactivate an API key", params: []*openapi3.Parameter{project, keyID}, status: http.StatusNoContent},
		{method: http.MethodDelete, path: "/api/v1/projects/{projectKey}/api-keys/{keyID}", id: "deleteAPIKey", tag: "api-keys", security: schemeBearer,
			summary: "Delete an API key", params: []*openapi3.Parameter{project, keyID}, status: http.StatusNoContent},

		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}/metrics", id: "listMetrics", tag: "metrics", security: schemeBearer,
			summary: "Raw metrics in insertion order",
			params: []*openapi3.Parameter{
				project,
				queryParam("skip", "Rows to skip.", openapi3.NewIntegerSchema().WithMin(0)),
				queryParam("limit", "Rows to return.", openapi3.NewIntegerSchema().WithMin(1).WithMax(1000)),
			},
			status: http.StatusOK, response: "MetricList"},
		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}/metrics/summary", id: "metricsSummary", tag: "metrics", security: schemeBearer,
			summary: "Window summary", params: windowParams(false), status: http.StatusOK, response: "Summary"},
		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}/metrics/time-series", id: "metricsTimeSeries", tag: "metrics", security: schemeBearer,
			summary: "Bucketed time series", params: series, status: http.StatusOK, response: "TimeSeriesPage"},
		{method: http.MethodGet, path: "/api/v1/projects/{projectKey}/metrics/endpoints", id: "endpointStats", tag: "metrics", security: schemeBearer,
			summary: "Per-endpoint statistics", params: windowParams(true), status: http.StatusOK, response: "EndpointStatsPage"},
	}
}
