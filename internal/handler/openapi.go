package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/customsops/customs/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document. The document is built once on
// first request.
type OpenAPIHandler struct {
	version string

	once sync.Once
	body []byte
	err  error
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version}
}

// ServeSpec writes the document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.body, h.err = json.Marshal(openapi.Generate(h.version, "", openapi.Routes()))
	})
	if h.err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build OpenAPI document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.body)
}
