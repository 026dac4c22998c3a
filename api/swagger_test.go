package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type swaggerDoc struct {
	Swagger  string                                `json:"swagger"`
	BasePath string                                `json:"basePath"`
	Paths    map[string]map[string]json.RawMessage `json:"paths"`
}

func TestSwaggerDocumentsEveryRoute(t *testing.T) {
	raw, err := os.ReadFile("swagger/guardbooking.swagger.json")
	require.NoError(t, err)

	var doc swaggerDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "2.0", doc.Swagger)

	routes := newTestRouter(&MockService{}, nil).Routes()
	require.NotEmpty(t, routes)
	for _, r := range routes {
		path := strings.TrimPrefix(r.Path, doc.BasePath)
		if path == "" {
			path = "/"
		}
		path = strings.ReplaceAll(path, ":id", "{id}")

		ops, ok := doc.Paths[path]
		if !assert.True(t, ok, "%s %s is not documented", r.Method, r.Path) {
			continue
		}
		_, ok = ops[strings.ToLower(r.Method)]
		assert.True(t, ok, "%s %s is not documented", r.Method, r.Path)
	}

	documented := 0
	for _, ops := range doc.Paths {
		for method := range ops {
			if method != "parameters" {
				documented++
			}
		}
	}
	assert.Equal(t, len(routes), documented, "the document lists routes the router does not serve")
	assert.Contains(t, doc.Paths["/bookings/{id}/confirm-payment"], strings.ToLower(http.MethodPost))
}
