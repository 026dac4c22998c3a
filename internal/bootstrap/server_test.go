package bootstrap

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Domenick1991/guardbooking/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandler_Routes(t *testing.T) {
	dir := filepath.Join("..", "..", "api", "swagger")

	gw := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	h := newHandler(config.HTTPConfig{SwaggerDir: dir}, gw, api)

	testCases := []struct {
		path         string
		expectedCode int
	}{
		{path: "/healthz", expectedCode: http.StatusTeapot},
		{path: "/api/v1/bookings/b-1", expectedCode: http.StatusAccepted},
		{path: "/swagger/guardbooking.swagger.json", expectedCode: http.StatusOK},
		{path: "/docs/index.html", expectedCode: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("GET", tc.path, nil))
			assert.Equal(t, tc.expectedCode, w.Code)
		})
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/swagger/guardbooking.swagger.json", nil))
	var doc struct {
		Swagger  string `json:"swagger"`
		BasePath string `json:"basePath"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "/api/v1", doc.BasePath)
}

func TestNewHandler_NoSwaggerWithoutDir(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	h := newHandler(config.HTTPConfig{}, http.NotFoundHandler(), api)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/docs/index.html", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewServers(t *testing.T) {
	cfg := config.Default()
	cfg.GRPC.Address = "127.0.0.1:0"

	s, err := newServers(cfg, http.NotFoundHandler())
	require.NoError(t, err)
	defer s.conn.Close()
	assert.NotNil(t, s.health)
	assert.Equal(t, cfg.HTTP.Address, s.httpServer.Addr)
}
