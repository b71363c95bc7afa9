package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"magpipeline/internal/api"
	"magpipeline/internal/inbound"
	"magpipeline/internal/service/artifact"
	tmplstore "magpipeline/internal/service/template"
	"magpipeline/internal/store"
)

func TestServer_CORSAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "magpipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	templates, err := tmplstore.Open(tmplstore.Options{
		Dir:    filepath.Join(dir, "templates"),
		Layout: tmplstore.DefaultLayoutOptions(),
		Now:    func() time.Time { return time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	artifacts, err := artifact.NewFSStore(dir)
	require.NoError(t, err)
	spool, err := inbound.NewSpool(filepath.Join(dir, "inbox"), nil)
	require.NoError(t, err)

	s := NewServer(api.NewHandler(api.Options{Store: st, Templates: templates, Artifacts: artifacts, Spool: spool}), true, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/status", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
