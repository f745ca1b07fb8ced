package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsoc/copr/internal/auth"
	"github.com/offsoc/copr/internal/config"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Port = "0"
	cfg.Server.DefaultPage = "/coprs/"
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Database.Driver = "memory"
	cfg.Session.Store = "memory"
	cfg.Session.CookieName = "__Host-session"
	cfg.Session.TTL = time.Hour
	cfg.Auth.Kerberos.EmailDomain = "corp.example"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

func TestSetupHTTPRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router, cleanup, err := setupHTTP(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/me", http.StatusOK},
		{http.MethodGet, "/api/ping", http.StatusUnauthorized},
		{http.MethodGet, "/login", http.StatusFound},
		{http.MethodPost, "/auth/logout", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBuildBackendsKerberosOnly(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth.Kerberos.Enabled = true

	infra, err := setupInfra(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.Close() })

	registry, err := buildBackends(cfg, infra, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, auth.BackendKerberos, registry.Primary().Name())

	_, err = registry.Get(auth.BackendFederated)
	assert.ErrorIs(t, err, auth.ErrUnknownBackend)
}

func TestSetupInfraSQLite(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = ":memory:"

	infra, err := setupInfra(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, infra.Close()) }()

	u, err := infra.Directory.Create(context.Background(), "carol", "carol@corp.example", "")
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Username)
}
