package app

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/offsoc/copr/internal/auth"
	"github.com/offsoc/copr/internal/auth/handler"
	"github.com/offsoc/copr/internal/auth/negotiate"
	"github.com/offsoc/copr/internal/auth/provider"
	"github.com/offsoc/copr/internal/config"
	"github.com/offsoc/copr/internal/metrics"
	"github.com/offsoc/copr/internal/middleware"
	"github.com/offsoc/copr/internal/session"
)

func setupHTTP(ctx context.Context, cfg *config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	var client auth.ProviderClient
	if cfg.Auth.Federated.Enabled {
		client, err = provider.New(ctx, provider.Config{
			Issuer:        cfg.Auth.Federated.ProviderURL,
			ClientID:      cfg.Auth.Federated.ClientID,
			ClientSecret:  cfg.Auth.Federated.ClientSecret,
			RedirectURL:   cfg.Auth.Federated.RedirectURL,
			IdentityClaim: cfg.Auth.Federated.IdentityClaim,
			GroupsScope:   cfg.Auth.Federated.GroupsScope,
			GroupsClaim:   cfg.Auth.Federated.GroupsClaim,
		})
		if err != nil {
			_ = infra.Close()
			return nil, nil, err
		}
	}

	var negotiator handler.Negotiator
	if cfg.Auth.Kerberos.Enabled {
		n, err := negotiate.New(negotiate.Config{
			KeytabPath:       cfg.Auth.Kerberos.KeytabPath,
			ServicePrincipal: cfg.Auth.Kerberos.ServicePrincipal,
		})
		if err != nil {
			_ = infra.Close()
			return nil, nil, err
		}
		negotiator = n
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	authMetrics := metrics.NewAuth(registry)

	backends, err := buildBackends(cfg, infra, client, authMetrics)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	sessions := middleware.NewSessions(infra.Sessions, session.CookieOptions{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Server.SecureCookies,
	}, cfg.Session.TTL)

	authHandler := handler.NewHandler(handler.Options{
		Registry:      backends,
		Sessions:      sessions,
		Negotiator:    negotiator,
		DefaultPage:   cfg.Server.DefaultPage,
		SecureCookies: cfg.Server.SecureCookies,
		Recorder:      authMetrics,
	})

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sessions.Load())
	router.Use(middleware.CurrentUser(backends, infra.Directory))

	// ----------------------------
	// Public Routes
	// ----------------------------

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(authMetrics.Handler()))
	}

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.GET("/me", authHandler.Me)

	protected := api.Group("/")
	protected.Use(middleware.RequireUser())
	protected.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "username": middleware.UserFrom(c).Username})
	})

	return router, infra.Close, nil
}

// buildBackends creates the login backends and selects the primary one.
func buildBackends(cfg *config.Config, infra *Infra, client auth.ProviderClient, rec auth.LoginRecorder) (*auth.Registry, error) {
	allow := auth.NewAllowList(cfg.Auth.AllowList.Enforce, cfg.Auth.AllowList.Users)

	var federated *auth.Federated
	if client != nil {
		federated = auth.NewFederated(auth.FederatedOptions{
			Client:      client,
			Directory:   infra.Directory,
			AllowList:   allow,
			ProviderURL: cfg.Auth.Federated.ProviderURL,
			DefaultPage: cfg.Server.DefaultPage,
			Recorder:    rec,
		})
	}

	kerberos := auth.NewKerberos(auth.KerberosOptions{
		Directory:        infra.Directory,
		AllowList:        allow,
		Enabled:          cfg.Auth.Kerberos.Enabled,
		FederatedEnabled: cfg.Auth.Federated.Enabled,
		EmailDomain:      cfg.Auth.Kerberos.EmailDomain,
		DefaultPage:      cfg.Server.DefaultPage,
		Recorder:         rec,
	})

	return auth.Select(cfg.Auth.Federated.Enabled, federated, kerberos)
}
